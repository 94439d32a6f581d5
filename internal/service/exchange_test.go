package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/escrowexchange/internal/bank"
	"github.com/efreitasn/escrowexchange/internal/custody"
	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/host"
	"github.com/efreitasn/escrowexchange/internal/ledger"
)

const (
	testDenom   = "uawesome"
	testEngine  = "engine"
	testCustody = "custody"
)

type stack struct {
	exchange *ExchangeService
	custody  *CustodyService
	bank     *BankService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store, err := ledger.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := custody.NewRegistry()
	b := bank.New()
	h := host.New(
		host.Config{EngineAddress: testEngine, CustodyAddress: testCustody},
		store, engine.New(testDenom), registry, b, discardLogger(),
	)
	s := &stack{
		exchange: NewExchangeService(h, store),
		custody:  NewCustodyService(h, registry),
		bank:     NewBankService(h, b),
	}
	_, err = s.exchange.Instantiate(context.Background(), "admin", testCustody)
	require.NoError(t, err)
	return s
}

func (s *stack) listed(t *testing.T, owner, assetID string, price uint64, tradable bool) {
	t.Helper()
	ctx := context.Background()
	_, err := s.custody.Mint(assetID, owner)
	require.NoError(t, err)
	require.NoError(t, s.custody.Approve(ctx, owner, assetID, testEngine, nil))
	_, err = s.exchange.List(ctx, ListRequest{Sender: owner, AssetID: assetID, Price: price, Tradable: tradable})
	require.NoError(t, err)
}

func assertValidation(t *testing.T, err error, message string) {
	t.Helper()
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, message, ve.Message)
}

func TestExchange_InstantiateTwiceRejected(t *testing.T) {
	s := newStack(t)
	_, err := s.exchange.Instantiate(context.Background(), "admin", testCustody)
	assert.ErrorIs(t, err, domain.ErrAlreadyInstantiated)
}

func TestExchange_BootstrapIsIdempotent(t *testing.T) {
	s := newStack(t)
	require.NoError(t, s.exchange.Bootstrap(context.Background(), "admin", testCustody))

	cfg, err := s.exchange.Config()
	require.NoError(t, err)
	assert.Equal(t, testCustody, cfg.CustodyAddress)
}

func TestExchange_BootstrapRejectsCustodyMismatch(t *testing.T) {
	s := newStack(t)
	err := s.exchange.Bootstrap(context.Background(), "admin", "other-custody")
	require.ErrorIs(t, err, domain.ErrCustodyMismatch)
	assert.Contains(t, err.Error(), `ledger has "custody"`)
}

func TestExchange_BootstrapInstantiatesFreshLedger(t *testing.T) {
	store, err := ledger.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h := host.New(
		host.Config{EngineAddress: testEngine, CustodyAddress: testCustody},
		store, engine.New(testDenom), custody.NewRegistry(), bank.New(), discardLogger(),
	)
	svc := NewExchangeService(h, store)

	require.NoError(t, svc.Bootstrap(context.Background(), "admin", testCustody))
	cfg, err := svc.Config()
	require.NoError(t, err)
	assert.Equal(t, testCustody, cfg.CustodyAddress)
}

func TestExchange_ListValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.exchange.List(ctx, ListRequest{AssetID: "nft-1"})
	assertValidation(t, err, "sender is required")

	_, err = s.exchange.List(ctx, ListRequest{Sender: "alice"})
	assertValidation(t, err, "asset_id is required")

	_, err = s.exchange.List(ctx, ListRequest{Sender: "alice", AssetID: "nft-1", Funds: []domain.Coin{{Amount: 1}}})
	assertValidation(t, err, "coin denom is required")
}

func TestExchange_PurchaseFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.listed(t, "alice", "nft-1", 100, false)
	_, err := s.bank.Mint("bob", []domain.Coin{{Denom: testDenom, Amount: 100}})
	require.NoError(t, err)

	sale, err := s.exchange.Sale("nft-1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Sale{AssetID: "nft-1", Price: 100, Owner: "alice"}, sale)

	_, err = s.exchange.Purchase(ctx, "bob", "nft-1", []domain.Coin{{Denom: testDenom, Amount: 99}})
	var pe *domain.IncorrectPaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, uint64(100), pe.Expected)

	res, err := s.exchange.Purchase(ctx, "bob", "nft-1", []domain.Coin{{Denom: testDenom, Amount: 100}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxID)

	_, err = s.exchange.Sale("nft-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	asset, err := s.custody.Asset("nft-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", asset.Owner)

	balances, err := s.bank.Balances("alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.Coin{{Denom: testDenom, Amount: 100}}, balances)

	ops, err := s.exchange.Operations()
	require.NoError(t, err)
	assert.Equal(t, domain.Operations{CompletedSales: 1}, ops)
}

func TestExchange_TradeFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.listed(t, "alice", "nft-1", 100, true)
	_, err := s.custody.Mint("nft-2", "bob")
	require.NoError(t, err)
	require.NoError(t, s.custody.Approve(ctx, "bob", "nft-2", testEngine, nil))

	_, err = s.exchange.OfferTrade(ctx, "bob", "nft-1", "nft-2")
	require.NoError(t, err)

	trade, err := s.exchange.Trade("nft-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "nft-2", trade.OfferedAssetID)

	byAsset, limit, err := s.exchange.TradesByAsset("nft-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)
	assert.Len(t, byAsset, 1)

	_, err = s.exchange.AcceptTrade(ctx, "alice", "nft-1", "bob")
	require.NoError(t, err)

	_, err = s.exchange.Trade("nft-1", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	a1, err := s.custody.Asset("nft-1")
	require.NoError(t, err)
	a2, err := s.custody.Asset("nft-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", a1.Owner)
	assert.Equal(t, "alice", a2.Owner)

	ops, err := s.exchange.Operations()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ops.CompletedTrades)
}

func TestExchange_CancelTradeOnlyByOfferor(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.listed(t, "alice", "nft-1", 100, true)
	_, err := s.custody.Mint("nft-2", "bob")
	require.NoError(t, err)
	require.NoError(t, s.custody.Approve(ctx, "bob", "nft-2", testEngine, nil))
	_, err = s.exchange.OfferTrade(ctx, "bob", "nft-1", "nft-2")
	require.NoError(t, err)

	_, err = s.exchange.CancelTrade(ctx, "carol", "nft-1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = s.exchange.CancelTrade(ctx, "bob", "nft-1")
	require.NoError(t, err)

	trades, _, err := s.exchange.TradesByOfferor("bob", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestExchange_SalesByOwnerPagination(t *testing.T) {
	s := newStack(t)
	for _, id := range []string{"nft-a", "nft-b", "nft-c"} {
		s.listed(t, "alice", id, 10, false)
	}
	s.listed(t, "bob", "nft-z", 10, false)

	sales, limit, err := s.exchange.SalesByOwner("alice", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limit)
	require.Len(t, sales, 1)
	assert.Equal(t, "nft-b", sales[0].AssetID)

	sales, limit, err = s.exchange.SalesByOwner("alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)
	assert.Len(t, sales, 3)
}

func TestExchange_PageValidation(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name    string
		offset  int
		limit   int
		message string
	}{
		{"negative offset", -1, 10, "offset must be >= 0"},
		{"negative limit", 0, -1, "limit must be between 1 and 100"},
		{"limit too large", 0, 101, "limit must be between 1 and 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.exchange.SalesByOwner("alice", tt.offset, tt.limit)
			assertValidation(t, err, tt.message)
		})
	}
}

func TestExchange_Info(t *testing.T) {
	s := newStack(t)
	info, err := s.exchange.Info()
	require.NoError(t, err)
	assert.Equal(t, testCustody, info.CustodyAddress)
	assert.Equal(t, testEngine, info.EngineAddress)
	assert.Equal(t, testDenom, info.Denom)
	assert.False(t, info.CloseSaleOnTrade)
}

func TestCustody_ApproveRejectsPastExpiry(t *testing.T) {
	s := newStack(t)
	_, err := s.custody.Mint("nft-1", "alice")
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	err = s.custody.Approve(context.Background(), "alice", "nft-1", testEngine, &past)
	assertValidation(t, err, "expires_at must be in the future")
}

func TestCustody_MintDuplicate(t *testing.T) {
	s := newStack(t)
	_, err := s.custody.Mint("nft-1", "alice")
	require.NoError(t, err)
	_, err = s.custody.Mint("nft-1", "bob")
	assert.True(t, errors.Is(err, domain.ErrAssetExists))
}

func TestCustody_RevokeBlocksListing(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	_, err := s.custody.Mint("nft-1", "alice")
	require.NoError(t, err)
	require.NoError(t, s.custody.Approve(ctx, "alice", "nft-1", testEngine, nil))
	require.NoError(t, s.custody.Revoke(ctx, "alice", "nft-1", testEngine))

	_, err = s.exchange.List(ctx, ListRequest{Sender: "alice", AssetID: "nft-1", Price: 1})
	var sce *host.SubCallError
	assert.ErrorAs(t, err, &sce)
}

func TestBank_MintValidation(t *testing.T) {
	s := newStack(t)

	_, err := s.bank.Mint("", []domain.Coin{{Denom: testDenom, Amount: 1}})
	assertValidation(t, err, "address is required")

	_, err = s.bank.Mint("alice", nil)
	assertValidation(t, err, "coins must be a non-empty array")

	balances, err := s.bank.Mint("alice", []domain.Coin{{Denom: testDenom, Amount: 5}, {Denom: "ufoo", Amount: 2}})
	require.NoError(t, err)
	assert.Len(t, balances, 2)
}
