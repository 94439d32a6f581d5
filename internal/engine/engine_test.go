package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/escrowexchange/internal/custody"
	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/ledger"
)

const (
	testDenom   = "uawesome"
	testSelf    = "engine"
	testCustody = "custody"
)

type testEnv struct {
	engine   *Engine
	tx       *ledger.Tx
	registry *custody.Registry
}

// newTestEnv opens an in-memory ledger with an open transaction and an
// instantiated configuration.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := ledger.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	tx, err := store.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() {
		tx.Discard()
		_ = store.Close()
	})
	env := &testEnv{engine: New(testDenom, opts...), tx: tx, registry: custody.NewRegistry()}
	if _, err := env.engine.Instantiate(context.Background(), env.call(""), testCustody); err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return env
}

func (env *testEnv) call(sender string, funds ...domain.Coin) Call {
	return Call{Sender: sender, Funds: funds, Self: testSelf, Store: env.tx, Custody: env.registry}
}

// putSale writes a sale directly, as if the asset had already been escrowed.
func (env *testEnv) putSale(t *testing.T, assetID, owner string, price uint64, tradable bool) {
	t.Helper()
	if _, err := env.registry.Mint(assetID, testSelf); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := env.tx.SaveSale(&domain.Sale{AssetID: assetID, Price: price, Owner: owner, Tradable: tradable}); err != nil {
		t.Fatalf("SaveSale: %v", err)
	}
}

// mintApproved mints an asset to owner and approves the engine over it.
func (env *testEnv) mintApproved(t *testing.T, assetID, owner string) {
	t.Helper()
	if _, err := env.registry.Mint(assetID, owner); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := env.registry.Approve(context.Background(), owner, assetID, testSelf, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

func transferOf(t *testing.T, m SubMsg) TransferAsset {
	t.Helper()
	ta, ok := m.Msg.(TransferAsset)
	if !ok {
		t.Fatalf("expected TransferAsset, got %T", m.Msg)
	}
	return ta
}

func TestInstantiate_Twice(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Instantiate(context.Background(), env.call(""), "other")
	if err != domain.ErrAlreadyInstantiated {
		t.Fatalf("expected ErrAlreadyInstantiated, got %v", err)
	}
	cfg, _ := env.tx.Config()
	if cfg.CustodyAddress != testCustody {
		t.Errorf("custody = %q, want %q", cfg.CustodyAddress, testCustody)
	}
}

func TestList_BeforeInstantiate(t *testing.T) {
	store, _ := ledger.OpenMemory()
	defer store.Close()
	tx, _ := store.Begin()
	defer tx.Discard()

	e := New(testDenom)
	_, err := e.List(context.Background(), Call{Sender: "alice", Self: testSelf, Store: tx, Custody: custody.NewRegistry()}, "nft-1", 10, false)
	if err != domain.ErrNotInstantiated {
		t.Fatalf("expected ErrNotInstantiated, got %v", err)
	}
}

func TestList_ByOwner(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.registry.Mint("nft-1", "alice")

	resp, err := env.engine.List(context.Background(), env.call("alice"), "nft-1", 100, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	sale, err := env.tx.Sale("nft-1")
	if err != nil {
		t.Fatalf("Sale: %v", err)
	}
	if sale.Owner != "alice" || sale.Price != 100 || !sale.Tradable {
		t.Errorf("unexpected sale: %+v", sale)
	}

	if resp.Action != domain.EventSaleListed {
		t.Errorf("action = %q, want %q", resp.Action, domain.EventSaleListed)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(resp.Messages))
	}
	m := resp.Messages[0]
	if m.ReplyOn != ReplyNever {
		t.Errorf("escrow transfer ReplyOn = %s, want never", m.ReplyOn)
	}
	ta := transferOf(t, m)
	if ta != (TransferAsset{Custody: testCustody, AssetID: "nft-1", Recipient: testSelf}) {
		t.Errorf("unexpected transfer: %+v", ta)
	}
}

func TestList_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.registry.Mint("nft-1", "alice")

	_, err := env.engine.List(context.Background(), env.call("mallory"), "nft-1", 100, true)
	if err != domain.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.tx.Sale("nft-1"); err != domain.ErrNotFound {
		t.Fatalf("sale should not be written, got %v", err)
	}
}

func TestList_UnknownAsset(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.List(context.Background(), env.call("alice"), "nft-404", 100, true)
	if !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestCancelListing(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		listed  bool
		wantErr error
	}{
		{"owner cancels", "alice", true, nil},
		{"other caller", "bob", true, domain.ErrUnauthorized},
		{"no sale", "alice", false, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.listed {
				env.putSale(t, "nft-1", "alice", 50, false)
			}

			resp, err := env.engine.CancelListing(context.Background(), env.call(tt.sender), "nft-1")
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if _, err := env.tx.Sale("nft-1"); err != domain.ErrNotFound {
				t.Fatalf("sale should be removed, got %v", err)
			}
			ta := transferOf(t, resp.Messages[0])
			if ta.Recipient != "alice" || ta.AssetID != "nft-1" {
				t.Errorf("unexpected transfer: %+v", ta)
			}
		})
	}
}

func TestPurchase_IncorrectPayment(t *testing.T) {
	tests := []struct {
		name  string
		funds []domain.Coin
	}{
		{"no funds", nil},
		{"underpay", []domain.Coin{{Denom: testDenom, Amount: 99}}},
		{"overpay", []domain.Coin{{Denom: testDenom, Amount: 101}}},
		{"wrong denom", []domain.Coin{{Denom: "stake", Amount: 100}}},
		{"extra denom", []domain.Coin{{Denom: testDenom, Amount: 100}, {Denom: "stake", Amount: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.putSale(t, "nft-1", "alice", 100, false)

			_, err := env.engine.Purchase(context.Background(), env.call("bob", tt.funds...), "nft-1")
			var ipe *domain.IncorrectPaymentError
			if !errors.As(err, &ipe) {
				t.Fatalf("expected IncorrectPaymentError, got %v", err)
			}
			if ipe.Expected != 100 {
				t.Errorf("expected = %d, want 100", ipe.Expected)
			}
			if _, err := env.tx.Sale("nft-1"); err != nil {
				t.Fatalf("sale should remain, got %v", err)
			}
		})
	}
}

func TestPurchase_ExactPayment(t *testing.T) {
	env := newTestEnv(t)
	env.putSale(t, "nft-1", "alice", 100, false)

	resp, err := env.engine.Purchase(context.Background(), env.call("bob", domain.Coin{Denom: testDenom, Amount: 100}), "nft-1")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if _, err := env.tx.Sale("nft-1"); err != domain.ErrNotFound {
		t.Fatalf("sale should be removed, got %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}

	pay, ok := resp.Messages[0].Msg.(SendPayment)
	if !ok {
		t.Fatalf("first message should be SendPayment, got %T", resp.Messages[0].Msg)
	}
	if paid, _ := domain.AmountOf(pay.Amount, testDenom); pay.Recipient != "alice" || paid != 100 {
		t.Errorf("unexpected payment: %+v", pay)
	}
	if resp.Messages[0].ReplyOn != ReplyNever {
		t.Errorf("payment ReplyOn = %s, want never", resp.Messages[0].ReplyOn)
	}

	m := resp.Messages[1]
	if m.Tag != TagSale || m.ReplyOn != ReplySuccess {
		t.Errorf("transfer tag/replyOn = %s/%s, want sale/success", m.Tag, m.ReplyOn)
	}
	if ta := transferOf(t, m); ta.Recipient != "bob" {
		t.Errorf("transfer recipient = %q, want bob", ta.Recipient)
	}
}

func TestPurchase_FreeSaleSkipsPayment(t *testing.T) {
	env := newTestEnv(t)
	env.putSale(t, "nft-1", "alice", 0, false)

	resp, err := env.engine.Purchase(context.Background(), env.call("bob"), "nft-1")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected only the transfer, got %d messages", len(resp.Messages))
	}
	transferOf(t, resp.Messages[0])
}

func TestPurchase_NoSale(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Purchase(context.Background(), env.call("bob"), "nft-1")
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOfferTrade(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		approve  bool
		listed   bool
		tradable bool
		wantErr  error
	}{
		{"valid offer", "bob", true, true, true, nil},
		{"not owner of offered", "mallory", true, true, true, domain.ErrUnauthorized},
		{"no approval", "bob", false, true, true, domain.ErrUnauthorized},
		{"sale not tradable", "bob", true, true, false, domain.ErrNonTradeable},
		{"no sale", "bob", true, false, true, domain.ErrNonTradeable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.listed {
				env.putSale(t, "nft-1", "alice", 100, tt.tradable)
			}
			if tt.approve {
				env.mintApproved(t, "nft-2", "bob")
			} else {
				_, _ = env.registry.Mint("nft-2", "bob")
			}

			resp, err := env.engine.OfferTrade(context.Background(), env.call(tt.sender), "nft-1", "nft-2")
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if _, err := env.tx.Trade("nft-1", tt.sender); err != domain.ErrNotFound {
					t.Fatalf("trade should not be written, got %v", err)
				}
				return
			}

			trade, err := env.tx.Trade("nft-1", "bob")
			if err != nil {
				t.Fatalf("Trade: %v", err)
			}
			if trade.OfferedAssetID != "nft-2" {
				t.Errorf("offered = %q, want nft-2", trade.OfferedAssetID)
			}
			if len(resp.Messages) != 0 {
				t.Errorf("offer should not emit messages, got %d", len(resp.Messages))
			}
		})
	}
}

func TestOfferTrade_LastWriterWins(t *testing.T) {
	env := newTestEnv(t)
	env.putSale(t, "nft-1", "alice", 100, true)
	env.mintApproved(t, "nft-2", "bob")
	env.mintApproved(t, "nft-3", "bob")

	for _, offered := range []string{"nft-2", "nft-3"} {
		if _, err := env.engine.OfferTrade(context.Background(), env.call("bob"), "nft-1", offered); err != nil {
			t.Fatalf("OfferTrade(%s): %v", offered, err)
		}
	}
	trade, _ := env.tx.Trade("nft-1", "bob")
	if trade.OfferedAssetID != "nft-3" {
		t.Errorf("offered = %q, want nft-3", trade.OfferedAssetID)
	}
}

func TestAcceptTrade(t *testing.T) {
	env := newTestEnv(t)
	env.putSale(t, "nft-1", "alice", 100, true)
	env.mintApproved(t, "nft-2", "bob")
	_ = env.tx.SaveTrade(&domain.Trade{AskedAssetID: "nft-1", OfferedAssetID: "nft-2", Offeror: "bob"})

	if _, err := env.engine.AcceptTrade(context.Background(), env.call("mallory"), "nft-1", "bob"); err != domain.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.AcceptTrade(context.Background(), env.call("alice"), "nft-1", "carol"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	resp, err := env.engine.AcceptTrade(context.Background(), env.call("alice"), "nft-1", "bob")
	if err != nil {
		t.Fatalf("AcceptTrade: %v", err)
	}
	if _, err := env.tx.Trade("nft-1", "bob"); err != domain.ErrNotFound {
		t.Fatalf("trade should be removed, got %v", err)
	}
	if _, err := env.tx.Sale("nft-1"); err != nil {
		t.Fatalf("sale should remain by default, got %v", err)
	}

	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	want := []TransferAsset{
		{Custody: testCustody, AssetID: "nft-1", Recipient: "bob"},
		{Custody: testCustody, AssetID: "nft-2", Recipient: "alice"},
	}
	for i, m := range resp.Messages {
		if m.Tag != TagTrade || m.ReplyOn != ReplyAlways {
			t.Errorf("message %d tag/replyOn = %s/%s, want trade/always", i, m.Tag, m.ReplyOn)
		}
		if ta := transferOf(t, m); ta != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, ta, want[i])
		}
	}
	if resp.Messages[0].ID == resp.Messages[1].ID {
		t.Error("sub-call ids must be distinct")
	}
}

func TestAcceptTrade_CloseSaleOnTrade(t *testing.T) {
	env := newTestEnv(t, WithCloseSaleOnTrade(true))
	env.putSale(t, "nft-1", "alice", 100, true)
	_ = env.tx.SaveTrade(&domain.Trade{AskedAssetID: "nft-1", OfferedAssetID: "nft-2", Offeror: "bob"})

	if _, err := env.engine.AcceptTrade(context.Background(), env.call("alice"), "nft-1", "bob"); err != nil {
		t.Fatalf("AcceptTrade: %v", err)
	}
	if _, err := env.tx.Sale("nft-1"); err != domain.ErrNotFound {
		t.Fatalf("sale should be closed, got %v", err)
	}
}

func TestCancelTrade(t *testing.T) {
	env := newTestEnv(t)
	env.putSale(t, "nft-1", "alice", 100, true)

	if _, err := env.engine.CancelTrade(context.Background(), env.call("bob"), "nft-1"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = env.tx.SaveTrade(&domain.Trade{AskedAssetID: "nft-1", OfferedAssetID: "nft-2", Offeror: "bob"})
	for _, sender := range []string{"alice", "carol"} {
		if _, err := env.engine.CancelTrade(context.Background(), env.call(sender), "nft-1"); err != domain.ErrUnauthorized {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", sender, err)
		}
	}

	resp, err := env.engine.CancelTrade(context.Background(), env.call("bob"), "nft-1")
	if err != nil {
		t.Fatalf("CancelTrade: %v", err)
	}
	if _, err := env.tx.Trade("nft-1", "bob"); err != domain.ErrNotFound {
		t.Fatalf("trade should be removed, got %v", err)
	}
	if ta := transferOf(t, resp.Messages[0]); ta.AssetID != "nft-2" || ta.Recipient != "bob" {
		t.Errorf("unexpected transfer: %+v", ta)
	}
}

func TestReply_Counters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	replies := []Reply{
		{Tag: TagSale},
		{Tag: TagTrade},
		{Tag: TagTrade, Err: "transfer failed"},
	}
	for _, r := range replies {
		if _, err := env.engine.Reply(ctx, env.call(testSelf), r); err != nil {
			t.Fatalf("Reply(%s): %v", r.Tag, err)
		}
	}

	ops, _ := env.tx.Operations()
	if ops.CompletedSales != 1 {
		t.Errorf("completed sales = %d, want 1", ops.CompletedSales)
	}
	if ops.CompletedTrades != 2 {
		t.Errorf("completed trades = %d, want 2 (failed outcomes are counted)", ops.CompletedTrades)
	}
}

func TestReply_UnrecognizedTag(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Reply(context.Background(), env.call(testSelf), Reply{Tag: ReplyTag(99)})
	if err != domain.ErrUnrecognizedReply {
		t.Fatalf("expected ErrUnrecognizedReply, got %v", err)
	}
	ops, _ := env.tx.Operations()
	if ops != (domain.Operations{}) {
		t.Errorf("operations should be untouched, got %+v", ops)
	}
}

func TestReplyOn_Wants(t *testing.T) {
	tests := []struct {
		on        ReplyOn
		succeeded bool
		want      bool
	}{
		{ReplyNever, true, false},
		{ReplyNever, false, false},
		{ReplySuccess, true, true},
		{ReplySuccess, false, false},
		{ReplyError, true, false},
		{ReplyError, false, true},
		{ReplyAlways, true, true},
		{ReplyAlways, false, true},
	}
	for _, tt := range tests {
		if got := tt.on.Wants(tt.succeeded); got != tt.want {
			t.Errorf("%s.Wants(%v) = %v, want %v", tt.on, tt.succeeded, got, tt.want)
		}
	}
}
