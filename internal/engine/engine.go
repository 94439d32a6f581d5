package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Store is the transactional ledger an operation reads and mutates. Every
// write is staged until the host commits the enclosing transaction.
type Store interface {
	Config() (domain.Config, error)
	SaveConfig(cfg domain.Config) error
	Sale(assetID string) (*domain.Sale, error)
	SaveSale(s *domain.Sale) error
	RemoveSale(assetID string) error
	Trade(askedAssetID, offeror string) (*domain.Trade, error)
	TradesByAsset(askedAssetID string, offset, limit int) ([]*domain.Trade, error)
	SaveTrade(t *domain.Trade) error
	RemoveTrade(askedAssetID, offeror string) error
	Operations() (domain.Operations, error)
	SaveOperations(ops domain.Operations) error
}

// CustodyQuerier is the read side of the custody gateway.
type CustodyQuerier interface {
	OwnerOf(ctx context.Context, assetID string) (string, error)
	Approval(ctx context.Context, assetID, spender string) (domain.Approval, error)
}

// Call carries the execution context of one engine entry point.
type Call struct {
	Sender  string
	Funds   []domain.Coin
	Self    string
	Store   Store
	Custody CustodyQuerier
}

// Option configures an Engine.
type Option func(*Engine)

// WithCloseSaleOnTrade makes AcceptTrade remove the sale of the traded
// asset. By default the sale is left in place.
func WithCloseSaleOnTrade(enabled bool) Option {
	return func(e *Engine) { e.closeSaleOnTrade = enabled }
}

// Engine implements the escrow sale and trade lifecycle. It holds no state
// of its own; everything lives in the Store handed in with each Call.
type Engine struct {
	denom            string
	closeSaleOnTrade bool
	replies          map[ReplyTag]replyHandler
}

// New creates an Engine that accepts payments in denom.
func New(denom string, opts ...Option) *Engine {
	e := &Engine{denom: denom}
	e.replies = map[ReplyTag]replyHandler{
		TagSale:  countSale,
		TagTrade: countTrade,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Denom returns the payment denomination.
func (e *Engine) Denom() string { return e.denom }

// CloseSaleOnTrade reports whether accepted trades close the sale.
func (e *Engine) CloseSaleOnTrade() bool { return e.closeSaleOnTrade }

// Instantiate writes the engine configuration. It fails if the engine has
// already been instantiated.
func (e *Engine) Instantiate(_ context.Context, c Call, custodyAddress string) (*Response, error) {
	if custodyAddress == "" {
		return nil, &domain.ValidationError{Message: "custody_address is required"}
	}
	_, err := c.Store.Config()
	switch {
	case err == nil:
		return nil, domain.ErrAlreadyInstantiated
	case !errors.Is(err, domain.ErrNotInstantiated):
		return nil, err
	}
	if err := c.Store.SaveConfig(domain.Config{CustodyAddress: custodyAddress}); err != nil {
		return nil, err
	}
	return newResponse(domain.EventInstantiated).
		attr("custody_address", custodyAddress), nil
}

// List escrows assetID and records a sale at price. The caller must be the
// asset's current owner and must have approved the engine, otherwise the
// escrow transfer fails and the transaction aborts.
func (e *Engine) List(ctx context.Context, c Call, assetID string, price uint64, tradable bool) (*Response, error) {
	cfg, err := c.Store.Config()
	if err != nil {
		return nil, err
	}
	owner, err := c.Custody.OwnerOf(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("query owner of %s: %w", assetID, err)
	}
	if owner != c.Sender {
		return nil, domain.ErrUnauthorized
	}

	sale := &domain.Sale{AssetID: assetID, Price: price, Owner: c.Sender, Tradable: tradable}
	if err := c.Store.SaveSale(sale); err != nil {
		return nil, err
	}

	return newResponse(domain.EventSaleListed).
		attr("asset_id", assetID).
		attr("price", strconv.FormatUint(price, 10)).
		attr("tradable", strconv.FormatBool(tradable)).
		notify(c.Sender).
		send(TransferAsset{Custody: cfg.CustodyAddress, AssetID: assetID, Recipient: c.Self}), nil
}

// CancelListing removes the sale of assetID and returns the asset to its
// owner. Only the sale owner may cancel.
func (e *Engine) CancelListing(_ context.Context, c Call, assetID string) (*Response, error) {
	sale, err := c.Store.Sale(assetID)
	if err != nil {
		return nil, err
	}
	if sale.Owner != c.Sender {
		return nil, domain.ErrUnauthorized
	}
	cfg, err := c.Store.Config()
	if err != nil {
		return nil, err
	}
	if err := c.Store.RemoveSale(assetID); err != nil {
		return nil, err
	}

	return newResponse(domain.EventSaleCancelled).
		attr("asset_id", assetID).
		notify(sale.Owner).
		send(TransferAsset{Custody: cfg.CustodyAddress, AssetID: assetID, Recipient: sale.Owner}), nil
}

// Purchase buys assetID. The attached funds must be exactly the sale price
// in the engine's denomination. The sale is removed before the custody
// transfer runs; the transfer reports back under TagSale on success.
func (e *Engine) Purchase(_ context.Context, c Call, assetID string) (*Response, error) {
	sale, err := c.Store.Sale(assetID)
	if err != nil {
		return nil, err
	}
	paid, err := domain.AmountOf(c.Funds, e.denom)
	if err != nil {
		return nil, err
	}
	if !domain.OnlyDenom(c.Funds, e.denom) || paid != sale.Price {
		return nil, &domain.IncorrectPaymentError{Expected: sale.Price}
	}
	cfg, err := c.Store.Config()
	if err != nil {
		return nil, err
	}
	if err := c.Store.RemoveSale(assetID); err != nil {
		return nil, err
	}

	resp := newResponse(domain.EventSalePurchased).
		attr("asset_id", assetID).
		attr("price", strconv.FormatUint(sale.Price, 10)).
		attr("seller", sale.Owner).
		attr("buyer", c.Sender).
		notify(sale.Owner, c.Sender)
	if sale.Price > 0 {
		resp.send(SendPayment{
			Recipient: sale.Owner,
			Amount:    []domain.Coin{{Denom: e.denom, Amount: sale.Price}},
		})
	}
	resp.sendTagged(TransferAsset{Custody: cfg.CustodyAddress, AssetID: assetID, Recipient: c.Sender}, TagSale, ReplySuccess)
	return resp, nil
}

// OfferTrade records an offer to swap offeredAssetID for the asset behind
// the sale of askedAssetID. The caller must own the offered asset and have
// approved the engine over it. A later offer from the same caller for the
// same asset replaces the earlier one.
func (e *Engine) OfferTrade(ctx context.Context, c Call, askedAssetID, offeredAssetID string) (*Response, error) {
	owner, err := c.Custody.OwnerOf(ctx, offeredAssetID)
	if err != nil {
		return nil, fmt.Errorf("query owner of %s: %w", offeredAssetID, err)
	}
	if owner != c.Sender {
		return nil, domain.ErrUnauthorized
	}
	if _, err := c.Custody.Approval(ctx, offeredAssetID, c.Self); err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("query approval of %s: %w", offeredAssetID, err)
	}

	sale, err := c.Store.Sale(askedAssetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNonTradeable
		}
		return nil, err
	}
	if !sale.Tradable {
		return nil, domain.ErrNonTradeable
	}

	trade := &domain.Trade{AskedAssetID: askedAssetID, OfferedAssetID: offeredAssetID, Offeror: c.Sender}
	if err := c.Store.SaveTrade(trade); err != nil {
		return nil, err
	}

	return newResponse(domain.EventTradeOffered).
		attr("asked_asset_id", askedAssetID).
		attr("offered_asset_id", offeredAssetID).
		attr("offeror", c.Sender).
		notify(c.Sender, sale.Owner), nil
}

// AcceptTrade swaps the asked asset with the offeror's offered asset. Only
// the sale owner may accept. Both transfers report back under TagTrade
// whatever their outcome, so a failed transfer does not undo the removal of
// the trade.
func (e *Engine) AcceptTrade(_ context.Context, c Call, askedAssetID, offeror string) (*Response, error) {
	trade, err := c.Store.Trade(askedAssetID, offeror)
	if err != nil {
		return nil, err
	}
	sale, err := c.Store.Sale(askedAssetID)
	if err != nil {
		return nil, err
	}
	if sale.Owner != c.Sender {
		return nil, domain.ErrUnauthorized
	}
	cfg, err := c.Store.Config()
	if err != nil {
		return nil, err
	}
	if err := c.Store.RemoveTrade(askedAssetID, offeror); err != nil {
		return nil, err
	}
	if e.closeSaleOnTrade {
		if err := c.Store.RemoveSale(askedAssetID); err != nil {
			return nil, err
		}
	}

	return newResponse(domain.EventTradeAccepted).
		attr("asked_asset_id", trade.AskedAssetID).
		attr("offered_asset_id", trade.OfferedAssetID).
		attr("offeror", trade.Offeror).
		attr("sale_closed", strconv.FormatBool(e.closeSaleOnTrade)).
		notify(sale.Owner, trade.Offeror).
		sendTagged(TransferAsset{Custody: cfg.CustodyAddress, AssetID: trade.AskedAssetID, Recipient: trade.Offeror}, TagTrade, ReplyAlways).
		sendTagged(TransferAsset{Custody: cfg.CustodyAddress, AssetID: trade.OfferedAssetID, Recipient: sale.Owner}, TagTrade, ReplyAlways), nil
}

// CancelTrade withdraws the caller's offer on askedAssetID. The offered asset
// is transferred back to the caller, which also clears the engine's
// approval over it.
func (e *Engine) CancelTrade(_ context.Context, c Call, askedAssetID string) (*Response, error) {
	trade, err := c.Store.Trade(askedAssetID, c.Sender)
	if errors.Is(err, domain.ErrNotFound) {
		others, lerr := c.Store.TradesByAsset(askedAssetID, 0, 1)
		if lerr != nil {
			return nil, lerr
		}
		if len(others) > 0 {
			return nil, domain.ErrUnauthorized
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if trade.Offeror != c.Sender {
		return nil, domain.ErrUnauthorized
	}
	cfg, err := c.Store.Config()
	if err != nil {
		return nil, err
	}
	if err := c.Store.RemoveTrade(askedAssetID, c.Sender); err != nil {
		return nil, err
	}

	return newResponse(domain.EventTradeCancelled).
		attr("asked_asset_id", askedAssetID).
		attr("offered_asset_id", trade.OfferedAssetID).
		notify(c.Sender).
		send(TransferAsset{Custody: cfg.CustodyAddress, AssetID: trade.OfferedAssetID, Recipient: c.Sender}), nil
}
