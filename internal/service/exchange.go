package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/host"
	"github.com/efreitasn/escrowexchange/internal/ledger"
)

// ListRequest represents the input for listing an asset.
type ListRequest struct {
	Sender   string
	AssetID  string
	Price    uint64
	Tradable bool
	Funds    []domain.Coin
}

// ExchangeService validates exchange requests, runs them through the host
// and serves read-only queries from ledger snapshots.
type ExchangeService struct {
	host   *host.Host
	engine *engine.Engine
	ledger *ledger.Store
}

// NewExchangeService creates a new ExchangeService.
func NewExchangeService(h *host.Host, ledgerStore *ledger.Store) *ExchangeService {
	return &ExchangeService{
		host:   h,
		engine: h.Engine(),
		ledger: ledgerStore,
	}
}

// Instantiate writes the engine configuration.
func (s *ExchangeService) Instantiate(ctx context.Context, sender, custodyAddress string) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateAddress("custody_address", custodyAddress); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "instantiate", sender, nil, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.Instantiate(ctx, c, custodyAddress)
	})
}

// Bootstrap instantiates the engine on first start. On a ledger that is
// already instantiated it checks the stored custody address instead and
// returns domain.ErrCustodyMismatch if it differs.
func (s *ExchangeService) Bootstrap(ctx context.Context, sender, custodyAddress string) error {
	_, err := s.Instantiate(ctx, sender, custodyAddress)
	if !errors.Is(err, domain.ErrAlreadyInstantiated) {
		return err
	}
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	if cfg.CustodyAddress != custodyAddress {
		return fmt.Errorf("%w: ledger has %q, configured %q", domain.ErrCustodyMismatch, cfg.CustodyAddress, custodyAddress)
	}
	return nil
}

// List escrows an asset and records its sale.
func (s *ExchangeService) List(ctx context.Context, req ListRequest) (*host.Result, error) {
	if err := validateAddress("sender", req.Sender); err != nil {
		return nil, err
	}
	if err := validateID("asset_id", req.AssetID); err != nil {
		return nil, err
	}
	if err := validateCoins(req.Funds); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "list", req.Sender, req.Funds, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.List(ctx, c, req.AssetID, req.Price, req.Tradable)
	})
}

// CancelListing removes a sale and returns the asset to its owner.
func (s *ExchangeService) CancelListing(ctx context.Context, sender, assetID string) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateID("asset_id", assetID); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "cancel_listing", sender, nil, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.CancelListing(ctx, c, assetID)
	})
}

// Purchase buys a listed asset with the attached funds.
func (s *ExchangeService) Purchase(ctx context.Context, sender, assetID string, funds []domain.Coin) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateID("asset_id", assetID); err != nil {
		return nil, err
	}
	if err := validateCoins(funds); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "purchase", sender, funds, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.Purchase(ctx, c, assetID)
	})
}

// OfferTrade records an offer to swap offeredAssetID for askedAssetID.
func (s *ExchangeService) OfferTrade(ctx context.Context, sender, askedAssetID, offeredAssetID string) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateID("asked_asset_id", askedAssetID); err != nil {
		return nil, err
	}
	if err := validateID("offered_asset_id", offeredAssetID); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "offer_trade", sender, nil, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.OfferTrade(ctx, c, askedAssetID, offeredAssetID)
	})
}

// AcceptTrade accepts offeror's offer on askedAssetID.
func (s *ExchangeService) AcceptTrade(ctx context.Context, sender, askedAssetID, offeror string) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateID("asset_id", askedAssetID); err != nil {
		return nil, err
	}
	if err := validateAddress("offeror", offeror); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "accept_trade", sender, nil, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.AcceptTrade(ctx, c, askedAssetID, offeror)
	})
}

// CancelTrade withdraws the sender's offer on askedAssetID.
func (s *ExchangeService) CancelTrade(ctx context.Context, sender, askedAssetID string) (*host.Result, error) {
	if err := validateAddress("sender", sender); err != nil {
		return nil, err
	}
	if err := validateID("asset_id", askedAssetID); err != nil {
		return nil, err
	}
	return s.host.Execute(ctx, "cancel_trade", sender, nil, func(ctx context.Context, c engine.Call) (*engine.Response, error) {
		return s.engine.CancelTrade(ctx, c, askedAssetID)
	})
}

// view runs fn against a snapshot of the last committed ledger state.
func (s *ExchangeService) view(fn func(r ledger.Reader) error) error {
	v, err := s.ledger.View()
	if err != nil {
		return err
	}
	defer v.Release()
	return fn(v.Reader)
}

// Sale returns the sale of assetID.
func (s *ExchangeService) Sale(assetID string) (*domain.Sale, error) {
	if err := validateID("asset_id", assetID); err != nil {
		return nil, err
	}
	var sale *domain.Sale
	err := s.view(func(r ledger.Reader) error {
		var err error
		sale, err = r.Sale(assetID)
		return err
	})
	return sale, err
}

// SalesByOwner returns owner's sales in ascending asset id order.
func (s *ExchangeService) SalesByOwner(owner string, offset, limit int) ([]*domain.Sale, int, error) {
	if err := validateAddress("owner", owner); err != nil {
		return nil, 0, err
	}
	limit, err := validatePage(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	var sales []*domain.Sale
	err = s.view(func(r ledger.Reader) error {
		var err error
		sales, err = r.SalesByOwner(owner, offset, limit)
		return err
	})
	return sales, limit, err
}

// Trade returns offeror's offer on askedAssetID.
func (s *ExchangeService) Trade(askedAssetID, offeror string) (*domain.Trade, error) {
	if err := validateID("asset_id", askedAssetID); err != nil {
		return nil, err
	}
	if err := validateAddress("offeror", offeror); err != nil {
		return nil, err
	}
	var trade *domain.Trade
	err := s.view(func(r ledger.Reader) error {
		var err error
		trade, err = r.Trade(askedAssetID, offeror)
		return err
	})
	return trade, err
}

// TradesByOfferor returns offeror's offers in ascending asked asset id order.
func (s *ExchangeService) TradesByOfferor(offeror string, offset, limit int) ([]*domain.Trade, int, error) {
	if err := validateAddress("offeror", offeror); err != nil {
		return nil, 0, err
	}
	limit, err := validatePage(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	var trades []*domain.Trade
	err = s.view(func(r ledger.Reader) error {
		var err error
		trades, err = r.TradesByOfferor(offeror, offset, limit)
		return err
	})
	return trades, limit, err
}

// TradesByAsset returns the offers received for askedAssetID in ascending
// offeror order.
func (s *ExchangeService) TradesByAsset(askedAssetID string, offset, limit int) ([]*domain.Trade, int, error) {
	if err := validateID("asset_id", askedAssetID); err != nil {
		return nil, 0, err
	}
	limit, err := validatePage(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	var trades []*domain.Trade
	err = s.view(func(r ledger.Reader) error {
		var err error
		trades, err = r.TradesByAsset(askedAssetID, offset, limit)
		return err
	})
	return trades, limit, err
}

// Operations returns the completed settlement counters.
func (s *ExchangeService) Operations() (domain.Operations, error) {
	var ops domain.Operations
	err := s.view(func(r ledger.Reader) error {
		var err error
		ops, err = r.Operations()
		return err
	})
	return ops, err
}

// Config returns the engine configuration.
func (s *ExchangeService) Config() (domain.Config, error) {
	var cfg domain.Config
	err := s.view(func(r ledger.Reader) error {
		var err error
		cfg, err = r.Config()
		return err
	})
	return cfg, err
}

// EngineInfo describes the running engine.
type EngineInfo struct {
	domain.Config
	EngineAddress    string `json:"engine_address"`
	Denom            string `json:"denom"`
	CloseSaleOnTrade bool   `json:"close_sale_on_trade"`
}

// Info returns the engine configuration together with its runtime settings.
func (s *ExchangeService) Info() (*EngineInfo, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return &EngineInfo{
		Config:           cfg,
		EngineAddress:    s.host.Address(),
		Denom:            s.engine.Denom(),
		CloseSaleOnTrade: s.engine.CloseSaleOnTrade(),
	}, nil
}
