package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// kvReader is satisfied by both *leveldb.Transaction and *leveldb.Snapshot.
type kvReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// Reader exposes the read side of the ledger over a transaction or a
// snapshot.
type Reader struct {
	kv kvReader
}

// Config returns the engine configuration, or domain.ErrNotInstantiated if
// none has been written yet.
func (r Reader) Config() (domain.Config, error) {
	var cfg domain.Config
	ok, err := r.get(key(nsConfig), &cfg)
	if err != nil {
		return domain.Config{}, err
	}
	if !ok {
		return domain.Config{}, domain.ErrNotInstantiated
	}
	return cfg, nil
}

// Sale returns the sale for assetID. It returns domain.ErrNotFound if the
// asset is not listed.
func (r Reader) Sale(assetID string) (*domain.Sale, error) {
	var s domain.Sale
	ok, err := r.get(key(nsSales, assetID), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

// SalesByOwner returns the owner's sales in ascending asset id order,
// skipping offset entries and returning at most limit.
func (r Reader) SalesByOwner(owner string, offset, limit int) ([]*domain.Sale, error) {
	sales := make([]*domain.Sale, 0)
	err := r.scan(prefix(nsSalesByOwner, owner), offset, limit, func(_, value []byte) error {
		var s domain.Sale
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("decode sale: %w", err)
		}
		sales = append(sales, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sales, nil
}

// Trade returns the trade keyed by (askedAssetID, offeror). It returns
// domain.ErrNotFound if no such offer exists.
func (r Reader) Trade(askedAssetID, offeror string) (*domain.Trade, error) {
	var t domain.Trade
	ok, err := r.get(key(nsTrades, offeror, askedAssetID), &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

// TradesByOfferor returns the offeror's trades ordered by asked asset id.
func (r Reader) TradesByOfferor(offeror string, offset, limit int) ([]*domain.Trade, error) {
	return r.trades(prefix(nsTrades, offeror), offset, limit)
}

// TradesByAsset returns the trades targeting askedAssetID ordered by offeror.
func (r Reader) TradesByAsset(askedAssetID string, offset, limit int) ([]*domain.Trade, error) {
	return r.trades(prefix(nsTradesByAsset, askedAssetID), offset, limit)
}

// Operations returns the settlement counters, zero-valued if never written.
func (r Reader) Operations() (domain.Operations, error) {
	var ops domain.Operations
	if _, err := r.get(key(nsOperations), &ops); err != nil {
		return domain.Operations{}, err
	}
	return ops, nil
}

// GatewayState returns the checkpoint of the named settlement gateway. It
// reports false if none was saved.
func (r Reader) GatewayState(name string) (json.RawMessage, bool, error) {
	var state json.RawMessage
	ok, err := r.get(key(nsGateway, name), &state)
	if err != nil || !ok {
		return nil, false, err
	}
	return state, true, nil
}

func (r Reader) trades(p []byte, offset, limit int) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	err := r.scan(p, offset, limit, func(_, value []byte) error {
		var t domain.Trade
		if err := json.Unmarshal(value, &t); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		trades = append(trades, &t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// get decodes the value at k into v. It reports false if the key is absent.
func (r Reader) get(k []byte, v any) (bool, error) {
	raw, err := r.kv.Get(k, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("ledger get: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("ledger decode: %w", err)
	}
	return true, nil
}

// scan walks keys under p in ascending order. A non-positive limit means no
// limit. fn must not retain key or value.
func (r Reader) scan(p []byte, offset, limit int, fn func(key, value []byte) error) error {
	iter := r.kv.NewIterator(util.BytesPrefix(p), nil)
	defer iter.Release()

	skipped, taken := 0, 0
	for iter.Next() {
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && taken >= limit {
			break
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
		taken++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("ledger scan: %w", err)
	}
	return nil
}
