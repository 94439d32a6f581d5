package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Store is the exchange's persistent key-value ledger. Mutations go through
// a Tx; goleveldb admits a single open transaction at a time, which makes
// the store single-writer. Reads go through snapshot-backed Views and never
// block the writer.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) a LevelDB ledger at path. An empty path opens an
// in-memory ledger.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return OpenMemory()
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a ledger backed by in-memory storage.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin opens a write transaction. It blocks while another transaction is
// open.
func (s *Store) Begin() (*Tx, error) {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	return &Tx{Reader: Reader{kv: tr}, tr: tr}, nil
}

// View returns a read-only view of the last committed state. The caller
// must Release it.
func (s *Store) View() (*View, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	return &View{Reader: Reader{kv: snap}, snap: snap}, nil
}

// View is a consistent read-only projection of the ledger.
type View struct {
	Reader
	snap *leveldb.Snapshot
}

// Release frees the snapshot backing the view.
func (v *View) Release() {
	v.snap.Release()
}

// Tx stages ledger mutations until Commit. Reads through a Tx observe its own
// staged writes.
type Tx struct {
	Reader
	tr *leveldb.Transaction
}

// SaveConfig writes the engine configuration.
func (tx *Tx) SaveConfig(cfg domain.Config) error {
	return tx.put(key(nsConfig), cfg)
}

// SaveSale writes a sale and its owner index entry, replacing any sale for
// the same asset.
func (tx *Tx) SaveSale(s *domain.Sale) error {
	existing, err := tx.Sale(s.AssetID)
	switch {
	case err == nil && existing.Owner != s.Owner:
		if err := tx.delete(key(nsSalesByOwner, existing.Owner, s.AssetID)); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if err := tx.put(key(nsSales, s.AssetID), s); err != nil {
		return err
	}
	return tx.put(key(nsSalesByOwner, s.Owner, s.AssetID), s)
}

// RemoveSale deletes the sale for assetID. Removing an absent sale is a
// no-op.
func (tx *Tx) RemoveSale(assetID string) error {
	existing, err := tx.Sale(assetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.delete(key(nsSales, assetID)); err != nil {
		return err
	}
	return tx.delete(key(nsSalesByOwner, existing.Owner, assetID))
}

// SaveTrade writes a trade under (AskedAssetID, Offeror), replacing any
// previous offer by the same offeror.
func (tx *Tx) SaveTrade(t *domain.Trade) error {
	if err := tx.put(key(nsTrades, t.Offeror, t.AskedAssetID), t); err != nil {
		return err
	}
	return tx.put(key(nsTradesByAsset, t.AskedAssetID, t.Offeror), t)
}

// RemoveTrade deletes the trade keyed by (askedAssetID, offeror).
func (tx *Tx) RemoveTrade(askedAssetID, offeror string) error {
	if err := tx.delete(key(nsTrades, offeror, askedAssetID)); err != nil {
		return err
	}
	return tx.delete(key(nsTradesByAsset, askedAssetID, offeror))
}

// SaveOperations writes the settlement counters.
func (tx *Tx) SaveOperations(ops domain.Operations) error {
	return tx.put(key(nsOperations), ops)
}

// SaveGatewayState writes the checkpoint of the named settlement gateway.
func (tx *Tx) SaveGatewayState(name string, state json.RawMessage) error {
	return tx.put(key(nsGateway, name), state)
}

// Commit atomically applies every staged write.
func (tx *Tx) Commit() error {
	if err := tx.tr.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// Discard drops every staged write. It is a no-op after Commit.
func (tx *Tx) Discard() {
	tx.tr.Discard()
}

func (tx *Tx) put(k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}
	if err := tx.tr.Put(k, raw, nil); err != nil {
		return fmt.Errorf("ledger put: %w", err)
	}
	return nil
}

func (tx *Tx) delete(k []byte) error {
	if err := tx.tr.Delete(k, nil); err != nil {
		return fmt.Errorf("ledger delete: %w", err)
	}
	return nil
}
