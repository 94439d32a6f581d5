package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Gateway is the payment primitive the exchange settles against.
type Gateway interface {
	Send(ctx context.Context, from, to string, coins []domain.Coin) error
}

// balanceKey identifies one denomination held by one address.
type balanceKey struct {
	address string
	denom   string
}

// journalEntry records a balance as it was before a mutation.
type journalEntry struct {
	key     balanceKey
	prev    uint64
	present bool
}

// Bank is a thread-safe in-memory payment gateway keyed by address and
// denomination. While snapshots are open every mutation is journaled so it
// can be reverted.
type Bank struct {
	mu        sync.RWMutex
	balances  map[balanceKey]uint64
	journal   []journalEntry
	snapshots []int // journal lengths
}

// New creates an empty Bank.
func New() *Bank {
	return &Bank{
		balances: make(map[balanceKey]uint64),
	}
}

// Mint credits coins to address.
func (b *Bank) Mint(address string, coins []domain.Coin) error {
	if address == "" {
		return &domain.ValidationError{Message: "address is required"}
	}
	for _, c := range coins {
		if c.Denom == "" {
			return &domain.ValidationError{Message: "denom is required"}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	credited := make(map[balanceKey]uint64, len(coins))
	for _, c := range coins {
		k := balanceKey{address: address, denom: c.Denom}
		cur, ok := credited[k]
		if !ok {
			cur = b.balances[k]
		}
		next, err := domain.AddAmount(cur, c.Amount)
		if err != nil {
			return err
		}
		credited[k] = next
	}
	for k, amount := range credited {
		b.set(k, amount)
	}
	return nil
}

// Balance returns the amount of denom held by address.
func (b *Bank) Balance(address, denom string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[balanceKey{address: address, denom: denom}]
}

// Balances returns every non-zero balance held by address, sorted by denom.
func (b *Bank) Balances(address string) []domain.Coin {
	b.mu.RLock()
	defer b.mu.RUnlock()

	coins := make([]domain.Coin, 0)
	for k, amount := range b.balances {
		if k.address == address && amount > 0 {
			coins = append(coins, domain.Coin{Denom: k.denom, Amount: amount})
		}
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Denom < coins[j].Denom })
	return coins
}

// Send moves coins from one address to another. Either every coin moves or
// none does; domain.ErrInsufficientFunds is returned if from cannot cover
// the total of any denomination.
func (b *Bank) Send(_ context.Context, from, to string, coins []domain.Coin) error {
	if to == "" {
		return &domain.ValidationError{Message: "recipient is required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	need := make(map[string]uint64)
	for _, c := range coins {
		total, err := domain.AddAmount(need[c.Denom], c.Amount)
		if err != nil {
			return err
		}
		need[c.Denom] = total
	}
	for denom, amount := range need {
		if b.balances[balanceKey{address: from, denom: denom}] < amount {
			return domain.ErrInsufficientFunds
		}
		if from == to {
			continue
		}
		if _, err := domain.AddAmount(b.balances[balanceKey{address: to, denom: denom}], amount); err != nil {
			return err
		}
	}
	for _, c := range coins {
		if c.Amount == 0 {
			continue
		}
		src := balanceKey{address: from, denom: c.Denom}
		dst := balanceKey{address: to, denom: c.Denom}
		b.set(src, b.balances[src]-c.Amount)
		b.set(dst, b.balances[dst]+c.Amount)
	}
	return nil
}

// set writes a balance, journaling the previous value when a snapshot is
// open. Caller must hold mu.
func (b *Bank) set(k balanceKey, amount uint64) {
	if len(b.snapshots) > 0 {
		prev, ok := b.balances[k]
		b.journal = append(b.journal, journalEntry{key: k, prev: prev, present: ok})
	}
	b.balances[k] = amount
}

// Snapshot records the current state and returns an id for
// RevertToSnapshot.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = append(b.snapshots, len(b.journal))
	return len(b.snapshots) - 1
}

// RevertToSnapshot undoes every mutation made since Snapshot(id) and drops
// that snapshot and every later one.
func (b *Bank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id < 0 || id >= len(b.snapshots) {
		return
	}
	mark := b.snapshots[id]
	for i := len(b.journal) - 1; i >= mark; i-- {
		e := b.journal[i]
		if e.present {
			b.balances[e.key] = e.prev
		} else {
			delete(b.balances, e.key)
		}
	}
	b.journal = b.journal[:mark]
	b.snapshots = b.snapshots[:id]
}

// DiscardSnapshots forgets every recorded snapshot, keeping current state.
func (b *Bank) DiscardSnapshots() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = nil
	b.journal = nil
}

// balanceRecord is the checkpoint form of one non-zero balance.
type balanceRecord struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
	Amount  uint64 `json:"amount"`
}

// Checkpoint encodes every non-zero balance ordered by address and denom.
func (b *Bank) Checkpoint() (json.RawMessage, error) {
	b.mu.RLock()
	records := make([]balanceRecord, 0, len(b.balances))
	for k, amount := range b.balances {
		if amount > 0 {
			records = append(records, balanceRecord{Address: k.address, Denom: k.denom, Amount: amount})
		}
	}
	b.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Address != records[j].Address {
			return records[i].Address < records[j].Address
		}
		return records[i].Denom < records[j].Denom
	})
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode bank checkpoint: %w", err)
	}
	return raw, nil
}

// Restore replaces every balance with a checkpoint.
func (b *Bank) Restore(state json.RawMessage) error {
	var records []balanceRecord
	if err := json.Unmarshal(state, &records); err != nil {
		return fmt.Errorf("decode bank checkpoint: %w", err)
	}
	balances := make(map[balanceKey]uint64, len(records))
	for _, rec := range records {
		balances[balanceKey{address: rec.Address, denom: rec.Denom}] = rec.Amount
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = balances
	b.journal = nil
	b.snapshots = nil
	return nil
}
