package custody

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// pendingExpiry is an approval scheduled to lapse.
type pendingExpiry struct {
	AssetID   string
	Spender   string
	ExpiresAt time.Time
}

// ApprovalSweeper tracks expiring approvals sorted by expiry and
// periodically prunes the lapsed ones from the registry. Expired approvals
// are already ignored by Registry.Approval and Registry.Transfer; the sweeper
// keeps the registry from accumulating them.
type ApprovalSweeper struct {
	interval  time.Duration
	registry  *Registry
	logger    *slog.Logger
	exclusive func(fn func() error) error
	pending   []pendingExpiry // sorted by ExpiresAt ASC
	mu        sync.Mutex      // protects pending
}

// NewApprovalSweeper creates a sweeper for registry and registers itself so
// that approvals with an expiry are tracked.
func NewApprovalSweeper(interval time.Duration, registry *Registry, logger *slog.Logger) *ApprovalSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ApprovalSweeper{
		interval:  interval,
		registry:  registry,
		logger:    logger,
		exclusive: runDirect,
		pending:   make([]pendingExpiry, 0),
	}
	registry.SetSweeper(s)
	return s
}

func runDirect(fn func() error) error { return fn() }

// SetExclusive makes the sweeper prune through run, which must hold off
// every transaction that snapshots the registry. Pass host.Host.Exclusive.
func (s *ApprovalSweeper) SetExclusive(run func(fn func() error) error) {
	s.exclusive = run
}

// Add schedules an approval for pruning, keeping pending sorted by expiry.
func (s *ApprovalSweeper) Add(assetID, spender string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.pending), func(i int) bool {
		return s.pending[i].ExpiresAt.After(expiresAt)
	})
	s.pending = append(s.pending, pendingExpiry{})
	copy(s.pending[idx+1:], s.pending[idx:])
	s.pending[idx] = pendingExpiry{AssetID: assetID, Spender: spender, ExpiresAt: expiresAt}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (s *ApprovalSweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				s.tick(t)
			}
		}
	}()
}

// tick pops every entry with ExpiresAt <= now and prunes it. The registry
// re-checks the approval, so entries replaced or rolled back since they
// were scheduled are skipped.
func (s *ApprovalSweeper) tick(now time.Time) int {
	s.mu.Lock()
	cutoff := 0
	for cutoff < len(s.pending) && !s.pending[cutoff].ExpiresAt.After(now) {
		cutoff++
	}
	due := make([]pendingExpiry, cutoff)
	copy(due, s.pending[:cutoff])
	s.pending = s.pending[cutoff:]
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	pruned := 0
	err := s.exclusive(func() error {
		pruned = 0
		for _, p := range due {
			if s.registry.expireApproval(p.AssetID, p.Spender, p.ExpiresAt) {
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		// The prune was reverted; retry on the next tick.
		s.logger.Warn("approval sweep failed", slog.String("error", err.Error()))
		for _, p := range due {
			s.Add(p.AssetID, p.Spender, p.ExpiresAt)
		}
		return 0
	}
	if pruned > 0 {
		s.logger.Debug("approvals pruned", slog.Int("count", pruned))
	}
	return pruned
}

// PendingCount returns the number of approvals awaiting expiry.
func (s *ApprovalSweeper) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
