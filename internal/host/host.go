package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/ledger"
	"github.com/efreitasn/escrowexchange/internal/metrics"
)

// maxReplyDepth bounds how deeply reply handlers may nest further calls.
const maxReplyDepth = 8

var (
	ErrUnknownCustody = errors.New("unknown_custody_address")
	ErrUnsupportedMsg = errors.New("unsupported_message")
	ErrReplyDepth     = errors.New("reply_depth_exceeded")
)

// SubCallError reports a nested gateway call that failed without asking for
// its outcome, aborting the transaction.
type SubCallError struct {
	ID   uuid.UUID
	Kind string
	Err  error
}

func (e *SubCallError) Error() string {
	return fmt.Sprintf("%s sub-call %s failed: %v", e.Kind, e.ID, e.Err)
}

func (e *SubCallError) Unwrap() error { return e.Err }

// Journaled is implemented by gateways whose state can be rolled back.
type Journaled interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshots()
}

// CustodyGateway is the custody service the host routes asset transfers to.
type CustodyGateway interface {
	Journaled
	OwnerOf(ctx context.Context, assetID string) (string, error)
	Approval(ctx context.Context, assetID, spender string) (domain.Approval, error)
	Transfer(ctx context.Context, sender, assetID, recipient string) error
}

// BankGateway is the payment service the host routes payments to.
type BankGateway interface {
	Journaled
	Send(ctx context.Context, from, to string, coins []domain.Coin) error
}

// Checkpointed is implemented by gateways whose state is persisted in the
// ledger next to the engine state it backs.
type Checkpointed interface {
	Checkpoint() (json.RawMessage, error)
	Restore(state json.RawMessage) error
}

// Gateway checkpoint names in the ledger.
const (
	custodyCheckpoint = "custody"
	bankCheckpoint    = "bank"
)

// EventSink receives the events of committed transactions.
type EventSink interface {
	Dispatch(evt domain.Event)
}

// Operation is one engine entry point bound to its arguments.
type Operation func(ctx context.Context, c engine.Call) (*engine.Response, error)

// ReplyOutcome describes a sub-call outcome delivered to the engine.
type ReplyOutcome struct {
	Tag   string `json:"tag"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a committed transaction.
type Result struct {
	TxID    string         `json:"tx_id"`
	Events  []domain.Event `json:"events"`
	Replies []ReplyOutcome `json:"replies"`
}

// Config holds the addresses the host resolves calls against.
type Config struct {
	EngineAddress  string
	CustodyAddress string
}

// Option configures a Host.
type Option func(*Host)

// WithEventSink sets the receiver of committed events.
func WithEventSink(sink EventSink) Option {
	return func(h *Host) { h.events = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithNowFunc overrides the clock used to timestamp events.
func WithNowFunc(now func() time.Time) Option {
	return func(h *Host) { h.nowFn = now }
}

// Host executes engine operations as atomic transactions. Operations are
// serialized: the ledger transaction, the gateway calls the operation emits
// and the replies delivered back to the engine either all commit or all
// roll back.
type Host struct {
	mu      sync.Mutex
	cfg     Config
	store   *ledger.Store
	engine  *engine.Engine
	custody CustodyGateway
	bank    BankGateway
	events  EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	nowFn   func() time.Time
}

// New creates a Host.
func New(
	cfg Config,
	store *ledger.Store,
	eng *engine.Engine,
	custody CustodyGateway,
	bank BankGateway,
	logger *slog.Logger,
	opts ...Option,
) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		custody: custody,
		bank:    bank,
		logger:  logger,
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Address returns the engine's own address.
func (h *Host) Address() string { return h.cfg.EngineAddress }

// Engine returns the engine the host drives.
func (h *Host) Engine() *engine.Engine { return h.engine }

// Exclusive runs fn while no transaction is in flight and commits the gateway
// state it leaves behind. Gateway mutations made outside a transaction must
// go through Exclusive, otherwise a concurrent rollback could undo them.
// If fn fails the gateways are reverted.
func (h *Host) Exclusive(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin()
	if err != nil {
		return err
	}
	custodySnap := h.custody.Snapshot()
	bankSnap := h.bank.Snapshot()

	err = fn()
	if err == nil {
		err = h.checkpoint(tx)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		tx.Discard()
		h.custody.RevertToSnapshot(custodySnap)
		h.bank.RevertToSnapshot(bankSnap)
	}
	h.custody.DiscardSnapshots()
	h.bank.DiscardSnapshots()
	return err
}

// Restore loads the gateway checkpoints saved by earlier transactions. A
// ledger without checkpoints leaves the gateways untouched.
func (h *Host) Restore() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := h.store.View()
	if err != nil {
		return err
	}
	defer v.Release()

	for name, gw := range h.checkpointed() {
		state, ok, err := v.GatewayState(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := gw.Restore(state); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	return nil
}

func (h *Host) checkpointed() map[string]Checkpointed {
	out := make(map[string]Checkpointed, 2)
	if cp, ok := h.custody.(Checkpointed); ok {
		out[custodyCheckpoint] = cp
	}
	if cp, ok := h.bank.(Checkpointed); ok {
		out[bankCheckpoint] = cp
	}
	return out
}

// checkpoint stages the state of every checkpointed gateway in tx.
func (h *Host) checkpoint(tx *ledger.Tx) error {
	for name, gw := range h.checkpointed() {
		state, err := gw.Checkpoint()
		if err != nil {
			return err
		}
		if err := tx.SaveGatewayState(name, state); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs op as sender with funds attached. Funds move from sender to
// the engine before op runs.
func (h *Host) Execute(ctx context.Context, name, sender string, funds []domain.Coin, op Operation) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	txID := uuid.New().String()
	logger := h.logger.With(
		slog.String("tx_id", txID),
		slog.String("operation", name),
		slog.String("sender", sender),
	)

	tx, err := h.store.Begin()
	if err != nil {
		return nil, err
	}
	custodySnap := h.custody.Snapshot()
	bankSnap := h.bank.Snapshot()

	x := &execution{host: h, tx: tx, txID: txID, logger: logger}
	err = x.run(ctx, sender, funds, op)
	if err == nil {
		err = h.checkpoint(tx)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		tx.Discard()
		h.custody.RevertToSnapshot(custodySnap)
		h.bank.RevertToSnapshot(bankSnap)
	}
	h.custody.DiscardSnapshots()
	h.bank.DiscardSnapshots()

	h.metrics.ObserveTransaction(name, err, time.Since(start))
	if err != nil {
		logger.Warn("transaction aborted", slog.String("error", err.Error()))
		return nil, err
	}
	logger.Debug("transaction committed",
		slog.Int("replies", len(x.replies)),
		slog.Duration("duration", time.Since(start)),
	)

	if h.events != nil {
		for _, evt := range x.events {
			if len(evt.Participants) > 0 {
				h.events.Dispatch(evt)
			}
		}
	}
	return &Result{TxID: txID, Events: x.events, Replies: x.replies}, nil
}

// execution is the state of one in-flight transaction.
type execution struct {
	host    *Host
	tx      *ledger.Tx
	txID    string
	logger  *slog.Logger
	events  []domain.Event
	replies []ReplyOutcome
}

func (x *execution) run(ctx context.Context, sender string, funds []domain.Coin, op Operation) error {
	h := x.host
	if len(funds) > 0 {
		if err := h.bank.Send(ctx, sender, h.cfg.EngineAddress, funds); err != nil {
			return fmt.Errorf("attach funds: %w", err)
		}
	}
	resp, err := op(ctx, x.call(sender, funds))
	if err != nil {
		return err
	}
	x.record(resp)
	return x.dispatch(ctx, resp.Messages, 0)
}

func (x *execution) call(sender string, funds []domain.Coin) engine.Call {
	return engine.Call{
		Sender:  sender,
		Funds:   funds,
		Self:    x.host.cfg.EngineAddress,
		Store:   x.tx,
		Custody: x.host.custody,
	}
}

func (x *execution) record(resp *engine.Response) {
	x.events = append(x.events, domain.Event{
		TxID:         x.txID,
		Action:       resp.Action,
		Attributes:   resp.Attributes,
		Participants: resp.Participants,
		Timestamp:    x.host.nowFn().UTC(),
	})
}

// dispatch executes msgs in order. A failed call is rolled back on its own;
// it aborts the transaction unless its ReplyOn asks for the failure.
func (x *execution) dispatch(ctx context.Context, msgs []engine.SubMsg, depth int) error {
	if depth > maxReplyDepth {
		return ErrReplyDepth
	}
	h := x.host
	for _, sm := range msgs {
		custodySnap := h.custody.Snapshot()
		bankSnap := h.bank.Snapshot()

		kind, callErr := x.exec(ctx, sm.Msg)
		h.metrics.ObserveSubCall(kind, callErr)
		if callErr != nil {
			h.custody.RevertToSnapshot(custodySnap)
			h.bank.RevertToSnapshot(bankSnap)
			x.logger.Debug("sub-call failed",
				slog.String("kind", kind),
				slog.String("sub_call_id", sm.ID.String()),
				slog.String("error", callErr.Error()),
			)
		}

		succeeded := callErr == nil
		if !sm.ReplyOn.Wants(succeeded) {
			if !succeeded {
				return &SubCallError{ID: sm.ID, Kind: kind, Err: callErr}
			}
			continue
		}

		r := engine.Reply{ID: sm.ID, Tag: sm.Tag}
		if callErr != nil {
			r.Err = callErr.Error()
		}
		resp, err := h.engine.Reply(ctx, x.call(h.cfg.EngineAddress, nil), r)
		h.metrics.ObserveReply(sm.Tag.String(), succeeded)
		if err != nil {
			return err
		}
		x.replies = append(x.replies, ReplyOutcome{Tag: sm.Tag.String(), Error: r.Err})
		x.record(resp)
		if err := x.dispatch(ctx, resp.Messages, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) exec(ctx context.Context, msg engine.Msg) (string, error) {
	h := x.host
	switch m := msg.(type) {
	case engine.TransferAsset:
		if m.Custody != h.cfg.CustodyAddress {
			return "transfer_asset", fmt.Errorf("%w: %s", ErrUnknownCustody, m.Custody)
		}
		return "transfer_asset", h.custody.Transfer(ctx, h.cfg.EngineAddress, m.AssetID, m.Recipient)
	case engine.SendPayment:
		return "send_payment", h.bank.Send(ctx, h.cfg.EngineAddress, m.Recipient, m.Amount)
	default:
		return "unknown", fmt.Errorf("%w: %T", ErrUnsupportedMsg, msg)
	}
}
