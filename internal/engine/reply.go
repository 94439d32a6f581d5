package engine

import (
	"context"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

type replyHandler func(ops *domain.Operations, r Reply)

func countSale(ops *domain.Operations, _ Reply) { ops.CompletedSales++ }

// countTrade counts every delivered trade outcome, failed transfers included.
func countTrade(ops *domain.Operations, _ Reply) { ops.CompletedTrades++ }

// Reply reconciles the outcome of a tagged sub-call into the operations
// counters. An unknown tag returns domain.ErrUnrecognizedReply, which aborts
// the enclosing transaction.
func (e *Engine) Reply(_ context.Context, c Call, r Reply) (*Response, error) {
	handle, ok := e.replies[r.Tag]
	if !ok {
		return nil, domain.ErrUnrecognizedReply
	}
	ops, err := c.Store.Operations()
	if err != nil {
		return nil, err
	}
	handle(&ops, r)
	if err := c.Store.SaveOperations(ops); err != nil {
		return nil, err
	}
	return newResponse(domain.EventReplyHandled).
		attr("operation", r.Tag.String()), nil
}
