package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// ReplyOn controls when the host reports a sub-call outcome back to the
// engine.
type ReplyOn int

const (
	ReplyNever ReplyOn = iota
	ReplySuccess
	ReplyError
	ReplyAlways
)

// Wants reports whether an outcome with the given success flag must be
// delivered.
func (r ReplyOn) Wants(succeeded bool) bool {
	switch r {
	case ReplyAlways:
		return true
	case ReplySuccess:
		return succeeded
	case ReplyError:
		return !succeeded
	default:
		return false
	}
}

func (r ReplyOn) String() string {
	switch r {
	case ReplyNever:
		return "never"
	case ReplySuccess:
		return "success"
	case ReplyError:
		return "error"
	case ReplyAlways:
		return "always"
	default:
		return fmt.Sprintf("ReplyOn(%d)", int(r))
	}
}

// ReplyTag correlates a sub-call outcome with its reconciliation logic.
type ReplyTag uint64

const (
	TagTrade ReplyTag = 1
	TagSale  ReplyTag = 2
)

func (t ReplyTag) String() string {
	switch t {
	case TagTrade:
		return "trade"
	case TagSale:
		return "sale"
	default:
		return fmt.Sprintf("tag(%d)", uint64(t))
	}
}

// Msg is a call the host executes on the engine's behalf once the
// originating operation returns.
type Msg interface {
	msg()
}

// TransferAsset moves AssetID to Recipient through the custody gateway at
// Custody, with the engine as sender.
type TransferAsset struct {
	Custody   string
	AssetID   string
	Recipient string
}

// SendPayment pays Amount from the engine account to Recipient.
type SendPayment struct {
	Recipient string
	Amount    []domain.Coin
}

func (TransferAsset) msg() {}
func (SendPayment) msg()   {}

// SubMsg is an outgoing call. When ReplyOn asks for it, the outcome is
// delivered to Engine.Reply under Tag before the transaction commits.
type SubMsg struct {
	ID      uuid.UUID
	Tag     ReplyTag
	ReplyOn ReplyOn
	Msg     Msg
}

// Reply is the outcome of a SubMsg. Err is empty on success.
type Reply struct {
	ID  uuid.UUID
	Tag ReplyTag
	Err string
}

// Succeeded reports whether the sub-call completed without error.
func (r Reply) Succeeded() bool { return r.Err == "" }

// Response is the result of an engine entry point: the event it produced and
// the calls the host must execute next, in order.
type Response struct {
	Action       string
	Attributes   []domain.Attribute
	Participants []string
	Messages     []SubMsg
}

func newResponse(action string) *Response {
	return &Response{Action: action}
}

func (r *Response) attr(key, value string) *Response {
	r.Attributes = append(r.Attributes, domain.Attribute{Key: key, Value: value})
	return r
}

func (r *Response) notify(addresses ...string) *Response {
	for _, a := range addresses {
		if a == "" {
			continue
		}
		dup := false
		for _, p := range r.Participants {
			if p == a {
				dup = true
				break
			}
		}
		if !dup {
			r.Participants = append(r.Participants, a)
		}
	}
	return r
}

// send appends a fire-and-forget call; a failure aborts the transaction.
func (r *Response) send(m Msg) *Response {
	r.Messages = append(r.Messages, SubMsg{ID: uuid.New(), ReplyOn: ReplyNever, Msg: m})
	return r
}

// sendTagged appends a call whose outcome is reported back under tag.
func (r *Response) sendTagged(m Msg, tag ReplyTag, on ReplyOn) *Response {
	r.Messages = append(r.Messages, SubMsg{ID: uuid.New(), Tag: tag, ReplyOn: on, Msg: m})
	return r
}
