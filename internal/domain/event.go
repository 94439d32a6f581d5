package domain

import "time"

// Event actions emitted by committed exchange transactions.
const (
	EventSaleListed     = "sale.listed"
	EventSaleCancelled  = "sale.cancelled"
	EventSalePurchased  = "sale.purchased"
	EventTradeOffered   = "trade.offered"
	EventTradeAccepted  = "trade.accepted"
	EventTradeCancelled = "trade.cancelled"
	EventInstantiated   = "instantiate"
	EventReplyHandled   = "reply"
)

// Attribute is a single key/value pair attached to an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event describes a committed transaction. Participants lists the addresses
// the event concerns, used to route webhook deliveries.
type Event struct {
	TxID         string      `json:"tx_id"`
	Action       string      `json:"action"`
	Attributes   []Attribute `json:"attributes"`
	Participants []string    `json:"-"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Attr returns the value of the first attribute with the given key.
func (e *Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
