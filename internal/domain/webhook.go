package domain

import "time"

// Webhook represents an address's subscription to an exchange event.
type Webhook struct {
	WebhookID string
	Address   string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
