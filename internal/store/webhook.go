package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook_id → webhook.
// Secondary index: address → event → webhook.
type WebhookStore struct {
	mu        sync.RWMutex
	webhooks  map[string]*domain.Webhook            // webhook_id → webhook
	byAddress map[string]map[string]*domain.Webhook // address → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:  make(map[string]*domain.Webhook),
		byAddress: make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts or updates a webhook subscription keyed by (address, event).
// If a subscription already exists for that pair, the URL and UpdatedAt are
// updated (the webhook_id remains stable). If the existing URL matches, it
// is a no-op. Returns the stored webhook and true if a new subscription was
// created.
func (s *WebhookStore) Upsert(w *domain.Webhook) (*domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.byAddress[w.Address]; ok {
		if existing, ok := events[w.Event]; ok {
			if existing.URL != w.URL {
				existing.URL = w.URL
				existing.UpdatedAt = w.UpdatedAt
			}
			cp := *existing
			return &cp, false
		}
	}

	stored := *w
	s.webhooks[w.WebhookID] = &stored
	if s.byAddress[w.Address] == nil {
		s.byAddress[w.Address] = make(map[string]*domain.Webhook)
	}
	s.byAddress[w.Address][w.Event] = &stored

	cp := stored
	return &cp, true
}

// Get retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	cp := *w
	return &cp, nil
}

// ListByAddress returns all webhooks for an address ordered by event.
// Returns an empty slice if the address has no subscriptions.
func (s *WebhookStore) ListByAddress(address string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byAddress[address]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Delete removes a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
// Both the primary and secondary indexes are cleaned up.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}

	delete(s.webhooks, id)
	if events, ok := s.byAddress[w.Address]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byAddress, w.Address)
		}
	}
	return nil
}

// GetByAddressEvent returns the webhook for a specific address+event pair,
// or nil if no subscription exists.
func (s *WebhookStore) GetByAddressEvent(address, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.byAddress[address][event]
	if w == nil {
		return nil
	}
	cp := *w
	return &cp
}
