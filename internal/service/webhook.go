package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/metrics"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	domain.EventSaleListed:     true,
	domain.EventSaleCancelled:  true,
	domain.EventSalePurchased:  true,
	domain.EventTradeOffered:   true,
	domain.EventTradeAccepted:  true,
	domain.EventTradeCancelled: true,
}

func webhookEventList() string {
	events := make([]string, 0, len(validWebhookEvents))
	for e := range validWebhookEvents {
		events = append(events, e)
	}
	sort.Strings(events)
	return strings.Join(events, ", ")
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	Address string
	URL     string
	Events  []string
}

// WebhookService handles webhook CRUD and event dispatch.
type WebhookService struct {
	store   *store.WebhookStore
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	webhookTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		store: webhookStore,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger:  logger,
		metrics: m,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if err := validateAddress("address", req.Address); err != nil {
		return nil, false, err
	}

	// Validate URL.
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	deduped := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: " + webhookEventList(),
			}
		}
		if !seen[event] {
			seen[event] = true
			deduped = append(deduped, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(deduped))
	for _, event := range deduped {
		w, created := s.store.Upsert(&domain.Webhook{
			WebhookID: uuid.New().String(),
			Address:   req.Address,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List returns all webhook subscriptions of an address.
func (s *WebhookService) List(address string) ([]*domain.Webhook, error) {
	if err := validateAddress("address", address); err != nil {
		return nil, err
	}
	return s.store.ListByAddress(address), nil
}

// Delete removes a webhook subscription by ID. Only the subscribing address
// may delete it.
func (s *WebhookService) Delete(sender, webhookID string) error {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if w.Address != sender {
		return domain.ErrUnauthorized
	}
	return s.store.Delete(webhookID)
}

// eventPayload is the JSON body of every webhook delivery.
type eventPayload struct {
	Event     string            `json:"event"`
	TxID      string            `json:"tx_id"`
	Timestamp string            `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// Dispatch delivers evt to every participant subscribed to its action.
// Fire-and-forget: delivery failures are logged and counted, never retried.
func (s *WebhookService) Dispatch(evt domain.Event) {
	if !validWebhookEvents[evt.Action] {
		return
	}
	data := make(map[string]string, len(evt.Attributes))
	for _, a := range evt.Attributes {
		data[a.Key] = a.Value
	}
	payload := eventPayload{
		Event:     evt.Action,
		TxID:      evt.TxID,
		Timestamp: evt.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      data,
	}

	for _, address := range evt.Participants {
		wh := s.store.GetByAddressEvent(address, evt.Action)
		if wh == nil {
			continue
		}
		go s.deliver(wh, evt.Action, payload)
	}
}

// deliver sends the webhook payload via HTTP POST with the required headers.
func (s *WebhookService) deliver(wh *domain.Webhook, eventType string, payload eventPayload) {
	err := s.post(wh, eventType, payload)
	s.metrics.ObserveWebhook(err)
	if err != nil {
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WebhookService) post(wh *domain.Webhook, eventType string, payload eventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &deliveryError{status: resp.StatusCode}
	}
	return nil
}

type deliveryError struct {
	status int
}

func (e *deliveryError) Error() string {
	return "webhook endpoint responded " + http.StatusText(e.status)
}
