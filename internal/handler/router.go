package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/metrics"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// senderHeader carries the caller's address on mutating requests.
const senderHeader = "X-Sender"

// NewRouter creates a chi router with all routes registered, request logging,
// metrics and Content-Type validation middleware.
func NewRouter(
	exchangeSvc *service.ExchangeService,
	custodySvc *service.CustodyService,
	bankSvc *service.BankService,
	webhookSvc *service.WebhookService,
	m *metrics.Metrics,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(m.Middleware)
	r.Use(contentTypeJSON)

	exchangeH := NewExchangeHandler(exchangeSvc)
	custodyH := NewCustodyHandler(custodySvc)
	bankH := NewBankHandler(bankSvc)
	webhookH := NewWebhookHandler(webhookSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Exchange operations.
	r.Post("/instantiate", exchangeH.Instantiate)
	r.Post("/sales", exchangeH.List)
	r.Delete("/sales/{asset_id}", exchangeH.CancelListing)
	r.Post("/sales/{asset_id}/purchase", exchangeH.Purchase)
	r.Post("/trades", exchangeH.OfferTrade)
	r.Post("/trades/{asset_id}/accept", exchangeH.AcceptTrade)
	r.Delete("/trades/{asset_id}", exchangeH.CancelTrade)

	// Exchange queries.
	r.Get("/sales/{asset_id}", exchangeH.GetSale)
	r.Get("/sales/{asset_id}/trades", exchangeH.ListTradesByAsset)
	r.Get("/owners/{owner}/sales", exchangeH.ListSalesByOwner)
	r.Get("/trades/{asset_id}/{offeror}", exchangeH.GetTrade)
	r.Get("/offerors/{offeror}/trades", exchangeH.ListTradesByOfferor)
	r.Get("/operations", exchangeH.GetOperations)
	r.Get("/config", exchangeH.GetConfig)

	// Custody routes.
	r.Post("/custody/assets", custodyH.Mint)
	r.Get("/custody/assets/{asset_id}", custodyH.GetAsset)
	r.Post("/custody/assets/{asset_id}/approvals", custodyH.Approve)
	r.Delete("/custody/assets/{asset_id}/approvals/{spender}", custodyH.Revoke)

	// Bank routes.
	r.Post("/bank/mint", bankH.Mint)
	r.Get("/bank/accounts/{address}", bankH.GetBalances)

	// Webhook routes.
	r.Post("/webhooks", webhookH.Upsert)
	r.Get("/webhooks", webhookH.List)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("sender", r.Header.Get(senderHeader)),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func sender(r *http.Request) string {
	return r.Header.Get(senderHeader)
}
