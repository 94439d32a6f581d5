package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// ExchangeHandler handles HTTP requests for the exchange operations and
// queries.
type ExchangeHandler struct {
	exchangeSvc *service.ExchangeService
}

// NewExchangeHandler creates a new ExchangeHandler.
func NewExchangeHandler(exchangeSvc *service.ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{exchangeSvc: exchangeSvc}
}

// instantiateRequest is the JSON request body for POST /instantiate.
type instantiateRequest struct {
	CustodyAddress string `json:"custody_address"`
}

// listRequest is the JSON request body for POST /sales.
type listRequest struct {
	AssetID  string        `json:"asset_id"`
	Price    uint64        `json:"price"`
	Tradable bool          `json:"tradable"`
	Funds    []domain.Coin `json:"funds"`
}

// purchaseRequest is the JSON request body for POST /sales/{asset_id}/purchase.
type purchaseRequest struct {
	Funds []domain.Coin `json:"funds"`
}

// offerTradeRequest is the JSON request body for POST /trades.
type offerTradeRequest struct {
	AskedAssetID   string `json:"asked_asset_id"`
	OfferedAssetID string `json:"offered_asset_id"`
}

// acceptTradeRequest is the JSON request body for POST /trades/{asset_id}/accept.
type acceptTradeRequest struct {
	Offeror string `json:"offeror"`
}

// Instantiate handles POST /instantiate.
func (h *ExchangeHandler) Instantiate(w http.ResponseWriter, r *http.Request) {
	var req instantiateRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	res, err := h.exchangeSvc.Instantiate(r.Context(), sender(r), req.CustodyAddress)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// List handles POST /sales.
func (h *ExchangeHandler) List(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	res, err := h.exchangeSvc.List(r.Context(), service.ListRequest{
		Sender:   sender(r),
		AssetID:  req.AssetID,
		Price:    req.Price,
		Tradable: req.Tradable,
		Funds:    req.Funds,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// CancelListing handles DELETE /sales/{asset_id}.
func (h *ExchangeHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	res, err := h.exchangeSvc.CancelListing(r.Context(), sender(r), chi.URLParam(r, "asset_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Purchase handles POST /sales/{asset_id}/purchase.
func (h *ExchangeHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	res, err := h.exchangeSvc.Purchase(r.Context(), sender(r), chi.URLParam(r, "asset_id"), req.Funds)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// OfferTrade handles POST /trades.
func (h *ExchangeHandler) OfferTrade(w http.ResponseWriter, r *http.Request) {
	var req offerTradeRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	res, err := h.exchangeSvc.OfferTrade(r.Context(), sender(r), req.AskedAssetID, req.OfferedAssetID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// AcceptTrade handles POST /trades/{asset_id}/accept.
func (h *ExchangeHandler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	var req acceptTradeRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	res, err := h.exchangeSvc.AcceptTrade(r.Context(), sender(r), chi.URLParam(r, "asset_id"), req.Offeror)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// CancelTrade handles DELETE /trades/{asset_id}.
func (h *ExchangeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	res, err := h.exchangeSvc.CancelTrade(r.Context(), sender(r), chi.URLParam(r, "asset_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// parsePage reads the offset and limit query parameters. Absent parameters
// are zero. It writes a 400 response and returns false on malformed input.
func parsePage(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "offset must be an integer")
			return 0, 0, false
		}
		offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return 0, 0, false
		}
		limit = n
	}
	return offset, limit, true
}
