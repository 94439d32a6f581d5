package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// salesPageResponse is the JSON response for GET /owners/{owner}/sales.
type salesPageResponse struct {
	Sales  []*domain.Sale `json:"sales"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// tradesPageResponse is the JSON response for the trade listings.
type tradesPageResponse struct {
	Trades []*domain.Trade `json:"trades"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// GetSale handles GET /sales/{asset_id}.
func (h *ExchangeHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.exchangeSvc.Sale(chi.URLParam(r, "asset_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sale)
}

// ListSalesByOwner handles GET /owners/{owner}/sales.
func (h *ExchangeHandler) ListSalesByOwner(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := parsePage(w, r)
	if !ok {
		return
	}
	sales, limit, err := h.exchangeSvc.SalesByOwner(chi.URLParam(r, "owner"), offset, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	if sales == nil {
		sales = []*domain.Sale{}
	}
	WriteJSON(w, http.StatusOK, salesPageResponse{Sales: sales, Offset: offset, Limit: limit})
}

// GetTrade handles GET /trades/{asset_id}/{offeror}.
func (h *ExchangeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.exchangeSvc.Trade(chi.URLParam(r, "asset_id"), chi.URLParam(r, "offeror"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, trade)
}

// ListTradesByOfferor handles GET /offerors/{offeror}/trades.
func (h *ExchangeHandler) ListTradesByOfferor(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := parsePage(w, r)
	if !ok {
		return
	}
	trades, limit, err := h.exchangeSvc.TradesByOfferor(chi.URLParam(r, "offeror"), offset, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeTradesPage(w, trades, offset, limit)
}

// ListTradesByAsset handles GET /sales/{asset_id}/trades.
func (h *ExchangeHandler) ListTradesByAsset(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := parsePage(w, r)
	if !ok {
		return
	}
	trades, limit, err := h.exchangeSvc.TradesByAsset(chi.URLParam(r, "asset_id"), offset, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeTradesPage(w, trades, offset, limit)
}

func writeTradesPage(w http.ResponseWriter, trades []*domain.Trade, offset, limit int) {
	if trades == nil {
		trades = []*domain.Trade{}
	}
	WriteJSON(w, http.StatusOK, tradesPageResponse{Trades: trades, Offset: offset, Limit: limit})
}

// GetOperations handles GET /operations.
func (h *ExchangeHandler) GetOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.exchangeSvc.Operations()
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ops)
}

// GetConfig handles GET /config.
func (h *ExchangeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	info, err := h.exchangeSvc.Info()
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}
