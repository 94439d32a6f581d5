package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// BankHandler handles HTTP requests for the payment ledger.
type BankHandler struct {
	bankSvc *service.BankService
}

// NewBankHandler creates a new BankHandler.
func NewBankHandler(bankSvc *service.BankService) *BankHandler {
	return &BankHandler{bankSvc: bankSvc}
}

// mintCoinsRequest is the JSON request body for POST /bank/mint.
type mintCoinsRequest struct {
	Address string        `json:"address"`
	Coins   []domain.Coin `json:"coins"`
}

// balancesResponse is the JSON response for bank endpoints.
type balancesResponse struct {
	Address  string        `json:"address"`
	Balances []domain.Coin `json:"balances"`
}

// Mint handles POST /bank/mint.
func (h *BankHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintCoinsRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	balances, err := h.bankSvc.Mint(req.Address, req.Coins)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balancesResponse{Address: req.Address, Balances: balances})
}

// GetBalances handles GET /bank/accounts/{address}.
func (h *BankHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	balances, err := h.bankSvc.Balances(address)
	if err != nil {
		mapError(w, err)
		return
	}
	if balances == nil {
		balances = []domain.Coin{}
	}
	WriteJSON(w, http.StatusOK, balancesResponse{Address: address, Balances: balances})
}
