package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// CustodyHandler handles HTTP requests for the custody registry.
type CustodyHandler struct {
	custodySvc *service.CustodyService
}

// NewCustodyHandler creates a new CustodyHandler.
func NewCustodyHandler(custodySvc *service.CustodyService) *CustodyHandler {
	return &CustodyHandler{custodySvc: custodySvc}
}

// mintAssetRequest is the JSON request body for POST /custody/assets.
type mintAssetRequest struct {
	AssetID string `json:"asset_id"`
	Owner   string `json:"owner"`
}

// approveRequest is the JSON request body for POST /custody/assets/{asset_id}/approvals.
type approveRequest struct {
	Spender   string  `json:"spender"`
	ExpiresAt *string `json:"expires_at"`
}

type approvalResponse struct {
	Spender   string  `json:"spender"`
	ExpiresAt *string `json:"expires_at"`
}

type assetResponse struct {
	AssetID   string             `json:"asset_id"`
	Owner     string             `json:"owner"`
	Approvals []approvalResponse `json:"approvals"`
	MintedAt  string             `json:"minted_at"`
}

// Mint handles POST /custody/assets.
func (h *CustodyHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintAssetRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}
	asset, err := h.custodySvc.Mint(req.AssetID, req.Owner)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildAssetResponse(asset))
}

// GetAsset handles GET /custody/assets/{asset_id}.
func (h *CustodyHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.custodySvc.Asset(chi.URLParam(r, "asset_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAssetResponse(asset))
}

// Approve handles POST /custody/assets/{asset_id}/approvals.
func (h *CustodyHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := ParseJSON(r, &req); err != nil {
		mapError(w, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	assetID := chi.URLParam(r, "asset_id")
	if err := h.custodySvc.Approve(r.Context(), sender(r), assetID, req.Spender, expiresAt); err != nil {
		mapError(w, err)
		return
	}
	asset, err := h.custodySvc.Asset(assetID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAssetResponse(asset))
}

// Revoke handles DELETE /custody/assets/{asset_id}/approvals/{spender}.
func (h *CustodyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.custodySvc.Revoke(r.Context(), sender(r), chi.URLParam(r, "asset_id"), chi.URLParam(r, "spender"))
	if err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildAssetResponse(a *domain.Asset) assetResponse {
	approvals := make([]approvalResponse, len(a.Approvals))
	for i, ap := range a.Approvals {
		approvals[i] = approvalResponse{Spender: ap.Spender}
		if ap.ExpiresAt != nil {
			s := ap.ExpiresAt.UTC().Format(time.RFC3339)
			approvals[i].ExpiresAt = &s
		}
	}
	return assetResponse{
		AssetID:   a.AssetID,
		Owner:     a.Owner,
		Approvals: approvals,
		MintedAt:  a.MintedAt.UTC().Format(time.RFC3339),
	}
}
