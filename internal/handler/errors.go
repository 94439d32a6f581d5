package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/host"
)

// errorStatus maps sentinel errors to HTTP status codes. The sentinel text
// doubles as the error code.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAssetNotFound, http.StatusNotFound},
	{domain.ErrApprovalNotFound, http.StatusNotFound},
	{domain.ErrWebhookNotFound, http.StatusNotFound},
	{domain.ErrNonTradeable, http.StatusConflict},
	{domain.ErrAlreadyInstantiated, http.StatusConflict},
	{domain.ErrNotInstantiated, http.StatusConflict},
	{domain.ErrCustodyMismatch, http.StatusConflict},
	{domain.ErrAssetExists, http.StatusConflict},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{host.ErrUnknownCustody, http.StatusBadGateway},
}

// mapError maps service, engine and host errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	var paymentErr *domain.IncorrectPaymentError
	if errors.As(err, &paymentErr) {
		writeIncorrectPayment(w, paymentErr)
		return
	}

	var subCallErr *host.SubCallError
	if errors.As(err, &subCallErr) {
		WriteError(w, http.StatusUnprocessableEntity, "sub_call_failed", err.Error())
		return
	}

	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			WriteError(w, m.status, m.err.Error(), err.Error())
			return
		}
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
