package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the body of every failed request. Expected is set only
// for incorrect_payment and carries the sale price.
type errorResponse struct {
	Error    string  `json:"error"`
	Message  string  `json:"message"`
	Expected *uint64 `json:"expected,omitempty"`
}

// WriteError writes an errorResponse with the given code and message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{Error: errorCode, Message: message})
}

// writeIncorrectPayment reports a payment that did not match the price.
func writeIncorrectPayment(w http.ResponseWriter, err *domain.IncorrectPaymentError) {
	expected := err.Expected
	WriteJSON(w, http.StatusBadRequest, errorResponse{
		Error:    "incorrect_payment",
		Message:  err.Error(),
		Expected: &expected,
	})
}

// ParseJSON decodes a JSON request body into v, rejecting unknown fields.
// Failures are returned as *domain.ValidationError so mapError reports them
// as validation_error.
func ParseJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return &domain.ValidationError{Message: "Content-Type must be application/json"}
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Message: "malformed request body: " + err.Error()}
	}
	return nil
}
