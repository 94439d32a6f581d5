package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not_found")
	ErrNonTradeable        = errors.New("non_tradeable")
	ErrUnrecognizedReply   = errors.New("unrecognized_reply")
	ErrAlreadyInstantiated = errors.New("already_instantiated")
	ErrNotInstantiated     = errors.New("not_instantiated")
	ErrCustodyMismatch     = errors.New("custody_address_mismatch")

	// Gateway errors.
	ErrAssetNotFound     = errors.New("asset_not_found")
	ErrAssetExists       = errors.New("asset_already_exists")
	ErrApprovalNotFound  = errors.New("approval_not_found")
	ErrInsufficientFunds = errors.New("insufficient_funds")

	ErrWebhookNotFound = errors.New("webhook_not_found")
)

// IncorrectPaymentError is returned by a purchase whose attached payment does
// not match the sale price exactly.
type IncorrectPaymentError struct {
	Expected uint64
}

func (e *IncorrectPaymentError) Error() string {
	return fmt.Sprintf("payment is not the same as the price %d", e.Expected)
}

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
