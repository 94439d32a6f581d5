package service

import (
	"fmt"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

const (
	maxIDLength  = 256
	defaultLimit = 10
	maxLimit     = 100
)

func validateID(field, v string) error {
	if v == "" {
		return &domain.ValidationError{Message: field + " is required"}
	}
	if len(v) > maxIDLength {
		return &domain.ValidationError{Message: fmt.Sprintf("%s must be at most %d characters", field, maxIDLength)}
	}
	return nil
}

func validateAddress(field, v string) error {
	return validateID(field, v)
}

// validatePage checks offset/limit pagination. A zero limit selects the
// default.
func validatePage(offset, limit int) (int, error) {
	if offset < 0 {
		return 0, &domain.ValidationError{Message: "offset must be >= 0"}
	}
	if limit == 0 {
		return defaultLimit, nil
	}
	if limit < 1 || limit > maxLimit {
		return 0, &domain.ValidationError{Message: fmt.Sprintf("limit must be between 1 and %d", maxLimit)}
	}
	return limit, nil
}

func validateCoins(coins []domain.Coin) error {
	for _, c := range coins {
		if c.Denom == "" {
			return &domain.ValidationError{Message: "coin denom is required"}
		}
	}
	return nil
}
