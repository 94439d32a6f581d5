package domain

import "math/bits"

// Coin is an amount of a single currency denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

// AddAmount returns a+b, or a ValidationError if the sum overflows.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, &ValidationError{Message: "amount overflows uint64"}
	}
	return sum, nil
}

// AmountOf returns the total amount of denom in coins. It fails if the total
// overflows.
func AmountOf(coins []Coin, denom string) (uint64, error) {
	var total uint64
	for _, c := range coins {
		if c.Denom != denom {
			continue
		}
		var err error
		if total, err = AddAmount(total, c.Amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// OnlyDenom reports whether every non-zero coin is of the given denom.
func OnlyDenom(coins []Coin, denom string) bool {
	for _, c := range coins {
		if c.Amount > 0 && c.Denom != denom {
			return false
		}
	}
	return true
}
