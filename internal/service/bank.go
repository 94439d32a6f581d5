package service

import (
	"github.com/efreitasn/escrowexchange/internal/bank"
	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/host"
)

// BankService exposes the reference payment ledger.
type BankService struct {
	host *host.Host
	bank *bank.Bank
}

// NewBankService creates a new BankService.
func NewBankService(h *host.Host, b *bank.Bank) *BankService {
	return &BankService{host: h, bank: b}
}

// Mint credits coins to address.
func (s *BankService) Mint(address string, coins []domain.Coin) ([]domain.Coin, error) {
	if err := validateAddress("address", address); err != nil {
		return nil, err
	}
	if len(coins) == 0 {
		return nil, &domain.ValidationError{Message: "coins must be a non-empty array"}
	}
	if err := validateCoins(coins); err != nil {
		return nil, err
	}
	err := s.host.Exclusive(func() error {
		return s.bank.Mint(address, coins)
	})
	if err != nil {
		return nil, err
	}
	return s.bank.Balances(address), nil
}

// Balances returns every balance held by address.
func (s *BankService) Balances(address string) ([]domain.Coin, error) {
	if err := validateAddress("address", address); err != nil {
		return nil, err
	}
	return s.bank.Balances(address), nil
}
