package service

import (
	"context"

	"github.com/punchamoorthee/bankops/internal/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage keeps the row offset far from integer overflow.
	MaxPage = 1_000_000
)

// Accounts lists the caller's accounts, primary first.
func (s *TransferService) Accounts(ctx context.Context, userID string) ([]domain.Account, error) {
	accounts, err := s.history.ListAccounts(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal.Wrap(err)
	}
	return accounts, nil
}

// Transactions returns one page of the caller's ledger entries, newest first.
// Page and limit are clamped into range.
func (s *TransferService) Transactions(ctx context.Context, userID string, f domain.EntryFilter) (*domain.EntryPage, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, domain.ErrInvalidRequest.WithMessage("unknown transaction type")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, domain.ErrInvalidRequest.WithMessage("startDate must not be after endDate")
	}
	switch {
	case f.Page < 1:
		f.Page = 1
	case f.Page > MaxPage:
		f.Page = MaxPage
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageLimit
	case f.Limit > MaxPageLimit:
		f.Limit = MaxPageLimit
	}

	page, err := s.history.ListEntries(ctx, userID, f)
	if err != nil {
		return nil, domain.ErrInternal.Wrap(err)
	}
	return page, nil
}
