// Package service implements the two-phase transfer flow: a transfer is
// initiated, confirmed with an OTP and the account password, and only then
// applied to the ledger.
package service

import (
	"context"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/notify"
)

// Directory looks up users and accounts. Misses are reported as
// domain.ErrUserNotFound or domain.ErrAccountNotFound.
type Directory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	PrimaryAccount(ctx context.Context, userID string) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByRef(ctx context.Context, ref string) (*domain.Account, error)
}

// Ledger applies a transfer atomically: both balances and both entries, or
// nothing. It fails with domain.ErrInsufficientBalance when the sender cannot
// cover the amount at execution time and domain.ErrDuplicateTransfer when the
// idempotency key was already used.
type Ledger interface {
	ExecuteTransfer(ctx context.Context, in domain.TransferInstruction) (*domain.LedgerResult, error)
}

// History serves the read side of the ledger.
type History interface {
	ListAccounts(ctx context.Context, userID string) ([]domain.Account, error)
	ListEntries(ctx context.Context, userID string, f domain.EntryFilter) (*domain.EntryPage, error)
}

type CredentialVerifier interface {
	Verify(password, hash string) bool
}

// Notifications accepts transfer notices for background delivery.
type Notifications interface {
	Submit(n notify.TransferNotice) bool
}
