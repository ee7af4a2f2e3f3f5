package service

import (
	"context"
	"errors"
	"strings"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// SelfTransferPolicy decides what counts as sending money to yourself.
type SelfTransferPolicy int

const (
	// RejectSameAccount refuses only the sender's own source account, so a
	// user may move money between their own accounts.
	RejectSameAccount SelfTransferPolicy = iota
	// RejectSameUser refuses any account owned by the sender.
	RejectSameUser
)

type RecipientQuery struct {
	Email         string
	AccountRef    string
	SenderUserID  string
	SenderAccount string
}

type Recipient struct {
	User    *domain.User
	Account *domain.Account
}

func (s *TransferService) resolveRecipient(ctx context.Context, q RecipientQuery, policy SelfTransferPolicy) (*Recipient, error) {
	email := strings.TrimSpace(q.Email)
	ref := strings.TrimSpace(q.AccountRef)

	var rcpt Recipient
	switch {
	case ref != "":
		account, err := s.directory.GetAccountByRef(ctx, ref)
		if err != nil {
			return nil, lookupErr(err, domain.ErrRecipientNotFound)
		}
		owner, err := s.directory.GetUser(ctx, account.UserID)
		if err != nil {
			return nil, lookupErr(err, domain.ErrRecipientNotFound)
		}
		if email != "" && !strings.EqualFold(owner.Email, email) {
			return nil, domain.ErrRecipientMismatch
		}
		rcpt = Recipient{User: owner, Account: account}

	case email != "":
		owner, err := s.directory.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, lookupErr(err, domain.ErrRecipientNotFound)
		}
		account, err := s.directory.PrimaryAccount(ctx, owner.ID)
		if err != nil {
			return nil, lookupErr(err, domain.ErrRecipientHasNoAccounts)
		}
		rcpt = Recipient{User: owner, Account: account}

	default:
		return nil, domain.ErrMissingRecipient
	}

	switch policy {
	case RejectSameUser:
		if rcpt.User.ID == q.SenderUserID {
			return nil, domain.ErrSelfTransfer
		}
	default:
		if rcpt.Account.ID == q.SenderAccount {
			return nil, domain.ErrSelfTransfer
		}
	}
	return &rcpt, nil
}

// lookupErr turns a directory miss into the caller's more specific error and
// wraps anything else as internal.
func lookupErr(err error, miss *domain.Error) error {
	if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrAccountNotFound) {
		return miss
	}
	return domain.ErrInternal.Wrap(err)
}
