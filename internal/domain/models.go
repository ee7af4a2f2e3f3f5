package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDebit       EntryType = "debit"
	EntryCredit      EntryType = "credit"
	EntryTransferIn  EntryType = "transfer_in"
	EntryTransferOut EntryType = "transfer_out"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDebit, EntryCredit, EntryTransferIn, EntryTransferOut:
		return true
	}
	return false
}

// User is the owner of one or more accounts.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account represents a user's balance in the ledger.
type Account struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Transfer represents an executed movement of money between two accounts.
type Transfer struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"-"`
	FromAccountID  string          `json:"from_account_id"`
	ToAccountID    string          `json:"to_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LedgerEntry represents one leg of a double-entry transaction.
// The sum of Amounts for a given TransferID must always equal 0.
type LedgerEntry struct {
	ID                 string          `json:"id"`
	TransferID         string          `json:"transfer_id"`
	AccountID          string          `json:"account_id"`
	Type               EntryType       `json:"type"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	CounterpartyUserID string          `json:"counterparty_user_id"`
	SenderName         string          `json:"sender_name"`
	RecipientName      string          `json:"recipient_name"`
	CreatedAt          time.Time       `json:"created_at"`
}

// TransferChallenge binds a pending transfer's terms and OTP to the user who
// initiated it.
type TransferChallenge struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	RecipientEmail     string          `json:"recipient_email,omitempty"`
	RecipientAccountID string          `json:"recipient_account_id"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description,omitempty"`
	OTPCode            string          `json:"-"`
	Attempts           int             `json:"attempts"`
	Verified           bool            `json:"verified"`
	CreatedAt          time.Time       `json:"created_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
}

// Expired reports whether the challenge is no longer usable at now.
func (c *TransferChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Clone returns a copy that can be handed out without sharing state.
func (c *TransferChallenge) Clone() *TransferChallenge {
	cp := *c
	return &cp
}

// TransferInstruction is the input of the shared ledger mutation.
type TransferInstruction struct {
	IdempotencyKey     string
	SenderUserID       string
	SenderName         string
	SenderAccountID    string
	RecipientUserID    string
	RecipientName      string
	RecipientAccountID string
	Amount             decimal.Decimal
	Description        string
}

// DebitDescription is the text written on the sender's leg.
func (in TransferInstruction) DebitDescription() string {
	if in.Description != "" {
		return in.Description
	}
	return "Transfer to " + in.RecipientName
}

// CreditDescription is the text written on the recipient's leg.
func (in TransferInstruction) CreditDescription() string {
	if in.Description != "" {
		return in.Description
	}
	return "Transfer from " + in.SenderName
}

// LedgerResult is what the ledger reports after a committed transfer.
type LedgerResult struct {
	Transfer         Transfer
	Debit            LedgerEntry
	Credit           LedgerEntry
	SenderBalance    decimal.Decimal
	RecipientBalance decimal.Decimal
}

// EntryFilter narrows a transaction history query.
type EntryFilter struct {
	Type  EntryType
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}

// EntryPage is one page of a user's transaction history.
type EntryPage struct {
	Entries    []LedgerEntry
	TotalCount int
	Page       int
	Limit      int
}

// TotalPages returns the number of pages for the current limit.
func (p EntryPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.TotalCount + p.Limit - 1) / p.Limit
}
