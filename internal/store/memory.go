package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// Memory is an in-process ledger used for local runs and tests. One mutex
// guards everything, so a transfer is applied in full or not at all.
type Memory struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	accounts  map[string]*domain.Account
	transfers map[string]*domain.Transfer // by idempotency key
	entries   []domain.LedgerEntry
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]*domain.User),
		accounts:  make(map[string]*domain.Account),
		transfers: make(map[string]*domain.Transfer),
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// AddUser stores u. An empty id is generated.
func (m *Memory) AddUser(u domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	for _, existing := range m.users {
		if existing.ID == u.ID || strings.EqualFold(existing.Email, strings.TrimSpace(u.Email)) {
			return nil, domain.ErrInvalidRequest.WithMessage("email already registered")
		}
	}
	u.Email = strings.TrimSpace(u.Email)
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

// AddAccount stores a. An empty id is generated.
func (m *Memory) AddAccount(a domain.Account) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[a.UserID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	for _, existing := range m.accounts {
		if existing.ID == a.ID || existing.AccountNumber == a.AccountNumber {
			return nil, domain.ErrInvalidRequest.WithMessage("account number already exists")
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = &a
	cp := a
	return &cp, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.TrimSpace(email)
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *Memory) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAccountByRef(_ context.Context, ref string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref = strings.TrimSpace(ref)
	if a, ok := m.accounts[ref]; ok {
		cp := *a
		return &cp, nil
	}
	for _, a := range m.accounts {
		if a.AccountNumber == ref {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

// userAccounts returns the user's accounts, primary first. Caller holds mu.
func (m *Memory) userAccounts(userID string) []domain.Account {
	accounts := []domain.Account{}
	for _, a := range m.accounts {
		if a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}

func (m *Memory) PrimaryAccount(_ context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := m.userAccounts(userID)
	if len(accounts) == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &accounts[0], nil
}

func (m *Memory) ListAccounts(_ context.Context, userID string) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAccounts(userID), nil
}

func (m *Memory) ExecuteTransfer(_ context.Context, in domain.TransferInstruction) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in.SenderAccountID == in.RecipientAccountID {
		return nil, domain.ErrSelfTransfer
	}
	if _, dup := m.transfers[in.IdempotencyKey]; dup {
		return nil, domain.ErrDuplicateTransfer
	}
	from, ok := m.accounts[in.SenderAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	to, ok := m.accounts[in.RecipientAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if from.Balance.LessThan(in.Amount) {
		return nil, domain.ErrInsufficientBalance
	}

	now := m.now().UTC()
	transfer := domain.Transfer{
		ID:             uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         in.Amount,
		Status:         "completed",
		CreatedAt:      now,
	}
	debit := domain.LedgerEntry{
		ID:                 uuid.NewString(),
		TransferID:         transfer.ID,
		AccountID:          from.ID,
		Type:               domain.EntryTransferOut,
		Amount:             in.Amount.Neg(),
		Description:        in.DebitDescription(),
		CounterpartyUserID: in.RecipientUserID,
		SenderName:         in.SenderName,
		RecipientName:      in.RecipientName,
		CreatedAt:          now,
	}
	credit := domain.LedgerEntry{
		ID:                 uuid.NewString(),
		TransferID:         transfer.ID,
		AccountID:          to.ID,
		Type:               domain.EntryTransferIn,
		Amount:             in.Amount,
		Description:        in.CreditDescription(),
		CounterpartyUserID: in.SenderUserID,
		SenderName:         in.SenderName,
		RecipientName:      in.RecipientName,
		CreatedAt:          now,
	}

	from.Balance = from.Balance.Sub(in.Amount)
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(in.Amount)
	to.UpdatedAt = now
	m.transfers[in.IdempotencyKey] = &transfer
	m.entries = append(m.entries, debit, credit)

	return &domain.LedgerResult{
		Transfer:         transfer,
		Debit:            debit,
		Credit:           credit,
		SenderBalance:    from.Balance,
		RecipientBalance: to.Balance,
	}, nil
}

func (m *Memory) ListEntries(_ context.Context, userID string, f domain.EntryFilter) (*domain.EntryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[string]bool)
	for _, a := range m.accounts {
		if a.UserID == userID {
			owned[a.ID] = true
		}
	}

	matched := []domain.LedgerEntry{}
	for _, e := range m.entries {
		if !owned[e.AccountID] {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := &domain.EntryPage{Entries: []domain.LedgerEntry{}, TotalCount: len(matched), Page: f.Page, Limit: f.Limit}
	start := (f.Page - 1) * f.Limit
	if start < 0 || start >= len(matched) {
		return page, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = append(page.Entries, matched[start:end]...)
	return page, nil
}

// TotalBalance sums every account balance. Transfers never change it.
func (m *Memory) TotalBalance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, a := range m.accounts {
		total = total.Add(a.Balance)
	}
	return total
}
