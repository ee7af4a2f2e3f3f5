// Package store persists users, accounts, transfers and ledger entries.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
	pgCheckViolation      = "23514"
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// notFound maps "no row" and malformed ids to sentinel; anything else is
// wrapped as a storage failure.
func notFound(err error, sentinel *domain.Error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidText {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}

const userColumns = "id::text, name, email, password_hash, created_at"

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const accountColumns = "id::text, user_id::text, account_number, balance::text, created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.Db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "get user")
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email, ignoring case and surrounding space.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.Db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)",
		strings.TrimSpace(email)))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "get user by email")
	}
	return u, nil
}

// CreateUser inserts u. An empty id is generated.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.Db.Exec(ctx,
		"INSERT INTO users (id, name, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)",
		u.ID, u.Name, strings.TrimSpace(u.Email), u.PasswordHash, u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.ErrInvalidRequest.WithMessage("email already registered")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound, "get account")
	}
	return a, nil
}

// GetAccountByRef retrieves an account by its account number or its id.
func (s *Store) GetAccountByRef(ctx context.Context, ref string) (*domain.Account, error) {
	ref = strings.TrimSpace(ref)
	a, err := scanAccount(s.Db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE account_number = $1 OR id::text = $1 LIMIT 1", ref))
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound, "get account by ref")
	}
	return a, nil
}

// PrimaryAccount returns the user's earliest-created account.
func (s *Store) PrimaryAccount(ctx context.Context, userID string) (*domain.Account, error) {
	a, err := scanAccount(s.Db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY created_at, id LIMIT 1", userID))
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound, "get primary account")
	}
	return a, nil
}

// CreateAccount inserts a. An empty id is generated.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	_, err := s.Db.Exec(ctx,
		`INSERT INTO accounts (id, user_id, account_number, balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $5)`,
		a.ID, a.UserID, a.AccountNumber, a.Balance.StringFixed(2), a.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return domain.ErrInvalidRequest.WithMessage("account number already exists")
		case pgForeignKeyViolation:
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// ListAccounts returns the user's accounts, primary first.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY created_at, id", userID)
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return []domain.Account{}, nil
		}
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ExecuteTransfer moves in.Amount from the sender's account to the
// recipient's in a single transaction. Accounts are locked in id order so
// concurrent transfers between the same pair cannot deadlock, and the debit
// only applies while the balance covers it.
func (s *Store) ExecuteTransfer(ctx context.Context, in domain.TransferInstruction) (*domain.LedgerResult, error) {
	if in.SenderAccountID == in.RecipientAccountID {
		return nil, domain.ErrSelfTransfer
	}

	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	amount := in.Amount.StringFixed(2)
	transfer := domain.Transfer{
		ID:             uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		FromAccountID:  in.SenderAccountID,
		ToAccountID:    in.RecipientAccountID,
		Amount:         in.Amount,
		Status:         "completed",
		CreatedAt:      now,
	}

	// 1. Idempotency reservation
	_, err = tx.Exec(ctx,
		`INSERT INTO transfers (id, idempotency_key, from_account_id, to_account_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		transfer.ID, transfer.IdempotencyKey, transfer.FromAccountID, transfer.ToAccountID, amount, transfer.Status, now)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, domain.ErrDuplicateTransfer
		case pgForeignKeyViolation, pgInvalidText:
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("transfer insert failed: %w", err)
	}

	// 2. Deterministic locking. NO KEY UPDATE so the foreign key checks of
	// other in-flight transfers (KEY SHARE) do not block us.
	first, second := in.SenderAccountID, in.RecipientAccountID
	if first > second {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		var locked string
		err = tx.QueryRow(ctx, "SELECT id::text FROM accounts WHERE id = $1 FOR NO KEY UPDATE", id).Scan(&locked)
		if err != nil {
			return nil, notFound(err, domain.ErrAccountNotFound, "lock acquisition failed")
		}
	}

	// 3. Conditional debit
	var senderBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $1::numeric, updated_at = $3
		 WHERE id = $2 AND balance >= $1::numeric
		 RETURNING balance::text`,
		amount, in.SenderAccountID, now).Scan(&senderBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgCheckViolation {
			return nil, domain.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("debit failed: %w", err)
	}

	var recipientBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1::numeric, updated_at = $3
		 WHERE id = $2
		 RETURNING balance::text`,
		amount, in.RecipientAccountID, now).Scan(&recipientBalance)
	if err != nil {
		return nil, fmt.Errorf("credit failed: %w", err)
	}

	// 4. Ledger entries
	debit := domain.LedgerEntry{
		ID:                 uuid.NewString(),
		TransferID:         transfer.ID,
		AccountID:          in.SenderAccountID,
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
		AccountID:          in.RecipientAccountID,
		Type:               domain.EntryTransferIn,
		Amount:             in.Amount,
		Description:        in.CreditDescription(),
		CounterpartyUserID: in.SenderUserID,
		SenderName:         in.SenderName,
		RecipientName:      in.RecipientName,
		CreatedAt:          now,
	}

	batch := &pgx.Batch{}
	for _, e := range []domain.LedgerEntry{debit, credit} {
		batch.Queue(
			`INSERT INTO ledger_entries
			   (id, transfer_id, account_id, type, amount, description, counterparty_user_id, sender_name, recipient_name, created_at)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`,
			e.ID, e.TransferID, e.AccountID, string(e.Type), e.Amount.StringFixed(2), e.Description,
			nullableID(e.CounterpartyUserID), e.SenderName, e.RecipientName, e.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("ledger entry failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return &domain.LedgerResult{
		Transfer:         transfer,
		Debit:            debit,
		Credit:           credit,
		SenderBalance:    senderBalance,
		RecipientBalance: recipientBalance,
	}, nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// ListEntries returns one page of ledger entries across the user's accounts,
// newest first. Entries written at the same instant keep insertion order, so
// a transfer's debit precedes its credit.
func (s *Store) ListEntries(ctx context.Context, userID string, f domain.EntryFilter) (*domain.EntryPage, error) {
	where := []string{"a.user_id = $1"}
	args := []any{userID}

	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("e.type = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("e.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("e.created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	page := &domain.EntryPage{Entries: []domain.LedgerEntry{}, Page: f.Page, Limit: f.Limit}

	err := s.Db.QueryRow(ctx,
		"SELECT count(*) FROM ledger_entries e JOIN accounts a ON a.id = e.account_id WHERE "+cond,
		args...).Scan(&page.TotalCount)
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return page, nil
		}
		return nil, fmt.Errorf("count entries: %w", err)
	}

	if f.Page < 1 || f.Limit < 1 || f.Page-1 > math.MaxInt32/f.Limit {
		return page, nil
	}
	offset := (f.Page - 1) * f.Limit
	args = append(args, f.Limit, offset)
	rows, err := s.Db.Query(ctx, fmt.Sprintf(
		`SELECT e.id::text, COALESCE(e.transfer_id::text, ''), e.account_id::text, e.type, e.amount::text,
		        e.description, COALESCE(e.counterparty_user_id::text, ''), e.sender_name, e.recipient_name, e.created_at
		 FROM ledger_entries e JOIN accounts a ON a.id = e.account_id
		 WHERE %s
		 ORDER BY e.created_at DESC, e.seq
		 LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &typ, &e.Amount,
			&e.Description, &e.CounterpartyUserID, &e.SenderName, &e.RecipientName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Type = domain.EntryType(typ)
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return page, nil
}
