//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/challenge"
	"github.com/punchamoorthee/bankops/internal/domain"
)

// setupTestDB starts PostgreSQL, applies migrations and returns a connected store.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bankops"),
		postgres.WithUsername("bank"),
		postgres.WithPassword("bank"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, MigrateUp(connStr, zap.NewNop()))

	s, err := NewStore(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type pgFixture struct {
	alice, bob       *domain.User
	aliceAcc, bobAcc *domain.Account
}

func seedPair(t *testing.T, s *Store, aliceBalance string) *pgFixture {
	t.Helper()
	ctx := context.Background()
	f := &pgFixture{
		alice: &domain.User{Name: "Alice", Email: "Alice@Example.com", PasswordHash: "x"},
		bob:   &domain.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "x"},
	}
	require.NoError(t, s.CreateUser(ctx, f.alice))
	require.NoError(t, s.CreateUser(ctx, f.bob))

	f.aliceAcc = &domain.Account{UserID: f.alice.ID, AccountNumber: "410000000001", Balance: decimal.RequireFromString(aliceBalance)}
	f.bobAcc = &domain.Account{UserID: f.bob.ID, AccountNumber: "410000000002"}
	require.NoError(t, s.CreateAccount(ctx, f.aliceAcc))
	require.NoError(t, s.CreateAccount(ctx, f.bobAcc))
	return f
}

func (f *pgFixture) instruction(key, amount string) domain.TransferInstruction {
	return domain.TransferInstruction{
		IdempotencyKey:     key,
		SenderUserID:       f.alice.ID,
		SenderName:         f.alice.Name,
		SenderAccountID:    f.aliceAcc.ID,
		RecipientUserID:    f.bob.ID,
		RecipientName:      f.bob.Name,
		RecipientAccountID: f.bobAcc.ID,
		Amount:             decimal.RequireFromString(amount),
	}
}

func TestPostgresLedger(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seedPair(t, s, "500.00")

	t.Run("lookups", func(t *testing.T) {
		u, err := s.GetUserByEmail(ctx, " alice@example.COM ")
		require.NoError(t, err)
		assert.Equal(t, f.alice.ID, u.ID)

		_, err = s.GetUser(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)

		a, err := s.GetAccountByRef(ctx, "410000000002")
		require.NoError(t, err)
		assert.Equal(t, f.bobAcc.ID, a.ID)

		a, err = s.PrimaryAccount(ctx, f.alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "500", a.Balance.String())
	})

	t.Run("transfer conserves money", func(t *testing.T) {
		res, err := s.ExecuteTransfer(ctx, f.instruction("challenge:"+uuid.NewString(), "120.50"))
		require.NoError(t, err)
		assert.Equal(t, "379.5", res.SenderBalance.String())
		assert.Equal(t, "120.5", res.RecipientBalance.String())
		assert.True(t, res.Debit.Amount.Add(res.Credit.Amount).IsZero())

		page, err := s.ListEntries(ctx, f.bob.ID, domain.EntryFilter{Type: domain.EntryTransferIn, Page: 1, Limit: 20})
		require.NoError(t, err)
		require.Equal(t, 1, page.TotalCount)
		assert.Equal(t, "Transfer from Alice", page.Entries[0].Description)
		assert.Equal(t, f.alice.ID, page.Entries[0].CounterpartyUserID)
	})

	t.Run("same instant entries keep leg order", func(t *testing.T) {
		savings := &domain.Account{UserID: f.alice.ID, AccountNumber: "410000000003"}
		require.NoError(t, s.CreateAccount(ctx, savings))
		in := f.instruction("own:"+uuid.NewString(), "10")
		in.RecipientUserID, in.RecipientName, in.RecipientAccountID = f.alice.ID, f.alice.Name, savings.ID
		_, err := s.ExecuteTransfer(ctx, in)
		require.NoError(t, err)

		page, err := s.ListEntries(ctx, f.alice.ID, domain.EntryFilter{Page: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Entries, 2)
		assert.Equal(t, domain.EntryTransferOut, page.Entries[0].Type)
		assert.Equal(t, domain.EntryTransferIn, page.Entries[1].Type)
	})

	t.Run("page past the end", func(t *testing.T) {
		page, err := s.ListEntries(ctx, f.alice.ID, domain.EntryFilter{Page: math.MaxInt, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, page.Entries)

		page, err = s.ListEntries(ctx, f.alice.ID, domain.EntryFilter{Page: 1_000_000, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, page.Entries)
		assert.Positive(t, page.TotalCount)
	})

	t.Run("duplicate key", func(t *testing.T) {
		key := "direct:" + f.alice.ID + ":abc"
		_, err := s.ExecuteTransfer(ctx, f.instruction(key, "1"))
		require.NoError(t, err)
		_, err = s.ExecuteTransfer(ctx, f.instruction(key, "1"))
		assert.ErrorIs(t, err, domain.ErrDuplicateTransfer)
	})

	t.Run("insufficient balance rolls back", func(t *testing.T) {
		before, err := s.GetAccount(ctx, f.aliceAcc.ID)
		require.NoError(t, err)

		_, err = s.ExecuteTransfer(ctx, f.instruction(uuid.NewString(), "100000"))
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

		after, err := s.GetAccount(ctx, f.aliceAcc.ID)
		require.NoError(t, err)
		assert.True(t, before.Balance.Equal(after.Balance))
	})
}

func TestPostgresConcurrentTransfersNeverOverdraw(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seedPair(t, s, "1000.00")

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.ExecuteTransfer(ctx, f.instruction(fmt.Sprintf("k-%d", i), "100.00")); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	a, err := s.GetAccount(ctx, f.aliceAcc.ID)
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
	b, err := s.GetAccount(ctx, f.bobAcc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", b.Balance.String())
}

func TestPostgresChallengeStore(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seedPair(t, s, "10")
	cs := NewChallengeStore(s, time.Minute)

	now := time.Now().UTC()
	ch := &domain.TransferChallenge{
		ID:                 uuid.NewString(),
		UserID:             f.alice.ID,
		RecipientAccountID: f.bobAcc.ID,
		Amount:             decimal.RequireFromString("5"),
		OTPCode:            "123456",
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Minute),
	}
	require.NoError(t, cs.Create(ctx, ch))
	assert.ErrorIs(t, cs.Create(ctx, ch), challenge.ErrDuplicateID)

	got, err := cs.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", got.OTPCode)

	claimed, err := cs.Claim(ctx, ch.ID)
	require.NoError(t, err)
	_, err = cs.Claim(ctx, ch.ID)
	assert.ErrorIs(t, err, challenge.ErrNotFound)

	claimed.Attempts = 2
	require.NoError(t, cs.Release(ctx, claimed))
	again, err := cs.Claim(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempts)

	require.NoError(t, cs.Delete(ctx, ch.ID))
	_, err = cs.Get(ctx, ch.ID)
	assert.ErrorIs(t, err, challenge.ErrNotFound)
	_, err = cs.Get(ctx, "garbage")
	assert.ErrorIs(t, err, challenge.ErrNotFound)

	expired := ch.Clone()
	expired.ID = uuid.NewString()
	expired.ExpiresAt = now.Add(-time.Second)
	require.NoError(t, cs.Create(ctx, expired))
	_, err = cs.Claim(ctx, expired.ID)
	assert.ErrorIs(t, err, challenge.ErrExpired)

	stale := ch.Clone()
	stale.ID = uuid.NewString()
	stale.ExpiresAt = now.Add(-time.Second)
	require.NoError(t, cs.Create(ctx, stale))
	n, err := cs.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
