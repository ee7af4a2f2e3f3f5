package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore().WithClock(clock.Now), clock
}

func makeChallenge(id string, now time.Time) *domain.TransferChallenge {
	return &domain.TransferChallenge{
		ID:                 id,
		UserID:             "user-1",
		RecipientAccountID: "acct-2",
		Amount:             decimal.RequireFromString("100.00"),
		OTPCode:            "482913",
		CreatedAt:          now,
		ExpiresAt:          now.Add(5 * time.Minute),
	}
}

func TestCreateAndGet(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "482913", got.OTPCode)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("100")))

	// returned value is a copy
	got.OTPCode = "000000"
	again, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "482913", again.OTPCode)
}

func TestCreateDuplicate(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))
	assert.ErrorIs(t, s.Create(ctx, makeChallenge("c1", clock.Now())), ErrDuplicateID)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetExpiredEvicts(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))

	clock.Advance(5*time.Minute + time.Second)

	_, err := s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, s.Len())

	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimIsExclusiveUntilReleased(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))

	ch, err := s.Claim(ctx, "c1")
	require.NoError(t, err)

	_, err = s.Claim(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	ch.Attempts = 2
	ch.Verified = true
	require.NoError(t, s.Release(ctx, ch))

	again, err := s.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempts)
	assert.True(t, again.Verified)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.Claim(ctx, "c1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))

	require.NoError(t, s.Delete(ctx, "c1"))
	require.NoError(t, s.Delete(ctx, "c1"))

	_, err := s.Claim(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseAfterDelete(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	ch := makeChallenge("c1", clock.Now())
	require.NoError(t, s.Create(ctx, ch))
	require.NoError(t, s.Delete(ctx, "c1"))

	assert.ErrorIs(t, s.Release(ctx, ch), ErrNotFound)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, makeChallenge("old", clock.Now())))
	clock.Advance(3 * time.Minute)
	require.NoError(t, s.Create(ctx, makeChallenge("new", clock.Now())))
	clock.Advance(3 * time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	s, clock := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Create(ctx, makeChallenge("c1", clock.Now())))
	clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, 5*time.Millisecond, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
