package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/bankops/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	ch      *domain.TransferChallenge
	claimed bool
}

// MemoryStore is a process-local Store. Expired entries are evicted lazily on
// access and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(_ context.Context, ch *domain.TransferChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[ch.ID]; exists {
		return ErrDuplicateID
	}
	s.entries[ch.ID] = &memoryEntry{ch: ch.Clone()}
	return nil
}

// lookup returns the live entry for id. Caller holds mu.
func (s *MemoryStore) lookup(id string) (*memoryEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.ch.Expired(s.now()) {
		delete(s.entries, id)
		return nil, ErrExpired
	}
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.TransferChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.ch.Clone(), nil
}

func (s *MemoryStore) Claim(_ context.Context, id string) (*domain.TransferChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.claimed {
		return nil, ErrNotFound
	}
	e.claimed = true
	return e.ch.Clone(), nil
}

func (s *MemoryStore) Release(_ context.Context, ch *domain.TransferChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ch.ID]
	if !ok {
		return ErrNotFound
	}
	e.ch.Attempts = ch.Attempts
	e.ch.Verified = ch.Verified
	e.claimed = false
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, e := range s.entries {
		if e.ch.Expired(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored challenges, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
