// Package challenge holds pending transfer challenges between initiation and
// confirmation.
package challenge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/domain"
)

var (
	ErrNotFound    = errors.New("challenge not found")
	ErrExpired     = errors.New("challenge expired")
	ErrDuplicateID = errors.New("challenge id already exists")
)

// Store keeps challenges keyed by id.
//
// Claim is the only way a confirmation may act on a challenge: it hands out
// an exclusive hold, so of two concurrent confirmations for the same id only
// one proceeds. The holder either deletes the challenge (consumed) or releases
// it (still valid).
type Store interface {
	Create(ctx context.Context, ch *domain.TransferChallenge) error
	Get(ctx context.Context, id string) (*domain.TransferChallenge, error)
	Claim(ctx context.Context, id string) (*domain.TransferChallenge, error)
	Release(ctx context.Context, ch *domain.TransferChallenge) error
	Delete(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
}

// Sweeper removes expired challenges.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Challenge sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("Failed to sweep expired challenges", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("Swept expired challenges", zap.Int("count", n))
			}
		}
	}
}
