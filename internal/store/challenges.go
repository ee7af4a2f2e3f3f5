package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/bankops/internal/challenge"
	"github.com/punchamoorthee/bankops/internal/domain"
)

var _ challenge.Store = (*ChallengeStore)(nil)

// ChallengeStore keeps transfer challenges in Postgres so they survive a
// restart and are shared between API replicas. A claim is a lease: if the
// holder dies before releasing, the challenge becomes claimable again once
// the lease runs out.
type ChallengeStore struct {
	store *Store
	lease time.Duration
}

func NewChallengeStore(s *Store, lease time.Duration) *ChallengeStore {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &ChallengeStore{store: s, lease: lease}
}

const challengeColumns = `id::text, user_id::text, recipient_email, recipient_account_id::text, amount::text,
	description, otp_code, attempts, verified, created_at, expires_at`

func scanChallenge(row pgx.Row) (*domain.TransferChallenge, error) {
	var ch domain.TransferChallenge
	err := row.Scan(&ch.ID, &ch.UserID, &ch.RecipientEmail, &ch.RecipientAccountID, &ch.Amount,
		&ch.Description, &ch.OTPCode, &ch.Attempts, &ch.Verified, &ch.CreatedAt, &ch.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func challengeMissing(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidText
}

func (c *ChallengeStore) Create(ctx context.Context, ch *domain.TransferChallenge) error {
	_, err := c.store.Db.Exec(ctx,
		`INSERT INTO transfer_challenges
		   (id, user_id, recipient_email, recipient_account_id, amount, description, otp_code, attempts, verified, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
		ch.ID, ch.UserID, ch.RecipientEmail, ch.RecipientAccountID, ch.Amount.StringFixed(2),
		ch.Description, ch.OTPCode, ch.Attempts, ch.Verified, ch.CreatedAt, ch.ExpiresAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return challenge.ErrDuplicateID
		}
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

// expireOrMissing decides why id could not be read or claimed, evicting it
// when it has expired.
func (c *ChallengeStore) expireOrMissing(ctx context.Context, id string) error {
	tag, err := c.store.Db.Exec(ctx,
		"DELETE FROM transfer_challenges WHERE id = $1 AND expires_at <= now()", id)
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return challenge.ErrNotFound
		}
		return fmt.Errorf("evict challenge: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return challenge.ErrExpired
	}
	return challenge.ErrNotFound
}

func (c *ChallengeStore) Get(ctx context.Context, id string) (*domain.TransferChallenge, error) {
	ch, err := scanChallenge(c.store.Db.QueryRow(ctx,
		"SELECT "+challengeColumns+" FROM transfer_challenges WHERE id = $1 AND expires_at > now()", id))
	if err != nil {
		if challengeMissing(err) {
			return nil, c.expireOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

func (c *ChallengeStore) Claim(ctx context.Context, id string) (*domain.TransferChallenge, error) {
	ch, err := scanChallenge(c.store.Db.QueryRow(ctx,
		`UPDATE transfer_challenges
		 SET claimed_until = now() + make_interval(secs => $2)
		 WHERE id = $1 AND expires_at > now() AND (claimed_until IS NULL OR claimed_until < now())
		 RETURNING `+challengeColumns,
		id, c.lease.Seconds()))
	if err != nil {
		if challengeMissing(err) {
			return nil, c.expireOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("claim challenge: %w", err)
	}
	return ch, nil
}

func (c *ChallengeStore) Release(ctx context.Context, ch *domain.TransferChallenge) error {
	tag, err := c.store.Db.Exec(ctx,
		"UPDATE transfer_challenges SET attempts = $2, verified = $3, claimed_until = NULL WHERE id = $1",
		ch.ID, ch.Attempts, ch.Verified)
	if err != nil {
		return fmt.Errorf("release challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return challenge.ErrNotFound
	}
	return nil
}

func (c *ChallengeStore) Delete(ctx context.Context, id string) error {
	_, err := c.store.Db.Exec(ctx, "DELETE FROM transfer_challenges WHERE id = $1", id)
	if err != nil && pgCode(err) != pgInvalidText {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (c *ChallengeStore) Sweep(ctx context.Context) (int, error) {
	tag, err := c.store.Db.Exec(ctx, "DELETE FROM transfer_challenges WHERE expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("sweep challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
