package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basego/server/internal/model"
)

// OtpRepo defines the interface for OTP challenge repository operations
type OtpRepo interface {
	// CreateOrReplace invalidates the open challenge for (Purpose, Target), if any,
	// and inserts c. SendCount continues from the replaced challenge. It returns
	// ErrLimitExceeded when maxSends challenges were already created since since.
	CreateOrReplace(ctx context.Context, c model.OTPChallenge, since time.Time, maxSends int) (model.OTPChallenge, error)
	Get(ctx context.Context, id int64) (model.OTPChallenge, error)
	// Attempt compares codeHash with the stored hash and counts a mismatch, as one
	// step. It returns ErrConflict when the challenge is closed or already has
	// maxAttempts wrong attempts.
	Attempt(ctx context.Context, id int64, codeHash string, maxAttempts int) (matched bool, err error)
	// Consume sets consumed_at if the challenge is still open, else ErrConflict.
	Consume(ctx context.Context, id int64, at time.Time) error
	// Release reopens a consumed challenge unless a newer one is open for the same key.
	Release(ctx context.Context, id int64) error
	InvalidateOpen(ctx context.Context, purpose model.OTPPurpose, target string) error
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

func otpLockKey(purpose model.OTPPurpose, target string) string {
	return string(purpose) + ":" + target
}

// CreateOrReplace uses an advisory lock per (purpose, target) so concurrent
// issues never trip the open-challenge unique index and share one send budget.
func (r *otpRepo) CreateOrReplace(ctx context.Context, c model.OTPChallenge, since time.Time, maxSends int) (model.OTPChallenge, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.OTPChallenge{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`,
		lockNamespaceOTP, otpLockKey(c.Purpose, c.Target)); err != nil {
		return model.OTPChallenge{}, fmt.Errorf("advisory lock: %w", err)
	}

	var sent int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_challenges WHERE purpose = $1 AND target = $2 AND created_at >= $3
	`, c.Purpose, c.Target, since).Scan(&sent)
	if err != nil {
		return model.OTPChallenge{}, fmt.Errorf("count recent challenges: %w", err)
	}
	if sent >= maxSends {
		return model.OTPChallenge{}, ErrLimitExceeded
	}

	var prevSendCount sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		UPDATE otp_challenges SET invalidated_at = now()
		WHERE purpose = $1 AND target = $2 AND consumed_at IS NULL AND invalidated_at IS NULL
		RETURNING send_count
	`, c.Purpose, c.Target).Scan(&prevSendCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.OTPChallenge{}, fmt.Errorf("invalidate open challenge: %w", err)
	}
	c.SendCount = 1
	if prevSendCount.Valid {
		c.SendCount = int(prevSendCount.Int64) + 1
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (otp_key, purpose, target, account_id, code_hash, code_length, expires_at, send_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, c.Key, c.Purpose, c.Target, c.AccountID, c.CodeHash, c.CodeLength, c.ExpiresAt, c.SendCount).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return model.OTPChallenge{}, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.OTPChallenge{}, fmt.Errorf("commit: %w", err)
	}
	c.AttemptCount, c.ConsumedAt, c.InvalidatedAt = 0, nil, nil
	return c, nil
}

func (r *otpRepo) Get(ctx context.Context, id int64) (model.OTPChallenge, error) {
	var c model.OTPChallenge
	var purpose string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, otp_key, purpose, target, account_id, code_hash, code_length, expires_at,
		       send_count, attempt_count, consumed_at, invalidated_at, created_at
		FROM otp_challenges WHERE id = $1
	`, id).Scan(&c.ID, &c.Key, &purpose, &c.Target, &c.AccountID, &c.CodeHash, &c.CodeLength, &c.ExpiresAt,
		&c.SendCount, &c.AttemptCount, &c.ConsumedAt, &c.InvalidatedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OTPChallenge{}, ErrNotFound
		}
		return model.OTPChallenge{}, fmt.Errorf("get challenge: %w", err)
	}
	c.Purpose = model.OTPPurpose(purpose)
	return c, nil
}

// Attempt relies on the row lock taken by UPDATE: concurrent attempts on one
// challenge queue up and each re-reads attempt_count before it is counted.
func (r *otpRepo) Attempt(ctx context.Context, id int64, codeHash string, maxAttempts int) (bool, error) {
	var matched bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + CASE WHEN code_hash = $2 THEN 0 ELSE 1 END
		WHERE id = $1 AND attempt_count < $3 AND consumed_at IS NULL AND invalidated_at IS NULL
		RETURNING code_hash = $2
	`, id, codeHash, maxAttempts).Scan(&matched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrConflict
		}
		return false, fmt.Errorf("record attempt: %w", err)
	}
	return matched, nil
}

func (r *otpRepo) Consume(ctx context.Context, id int64, at time.Time) error {
	var consumedID int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND invalidated_at IS NULL
		RETURNING id
	`, id, at).Scan(&consumedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		return fmt.Errorf("consume challenge: %w", err)
	}
	return nil
}

func (r *otpRepo) Release(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges c SET consumed_at = NULL
		WHERE c.id = $1 AND c.invalidated_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM otp_challenges o
		      WHERE o.purpose = c.purpose AND o.target = c.target AND o.id <> c.id
		        AND o.consumed_at IS NULL AND o.invalidated_at IS NULL)
	`, id)
	if err != nil {
		return fmt.Errorf("release challenge: %w", err)
	}
	return nil
}

func (r *otpRepo) InvalidateOpen(ctx context.Context, purpose model.OTPPurpose, target string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET invalidated_at = now()
		WHERE purpose = $1 AND target = $2 AND consumed_at IS NULL AND invalidated_at IS NULL
	`, purpose, target)
	if err != nil {
		return fmt.Errorf("invalidate open challenges: %w", err)
	}
	return nil
}
