package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/basego/server/internal/model"
)

// TokenRepo defines the interface for token pair metadata operations
type TokenRepo interface {
	// Create stores t under a fresh ID. Fails with ErrConflict if the session is revoked.
	Create(ctx context.Context, t model.Token) (model.Token, error)
	Get(ctx context.Context, id int64) (model.Token, error)
	// Rotate marks oldID consumed and stores next in one step. Fails with
	// ErrConflict if oldID is already consumed or revoked, or its session is revoked.
	Rotate(ctx context.Context, oldID int64, next model.Token) (model.Token, error)
	RevokeBySession(ctx context.Context, sessionID int64) error
}

type tokenRepo struct {
	db *sql.DB
}

// NewTokenRepo creates a new TokenRepo instance
func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db}
}

// lockActiveSession takes a share lock on the session row so that a concurrent
// revoke waits for this transaction (and vice versa).
func lockActiveSession(ctx context.Context, tx *sql.Tx, sessionID int64) error {
	var active bool
	err := tx.QueryRowContext(ctx, `
		SELECT revoked_at IS NULL FROM device_sessions WHERE id = $1 FOR SHARE
	`, sessionID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}
	if !active {
		return ErrConflict
	}
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, t model.Token) (model.Token, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO session_tokens (session_id, account_id, device_id, issued_at, access_expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.SessionID, t.AccountID, t.DeviceID, t.IssuedAt, t.AccessExpiresAt, t.RefreshExpiresAt).Scan(&t.ID)
	if err != nil {
		return model.Token{}, fmt.Errorf("insert token: %w", err)
	}
	t.ConsumedAt, t.RevokedAt = nil, nil
	return t, nil
}

func (r *tokenRepo) Create(ctx context.Context, t model.Token) (model.Token, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Token{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockActiveSession(ctx, tx, t.SessionID); err != nil {
		return model.Token{}, err
	}
	created, err := insertToken(ctx, tx, t)
	if err != nil {
		return model.Token{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Token{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (r *tokenRepo) Get(ctx context.Context, id int64) (model.Token, error) {
	var t model.Token
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, account_id, device_id, issued_at, access_expires_at, refresh_expires_at, consumed_at, revoked_at
		FROM session_tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.SessionID, &t.AccountID, &t.DeviceID, &t.IssuedAt, &t.AccessExpiresAt, &t.RefreshExpiresAt, &t.ConsumedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, ErrNotFound
		}
		return model.Token{}, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (r *tokenRepo) Rotate(ctx context.Context, oldID int64, next model.Token) (model.Token, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Token{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockActiveSession(ctx, tx, next.SessionID); err != nil {
		return model.Token{}, err
	}

	// Compare-and-set: a concurrent rotation blocks on the row lock and then
	// matches zero rows.
	var consumedID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE session_tokens SET consumed_at = now()
		WHERE id = $1 AND session_id = $2 AND consumed_at IS NULL AND revoked_at IS NULL
		RETURNING id
	`, oldID, next.SessionID).Scan(&consumedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, ErrConflict
		}
		return model.Token{}, fmt.Errorf("consume token: %w", err)
	}

	created, err := insertToken(ctx, tx, next)
	if err != nil {
		return model.Token{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Token{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (r *tokenRepo) RevokeBySession(ctx context.Context, sessionID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_tokens SET revoked_at = now() WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}
	return nil
}
