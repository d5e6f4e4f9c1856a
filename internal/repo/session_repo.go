package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/basego/server/internal/model"
)

// Advisory lock namespaces (first key of pg_advisory_xact_lock).
const (
	lockNamespaceOTP     = 1
	lockNamespaceSession = 2
)

// SessionRepo defines the interface for device session repository operations
type SessionRepo interface {
	// Open revokes any active session for (AccountID, DeviceID) together with its
	// tokens and inserts s as the new active one, atomically. It returns the IDs
	// of the sessions it revoked.
	Open(ctx context.Context, s model.Session) (created model.Session, superseded []int64, err error)
	Get(ctx context.Context, id int64) (model.Session, error)
	// Revoke revokes the session and its tokens. It is idempotent and returns
	// ErrNotFound only for unknown sessions.
	Revoke(ctx context.Context, id int64) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Open(ctx context.Context, s model.Session) (model.Session, []int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Web clients without a device identifier get independent sessions.
	var superseded []int64
	if s.DeviceID != "" {
		superseded, err = revokeDeviceSessions(ctx, tx, s.AccountID, s.DeviceID)
		if err != nil {
			return model.Session{}, nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO device_sessions (account_id, device_id, device_platform, device_model, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, s.AccountID, s.DeviceID, s.DevicePlatform, s.DeviceModel, s.UserAgent, s.IPAddress).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return model.Session{}, nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Session{}, nil, fmt.Errorf("commit: %w", err)
	}
	s.RevokedAt = nil
	return s, superseded, nil
}

// revokeDeviceSessions serializes logins per (account, device) with an advisory
// lock held until COMMIT/ROLLBACK, then revokes the device's active sessions
// and their tokens.
func revokeDeviceSessions(ctx context.Context, tx *sql.Tx, accountID int64, deviceID string) ([]int64, error) {
	lockKey := fmt.Sprintf("%d:%s", accountID, deviceID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockNamespaceSession, lockKey); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE device_sessions SET revoked_at = now()
		WHERE account_id = $1 AND device_id = $2 AND revoked_at IS NULL
		RETURNING id
	`, accountID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("revoke active sessions: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan revoked session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("revoke active sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE session_tokens SET revoked_at = now() WHERE session_id = ANY($1) AND revoked_at IS NULL
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("revoke superseded tokens: %w", err)
	}
	return ids, nil
}

func (r *sessionRepo) Get(ctx context.Context, id int64) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, device_id, device_platform, device_model, user_agent, ip_address, created_at, revoked_at
		FROM device_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.AccountID, &s.DeviceID, &s.DevicePlatform, &s.DeviceModel, &s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE device_sessions SET revoked_at = COALESCE(revoked_at, now()) WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE session_tokens SET revoked_at = now() WHERE session_id = $1 AND revoked_at IS NULL
	`, id); err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
