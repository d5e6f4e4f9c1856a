package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basego/server/internal/model"
)

// AccountRepo defines the interface for account repository operations
type AccountRepo interface {
	Create(ctx context.Context, a model.Account, acceptTOS bool) (model.Account, error)
	GetByID(ctx context.Context, id int64) (model.Account, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	SetEmailVerified(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdateLastActivity(ctx context.Context, id int64, at time.Time) error
	GetTOS(ctx context.Context, id int64) (model.TOSAcceptance, error)
	AcceptTOS(ctx context.Context, id int64) (tos model.TOSAcceptance, created bool, err error)
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

const accountColumns = `
	id, full_name, email, password_hash, is_email_verified, country_id,
	country_calling_code, phone, is_phone_verified, image_thumbnail, image_fullsize,
	last_login_at, last_activity_at, require_change_password, created_at, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.FullName, &a.Email, &a.PasswordHash, &a.IsEmailVerified, &a.CountryID,
		&a.CountryCallingCode, &a.Phone, &a.IsPhoneVerified, &a.ImageThumbnail, &a.ImageFullsize,
		&a.LastLoginAt, &a.LastActivityAt, &a.RequireChangePassword, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	return a, err
}

// Create inserts the account and, when acceptTOS is set, its TOS acceptance in one transaction.
func (r *accountRepo) Create(ctx context.Context, a model.Account, acceptTOS bool) (model.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	created, err := scanAccount(tx.QueryRowContext(ctx, `
		INSERT INTO accounts (full_name, email, password_hash, is_email_verified)
		VALUES ($1, $2, $3, $4)
		RETURNING`+accountColumns,
		a.FullName, strings.ToLower(a.Email), a.PasswordHash, a.IsEmailVerified,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, ErrDuplicateEmail
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}

	if acceptTOS {
		if _, err := tx.ExecContext(ctx, `INSERT INTO account_tos (account_id) VALUES ($1)`, created.ID); err != nil {
			return model.Account{}, fmt.Errorf("insert tos: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// GetByID retrieves a non-deleted account by ID
func (r *accountRepo) GetByID(ctx context.Context, id int64) (model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetByEmail retrieves a non-deleted account by email (case-insensitive)
func (r *accountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// ExistsByEmail reports whether any account, deleted or not, uses the email
func (r *accountRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE lower(email) = lower($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

func (r *accountRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) SetEmailVerified(ctx context.Context, id int64) error {
	return r.execOne(ctx, "set email verified", `
		UPDATE accounts SET is_email_verified = TRUE, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *accountRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.execOne(ctx, "update password", `
		UPDATE accounts SET password_hash = $2, require_change_password = FALSE, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, passwordHash)
}

func (r *accountRepo) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, "update last login", `
		UPDATE accounts SET last_login_at = $2, last_activity_at = $2 WHERE id = $1`, id, at)
}

func (r *accountRepo) UpdateLastActivity(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, "update last activity", `
		UPDATE accounts SET last_activity_at = $2 WHERE id = $1`, id, at)
}

// GetTOS returns ErrNotFound when the account has not accepted the terms.
func (r *accountRepo) GetTOS(ctx context.Context, id int64) (model.TOSAcceptance, error) {
	tos := model.TOSAcceptance{AccountID: id}
	err := r.db.QueryRowContext(ctx,
		`SELECT accepted_at FROM account_tos WHERE account_id = $1`, id).Scan(&tos.AcceptedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TOSAcceptance{}, ErrNotFound
		}
		return model.TOSAcceptance{}, fmt.Errorf("get tos: %w", err)
	}
	return tos, nil
}

// AcceptTOS records the acceptance once; created is false when it already existed.
func (r *accountRepo) AcceptTOS(ctx context.Context, id int64) (model.TOSAcceptance, bool, error) {
	tos := model.TOSAcceptance{AccountID: id}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO account_tos (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
		RETURNING accepted_at`, id).Scan(&tos.AcceptedAt)
	if err == nil {
		return tos, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.TOSAcceptance{}, false, fmt.Errorf("accept tos: %w", err)
	}
	existing, err := r.GetTOS(ctx, id)
	if err != nil {
		return model.TOSAcceptance{}, false, err
	}
	return existing, false, nil
}
