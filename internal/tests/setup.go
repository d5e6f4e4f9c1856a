// Package tests holds end-to-end tests of the HTTP API, run against the
// in-memory store and, when DATABASE_URL is set, against PostgreSQL.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/basego/server/internal/account"
	"github.com/basego/server/internal/auth"
	httphandler "github.com/basego/server/internal/http"
	"github.com/basego/server/internal/http/handlers"
	"github.com/basego/server/internal/mailer"
	"github.com/basego/server/internal/repo"
	"github.com/basego/server/internal/repo/memrepo"
)

// FixedCode is the OTP code every challenge uses in test servers.
const FixedCode = "123456"

// Backend is a complete set of stores for one test server.
type Backend struct {
	Accounts  repo.AccountRepo
	APIKeys   repo.APIKeyRepo
	Sessions  repo.SessionRepo
	Tokens    repo.TokenRepo
	OTPs      repo.OtpRepo
	Reference repo.ReferenceRepo
	DB        *sql.DB
}

// MemoryBackend returns a Backend over a fresh in-memory store.
func MemoryBackend() Backend {
	s := memrepo.New()
	return Backend{
		Accounts:  s.Accounts(),
		APIKeys:   s.APIKeys(),
		Sessions:  s.Sessions(),
		Tokens:    s.Tokens(),
		OTPs:      s.OTPs(),
		Reference: s.Reference(),
	}
}

// PostgresBackend returns a Backend over db, which must be migrated.
func PostgresBackend(db *sql.DB) Backend {
	return Backend{
		Accounts:  repo.NewAccountRepo(db),
		APIKeys:   repo.NewAPIKeyRepo(db),
		Sessions:  repo.NewSessionRepo(db),
		Tokens:    repo.NewTokenRepo(db),
		OTPs:      repo.NewOtpRepo(db),
		Reference: repo.NewReferenceRepo(db),
		DB:        db,
	}
}

// TruncateTables empties every table except the seeded reference data.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE otp_challenges, session_tokens, device_sessions,
		account_tos, api_keys, accounts RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// NewHandler wires the full HTTP stack over b. Codes are logged, not mailed,
// and rate limiting is off.
func NewHandler(b Backend, secret string, log *zap.Logger) http.Handler {
	tokens := auth.NewTokenService(secret, b.Tokens, b.Accounts)
	sessions := auth.NewSessionAuthority(b.Accounts, b.Sessions, tokens, log)
	otp := auth.NewOTPEngine(b.OTPs, mailer.NewLogSender(log), "test-otp-salt", log, auth.WithFixedCode(FixedCode))
	accounts := account.NewService(b.Accounts, b.Reference, otp, log)

	var db handlers.Pinger
	if b.DB != nil {
		db = b.DB
	}
	return httphandler.NewRouter(httphandler.Handlers{
		Client:  handlers.NewClientHandler(accounts),
		Auth:    handlers.NewAuthHandler(sessions, tokens),
		Account: handlers.NewAccountHandler(accounts, sessions),
		Health:  handlers.NewHealthHandler(db),
	}, httphandler.Options{
		Log:        log,
		APIKeys:    auth.NewAPIKeyValidator(b.APIKeys, nil),
		Authorizer: sessions,
	})
}
