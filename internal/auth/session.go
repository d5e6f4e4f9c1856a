package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

// LoginRequest carries the credentials and client context of a login
type LoginRequest struct {
	Email     string
	Password  string
	Device    model.Device
	UserAgent string
	IPAddress string
}

// SessionAuthority keeps at most one active session per (account, device) and
// authenticates requests against it.
type SessionAuthority struct {
	accounts repo.AccountRepo
	sessions repo.SessionRepo
	tokens   *TokenService
	log      *zap.Logger
	now      func() time.Time
}

// NewSessionAuthority creates a new session authority
func NewSessionAuthority(accounts repo.AccountRepo, sessions repo.SessionRepo, tokens *TokenService, log *zap.Logger) *SessionAuthority {
	return &SessionAuthority{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		log:      log,
		now:      tokens.now,
	}
}

// Authenticate checks the credentials and opens a new session for the device.
// The device's previous session, if any, is revoked together with its tokens.
func (a *SessionAuthority) Authenticate(ctx context.Context, req LoginRequest) (model.Account, model.Session, error) {
	account, err := a.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, model.Session{}, ErrAccountNotFound
		}
		return model.Account{}, model.Session{}, fmt.Errorf("get account: %w", err)
	}
	if !CheckPassword(account.PasswordHash, req.Password) {
		return model.Account{}, model.Session{}, ErrCredentialsInvalid
	}
	if !account.IsEmailVerified {
		return model.Account{}, model.Session{}, ErrAccountNotVerified
	}

	session, superseded, err := a.sessions.Open(ctx, model.Session{
		AccountID:      account.ID,
		DeviceID:       req.Device.ID,
		DevicePlatform: req.Device.Platform,
		DeviceModel:    req.Device.Model,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
	})
	if err != nil {
		return model.Account{}, model.Session{}, fmt.Errorf("open session: %w", err)
	}
	for _, id := range superseded {
		a.log.Info("session superseded",
			zap.Int64("account_id", account.ID),
			zap.Int64("session_id", id),
			zap.Int64("new_session_id", session.ID))
	}

	now := a.now()
	if err := a.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
		a.log.Warn("failed to update last login", zap.Int64("account_id", account.ID), zap.Error(err))
	} else {
		account.LastLoginAt = &now
		account.LastActivityAt = &now
	}
	return account, session, nil
}

// Login authenticates and issues the first token pair of the new session.
func (a *SessionAuthority) Login(ctx context.Context, req LoginRequest) (model.Account, TokenPair, error) {
	account, session, err := a.Authenticate(ctx, req)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	pair, err := a.tokens.IssueTokenPair(ctx, account.ID, session.DeviceID, session.ID)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	return account, pair, nil
}

// Logout revokes the session and its tokens.
func (a *SessionAuthority) Logout(ctx context.Context, sessionID int64) error {
	if err := a.sessions.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return a.tokens.RevokeSession(ctx, sessionID)
}

// Authorize resolves an access token presented by a device to its account and
// active session.
func (a *SessionAuthority) Authorize(ctx context.Context, accessToken string, device model.Device) (model.Account, model.Session, error) {
	claims, err := a.tokens.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return model.Account{}, model.Session{}, err
	}

	session, err := a.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, model.Session{}, ErrTokenInvalid
		}
		return model.Account{}, model.Session{}, fmt.Errorf("get session: %w", err)
	}
	if !session.Active() {
		return model.Account{}, model.Session{}, ErrTokenInvalid
	}
	if session.DevicePlatform != device.Platform || session.DeviceID != device.ID || session.AccountID != claims.AccountID {
		return model.Account{}, model.Session{}, ErrDeviceMismatch
	}

	account, err := a.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, model.Session{}, ErrAccountNotFound
		}
		return model.Account{}, model.Session{}, fmt.Errorf("get account: %w", err)
	}

	now := a.now()
	if err := a.accounts.UpdateLastActivity(ctx, account.ID, now); err != nil {
		a.log.Warn("failed to update last activity", zap.Int64("account_id", account.ID), zap.Error(err))
	} else {
		account.LastActivityAt = &now
	}
	return account, session, nil
}
