package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

const (
	defaultAccessTokenTTL  = 24 * time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenPair is a signed access/refresh token pair and the record it was issued under
type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
	TokenID            int64
	SessionID          int64
	AccountID          int64
}

// TokenService issues, verifies, rotates and revokes token pairs
type TokenService struct {
	signer     jwtSigner
	tokens     repo.TokenRepo
	accounts   repo.AccountRepo
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService
type TokenOption func(*TokenService)

// WithClock overrides the clock used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithTTL overrides the access and refresh token lifetimes.
func WithTTL(access, refresh time.Duration) TokenOption {
	return func(s *TokenService) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// NewTokenService creates a new token service
func NewTokenService(secret string, tokens repo.TokenRepo, accounts repo.AccountRepo, opts ...TokenOption) *TokenService {
	s := &TokenService{
		signer:     jwtSigner{secret: []byte(secret)},
		tokens:     tokens,
		accounts:   accounts,
		accessTTL:  defaultAccessTokenTTL,
		refreshTTL: defaultRefreshTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenService) newRecord(accountID int64, deviceID string, sessionID int64) model.Token {
	// JWT NumericDate has second precision; keep the record aligned with the claims.
	now := s.now().Truncate(time.Second)
	return model.Token{
		SessionID:        sessionID,
		AccountID:        accountID,
		DeviceID:         deviceID,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}
}

// IssueTokenPair stores a fresh token record for the session and signs both tokens.
func (s *TokenService) IssueTokenPair(ctx context.Context, accountID int64, deviceID string, sessionID int64) (TokenPair, error) {
	rec, err := s.tokens.Create(ctx, s.newRecord(accountID, deviceID, sessionID))
	if err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, ErrSessionRevoked
		}
		return TokenPair{}, fmt.Errorf("store token: %w", err)
	}
	return s.signPair(rec)
}

func (s *TokenService) signPair(rec model.Token) (TokenPair, error) {
	claims := func(typ string, exp time.Time) *Claims {
		return &Claims{
			TokenID:   rec.ID,
			SessionID: rec.SessionID,
			AccountID: rec.AccountID,
			DeviceID:  rec.DeviceID,
			Type:      typ,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    tokenIssuer,
				IssuedAt:  jwt.NewNumericDate(rec.IssuedAt),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		}
	}

	access, err := s.signer.sign(claims(tokenTypeAccess, rec.AccessExpiresAt))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.signer.sign(claims(tokenTypeRefresh, rec.RefreshExpiresAt))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:        access,
		AccessTokenExpiry:  rec.AccessExpiresAt,
		RefreshToken:       refresh,
		RefreshTokenExpiry: rec.RefreshExpiresAt,
		TokenID:            rec.ID,
		SessionID:          rec.SessionID,
		AccountID:          rec.AccountID,
	}, nil
}

// lookup returns the stored record if it still matches the claims and is usable.
func (s *TokenService) lookup(ctx context.Context, c *Claims) (model.Token, bool, error) {
	rec, err := s.tokens.Get(ctx, c.TokenID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Token{}, false, nil
		}
		return model.Token{}, false, fmt.Errorf("get token: %w", err)
	}
	if !rec.Usable() || rec.SessionID != c.SessionID || rec.AccountID != c.AccountID {
		return model.Token{}, false, nil
	}
	return rec, true, nil
}

// VerifyAccessToken checks signature, issuer, expiry and that the pair has not been
// rotated or revoked.
func (s *TokenService) VerifyAccessToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.signer.parse(token,
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Type != tokenTypeAccess {
		return nil, ErrTokenInvalid
	}

	_, ok, err := s.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// RefreshTokenPair exchanges a refresh token for a new pair. The old pair is
// consumed atomically; of two concurrent exchanges exactly one succeeds.
func (s *TokenService) RefreshTokenPair(ctx context.Context, refreshToken, deviceID string) (TokenPair, model.Account, error) {
	claims, err := s.signer.parse(refreshToken, jwt.WithoutClaimsValidation())
	if err != nil || claims.Type != tokenTypeRefresh || claims.Issuer != tokenIssuer || claims.ExpiresAt == nil {
		return TokenPair{}, model.Account{}, ErrRefreshTokenInvalid
	}

	rec, ok, err := s.lookup(ctx, claims)
	if err != nil {
		return TokenPair{}, model.Account{}, err
	}
	if !ok {
		return TokenPair{}, model.Account{}, ErrRefreshTokenInvalid
	}

	if !s.now().Before(claims.ExpiresAt.Time) {
		return TokenPair{}, model.Account{}, ErrRefreshTokenExpired
	}
	if claims.DeviceID != deviceID {
		return TokenPair{}, model.Account{}, ErrDeviceMismatch
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, model.Account{}, ErrAccountNotFound
		}
		return TokenPair{}, model.Account{}, fmt.Errorf("get account: %w", err)
	}

	next, err := s.tokens.Rotate(ctx, rec.ID, s.newRecord(rec.AccountID, rec.DeviceID, rec.SessionID))
	if err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, model.Account{}, ErrRefreshTokenInvalid
		}
		return TokenPair{}, model.Account{}, fmt.Errorf("rotate token: %w", err)
	}

	pair, err := s.signPair(next)
	if err != nil {
		return TokenPair{}, model.Account{}, err
	}
	return pair, account, nil
}

// RevokeSession invalidates every token pair issued under the session.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID int64) error {
	if err := s.tokens.RevokeBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session %d tokens: %w", sessionID, err)
	}
	return nil
}
