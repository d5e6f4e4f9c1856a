package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basego/server/internal/logger"
	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

const (
	otpCodeLength  = 6
	otpMaxAttempts = 5
	otpSendWindow  = time.Hour
	otpMaxSends    = 5
)

var defaultOTPTTL = map[model.OTPPurpose]time.Duration{
	model.OTPPurposeRegistration:      24 * time.Hour,
	model.OTPPurposeEmailVerification: 24 * time.Hour,
	model.OTPPurposePasswordReset:     time.Hour,
}

// CodeSender delivers a freshly issued code to the challenge target.
type CodeSender interface {
	SendCode(ctx context.Context, c model.OTPChallenge, code string) error
}

// Challenge is the client-visible part of an issued OTP challenge.
type Challenge struct {
	ID         int64
	Key        string
	CodeLength int
	ExpiresAt  time.Time
}

// Answer is a client's response to a challenge.
type Answer struct {
	ID     int64
	Key    string
	Code   string
	Target string
}

// OTPEngine issues and verifies one-time codes
type OTPEngine struct {
	otps      repo.OtpRepo
	sender    CodeSender
	salt      string
	ttl       map[model.OTPPurpose]time.Duration
	fixedCode string
	now       func() time.Time
	log       *zap.Logger
}

// OTPOption configures an OTPEngine
type OTPOption func(*OTPEngine)

// WithOTPClock overrides the engine clock.
func WithOTPClock(now func() time.Time) OTPOption {
	return func(e *OTPEngine) { e.now = now }
}

// WithOTPTTL overrides the lifetime of challenges issued for purpose.
func WithOTPTTL(purpose model.OTPPurpose, ttl time.Duration) OTPOption {
	return func(e *OTPEngine) { e.ttl[purpose] = ttl }
}

// WithFixedCode makes every challenge use code. Dev mode only.
func WithFixedCode(code string) OTPOption {
	return func(e *OTPEngine) { e.fixedCode = code }
}

// NewOTPEngine creates a new OTP engine
func NewOTPEngine(otps repo.OtpRepo, sender CodeSender, salt string, log *zap.Logger, opts ...OTPOption) *OTPEngine {
	e := &OTPEngine{
		otps:   otps,
		sender: sender,
		salt:   salt,
		ttl:    make(map[model.OTPPurpose]time.Duration, len(defaultOTPTTL)),
		now:    time.Now,
		log:    logger.WithComponent(log, "otp"),
	}
	for p, d := range defaultOTPTTL {
		e.ttl[p] = d
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IssueChallenge replaces any open challenge for (purpose, target) with a new one
// and hands the code to the sender. The code itself is never returned.
func (e *OTPEngine) IssueChallenge(ctx context.Context, purpose model.OTPPurpose, target string, accountID int64) (Challenge, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	now := e.now()

	code := e.fixedCode
	if code == "" {
		var err error
		if code, err = generateCode(otpCodeLength); err != nil {
			return Challenge{}, fmt.Errorf("generate code: %w", err)
		}
	}
	key := strings.ReplaceAll(uuid.NewString(), "-", "")

	ttl, ok := e.ttl[purpose]
	if !ok {
		return Challenge{}, fmt.Errorf("unknown otp purpose %q", purpose)
	}

	c, err := e.otps.CreateOrReplace(ctx, model.OTPChallenge{
		Key:        key,
		Purpose:    purpose,
		Target:     target,
		AccountID:  accountID,
		CodeHash:   hashCode(key, code, e.salt),
		CodeLength: len(code),
		ExpiresAt:  now.Add(ttl),
	}, now.Add(-otpSendWindow), otpMaxSends)
	if err != nil {
		if errors.Is(err, repo.ErrLimitExceeded) {
			return Challenge{}, ErrTooManyRequests
		}
		return Challenge{}, err
	}

	if err := e.sender.SendCode(ctx, c, code); err != nil {
		e.log.Error("failed to deliver verification code",
			zap.Int64("challenge_id", c.ID),
			zap.String("purpose", string(purpose)),
			zap.String("target", logger.MaskEmail(target)),
			zap.Error(err))
	}

	return Challenge{ID: c.ID, Key: c.Key, CodeLength: c.CodeLength, ExpiresAt: c.ExpiresAt}, nil
}

// CancelChallenges invalidates the open challenge for (purpose, target), if any.
func (e *OTPEngine) CancelChallenges(ctx context.Context, purpose model.OTPPurpose, target string) error {
	return e.otps.InvalidateOpen(ctx, purpose, strings.ToLower(strings.TrimSpace(target)))
}

// CheckChallenge runs every verification check without consuming the challenge.
func (e *OTPEngine) CheckChallenge(ctx context.Context, ans Answer, purposes ...model.OTPPurpose) (model.OTPChallenge, error) {
	c, err := e.otps.Get(ctx, ans.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.OTPChallenge{}, ErrChallengeInvalid
		}
		return model.OTPChallenge{}, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Key), []byte(ans.Key)) != 1 {
		return model.OTPChallenge{}, ErrChallengeInvalid
	}
	switch {
	case c.ConsumedAt != nil:
		return model.OTPChallenge{}, ErrChallengeConsumed
	case c.InvalidatedAt != nil:
		return model.OTPChallenge{}, ErrChallengeInvalid
	case len(purposes) > 0 && !slices.Contains(purposes, c.Purpose):
		return model.OTPChallenge{}, ErrChallengeInvalid
	case ans.Target != "" && !strings.EqualFold(strings.TrimSpace(ans.Target), c.Target):
		return model.OTPChallenge{}, ErrChallengeInvalid
	case !e.now().Before(c.ExpiresAt):
		return model.OTPChallenge{}, ErrChallengeExpired
	case c.AttemptCount >= otpMaxAttempts:
		return model.OTPChallenge{}, ErrChallengeInvalid
	}

	// The snapshot above may be stale; the attempt limit is enforced by Attempt.
	matched, err := e.otps.Attempt(ctx, c.ID, hashCode(c.Key, ans.Code, e.salt), otpMaxAttempts)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.OTPChallenge{}, e.closedError(ctx, c.ID)
		}
		return model.OTPChallenge{}, err
	}
	if !matched {
		return model.OTPChallenge{}, ErrCodeMismatch
	}
	return c, nil
}

// closedError tells a consumed challenge apart from an invalidated or
// exhausted one after a lost compare-and-set.
func (e *OTPEngine) closedError(ctx context.Context, id int64) error {
	latest, err := e.otps.Get(ctx, id)
	if err == nil && latest.ConsumedAt != nil {
		return ErrChallengeConsumed
	}
	return ErrChallengeInvalid
}

// VerifyChallenge checks the answer, consumes the challenge and runs effect.
// Of concurrent verifications with the correct code exactly one runs effect.
// When effect fails the challenge is released so the user can retry.
func (e *OTPEngine) VerifyChallenge(ctx context.Context, ans Answer, effect func(context.Context, model.OTPChallenge) error, purposes ...model.OTPPurpose) (model.OTPChallenge, error) {
	c, err := e.CheckChallenge(ctx, ans, purposes...)
	if err != nil {
		return model.OTPChallenge{}, err
	}

	now := e.now()
	if err := e.otps.Consume(ctx, c.ID, now); err != nil {
		if !errors.Is(err, repo.ErrConflict) {
			return model.OTPChallenge{}, err
		}
		return model.OTPChallenge{}, e.closedError(ctx, c.ID)
	}
	c.ConsumedAt = &now

	if effect != nil {
		if err := effect(ctx, c); err != nil {
			if rerr := e.otps.Release(ctx, c.ID); rerr != nil {
				e.log.Error("failed to release challenge", zap.Int64("challenge_id", c.ID), zap.Error(rerr))
			}
			return model.OTPChallenge{}, err
		}
	}
	return c, nil
}

func generateCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func codeMaterial(key, code, salt string) string {
	return key + ":" + code + ":" + salt
}

// hashCode returns SHA-256(key:code:salt) as hex for storage
func hashCode(key, code, salt string) string {
	sum := sha256.Sum256([]byte(codeMaterial(key, code, salt)))
	return hex.EncodeToString(sum[:])
}
