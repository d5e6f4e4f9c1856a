package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

// recordingSender keeps the last code sent per challenge.
type recordingSender struct {
	mu    sync.Mutex
	codes map[int64]string
	err   error
}

func (s *recordingSender) SendCode(_ context.Context, c model.OTPChallenge, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[int64]string{}
	}
	s.codes[c.ID] = code
	return s.err
}

func (s *recordingSender) code(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[id]
}

// slowOTPRepo delays reads the way a database round trip does, widening the
// gap between loading a challenge and recording an attempt on it.
type slowOTPRepo struct {
	repo.OtpRepo
	delay time.Duration
}

func (r slowOTPRepo) Get(ctx context.Context, id int64) (model.OTPChallenge, error) {
	time.Sleep(r.delay)
	return r.OtpRepo.Get(ctx, id)
}

func newOTPFixture(t *testing.T) (*OTPEngine, *recordingSender, *fakeClock) {
	t.Helper()
	f := newFixture(t)
	sender := &recordingSender{}
	engine := NewOTPEngine(f.store.OTPs(), sender, "test-salt", zap.NewNop(), WithOTPClock(f.clock.Now))
	return engine, sender, f.clock
}

func answer(c Challenge, code string) Answer {
	return Answer{ID: c.ID, Key: c.Key, Code: code, Target: testEmail}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestHashCode(t *testing.T) {
	h1 := hashCode("key", "123456", "salt")
	assert.Equal(t, h1, hashCode("key", "123456", "salt"), "hash should be deterministic")
	decoded, err := hex.DecodeString(h1)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	assert.NotEqual(t, h1, hashCode("other", "123456", "salt"))
	assert.NotEqual(t, h1, hashCode("key", "654321", "salt"))
	assert.NotEqual(t, h1, hashCode("key", "123456", "pepper"))
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(otpCodeLength)
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{6}$`, code)
	}
}

func TestOTPEngine_IssueChallenge(t *testing.T) {
	engine, sender, clock := newOTPFixture(t)

	c, err := engine.IssueChallenge(context.Background(), model.OTPPurposeRegistration, " Jane@Example.com", 7)
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Len(t, c.Key, 32)
	assert.Equal(t, otpCodeLength, c.CodeLength)
	assert.Equal(t, clock.Now().Add(24*time.Hour), c.ExpiresAt)
	assert.Len(t, sender.code(c.ID), otpCodeLength)

	reset, err := engine.IssueChallenge(context.Background(), model.OTPPurposePasswordReset, testEmail, 7)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), reset.ExpiresAt)
}

func TestOTPEngine_VerifyIsSingleUse(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)

	var runs int
	effect := func(context.Context, model.OTPChallenge) error { runs++; return nil }

	got, err := engine.VerifyChallenge(ctx, answer(c, sender.code(c.ID)), effect, model.OTPPurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccountID)
	assert.NotNil(t, got.ConsumedAt)

	_, err = engine.VerifyChallenge(ctx, answer(c, sender.code(c.ID)), effect, model.OTPPurposeRegistration)
	assert.ErrorIs(t, err, ErrChallengeConsumed)
	assert.Equal(t, 1, runs)
}

func TestOTPEngine_ConcurrentVerifyRunsEffectOnce(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposeEmailVerification, testEmail, 1)
	require.NoError(t, err)
	ans := answer(c, sender.code(c.ID))

	var runs atomic.Int32
	effect := func(context.Context, model.OTPChallenge) error { runs.Add(1); return nil }

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.VerifyChallenge(ctx, ans, effect)
			if err != nil {
				assert.ErrorIs(t, err, ErrChallengeConsumed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestOTPEngine_ReissueInvalidatesPrevious(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	first, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	second, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)

	_, err = engine.VerifyChallenge(ctx, answer(first, sender.code(first.ID)), nil)
	assert.ErrorIs(t, err, ErrChallengeInvalid)

	_, err = engine.VerifyChallenge(ctx, answer(second, sender.code(second.ID)), nil)
	assert.NoError(t, err)
}

func TestOTPEngine_CancelChallenges(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	require.NoError(t, engine.CancelChallenges(ctx, model.OTPPurposeRegistration, "JANE@example.com"))

	_, err = engine.VerifyChallenge(ctx, answer(c, sender.code(c.ID)), nil)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestOTPEngine_VerifyRejects(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposePasswordReset, testEmail, 1)
	require.NoError(t, err)
	code := sender.code(c.ID)

	tests := []struct {
		name     string
		ans      Answer
		purposes []model.OTPPurpose
		want     error
	}{
		{"unknown id", Answer{ID: 999, Key: c.Key, Code: code}, nil, ErrChallengeInvalid},
		{"wrong key", Answer{ID: c.ID, Key: "nope", Code: code}, nil, ErrChallengeInvalid},
		{"wrong purpose", answer(c, code), []model.OTPPurpose{model.OTPPurposeRegistration}, ErrChallengeInvalid},
		{"wrong target", Answer{ID: c.ID, Key: c.Key, Code: code, Target: "john@example.com"}, nil, ErrChallengeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.VerifyChallenge(ctx, tt.ans, nil, tt.purposes...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// none of the above consumed the challenge
	_, err = engine.VerifyChallenge(ctx, answer(c, code), nil, model.OTPPurposePasswordReset)
	assert.NoError(t, err)
}

func TestOTPEngine_AttemptLimit(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	code := sender.code(c.ID)

	for i := 0; i < otpMaxAttempts; i++ {
		_, err := engine.VerifyChallenge(ctx, answer(c, wrongCode(code)), nil)
		assert.ErrorIs(t, err, ErrCodeMismatch)
	}
	_, err = engine.VerifyChallenge(ctx, answer(c, code), nil)
	assert.ErrorIs(t, err, ErrChallengeInvalid, "locked after too many attempts")
}

func TestOTPEngine_ConcurrentWrongGuessesRespectLimit(t *testing.T) {
	f := newFixture(t)
	sender := &recordingSender{}
	engine := NewOTPEngine(slowOTPRepo{OtpRepo: f.store.OTPs(), delay: 10 * time.Millisecond},
		sender, "test-salt", zap.NewNop(), WithOTPClock(f.clock.Now))
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposePasswordReset, testEmail, 1)
	require.NoError(t, err)
	code := sender.code(c.ID)
	ans := answer(c, wrongCode(code))

	var (
		wg         sync.WaitGroup
		mismatches atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.VerifyChallenge(ctx, ans, nil, model.OTPPurposePasswordReset)
			if errors.Is(err, ErrCodeMismatch) {
				mismatches.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrChallengeInvalid)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(otpMaxAttempts), mismatches.Load(), "only the allowed number of guesses is compared")
	stored, err := f.store.OTPs().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, otpMaxAttempts, stored.AttemptCount)

	_, err = engine.VerifyChallenge(ctx, answer(c, code), nil, model.OTPPurposePasswordReset)
	assert.ErrorIs(t, err, ErrChallengeInvalid, "the right code no longer works once locked")
}

func TestOTPEngine_Expiry(t *testing.T) {
	engine, sender, clock := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposePasswordReset, testEmail, 1)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = engine.VerifyChallenge(ctx, answer(c, sender.code(c.ID)), nil)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestOTPEngine_CheckDoesNotConsume(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposePasswordReset, testEmail, 1)
	require.NoError(t, err)
	ans := answer(c, sender.code(c.ID))

	_, err = engine.CheckChallenge(ctx, ans, model.OTPPurposePasswordReset)
	require.NoError(t, err)
	_, err = engine.CheckChallenge(ctx, ans, model.OTPPurposePasswordReset)
	require.NoError(t, err)

	_, err = engine.VerifyChallenge(ctx, ans, nil, model.OTPPurposePasswordReset)
	assert.NoError(t, err)
	_, err = engine.CheckChallenge(ctx, ans, model.OTPPurposePasswordReset)
	assert.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestOTPEngine_EffectFailureReleases(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	ctx := context.Background()

	c, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	ans := answer(c, sender.code(c.ID))

	boom := errors.New("boom")
	_, err = engine.VerifyChallenge(ctx, ans, func(context.Context, model.OTPChallenge) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = engine.VerifyChallenge(ctx, ans, nil)
	assert.NoError(t, err, "challenge is usable again after a failed effect")
}

func TestOTPEngine_SendRateLimit(t *testing.T) {
	engine, _, clock := newOTPFixture(t)
	ctx := context.Background()

	for i := 0; i < otpMaxSends; i++ {
		_, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
		require.NoError(t, err)
	}
	_, err := engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	assert.ErrorIs(t, err, ErrTooManyRequests)

	// other purposes have their own budget
	_, err = engine.IssueChallenge(ctx, model.OTPPurposePasswordReset, testEmail, 1)
	assert.NoError(t, err)

	clock.Advance(otpSendWindow + time.Second)
	_, err = engine.IssueChallenge(ctx, model.OTPPurposeRegistration, testEmail, 1)
	assert.NoError(t, err)
}

func TestOTPEngine_ConcurrentSendsShareBudget(t *testing.T) {
	engine, _, _ := newOTPFixture(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		issued  atomic.Int32
		limited atomic.Int32
	)
	for i := 0; i < 4*otpMaxSends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.IssueChallenge(ctx, model.OTPPurposeEmailVerification, testEmail, 1)
			switch {
			case err == nil:
				issued.Add(1)
			case errors.Is(err, ErrTooManyRequests):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(otpMaxSends), issued.Load())
	assert.Equal(t, int32(3*otpMaxSends), limited.Load())
}

func TestOTPEngine_SendFailureIsNotFatal(t *testing.T) {
	engine, sender, _ := newOTPFixture(t)
	sender.err = errors.New("smtp down")

	c, err := engine.IssueChallenge(context.Background(), model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
}

func TestOTPEngine_FixedCode(t *testing.T) {
	f := newFixture(t)
	sender := &recordingSender{}
	engine := NewOTPEngine(f.store.OTPs(), sender, "salt", zap.NewNop(), WithFixedCode("123456"))

	c, err := engine.IssueChallenge(context.Background(), model.OTPPurposeRegistration, testEmail, 1)
	require.NoError(t, err)
	assert.Equal(t, "123456", sender.code(c.ID))
	_, err = engine.VerifyChallenge(context.Background(), answer(c, "123456"), nil)
	assert.NoError(t, err)
}
