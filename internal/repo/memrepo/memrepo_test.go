package memrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

func openWithToken(t *testing.T, s *Store, deviceID string) (model.Session, model.Token) {
	t.Helper()
	ctx := context.Background()
	sess, _, err := s.Sessions().Open(ctx, model.Session{AccountID: 1, DeviceID: deviceID})
	require.NoError(t, err)
	tok, err := s.Tokens().Create(ctx, model.Token{SessionID: sess.ID, AccountID: 1, DeviceID: deviceID})
	require.NoError(t, err)
	return sess, tok
}

func TestSessionsOpenRevokesSupersededTokens(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, firstTok := openWithToken(t, s, "device-1")
	_, otherTok := openWithToken(t, s, "device-2")

	_, superseded, err := s.Sessions().Open(ctx, model.Session{AccountID: 1, DeviceID: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, superseded)

	got, err := s.Tokens().Get(ctx, firstTok.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt, "tokens go down with their session")

	got, err = s.Tokens().Get(ctx, otherTok.ID)
	require.NoError(t, err)
	assert.True(t, got.Usable())
}

func TestSessionsRevokeRevokesTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, tok := openWithToken(t, s, "device-1")

	require.NoError(t, s.Sessions().Revoke(ctx, sess.ID))
	got, err := s.Tokens().Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)

	assert.ErrorIs(t, s.Sessions().Revoke(ctx, 999), repo.ErrNotFound)
}

func TestOTPAttemptStopsAtLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, err := s.OTPs().CreateOrReplace(ctx, model.OTPChallenge{
		Key: "k", Purpose: model.OTPPurposeRegistration, Target: "a@b.c", CodeHash: "right",
	}, time.Now().Add(-time.Hour), 5)
	require.NoError(t, err)

	matched, err := s.OTPs().Attempt(ctx, c.ID, "right", 2)
	require.NoError(t, err)
	assert.True(t, matched, "a match is not counted")

	for i := 0; i < 2; i++ {
		matched, err := s.OTPs().Attempt(ctx, c.ID, "wrong", 2)
		require.NoError(t, err)
		assert.False(t, matched)
	}
	_, err = s.OTPs().Attempt(ctx, c.ID, "right", 2)
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, err := s.OTPs().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)

	_, err = s.OTPs().Attempt(ctx, 999, "right", 2)
	assert.ErrorIs(t, err, repo.ErrConflict)
}

func TestOTPCreateOrReplaceSendBudget(t *testing.T) {
	s := New()
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)
	c := model.OTPChallenge{Key: "k", Purpose: model.OTPPurposePasswordReset, Target: "a@b.c"}

	first, err := s.OTPs().CreateOrReplace(ctx, c, since, 2)
	require.NoError(t, err)
	second, err := s.OTPs().CreateOrReplace(ctx, c, since, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, second.SendCount)

	_, err = s.OTPs().CreateOrReplace(ctx, c, since, 2)
	assert.ErrorIs(t, err, repo.ErrLimitExceeded)

	prev, err := s.OTPs().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, prev.InvalidatedAt)
	current, err := s.OTPs().Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, current.InvalidatedAt, "a refused issue leaves the open challenge alone")

	_, err = s.OTPs().CreateOrReplace(ctx, c, time.Now().Add(time.Minute), 2)
	assert.NoError(t, err, "older challenges fall out of the window")
}
