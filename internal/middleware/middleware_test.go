package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/model"
)

func ok(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, nil)
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func mobileRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/client/server_time", nil)
	r.Header.Set(HeaderAPIKey, "key")
	r.Header.Set(HeaderDeviceIdentifier, "device-1")
	r.Header.Set(HeaderDeviceModel, "Pixel 8")
	r.Header.Set(HeaderDevicePlatform, "android")
	r.Header.Set(HeaderAppIdentifier, "com.example.app")
	return r
}

func TestClientHeaders(t *testing.T) {
	tests := []struct {
		name        string
		requireAuth bool
		edit        func(r *http.Request)
		wantStatus  int
		wantMessage string
	}{
		{"complete", false, func(*http.Request) {}, http.StatusOK, ""},
		{"missing api key and model", false, func(r *http.Request) {
			r.Header.Del(HeaderAPIKey)
			r.Header.Del(HeaderDeviceModel)
		}, http.StatusBadRequest, "Request headers are required (API-Key, Device-Model)"},
		{"authorization required", true, func(*http.Request) {}, http.StatusBadRequest, "Request headers are required (Authorization)"},
		{"everything missing", true, func(r *http.Request) { r.Header = http.Header{} }, http.StatusBadRequest,
			"Request headers are required (API-Key, Authorization, Device-Identifier, Device-Model, Device-Platform)"},
		{"unknown platform", false, func(r *http.Request) { r.Header.Set(HeaderDevicePlatform, "symbian") },
			http.StatusBadRequest, "Request header is invalid (Device-Platform)"},
		{"web needs no device headers", false, func(r *http.Request) {
			r.Header.Del(HeaderDeviceIdentifier)
			r.Header.Del(HeaderDeviceModel)
			r.Header.Set(HeaderDevicePlatform, "web")
		}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mobileRequest()
			tt.edit(r)
			rec := httptest.NewRecorder()
			ClientHeaders(tt.requireAuth)(http.HandlerFunc(ok)).ServeHTTP(rec, r)

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := envelope(t, rec)
			assert.Equal(t, tt.wantMessage, env.Error.Message)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, response.CodeHeaderInvalid, env.Error.Code)
			}
		})
	}
}

func TestClientHeaders_AttachesClient(t *testing.T) {
	r := mobileRequest()
	r.Header.Set(HeaderDevicePlatform, "Web")
	r.Header.Set("Origin", "https://app.example.com")
	r.RemoteAddr = "10.0.0.7:5555"

	var got Client
	h := ClientHeaders(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetClient(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, model.PlatformWeb, got.Device.Platform)
	assert.Equal(t, "https://app.example.com", got.AppIdentifier, "web clients are identified by Origin")
	assert.Equal(t, "10.0.0.7", got.IPAddress)
}

type validatorFunc func(ctx context.Context, raw, platform, appIdentifier string) (model.APIKey, error)

func (f validatorFunc) Validate(ctx context.Context, raw, platform, appIdentifier string) (model.APIKey, error) {
	return f(ctx, raw, platform, appIdentifier)
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{nil, http.StatusOK, ""},
		{auth.ErrAPIKeyEmpty, 491, "49101"},
		{auth.ErrAPIKeyInvalid, 491, "49102"},
		{auth.ErrAPIKeyNotFound, 491, "49103"},
		{auth.ErrAPIKeyPlatform, 491, "49104"},
		{auth.ErrAPIKeyAppIdentifier, 491, "49105"},
		{auth.ErrAPIKeyExpired, 491, "49106"},
		{auth.ErrAPIKeyDisabled, 491, "49107"},
		{errors.Join(auth.ErrAPIKeyLookup, errors.New("db down")), http.StatusInternalServerError, "50001"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			var gotPlatform, gotApp string
			v := validatorFunc(func(_ context.Context, _, platform, app string) (model.APIKey, error) {
				gotPlatform, gotApp = platform, app
				return model.APIKey{KeyID: "k1"}, tt.err
			})
			var attached Client
			h := ClientHeaders(false)(APIKey(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attached, _ = GetClient(r.Context())
				ok(w, r)
			})))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, mobileRequest())

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, envelope(t, rec).Error.Code)
			assert.Equal(t, "android", gotPlatform)
			assert.Equal(t, "com.example.app", gotApp)
			if tt.err == nil {
				assert.Equal(t, "k1", attached.APIKey.KeyID)
			}
		})
	}
}

type authorizerFunc func(ctx context.Context, token string, device model.Device) (model.Account, model.Session, error)

func (f authorizerFunc) Authorize(ctx context.Context, token string, device model.Device) (model.Account, model.Session, error) {
	return f(ctx, token, device)
}

func TestAuthenticate(t *testing.T) {
	authz := authorizerFunc(func(_ context.Context, token string, device model.Device) (model.Account, model.Session, error) {
		switch token {
		case "good":
			return model.Account{ID: 7}, model.Session{ID: 3, DeviceID: device.ID}, nil
		case "expired":
			return model.Account{}, model.Session{}, auth.ErrTokenExpired
		case "other-device":
			return model.Account{}, model.Session{}, auth.ErrDeviceMismatch
		}
		return model.Account{}, model.Session{}, auth.ErrTokenInvalid
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"valid", "Bearer good", http.StatusOK, ""},
		{"basic scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "40102"},
		{"no credentials", "Bearer", http.StatusUnauthorized, "40102"},
		{"expired", "Bearer expired", http.StatusUnauthorized, "40104"},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "40103"},
		{"other device", "Bearer other-device", http.StatusUnauthorized, "40105"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var account model.Account
			var session model.Session
			h := ClientHeaders(true)(Authenticate(authz)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				account, _ = GetAccount(r.Context())
				session, _ = GetSession(r.Context())
				ok(w, r)
			})))
			r := mobileRequest()
			r.Header.Set(HeaderAuthorization, tt.header)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, envelope(t, rec).Error.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, int64(7), account.ID)
				assert.Equal(t, "device-1", session.DeviceID)
			}
		})
	}
}

func TestMemoryLimiter(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 2)
	defer rl.Stop()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := rl.Allow(ctx, "ip:1")
	assert.False(t, allowed)
	allowed, _ = rl.Allow(ctx, "ip:2")
	assert.True(t, allowed, "keys are independent")

	now = now.Add(time.Minute + time.Second)
	allowed, _ = rl.Allow(ctx, "ip:1")
	assert.True(t, allowed, "window slides")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 1)
	defer rl.Stop()
	h := RateLimit(rl, IPKey)(http.HandlerFunc(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mobileRequest())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mobileRequest())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, response.CodeOther, envelope(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	RateLimit(failingLimiter{}, IPKey)(http.HandlerFunc(ok)).ServeHTTP(rec, mobileRequest())
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")
}

func TestRequestIDAndRecoverer(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mobileRequest())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	id := rec.Header().Get("X-Request-Id")
	assert.Len(t, id, 8)
	env := envelope(t, rec)
	assert.Equal(t, id, env.ReqID)
	assert.Equal(t, response.CodeOther, env.Error.Code)

	r := mobileRequest()
	r.Header.Set("X-Request-Id", "client-id")
	var seen string
	RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimw.GetReqID(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "client-id", seen)
}
