package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/model"
)

// Request headers read by the gateway.
const (
	HeaderAPIKey           = "API-Key"
	HeaderAuthorization    = "Authorization"
	HeaderDeviceIdentifier = "Device-Identifier"
	HeaderDeviceModel      = "Device-Model"
	HeaderDevicePlatform   = "Device-Platform"
	HeaderAppIdentifier    = "App-Identifier"
)

// ClientHeaders checks the client headers and attaches a Client to the
// context. Authorization is only required when requireAuthorization is set.
func ClientHeaders(requireAuthorization bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header
			platform := strings.ToLower(strings.TrimSpace(h.Get(HeaderDevicePlatform)))
			web := platform == model.PlatformWeb

			var missing []string
			if h.Get(HeaderAPIKey) == "" {
				missing = append(missing, HeaderAPIKey)
			}
			if requireAuthorization && h.Get(HeaderAuthorization) == "" {
				missing = append(missing, HeaderAuthorization)
			}
			if !web && h.Get(HeaderDeviceIdentifier) == "" {
				missing = append(missing, HeaderDeviceIdentifier)
			}
			if !web && h.Get(HeaderDeviceModel) == "" {
				missing = append(missing, HeaderDeviceModel)
			}
			if platform == "" {
				missing = append(missing, HeaderDevicePlatform)
			}
			if len(missing) > 0 {
				response.Fail(w, r, http.StatusBadRequest, response.CodeHeaderInvalid,
					"Request headers are required ("+strings.Join(missing, ", ")+")")
				return
			}
			if !model.IsValidPlatform(platform) {
				response.Fail(w, r, http.StatusBadRequest, response.CodeHeaderInvalid,
					"Request header is invalid ("+HeaderDevicePlatform+")")
				return
			}

			appIdentifier := h.Get(HeaderAppIdentifier)
			if web {
				appIdentifier = h.Get("Origin")
			}
			client := Client{
				Device: model.Device{
					ID:       strings.TrimSpace(h.Get(HeaderDeviceIdentifier)),
					Platform: platform,
					Model:    strings.TrimSpace(h.Get(HeaderDeviceModel)),
				},
				AppIdentifier: appIdentifier,
				UserAgent:     r.UserAgent(),
				IPAddress:     clientIP(r),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey, client)))
		})
	}
}

// APIKeyValidator validates the API-Key header value for a client.
type APIKeyValidator interface {
	Validate(ctx context.Context, raw, platform, appIdentifier string) (model.APIKey, error)
}

var apiKeyErrorCodes = []struct {
	err  error
	code string
}{
	{auth.ErrAPIKeyEmpty, response.CodeAPIKeyEmpty},
	{auth.ErrAPIKeyInvalid, response.CodeAPIKeyInvalid},
	{auth.ErrAPIKeyNotFound, response.CodeAPIKeyNotFound},
	{auth.ErrAPIKeyPlatform, response.CodeAPIKeyPlatformInvalid},
	{auth.ErrAPIKeyAppIdentifier, response.CodeAPIKeyAppIdentifierInvalid},
	{auth.ErrAPIKeyExpired, response.CodeAPIKeyExpired},
	{auth.ErrAPIKeyDisabled, response.CodeAPIKeyDisabled},
}

// APIKey validates the API-Key header against the client attached by
// ClientHeaders, which must run first.
func APIKey(v APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := GetClient(r.Context())
			if !ok {
				response.InternalError(w, r)
				return
			}

			key, err := v.Validate(r.Context(), r.Header.Get(HeaderAPIKey), client.Device.Platform, client.AppIdentifier)
			if err != nil {
				for _, e := range apiKeyErrorCodes {
					if errors.Is(err, e.err) {
						response.Fail(w, r, response.StatusAPIKeyInvalid, e.code, e.err.Error())
						return
					}
				}
				Log(r.Context()).Error("api key validation failed", zap.Error(err))
				response.Fail(w, r, http.StatusInternalServerError, response.CodeAPIKeyValidationFailed,
					"An error occurred while validating API-Key")
				return
			}

			client.APIKey = key
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey, client)))
		})
	}
}
