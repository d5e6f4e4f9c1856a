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

// Authorizer resolves an access token presented by a device.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string, device model.Device) (model.Account, model.Session, error)
}

// Credentials returns the credentials of the Authorization header when it
// uses scheme ("Basic" or "Bearer"). Otherwise it writes the error response
// and returns false.
func Credentials(w http.ResponseWriter, r *http.Request, scheme string) (string, bool) {
	header := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if header == "" {
		response.Fail(w, r, http.StatusUnauthorized, response.CodeAuthorizationEmpty, "Authorization is required")
		return "", false
	}
	got, credentials, found := strings.Cut(header, " ")
	if !strings.EqualFold(got, scheme) {
		response.Fail(w, r, http.StatusUnauthorized, response.CodeAuthorizationFormatInvalid,
			"Authorization type is invalid or not supported")
		return "", false
	}
	credentials = strings.TrimSpace(credentials)
	if !found || credentials == "" {
		response.Fail(w, r, http.StatusUnauthorized, response.CodeAuthorizationFormatInvalid,
			"Authorization format is invalid")
		return "", false
	}
	return credentials, true
}

// Authenticate requires a Bearer access token issued to the calling device and
// attaches the account and session to the context.
func Authenticate(authz Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := GetClient(r.Context())
			if !ok {
				response.InternalError(w, r)
				return
			}
			token, ok := Credentials(w, r, "Bearer")
			if !ok {
				return
			}

			account, session, err := authz.Authorize(r.Context(), token, client.Device)
			if err != nil {
				WriteAuthError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, account)
			ctx = context.WithValue(ctx, sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteAuthError maps token and session failures to the response envelope.
func WriteAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var code, msg string
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		code, msg = response.CodeTokenExpired, "Access token has expired"
	case errors.Is(err, auth.ErrRefreshTokenExpired):
		code, msg = response.CodeTokenExpired, "Refresh token has expired"
	case errors.Is(err, auth.ErrTokenInvalid):
		code, msg = response.CodeTokenInvalid, "Access token is invalid"
	case errors.Is(err, auth.ErrRefreshTokenInvalid):
		code, msg = response.CodeTokenInvalid, "Refresh token is invalid"
	case errors.Is(err, auth.ErrSessionRevoked):
		code, msg = response.CodeTokenInvalid, "Account session is not found"
	case errors.Is(err, auth.ErrDeviceMismatch):
		code, msg = response.CodeNotTokenOwner, "The token does not belong to this device"
	case errors.Is(err, auth.ErrAccountNotFound):
		code, msg = response.CodeAccountNotFound, "Account is not found"
	case errors.Is(err, auth.ErrCredentialsInvalid):
		code, msg = response.CodeTokenInvalid, "The email and password does not match"
	case errors.Is(err, auth.ErrAccountNotVerified):
		code, msg = response.CodeAccountNotVerified, "Your account has not been verified yet"
	default:
		Log(r.Context()).Error("authorization failed", zap.Error(err))
		response.InternalError(w, r)
		return
	}
	response.Fail(w, r, http.StatusUnauthorized, code, msg)
}
