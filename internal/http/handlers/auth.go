package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/middleware"
	"github.com/basego/server/internal/model"
)

// SessionManager opens and closes device sessions.
type SessionManager interface {
	Login(ctx context.Context, req auth.LoginRequest) (model.Account, auth.TokenPair, error)
	Logout(ctx context.Context, sessionID int64) error
}

// TokenRefresher rotates refresh tokens.
type TokenRefresher interface {
	RefreshTokenPair(ctx context.Context, refreshToken, deviceID string) (auth.TokenPair, model.Account, error)
}

// AuthHandler handles the access token endpoints
type AuthHandler struct {
	sessions SessionManager
	tokens   TokenRefresher
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions SessionManager, tokens TokenRefresher) *AuthHandler {
	return &AuthHandler{sessions: sessions, tokens: tokens}
}

type tokenResponse struct {
	AccessToken        string          `json:"accessToken"`
	AccessTokenExpiry  int64           `json:"accessTokenExpiry"`
	RefreshToken       string          `json:"refreshToken"`
	RefreshTokenExpiry int64           `json:"refreshTokenExpiry"`
	Account            accountResponse `json:"account"`
}

func newTokenResponse(pair auth.TokenPair, a model.Account) tokenResponse {
	return tokenResponse{
		AccessToken:        pair.AccessToken,
		AccessTokenExpiry:  pair.AccessTokenExpiry.UnixMilli(),
		RefreshToken:       pair.RefreshToken,
		RefreshTokenExpiry: pair.RefreshTokenExpiry.UnixMilli(),
		Account:            newAccountResponse(a),
	}
}

// RequestAccessToken handles POST /v1/auth/access_token/request with
// Basic credentials.
func (h *AuthHandler) RequestAccessToken(w http.ResponseWriter, r *http.Request) {
	client, _ := middleware.GetClient(r.Context())
	credentials, ok := middleware.Credentials(w, r, "Basic")
	if !ok {
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		response.Fail(w, r, http.StatusUnauthorized, response.CodeTokenInvalid, "Failed to parse the credentials")
		return
	}
	email, password, found := strings.Cut(string(decoded), ":")
	if !found || email == "" || password == "" {
		response.Fail(w, r, http.StatusUnauthorized, response.CodeTokenInvalid, "The credentials are invalid")
		return
	}

	account, pair, err := h.sessions.Login(r.Context(), auth.LoginRequest{
		Email:     email,
		Password:  password,
		Device:    client.Device,
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
	})
	if err != nil {
		middleware.WriteAuthError(w, r, err)
		return
	}
	response.JSON(w, r, newTokenResponse(pair, account))
}

// RefreshAccessToken handles POST /v1/auth/access_token/refresh with the
// refresh token as Bearer credentials.
func (h *AuthHandler) RefreshAccessToken(w http.ResponseWriter, r *http.Request) {
	client, _ := middleware.GetClient(r.Context())
	token, ok := middleware.Credentials(w, r, "Bearer")
	if !ok {
		return
	}

	pair, account, err := h.tokens.RefreshTokenPair(r.Context(), token, client.Device.ID)
	if err != nil {
		middleware.WriteAuthError(w, r, err)
		return
	}
	response.JSON(w, r, newTokenResponse(pair, account))
}
