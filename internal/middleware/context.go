package middleware

import (
	"context"

	"github.com/basego/server/internal/model"
)

type contextKey string

const (
	clientKey  contextKey = "client"
	accountKey contextKey = "account"
	sessionKey contextKey = "session"
	loggerKey  contextKey = "logger"
)

// Client describes the calling app and device, taken from the request headers.
type Client struct {
	APIKey        model.APIKey
	Device        model.Device
	AppIdentifier string
	UserAgent     string
	IPAddress     string
}

// GetClient returns the client attached by ClientHeaders.
func GetClient(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey).(Client)
	return c, ok
}

// GetAccount returns the account attached by Authenticate.
func GetAccount(ctx context.Context) (model.Account, bool) {
	a, ok := ctx.Value(accountKey).(model.Account)
	return a, ok
}

// GetSession returns the session attached by Authenticate.
func GetSession(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}
