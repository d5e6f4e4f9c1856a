package auth

import "errors"

// Token and session failures.
var (
	ErrTokenInvalid        = errors.New("access token is invalid")
	ErrTokenExpired        = errors.New("access token has expired")
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid")
	ErrRefreshTokenExpired = errors.New("refresh token has expired")
	ErrDeviceMismatch      = errors.New("token does not belong to this device")
	ErrSessionRevoked      = errors.New("session has been revoked")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCredentialsInvalid  = errors.New("the email and password does not match")
	ErrAccountNotVerified  = errors.New("account has not been verified")
)

// OTP failures.
var (
	ErrChallengeInvalid  = errors.New("verification code is invalid")
	ErrChallengeExpired  = errors.New("verification code has expired")
	ErrChallengeConsumed = errors.New("verification code has already been used")
	ErrCodeMismatch      = errors.New("verification code does not match")
	ErrTooManyRequests   = errors.New("too many verification codes requested")
)

// API key failures.
var (
	ErrAPIKeyEmpty         = errors.New("API-Key is required")
	ErrAPIKeyInvalid       = errors.New("API-Key is invalid")
	ErrAPIKeyNotFound      = errors.New("API-Key is not found")
	ErrAPIKeyPlatform      = errors.New("API-Key is invalid for the platform")
	ErrAPIKeyAppIdentifier = errors.New("API-Key is invalid for the app identifier")
	ErrAPIKeyExpired       = errors.New("API-Key has expired")
	ErrAPIKeyDisabled      = errors.New("API-Key is disabled")
	ErrAPIKeyLookup        = errors.New("an error occurred while validating API-Key")
)
