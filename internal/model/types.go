package model

import (
	"time"
)

// Device platforms accepted in the Device-Platform header.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// IsValidPlatform reports whether p is a supported client platform.
func IsValidPlatform(p string) bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	}
	return false
}

// Account represents a customer account
type Account struct {
	ID                    int64
	FullName              string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	CountryID             int64
	CountryCallingCode    string
	Phone                 string
	IsPhoneVerified       bool
	ImageThumbnail        string
	ImageFullsize         string
	LastLoginAt           *time.Time
	LastActivityAt        *time.Time
	RequireChangePassword bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// PhoneWithCode returns the phone number prefixed with the country calling code.
func (a Account) PhoneWithCode() string {
	if a.Phone == "" {
		return ""
	}
	return a.CountryCallingCode + a.Phone
}

// IsDeleted reports whether the account has been soft-deleted.
func (a Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// TOSAcceptance records when an account accepted the terms of service
type TOSAcceptance struct {
	AccountID  int64
	AcceptedAt time.Time
}

// APIKey is a client credential scoped to one app platform
type APIKey struct {
	KeyID         string
	SecretHash    string
	Platform      string
	AppIdentifier string
	IsEnabled     bool
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Device identifies the client device a request comes from.
type Device struct {
	ID       string
	Platform string
	Model    string
}

// Session is a device session. A session is ACTIVE until RevokedAt is set.
type Session struct {
	ID             int64
	AccountID      int64
	DeviceID       string
	DevicePlatform string
	DeviceModel    string
	UserAgent      string
	IPAddress      string
	CreatedAt      time.Time
	RevokedAt      *time.Time
}

// Active reports whether the session has not been revoked.
func (s Session) Active() bool {
	return s.RevokedAt == nil
}

// Token is the stored metadata of one issued access/refresh token pair
type Token struct {
	ID               int64
	SessionID        int64
	AccountID        int64
	DeviceID         string
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ConsumedAt       *time.Time
	RevokedAt        *time.Time
}

// Usable reports whether the pair has been neither rotated nor revoked.
func (t Token) Usable() bool {
	return t.ConsumedAt == nil && t.RevokedAt == nil
}

// OTPPurpose is the operation an OTP challenge authorizes.
type OTPPurpose string

const (
	OTPPurposeRegistration      OTPPurpose = "registration"
	OTPPurposeEmailVerification OTPPurpose = "email-verification"
	OTPPurposePasswordReset     OTPPurpose = "password-reset"
)

// OTPChallenge represents a one-time code sent to a target (email)
type OTPChallenge struct {
	ID            int64
	Key           string
	Purpose       OTPPurpose
	Target        string
	AccountID     int64
	CodeHash      string
	CodeLength    int
	ExpiresAt     time.Time
	SendCount     int
	AttemptCount  int
	ConsumedAt    *time.Time
	InvalidatedAt *time.Time
	CreatedAt     time.Time
}

// Country is a row of the countries reference table
type Country struct {
	ID           int64
	CommonName   string
	OfficialName string
	ISO2Code     string
	ISO3Code     string
	CallingCode  string
	CurrencyCode string
	IsEnabled    bool
	IsHidden     bool
}

// TimeZone is a row of pg_timezone_names
type TimeZone struct {
	Name      string
	Abbrev    string
	UTCOffset string
	IsDST     bool
}
