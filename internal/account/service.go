// Package account implements the customer account flows that sit on top of
// the credential store and the OTP engine.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/logger"
	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

// ParamError is a request parameter rejected by a business rule.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func paramError(field, message string) error {
	return &ParamError{Field: field, Message: message}
}

// Result is the outcome of an operation that can be declined without being an error.
type Result struct {
	Success bool
	Message string
}

// ChallengeResult is a Result that may carry a newly issued OTP challenge.
type ChallengeResult struct {
	Result
	Challenge auth.Challenge
}

// RegisterInput holds the registration parameters
type RegisterInput struct {
	FullName      string
	Email         string
	Password      string
	IsTOSAccepted bool
}

// Profile is an account together with its terms-of-service state
type Profile struct {
	Account model.Account
	TOS     *model.TOSAcceptance
}

// Service implements registration, verification, password and profile flows
type Service struct {
	accounts  repo.AccountRepo
	reference repo.ReferenceRepo
	otp       *auth.OTPEngine
	log       *zap.Logger
}

// NewService creates a new account service
func NewService(accounts repo.AccountRepo, reference repo.ReferenceRepo, otp *auth.OTPEngine, log *zap.Logger) *Service {
	return &Service{
		accounts:  accounts,
		reference: reference,
		otp:       otp,
		log:       logger.WithComponent(log, "account"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// lookup returns the account for email, or ok=false when there is none.
func (s *Service) lookup(ctx context.Context, email string) (model.Account, bool, error) {
	a, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, false, nil
		}
		return model.Account{}, false, fmt.Errorf("get account: %w", err)
	}
	return a, true, nil
}

// Register creates an unverified account and sends it a registration code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (ChallengeResult, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return ChallengeResult{}, err
	}

	a, err := s.accounts.Create(ctx, model.Account{
		FullName:     strings.TrimSpace(in.FullName),
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
	}, in.IsTOSAccepted)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return ChallengeResult{}, paramError("email", "The email address is already registered")
		}
		return ChallengeResult{}, fmt.Errorf("create account: %w", err)
	}
	s.log.Info("account registered", zap.Int64("account_id", a.ID), zap.String("email", logger.MaskEmail(a.Email)))

	c, err := s.otp.IssueChallenge(ctx, model.OTPPurposeRegistration, a.Email, a.ID)
	if err != nil {
		return ChallengeResult{}, err
	}
	return ChallengeResult{Result: Result{Success: true}, Challenge: c}, nil
}

// SubmitVerification marks the account verified when ans is a valid
// registration or email-verification answer.
func (s *Service) SubmitVerification(ctx context.Context, email string, ans auth.Answer) (Result, error) {
	a, ok, err := s.lookup(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, paramError("email", "The email address is not registered")
	}
	if a.IsEmailVerified {
		return Result{Message: "The account has already been verified"}, nil
	}

	ans.Target = a.Email
	_, err = s.otp.VerifyChallenge(ctx, ans, func(ctx context.Context, _ model.OTPChallenge) error {
		return s.accounts.SetEmailVerified(ctx, a.ID)
	}, model.OTPPurposeRegistration, model.OTPPurposeEmailVerification)
	if err != nil {
		return Result{}, verificationError(err)
	}
	s.log.Info("account verified", zap.Int64("account_id", a.ID))
	return Result{Success: true, Message: "Your account verification is successful"}, nil
}

// ResendVerification replaces the pending verification code with a new one.
func (s *Service) ResendVerification(ctx context.Context, email string) (ChallengeResult, error) {
	a, ok, err := s.lookup(ctx, email)
	if err != nil {
		return ChallengeResult{}, err
	}
	if !ok {
		return ChallengeResult{}, paramError("email", "The email address is not registered")
	}
	if a.IsEmailVerified {
		return ChallengeResult{Result: Result{Message: "The account has already been verified"}}, nil
	}

	if err := s.otp.CancelChallenges(ctx, model.OTPPurposeRegistration, a.Email); err != nil {
		return ChallengeResult{}, err
	}
	c, err := s.otp.IssueChallenge(ctx, model.OTPPurposeEmailVerification, a.Email, a.ID)
	if err != nil {
		return ChallengeResult{}, err
	}
	return ChallengeResult{Result: Result{Success: true}, Challenge: c}, nil
}

// RequestPasswordReset sends a password reset code to the account email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (ChallengeResult, error) {
	a, ok, err := s.lookup(ctx, email)
	if err != nil {
		return ChallengeResult{}, err
	}
	if !ok {
		return ChallengeResult{}, paramError("", "The email address is invalid")
	}

	c, err := s.otp.IssueChallenge(ctx, model.OTPPurposePasswordReset, a.Email, a.ID)
	if err != nil {
		return ChallengeResult{}, err
	}
	return ChallengeResult{Result: Result{Success: true}, Challenge: c}, nil
}

// VerifyPasswordReset checks a reset answer without consuming it.
func (s *Service) VerifyPasswordReset(ctx context.Context, email string, ans auth.Answer) (Result, error) {
	a, ok, err := s.lookup(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "Invalid request"}, nil
	}

	ans.Target = a.Email
	if _, err := s.otp.CheckChallenge(ctx, ans, model.OTPPurposePasswordReset); err != nil {
		return Result{}, resetError(err)
	}
	return Result{Success: true}, nil
}

// SetPassword consumes a reset answer and replaces the account password.
func (s *Service) SetPassword(ctx context.Context, email string, ans auth.Answer, password string) (Result, error) {
	a, ok, err := s.lookup(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "Invalid request"}, nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Result{}, err
	}
	ans.Target = a.Email
	_, err = s.otp.VerifyChallenge(ctx, ans, func(ctx context.Context, _ model.OTPChallenge) error {
		return s.accounts.UpdatePassword(ctx, a.ID, hash)
	}, model.OTPPurposePasswordReset)
	if err != nil {
		return Result{}, resetError(err)
	}
	s.log.Info("password reset", zap.Int64("account_id", a.ID))
	return Result{Success: true, Message: "Password changed successfully"}, nil
}

// Profile returns the account and its terms-of-service acceptance.
func (s *Service) Profile(ctx context.Context, a model.Account) (Profile, error) {
	tos, err := s.accounts.GetTOS(ctx, a.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Profile{Account: a}, nil
		}
		return Profile{}, fmt.Errorf("get tos: %w", err)
	}
	return Profile{Account: a, TOS: &tos}, nil
}

// AcceptTOS records the terms-of-service acceptance. createdTime is the
// account creation time in milliseconds, echoed back by the client.
func (s *Service) AcceptTOS(ctx context.Context, a model.Account, createdTime int64) (Result, error) {
	if createdTime == 0 {
		return Result{}, paramError("createdTime", "Created time is required")
	}
	if createdTime != a.CreatedAt.UnixMilli() {
		return Result{}, paramError("createdTime", "Created time is invalid")
	}

	_, created, err := s.accounts.AcceptTOS(ctx, a.ID)
	if err != nil {
		return Result{}, fmt.Errorf("accept tos: %w", err)
	}
	if !created {
		return Result{Message: "Terms of Service is already accepted"}, nil
	}
	return Result{Success: true, Message: "Terms of Service is accepted."}, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, a model.Account, current, next string) (Result, error) {
	if !auth.CheckPassword(a.PasswordHash, current) {
		return Result{}, paramError("password", "Current password is invalid")
	}
	if err := auth.ValidatePasswordFormat(next); err != nil {
		return Result{}, paramError("newPassword", err.Error())
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return Result{}, err
	}
	if err := s.accounts.UpdatePassword(ctx, a.ID, hash); err != nil {
		return Result{}, fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password changed", zap.Int64("account_id", a.ID))
	return Result{Success: true, Message: "Password changed successfully"}, nil
}

// Countries lists the countries reference table.
func (s *Service) Countries(ctx context.Context) ([]model.Country, error) {
	return s.reference.ListCountries(ctx)
}

// TimeZones lists the time zones known to the database.
func (s *Service) TimeZones(ctx context.Context) ([]model.TimeZone, error) {
	return s.reference.ListTimeZones(ctx)
}

func verificationError(err error) error {
	switch {
	case errors.Is(err, auth.ErrCodeMismatch):
		return paramError("otpCode", "Verification code is incorrect")
	case errors.Is(err, auth.ErrChallengeInvalid):
		return paramError("otpKey", "Verification key is invalid")
	case errors.Is(err, auth.ErrChallengeExpired), errors.Is(err, auth.ErrChallengeConsumed):
		return paramError("", "There is no pending verification found, or the code has expired")
	}
	return err
}

func resetError(err error) error {
	switch {
	case errors.Is(err, auth.ErrCodeMismatch):
		return paramError("otpCode", "Token is incorrect")
	case errors.Is(err, auth.ErrChallengeInvalid):
		return paramError("otpCode", "Token is invalid")
	case errors.Is(err, auth.ErrChallengeExpired), errors.Is(err, auth.ErrChallengeConsumed):
		return paramError("", "There is no reset password request found, or the code has expired")
	}
	return err
}
