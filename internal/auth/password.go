package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password length bounds.
const (
	PasswordMinLength = 6
	PasswordMaxLength = 32
)

var bcryptCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordFormat requires 6-32 characters with at least one lowercase,
// uppercase, digit and special character.
func ValidatePasswordFormat(password string) error {
	if password == "" {
		return errors.New("Password is empty")
	}
	if l := len(password); l < PasswordMinLength || l > PasswordMaxLength {
		return fmt.Errorf("Password's length must be %d-%d characters", PasswordMinLength, PasswordMaxLength)
	}
	var upper, lower, digit, special int
	for _, c := range password {
		switch {
		case c >= '0' && c <= '9':
			digit++
		case c >= 'a' && c <= 'z':
			lower++
		case c >= 'A' && c <= 'Z':
			upper++
		default:
			special++
		}
	}
	if upper == 0 || lower == 0 || digit == 0 || special == 0 {
		return errors.New("Password must contain at least 1 lowercase, uppercase, and special characters and 1 number")
	}
	return nil
}
