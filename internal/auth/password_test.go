package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, hash)
	assert.True(t, CheckPassword(hash, testPassword))
	assert.False(t, CheckPassword(hash, "other"))
	assert.False(t, CheckPassword("not-a-hash", testPassword))
}

func TestValidatePasswordFormat(t *testing.T) {
	tests := []struct {
		password string
		wantErr  string
	}{
		{"Secr3t!pw", ""},
		{"", "Password is empty"},
		{"Ab1!", "Password's length must be 6-32 characters"},
		{"Aa1!aaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "Password's length must be 6-32 characters"},
		{"secr3t!pw", "Password must contain at least 1 lowercase, uppercase, and special characters and 1 number"},
		{"SECR3T!PW", "Password must contain at least 1 lowercase, uppercase, and special characters and 1 number"},
		{"Secret!pw", "Password must contain at least 1 lowercase, uppercase, and special characters and 1 number"},
		{"Secr3tpw", "Password must contain at least 1 lowercase, uppercase, and special characters and 1 number"},
	}
	for _, tt := range tests {
		err := ValidatePasswordFormat(tt.password)
		if tt.wantErr == "" {
			assert.NoError(t, err, tt.password)
			continue
		}
		assert.EqualError(t, err, tt.wantErr, tt.password)
	}
}
