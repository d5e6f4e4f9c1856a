package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer      = "basego/customer"
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are embedded in both tokens of a pair; Type tells them apart.
type Claims struct {
	TokenID   int64  `json:"tid"`
	SessionID int64  `json:"sid"`
	AccountID int64  `json:"uid"`
	DeviceID  string `json:"did,omitempty"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// jwtSigner signs and parses HS256 tokens
type jwtSigner struct {
	secret []byte
}

func (s jwtSigner) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s jwtSigner) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
