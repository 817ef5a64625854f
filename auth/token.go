// Package auth issues and verifies signed handshake tokens.
//
// A token is an HS256 JWT whose subject is the identity the connection is
// registered under. Tokens must carry an expiry.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens minted by Issue.
const Issuer = "relay"

// Errors returned by Verify. Each wraps the underlying jwt error.
var (
	ErrMalformed    = errors.New("auth: malformed token")
	ErrExpired      = errors.New("auth: token expired")
	ErrBadSignature = errors.New("auth: signature mismatch")
)

// Issue returns a token for identity that expires at expiresAt.
func Issue(identity string, secret []byte, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// classify maps a jwt parse error onto the package errors.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
