// Package auth keeps the signed-in session and reads its token claims.
package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the access token fields the client cares about
type TokenClaims struct {
	UserID    int64
	TokenType string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Claims decodes an access token without verifying its signature.
// The backend owns verification; the client only reads exp and user_id.
func Claims(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	out := &TokenClaims{}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	switch v := claims["user_id"].(type) {
	case float64:
		out.UserID = int64(v)
	case string:
		out.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if tt, ok := claims["token_type"].(string); ok {
		out.TokenType = tt
	}
	return out, nil
}
