// Package security provides account token signing and verification.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docuflow/backend/internal/config"
)

// ErrInvalidToken indicates the token failed signature or claim validation.
var ErrInvalidToken = errors.New("security: invalid token")

// AccountClaims are the JWT claims carried by account tokens.
type AccountClaims struct {
	AccountID uint64 `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// SignAccountToken issues a signed HS256 token for an account.
func SignAccountToken(cfg config.JWTConfig, accountID uint64, email string) (string, error) {
	now := time.Now().UTC()
	claims := AccountClaims{
		AccountID: accountID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(accountID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(cfg.Secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseAccountToken verifies an account token and returns its claims.
func ParseAccountToken(secret, tokenString string) (*AccountClaims, error) {
	claims := &AccountClaims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	})
	if errParse != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
