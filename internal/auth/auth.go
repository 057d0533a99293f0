// Package auth issues and verifies the bearer tokens that guard the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permissions understood by the API.
const (
	PermRunTriggers     = "triggers.run"
	PermReadMarketplace = "marketplace.read"
	PermAll             = "*"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Principal is the authenticated caller.
type Principal struct {
	Subject     string
	Permissions []string
}

// Can reports whether p holds perm or the wildcard.
func (p Principal) Can(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm || have == PermAll {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError when p lacks perm.
func (p Principal) Require(perm string) error {
	if p.Can(perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

type claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions,omitempty"`
}

// IssueToken signs an HS256 token for subject. A zero ttl yields a token
// without expiry.
func IssueToken(secret, subject string, permissions []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "swapline",
		},
		Permissions: permissions,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// ParseToken verifies token and returns its principal.
func ParseToken(secret, token string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{Subject: c.Subject, Permissions: c.Permissions}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
