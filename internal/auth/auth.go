package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what the rest of the service knows about a caller.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// Verifier validates bearer tokens and derives the admin role from the
// configured admin email list.
type Verifier struct {
	secret      []byte
	adminEmails map[string]struct{}
}

// NewVerifier builds a Verifier. adminEmails are compared case-insensitively.
func NewVerifier(secret string, adminEmails []string) *Verifier {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.TrimSpace(strings.ToLower(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Verifier{secret: []byte(secret), adminEmails: admins}
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify parses and validates a raw JWT and returns the caller identity.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	_, isAdmin := v.adminEmails[strings.ToLower(c.Email)]
	return Identity{UserID: c.Subject, Email: c.Email, IsAdmin: isAdmin}, nil
}

// FromBearer strips the Bearer scheme from an Authorization header value and
// verifies the remainder.
func (v *Verifier) FromBearer(header string) (Identity, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Identity{}, ErrInvalidToken
	}
	return v.Verify(parts[1])
}
