// Package auth issues and validates the single-user bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"skimmer/internal/store"
)

// ErrInvalidToken covers every validation failure: bad signature, expiry,
// malformed claims or a revoked token. Callers get no detail beyond this.
var ErrInvalidToken = errors.New("invalid token")

// Manager signs, validates and revokes tokens against the shared secret and
// the store's token blacklist.
type Manager struct {
	st       *store.Store
	secret   []byte
	password string
	expiry   time.Duration
}

func New(st *store.Store, secret, password string, expiryHours int) *Manager {
	return &Manager{
		st:       st,
		secret:   []byte(secret),
		password: password,
		expiry:   time.Duration(expiryHours) * time.Hour,
	}
}

// CheckPassword compares the candidate against the configured password in
// constant time.
func (m *Manager) CheckPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(m.password)) == 1
}

// Issue creates a signed token carrying a unique jti so it can later be
// revoked individually.
func (m *Manager) Issue(now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.expiry)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// parse verifies the signature and standard claims.
func (m *Manager) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Validate checks signature, expiry and the revocation blacklist. Returns
// ErrInvalidToken for any rejection.
func (m *Manager) Validate(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return err
	}

	revoked, err := m.st.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("failed to check token blacklist: %w", err)
	}
	if revoked {
		return ErrInvalidToken
	}
	return nil
}

// Revoke blacklists the token's jti until its natural expiry and prunes
// entries that have already lapsed. Revoking an invalid token is a no-op.
func (m *Manager) Revoke(ctx context.Context, token string, now time.Time) error {
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}

	if err := m.st.BlacklistToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	if _, err := m.st.PruneBlacklist(ctx, now); err != nil {
		return fmt.Errorf("failed to prune token blacklist: %w", err)
	}
	return nil
}
