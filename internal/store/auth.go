package store

import (
	"context"
	"fmt"
	"time"
)

// BlacklistToken records a revoked token id until its natural expiry.
func (s *Store) BlacklistToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO token_blacklist (jti, expires_at) VALUES (?, ?)`,
		jti, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether the token id has been revoked.
func (s *Store) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_blacklist WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}

// PruneBlacklist drops entries for tokens that have expired anyway.
func (s *Store) PruneBlacklist(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM token_blacklist WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune token blacklist: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
