package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Setting keys shared across packages. Breaker and rotator state live here
// so they survive restarts.
const (
	SettingSummaryModel    = "summary_model"
	SettingSummaryLanguage = "summary_language"
	SettingMaxPostAgeDays  = "max_post_age_days"
	SettingMaxUnreadDays   = "max_unread_days"
	SettingProfileText     = "interest_profile"
	SettingProfileTags     = "interest_profile_tags"
	SettingProfileStale    = "interest_profile_stale"
	SettingProfileUpdated  = "interest_profile_updated_at"
	SettingHealthWarning   = "health_warning"
)

// GetSetting returns the value for a key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores a key-value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a key.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// AllSettings returns every stored key-value pair.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// EffectiveModel resolves the summarization model: DB override wins over the
// environment default.
func (s *Store) EffectiveModel(ctx context.Context, envDefault string) (string, error) {
	value, ok, err := s.GetSetting(ctx, SettingSummaryModel)
	if err != nil {
		return "", err
	}
	if ok && value != "" {
		return value, nil
	}
	return envDefault, nil
}

// EffectiveLanguage resolves the summary target language the same way.
func (s *Store) EffectiveLanguage(ctx context.Context, envDefault string) (string, error) {
	value, ok, err := s.GetSetting(ctx, SettingSummaryLanguage)
	if err != nil {
		return "", err
	}
	if ok && value != "" {
		return value, nil
	}
	return envDefault, nil
}

// EffectiveInt resolves an integer setting with the same override rule.
// Unparseable or non-positive stored values fall back to the default.
func (s *Store) EffectiveInt(ctx context.Context, key string, envDefault int) (int, error) {
	value, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n, nil
		}
	}
	return envDefault, nil
}
