package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// GetConfigValue reads a key from the config table. NOT_FOUND when the
// key is absent.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", scriberr.New(scriberr.KindNotFound, "config key %q not found", key)
	}
	if err != nil {
		return "", scriberr.Wrap(scriberr.KindDB, err, "read config key %q", key)
	}
	return value, nil
}

// SetConfigValue upserts a key in the config table.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	if key == "" {
		return scriberr.New(scriberr.KindInvalidArg, "config key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "set config key %q", key)
	}
	return nil
}
