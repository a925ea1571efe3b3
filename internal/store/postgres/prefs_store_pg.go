package postgres

import (
	"context"
	"errors"
	"fmt"

	internal_store "github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/jackc/pgx/v5"
)

var _ internal_store.PrefsStore = (*pgPrefsStore)(nil)

type pgPrefsStore struct {
	db internal_store.DB
}

// NewPgPrefsStore creates a new PostgreSQL identity-prefs store.
func NewPgPrefsStore(db internal_store.DB) internal_store.PrefsStore {
	return &pgPrefsStore{db: db}
}

// GetPref implements internal_store.PrefsStore. A missing key yields an
// empty string, not an error.
func (s *pgPrefsStore) GetPref(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx,
		`SELECT value FROM user_prefs WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read pref %q: %w", key, err)
	}
	return value, nil
}

// SetPref implements internal_store.PrefsStore.
func (s *pgPrefsStore) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO user_prefs (key, value)
        VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write pref %q: %w", key, err)
	}
	return nil
}
