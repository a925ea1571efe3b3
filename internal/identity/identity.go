// Package identity manages the persistent local user identity. The user id
// must survive restarts so that "paid by" credits stay attached to the same
// user, and it doubles as the node id for the hybrid logical clock.
package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/google/uuid"
)

const (
	prefKeyUserID      = "user_id"
	prefKeyDisplayName = "display_name"
)

// Manager resolves and caches the local identity from the prefs store.
type Manager struct {
	prefs store.PrefsStore

	mu           sync.Mutex
	cachedUserID string
}

func NewManager(prefs store.PrefsStore) *Manager {
	return &Manager{prefs: prefs}
}

// UserID returns the persistent user id, creating one on first use.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cachedUserID != "" {
		return m.cachedUserID, nil
	}

	userID, err := m.prefs.GetPref(ctx, prefKeyUserID)
	if err != nil {
		return "", err
	}
	if userID == "" {
		userID = uuid.New().String()
		if err := m.prefs.SetPref(ctx, prefKeyUserID, userID); err != nil {
			return "", err
		}
		logger.GetLogger().Infow("Created new user identity", "userId", userID)
	}

	m.cachedUserID = userID
	return userID, nil
}

// DisplayName returns the stored display name, defaulting to "User " plus
// the last four characters of the user id.
func (m *Manager) DisplayName(ctx context.Context) (string, error) {
	name, err := m.prefs.GetPref(ctx, prefKeyDisplayName)
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}

	userID, err := m.UserID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("User %s", userID[len(userID)-4:]), nil
}

// SetDisplayName stores a new display name.
func (m *Manager) SetDisplayName(ctx context.Context, name string) error {
	return m.prefs.SetPref(ctx, prefKeyDisplayName, name)
}
