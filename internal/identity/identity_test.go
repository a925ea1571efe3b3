package identity

import (
	"context"
	"testing"

	"github.com/SplitSync/split-sync-backend/internal/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestUserIDCreatedOnFirstUseAndCached(t *testing.T) {
	prefs := new(mocks.PrefsStore)
	prefs.On("GetPref", mock.Anything, "user_id").Return("", nil).Once()
	prefs.On("SetPref", mock.Anything, "user_id", mock.AnythingOfType("string")).Return(nil).Once()

	m := NewManager(prefs)
	ctx := context.Background()

	id1, err := m.UserID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	// Second call hits the cache, not the store.
	id2, err := m.UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	prefs.AssertExpectations(t)
}

func TestUserIDReusesPersistedValue(t *testing.T) {
	prefs := new(mocks.PrefsStore)
	prefs.On("GetPref", mock.Anything, "user_id").Return("existing-id", nil).Once()

	m := NewManager(prefs)
	id, err := m.UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	prefs.AssertExpectations(t)
}

func TestDisplayNameDefault(t *testing.T) {
	prefs := new(mocks.PrefsStore)
	prefs.On("GetPref", mock.Anything, "display_name").Return("", nil).Once()
	prefs.On("GetPref", mock.Anything, "user_id").Return("abcd-efgh-1234", nil).Once()

	m := NewManager(prefs)
	name, err := m.DisplayName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "User 1234", name)
}

func TestDisplayNameStored(t *testing.T) {
	prefs := new(mocks.PrefsStore)
	prefs.On("GetPref", mock.Anything, "display_name").Return("Ada", nil).Once()

	m := NewManager(prefs)
	name, err := m.DisplayName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
}
