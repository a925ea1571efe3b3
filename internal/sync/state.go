package sync

import (
	gosync "sync"

	"github.com/SplitSync/split-sync-backend/types"
)

// stateTracker is the shared sync state machine of the backends. It keeps a
// snapshot of the current status and fans transitions out to watchers on a
// best-effort basis: a watcher whose buffer is full skips the transition
// instead of blocking the backend.
type stateTracker struct {
	mu       gosync.Mutex
	current  types.SyncStatus
	watchers map[int]chan types.SyncStatus
	nextID   int
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		current:  types.SyncStatus{State: types.SyncDisconnected},
		watchers: make(map[int]chan types.SyncStatus),
	}
}

func (t *stateTracker) set(status types.SyncStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = status
	for _, ch := range t.watchers {
		select {
		case ch <- status:
		default:
		}
	}
}

func (t *stateTracker) snapshot() types.SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *stateTracker) watch() <-chan types.SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan types.SyncStatus, 8)
	t.watchers[t.nextID] = ch
	t.nextID++
	return ch
}
