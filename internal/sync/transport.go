// Package sync holds the transport contract every synchronization backend
// implements, and the two conforming backends: a centralized Redis relay and
// a peer-to-peer WebSocket mesh. The processor consumes the contract and
// never branches on which backend is active.
package sync

import (
	"context"

	"github.com/SplitSync/split-sync-backend/types"
)

// EventCallback receives each inbound event for a group. Callbacks must not
// block: implementations hand events to the dispatcher queue.
type EventCallback func(event types.Event)

// Transport is the contract between the sync engine and a backend. Push,
// join and create surface failures through their error return; they never
// panic past the boundary. Listening is per group and cancellable per group.
type Transport interface {
	// Initialize prepares the backend (auth, sockets). Called once.
	Initialize(ctx context.Context) error

	// CurrentUserID returns the persistent identity used as actor id.
	CurrentUserID(ctx context.Context) (string, error)

	// CreateGroup registers a new group with the backend and starts making
	// it reachable (relay: registry entry; mesh: advertising).
	CreateGroup(ctx context.Context, groupID, name string) error

	// JoinGroup joins an existing group by its shared code and returns what
	// the backend knows about it. A relay answers from its registry; a mesh
	// peer knows only the id, the rest arrives through events.
	JoinGroup(ctx context.Context, code string) (types.Group, error)

	// PushEvent propagates an event to remote devices. The backend assigns
	// OccurredAt (relay: server time; mesh: local HLC wall clock).
	PushEvent(ctx context.Context, groupID string, event types.Event) error

	// StartListening registers a callback for inbound events of a group.
	StartListening(groupID string, cb EventCallback)

	// StopListening cancels the listener for one group without affecting
	// other groups.
	StopListening(groupID string)

	// State returns a snapshot of the backend's sync state machine.
	State() types.SyncStatus

	// WatchState returns a channel receiving state transitions. Slow
	// consumers miss intermediate states, never block the backend.
	WatchState() <-chan types.SyncStatus

	// Disconnect tears the backend down and returns to Disconnected.
	Disconnect(ctx context.Context) error
}
