package types

import (
	"fmt"
	"time"
)

// SyncStateKind enumerates the observable states of a sync backend.
type SyncStateKind string

const (
	SyncDisconnected   SyncStateKind = "DISCONNECTED"
	SyncAdvertising    SyncStateKind = "ADVERTISING"    // mesh only: broadcasting group
	SyncDiscovering    SyncStateKind = "DISCOVERING"    // mesh only: searching for peers
	SyncAuthenticating SyncStateKind = "AUTHENTICATING" // peer connection approval
	SyncSyncing        SyncStateKind = "SYNCING"
	SyncUpToDate       SyncStateKind = "UP_TO_DATE"
	SyncErrored        SyncStateKind = "ERROR"
)

// SyncStatus is a snapshot of a backend's state machine, carrying the
// state-specific detail fields.
type SyncStatus struct {
	State      SyncStateKind `json:"state"`
	PeerName   string        `json:"peerName,omitempty"`   // Authenticating
	Progress   int           `json:"progress,omitempty"`   // Syncing
	Total      int           `json:"total,omitempty"`      // Syncing
	LastSyncAt int64         `json:"lastSyncAt,omitempty"` // UpToDate, wall-clock ms
	Message    string        `json:"message,omitempty"`    // Error
}

// DisplayMessage renders a human-readable status line for UIs.
func (s SyncStatus) DisplayMessage() string {
	switch s.State {
	case SyncDisconnected:
		return "Not connected"
	case SyncAdvertising:
		return "Waiting for nearby devices..."
	case SyncDiscovering:
		return "Looking for nearby groups..."
	case SyncAuthenticating:
		return fmt.Sprintf("Device %q requesting to join", s.PeerName)
	case SyncSyncing:
		return fmt.Sprintf("Syncing %d/%d events...", s.Progress, s.Total)
	case SyncUpToDate:
		minutesAgo := (time.Now().UnixMilli() - s.LastSyncAt) / 60000
		if minutesAgo > 0 {
			return fmt.Sprintf("All synced, %d minutes ago", minutesAgo)
		}
		return "All synced, just now"
	case SyncErrored:
		return "Error: " + s.Message
	}
	return string(s.State)
}
