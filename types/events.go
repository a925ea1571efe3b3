package types

import (
	"github.com/SplitSync/split-sync-backend/errors"
)

type EventType string

const (
	CategoryGroup   = "GROUP"
	CategoryExpense = "EXPENSE"
)

const (
	// Group events
	EventTypeGroupCreate EventType = CategoryGroup + "_CREATE"
	EventTypeGroupEdit   EventType = CategoryGroup + "_EDIT"

	// Expense events
	EventTypeExpenseAdd    EventType = CategoryExpense + "_ADD"
	EventTypeExpenseEdit   EventType = CategoryExpense + "_EDIT"
	EventTypeExpenseDelete EventType = CategoryExpense + "_DELETE"
)

// AllEventTypes is the closed set of event kinds the processor dispatches on.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeGroupCreate,
		EventTypeGroupEdit,
		EventTypeExpenseAdd,
		EventTypeExpenseEdit,
		EventTypeExpenseDelete,
	}
}

// Valid reports whether t is one of the known event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeGroupCreate, EventTypeGroupEdit,
		EventTypeExpenseAdd, EventTypeExpenseEdit, EventTypeExpenseDelete:
		return true
	}
	return false
}

// Payload keys shared between event producers and handlers.
const (
	PayloadKeyName        = "name"
	PayloadKeyExpenseID   = "expenseId"
	PayloadKeyDescription = "description"
	PayloadKeyAmount      = "amount"
	PayloadKeyPaidBy      = "paidBy"
	PayloadKeySplitWith   = "splitWith"
)

// Timestamp is a Hybrid Logical Clock reading: physical wall time in
// milliseconds plus a logical counter, with the node id as a tie-breaker.
// Timestamps are totally ordered by (WallClock, Counter, NodeID).
type Timestamp struct {
	WallClock int64  `json:"wallClock"`
	Counter   int32  `json:"counter"`
	NodeID    string `json:"nodeId"`
}

// Compare returns -1, 0 or 1 ordering t against other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.WallClock != other.WallClock:
		if t.WallClock < other.WallClock {
			return -1
		}
		return 1
	case t.Counter != other.Counter:
		if t.Counter < other.Counter {
			return -1
		}
		return 1
	case t.NodeID != other.NodeID:
		if t.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// Event is an immutable fact about a single domain mutation. Events are
// created once, delivered at least once over whichever sync backend is
// active, and applied idempotently by the processor.
type Event struct {
	ID      string            `json:"id"`
	Type    EventType         `json:"type"`
	UserID  string            `json:"userId"`
	GroupID string            `json:"groupId"`
	Payload map[string]string `json:"payload"`

	// OccurredAt is wall-clock milliseconds, assigned by whichever backend
	// accepts the event (relay-assigned centrally, locally-assigned for mesh).
	OccurredAt int64 `json:"occurredAt"`

	// CausalTimestamp is required on the mesh backend and absent on the relay.
	CausalTimestamp *Timestamp `json:"causalTimestamp,omitempty"`
}

// Validate checks the structural invariants every event must satisfy before
// it is pushed or applied.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if !e.Type.Valid() {
		return errors.ValidationFailed("invalid event", "unknown event type: "+string(e.Type))
	}
	if e.GroupID == "" {
		return errors.ValidationFailed("invalid event", "group ID is required")
	}
	if e.UserID == "" {
		return errors.ValidationFailed("invalid event", "user ID is required")
	}
	return nil
}

// ProcessedEventRecord marks an event as applied exactly once. Its existence
// is the entire idempotency guarantee; records are never mutated and may be
// garbage-collected after a retention window (a stale peer redelivering the
// event then causes a redundant but idempotent reapply).
type ProcessedEventRecord struct {
	EventID     string `json:"eventId"`
	GroupID     string `json:"groupId"`
	ProcessedAt int64  `json:"processedAt"`
}
