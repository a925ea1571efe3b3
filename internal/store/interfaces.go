// Package store defines the persistence contracts consumed by the event
// processor and the services. Aggregate rows are addressed by their
// producer-supplied ids and upserted, never appended, so idempotent replay
// is structural.
package store

import (
	"context"

	"github.com/SplitSync/split-sync-backend/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the stores use. pgxmock's PgxPoolIface
// satisfies it too, which is what the store tests inject.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GroupStore handles group and membership rows.
type GroupStore interface {
	UpsertGroup(ctx context.Context, group types.Group) error
	UpsertMember(ctx context.Context, member types.GroupMember) error
	GetGroup(ctx context.Context, id string) (*types.Group, error)
	// ListGroupIDsForUser returns the ids of every group the user is a member
	// of; used to resume listening after a restart.
	ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// ExpenseStore handles expense rows, their splits, and the derived debt view.
type ExpenseStore interface {
	// UpsertExpense writes the expense row and replaces its splits in a
	// single transaction, keyed by the expense id.
	UpsertExpense(ctx context.Context, expense types.Expense) error
	ListGroupExpenses(ctx context.Context, groupID string) ([]types.Expense, error)
	// ReplaceDebts swaps the materialized debt view for a group.
	ReplaceDebts(ctx context.Context, groupID string, debts []types.Debt) error
	ListDebts(ctx context.Context, groupID string) ([]types.Debt, error)
}

// ProcessedEventStore is the idempotency ledger.
type ProcessedEventStore interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed inserts the record if absent; marking the same event
	// twice is not an error.
	MarkProcessed(ctx context.Context, record types.ProcessedEventRecord) error
	// DeleteOlderThan garbage-collects markers for a group older than the
	// given wall-clock ms, returning the number removed.
	DeleteOlderThan(ctx context.Context, groupID string, olderThan int64) (int64, error)
}

// PrefsStore persists small identity key-value pairs across restarts.
type PrefsStore interface {
	GetPref(ctx context.Context, key string) (string, error)
	SetPref(ctx context.Context, key, value string) error
}
