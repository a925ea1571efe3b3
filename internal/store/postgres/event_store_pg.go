package postgres

import (
	"context"
	"fmt"

	internal_store "github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

var _ internal_store.ProcessedEventStore = (*pgProcessedEventStore)(nil)

type pgProcessedEventStore struct {
	db internal_store.DB
}

// NewPgProcessedEventStore creates a new PostgreSQL processed-event ledger.
func NewPgProcessedEventStore(db internal_store.DB) internal_store.ProcessedEventStore {
	return &pgProcessedEventStore{db: db}
}

// HasProcessed implements internal_store.ProcessedEventStore.
func (s *pgProcessedEventStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed implements internal_store.ProcessedEventStore. The insert is
// conflict-free so two racing applies of the same event id both succeed; the
// row-level primary key is what serializes them.
func (s *pgProcessedEventStore) MarkProcessed(ctx context.Context, record types.ProcessedEventRecord) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO processed_events (event_id, group_id, processed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (event_id) DO NOTHING`,
		record.EventID,
		record.GroupID,
		record.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// DeleteOlderThan implements internal_store.ProcessedEventStore. Losing a
// marker is safe: at worst a stale peer triggers a redundant, idempotent
// reapply.
func (s *pgProcessedEventStore) DeleteOlderThan(ctx context.Context, groupID string, olderThan int64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM processed_events WHERE group_id = $1 AND processed_at < $2`,
		groupID, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	removed := tag.RowsAffected()
	if removed > 0 {
		logger.GetLogger().Debugw("Garbage-collected processed events",
			"groupId", groupID, "removed", removed)
	}
	return removed, nil
}
