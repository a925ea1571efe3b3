// Package postgres provides pgx-backed implementations of the store
// contracts. Every write is an upsert keyed by the caller-supplied id so
// that replaying the same event converges instead of duplicating rows.
package postgres

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	internal_store "github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
	"github.com/jackc/pgx/v5"
)

var _ internal_store.GroupStore = (*pgGroupStore)(nil)

type pgGroupStore struct {
	db internal_store.DB
}

// NewPgGroupStore creates a new PostgreSQL group store.
func NewPgGroupStore(db internal_store.DB) internal_store.GroupStore {
	return &pgGroupStore{db: db}
}

// UpsertGroup implements internal_store.GroupStore. The id is the conflict
// key; a replayed create leaves the row unchanged.
func (s *pgGroupStore) UpsertGroup(ctx context.Context, group types.Group) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO groups (id, name, created_by, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		group.ID,
		group.Name,
		group.CreatedBy,
		group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}
	return nil
}

// UpsertMember implements internal_store.GroupStore.
func (s *pgGroupStore) UpsertMember(ctx context.Context, member types.GroupMember) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO group_members (group_id, user_id, display_name, joined_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (group_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		member.GroupID,
		member.UserID,
		member.DisplayName,
		member.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert group member: %w", err)
	}
	return nil
}

// GetGroup implements internal_store.GroupStore. Members are loaded eagerly.
func (s *pgGroupStore) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	log := logger.GetLogger()

	var group types.Group
	err := s.db.QueryRow(ctx, `
        SELECT id, name, created_by, created_at
        FROM groups
        WHERE id = $1`, id).Scan(
		&group.ID,
		&group.Name,
		&group.CreatedBy,
		&group.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debugw("Group not found", "groupId", id)
			return nil, apperrors.NewGroupNotFound(id)
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}

	rows, err := s.db.Query(ctx, `
        SELECT group_id, user_id, display_name, joined_at
        FROM group_members
        WHERE group_id = $1
        ORDER BY joined_at, user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m types.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.DisplayName, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.Members = append(group.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group members: %w", err)
	}

	return &group, nil
}

// ListGroupIDsForUser implements internal_store.GroupStore.
func (s *pgGroupStore) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
        SELECT group_id
        FROM group_members
        WHERE user_id = $1
        ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group ids: %w", err)
	}
	return ids, nil
}
