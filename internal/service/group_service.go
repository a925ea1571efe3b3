package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/internal/processor"
	"github.com/SplitSync/split-sync-backend/internal/store"
	syncx "github.com/SplitSync/split-sync-backend/internal/sync"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

// GroupService creates and joins groups. Both paths converge on the event
// processor: creating applies a GROUP_CREATE locally before pushing it, and
// joining replays whatever the backend knows into local storage, so a
// restart resumes listening from the membership table alone.
type GroupService struct {
	groups    store.GroupStore
	proc      *processor.Processor
	transport syncx.Transport
	engine    *SyncEngine
	identity  *identity.Manager
	log       *zap.SugaredLogger
	newID     func() string
	now       func() int64
}

func NewGroupService(
	groups store.GroupStore,
	proc *processor.Processor,
	transport syncx.Transport,
	engine *SyncEngine,
	idents *identity.Manager,
) *GroupService {
	return &GroupService{
		groups:    groups,
		proc:      proc,
		transport: transport,
		engine:    engine,
		identity:  idents,
		log:       logger.GetLogger().Named("group_service"),
		newID:     func() string { return uuid.New().String() },
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// CreateGroup registers a new group, applies it locally, and propagates the
// creation event. The group id doubles as the join code to share.
func (s *GroupService) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationFailed("invalid group", "group name is required")
	}

	userID, err := s.transport.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	groupID := s.newID()

	if err := s.transport.CreateGroup(ctx, groupID, name); err != nil {
		return nil, err
	}

	event := types.Event{
		ID:         s.newID(),
		Type:       types.EventTypeGroupCreate,
		UserID:     userID,
		GroupID:    groupID,
		Payload:    map[string]string{types.PayloadKeyName: name},
		OccurredAt: s.now(),
	}
	if err := s.proc.Process(ctx, event); err != nil {
		return nil, err
	}

	s.engine.Listen(groupID)

	// Remote propagation is best-effort here: the group exists locally
	// either way. On a mesh backend with no peers yet there is nobody to
	// push to, which is not a reason to fail the create.
	if err := s.transport.PushEvent(ctx, groupID, event); err != nil {
		s.log.Warnw("Group created locally but not yet propagated",
			"groupID", groupID,
			"error", err,
		)
	}

	s.log.Infow("Created group", "groupID", groupID, "name", name)
	return s.groups.GetGroup(ctx, groupID)
}

// JoinGroup joins an existing group by its shared code and records the
// local user as a member.
func (s *GroupService) JoinGroup(ctx context.Context, code string) (*types.Group, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.ValidationFailed("invalid join code", "join code is required")
	}

	userID, err := s.transport.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	joined, err := s.transport.JoinGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	if joined.CreatedAt == 0 {
		joined.CreatedAt = s.now()
	}
	if err := s.groups.UpsertGroup(ctx, joined); err != nil {
		return nil, err
	}
	displayName, err := s.identity.DisplayName(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.groups.UpsertMember(ctx, types.GroupMember{
		GroupID:     code,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    s.now(),
	}); err != nil {
		return nil, err
	}

	s.engine.Listen(code)
	s.log.Infow("Joined group", "groupID", code)
	return s.groups.GetGroup(ctx, code)
}

// GetGroup returns a group with its members.
func (s *GroupService) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	return s.groups.GetGroup(ctx, id)
}
