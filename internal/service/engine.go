// Package service implements the command-side workflows on top of the event
// processor and a sync transport: creating and joining groups, recording
// expenses, and deriving balances and settlement transfers. Commands apply
// locally first and propagate in the background, so the device works the
// same with or without connectivity.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SplitSync/split-sync-backend/internal/processor"
	"github.com/SplitSync/split-sync-backend/internal/store"
	syncx "github.com/SplitSync/split-sync-backend/internal/sync"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

// SyncEngine owns the inbound half of synchronization: it connects the
// transport's listeners to the dispatcher queue and resumes listening for
// every known group after a restart.
type SyncEngine struct {
	transport  syncx.Transport
	dispatcher *processor.Dispatcher
	proc       *processor.Processor
	groups     store.GroupStore
	log        *zap.SugaredLogger
}

func NewSyncEngine(
	transport syncx.Transport,
	dispatcher *processor.Dispatcher,
	proc *processor.Processor,
	groups store.GroupStore,
) *SyncEngine {
	return &SyncEngine{
		transport:  transport,
		dispatcher: dispatcher,
		proc:       proc,
		groups:     groups,
		log:        logger.GetLogger().Named("sync_engine"),
	}
}

// Start initializes the transport, starts the dispatcher workers, and
// re-registers a listener for every group the local user is a member of.
func (e *SyncEngine) Start(ctx context.Context) error {
	if err := e.transport.Initialize(ctx); err != nil {
		return err
	}
	e.dispatcher.Start()

	userID, err := e.transport.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	groupIDs, err := e.groups.ListGroupIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		e.Listen(groupID)
	}
	e.log.Infow("Sync engine started", "resumedGroups", len(groupIDs))
	return nil
}

// Listen registers an inbound listener for one group. Events flow through
// the dispatcher queue so transport callbacks never block on storage.
func (e *SyncEngine) Listen(groupID string) {
	e.transport.StartListening(groupID, func(event types.Event) {
		if !e.dispatcher.Enqueue(event) {
			e.log.Warnw("Inbound queue full, dropping delivery",
				"eventID", event.ID,
				"groupID", event.GroupID,
			)
		}
	})
}

func (e *SyncEngine) StopListening(groupID string) {
	e.transport.StopListening(groupID)
}

// Status reports the transport's sync state for UIs and the ops endpoint.
func (e *SyncEngine) Status() types.SyncStatus {
	return e.transport.State()
}

func (e *SyncEngine) WatchStatus() <-chan types.SyncStatus {
	return e.transport.WatchState()
}

// SweepProcessedEvents garbage-collects idempotency markers older than the
// retention window in every group the local user belongs to. A stale peer
// redelivering a collected event causes a redundant but idempotent reapply.
func (e *SyncEngine) SweepProcessedEvents(ctx context.Context, retention time.Duration) error {
	userID, err := e.transport.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	groupIDs, err := e.groups.ListGroupIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		if err := e.proc.CleanupProcessedEvents(ctx, groupID, retention); err != nil {
			e.log.Warnw("Processed-event sweep failed for group",
				"groupID", groupID,
				"error", err,
			)
		}
	}
	return nil
}

// Stop drains the dispatcher and disconnects the transport.
func (e *SyncEngine) Stop(ctx context.Context, drainTimeout time.Duration) error {
	e.dispatcher.Stop(drainTimeout)
	return e.transport.Disconnect(ctx)
}
