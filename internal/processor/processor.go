// Package processor applies sync events to local state. It is the single
// convergence point for every delivery path: locally-produced events, the
// centralized relay, and the peer-to-peer mesh all land here, and duplicate
// or out-of-order delivery must converge to the same rows.
package processor

import (
	"context"
	"strings"
	"time"

	"github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/internal/settle"
	"github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Processor routes events to per-kind handlers and keeps the processed-event
// ledger. Handlers insert rows keyed by producer-supplied ids, so applying
// the same event twice, or a permutation of distinct events in any order,
// yields identical state.
type Processor struct {
	groups    store.GroupStore
	expenses  store.ExpenseStore
	processed store.ProcessedEventStore
	identity  *identity.Manager
	log       *zap.SugaredLogger
	metrics   *processorMetrics
	newID     func() string // split-row id generation, injectable for tests
}

func New(
	groups store.GroupStore,
	expenses store.ExpenseStore,
	processed store.ProcessedEventStore,
	idents *identity.Manager,
) *Processor {
	return &Processor{
		groups:    groups,
		expenses:  expenses,
		processed: processed,
		identity:  idents,
		log:       logger.GetLogger().Named("processor"),
		metrics:   newProcessorMetrics(),
		newID:     func() string { return uuid.New().String() },
	}
}

// Process applies a single event delivery. It is safe to call any number of
// times for the same event: the first successful application wins and every
// later delivery is a silent no-op.
//
// Failure semantics follow the error taxonomy: malformed events are dropped
// and marked processed (never retried, to avoid poison-pill redelivery
// loops); transient store failures are returned without marking, so the
// next delivery retries.
func (p *Processor) Process(ctx context.Context, event types.Event) error {
	timer := prometheus.NewTimer(p.metrics.applyLatency)
	defer timer.ObserveDuration()

	if err := event.Validate(); err != nil {
		p.log.Warnw("Rejected structurally invalid event", "error", err)
		return err
	}

	already, err := p.processed.HasProcessed(ctx, event.ID)
	if err != nil {
		return errors.Wrap(err, errors.DatabaseError, "idempotency check failed")
	}
	if already {
		p.metrics.duplicates.Inc()
		p.log.Debugw("Skipping already-processed event", "eventId", event.ID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case types.EventTypeGroupCreate:
		err = p.applyGroupCreate(ctx, event)
	case types.EventTypeExpenseAdd:
		err = p.applyExpenseAdd(ctx, event)
	case types.EventTypeGroupEdit, types.EventTypeExpenseEdit, types.EventTypeExpenseDelete:
		// Reserved kinds: merge semantics are not defined yet. They are
		// still recorded as processed so stale peers cannot cause
		// redelivery storms.
		p.log.Debugw("No-op handler for reserved event kind", "eventId", event.ID, "type", event.Type)
	default:
		return errors.ValidationFailed("invalid event", "unknown event type: "+string(event.Type))
	}

	if err != nil {
		p.metrics.applyFailures.Inc()
		p.log.Errorw("Failed to apply event, eligible for redelivery",
			"eventId", event.ID, "type", event.Type, "groupId", event.GroupID, "error", err)
		return err
	}

	if err := p.processed.MarkProcessed(ctx, types.ProcessedEventRecord{
		EventID:     event.ID,
		GroupID:     event.GroupID,
		ProcessedAt: time.Now().UnixMilli(),
	}); err != nil {
		// The apply succeeded but the marker write failed; a redelivery will
		// re-run the (idempotent) handler and try the marker again.
		return errors.Wrap(err, errors.DatabaseError, "failed to record processed event")
	}

	p.metrics.eventsApplied.WithLabelValues(string(event.Type)).Inc()
	return nil
}

func (p *Processor) applyGroupCreate(ctx context.Context, event types.Event) error {
	name := event.Payload[types.PayloadKeyName]
	if name == "" {
		name = "Unnamed Group"
	}

	if err := p.groups.UpsertGroup(ctx, types.Group{
		ID:        event.GroupID,
		Name:      name,
		CreatedBy: event.UserID,
		CreatedAt: event.OccurredAt,
	}); err != nil {
		return err
	}

	// Display name comes from local identity state; remote members refine
	// it when their own events carry one.
	displayName, err := p.identity.DisplayName(ctx)
	if err != nil {
		return err
	}

	return p.groups.UpsertMember(ctx, types.GroupMember{
		GroupID:     event.GroupID,
		UserID:      event.UserID,
		DisplayName: displayName,
		JoinedAt:    event.OccurredAt,
	})
}

// applyExpenseAdd inserts the expense row and its allocated splits. Missing
// required payload fields make the event malformed: it is dropped without
// error so it gets marked processed and never retried.
func (p *Processor) applyExpenseAdd(ctx context.Context, event types.Event) error {
	expenseID := event.Payload[types.PayloadKeyExpenseID]
	paidBy := event.Payload[types.PayloadKeyPaidBy]
	amountStr := event.Payload[types.PayloadKeyAmount]
	splitWith := splitParticipants(event.Payload[types.PayloadKeySplitWith])

	if expenseID == "" || paidBy == "" || amountStr == "" || len(splitWith) == 0 {
		p.metrics.malformed.Inc()
		p.log.Warnw("Dropping malformed expense-add event",
			"eventId", event.ID, "groupId", event.GroupID)
		return nil
	}

	amount, err := types.ParseAmount(amountStr)
	if err != nil {
		p.metrics.malformed.Inc()
		p.log.Warnw("Dropping expense-add event with unparseable amount",
			"eventId", event.ID, "amount", amountStr)
		return nil
	}

	expense := types.Expense{
		ID:             expenseID,
		GroupID:        event.GroupID,
		Description:    event.Payload[types.PayloadKeyDescription],
		Amount:         amount,
		PaidBy:         paidBy,
		CreatedAt:      event.OccurredAt,
		LastModifiedAt: event.OccurredAt,
	}

	shares := settle.Allocate(amount, splitWith)
	for i, userID := range splitWith {
		expense.Splits = append(expense.Splits, types.ExpenseSplit{
			ID:          p.newID(),
			ExpenseID:   expenseID,
			UserID:      userID,
			ShareAmount: shares[i],
			IsPayer:     userID == paidBy,
		})
	}

	return p.expenses.UpsertExpense(ctx, expense)
}

// CleanupProcessedEvents garbage-collects idempotency markers for a group
// older than the retention window.
func (p *Processor) CleanupProcessedEvents(ctx context.Context, groupID string, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	_, err := p.processed.DeleteOlderThan(ctx, groupID, cutoff)
	return err
}

// splitParticipants parses the comma-joined participant list, dropping empty
// entries so a trailing comma or an empty payload value never yields a
// phantom participant.
func splitParticipants(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
