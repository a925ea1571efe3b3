package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/processor"
	"github.com/SplitSync/split-sync-backend/internal/store"
	syncx "github.com/SplitSync/split-sync-backend/internal/sync"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

// AddExpenseInput describes a new expense. PaidBy defaults to the local
// user; SplitWith lists everyone sharing the cost, payer included.
type AddExpenseInput struct {
	GroupID     string
	Description string
	Amount      types.Cents
	PaidBy      string
	SplitWith   []string
}

// ExpenseService records expenses as replicated events. The local apply is
// synchronous so the expense is visible before propagation finishes.
type ExpenseService struct {
	expenses  store.ExpenseStore
	proc      *processor.Processor
	transport syncx.Transport
	log       *zap.SugaredLogger
	newID     func() string
	now       func() int64
}

func NewExpenseService(
	expenses store.ExpenseStore,
	proc *processor.Processor,
	transport syncx.Transport,
) *ExpenseService {
	return &ExpenseService{
		expenses:  expenses,
		proc:      proc,
		transport: transport,
		log:       logger.GetLogger().Named("expense_service"),
		newID:     func() string { return uuid.New().String() },
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// AddExpense validates the input, applies the expense locally, and pushes
// the event to the group. The returned expense id identifies the expense on
// every device.
func (s *ExpenseService) AddExpense(ctx context.Context, input AddExpenseInput) (string, error) {
	if input.GroupID == "" {
		return "", apperrors.ValidationFailed("invalid expense", "group ID is required")
	}
	if input.Amount <= 0 {
		return "", apperrors.ValidationFailed("invalid expense", "amount must be positive")
	}
	participants := normalizeParticipants(input.SplitWith)
	if len(participants) == 0 {
		return "", apperrors.ValidationFailed("invalid expense", "at least one participant is required")
	}

	userID, err := s.transport.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	paidBy := input.PaidBy
	if paidBy == "" {
		paidBy = userID
	}

	expenseID := s.newID()
	event := types.Event{
		ID:      s.newID(),
		Type:    types.EventTypeExpenseAdd,
		UserID:  userID,
		GroupID: input.GroupID,
		Payload: map[string]string{
			types.PayloadKeyExpenseID:   expenseID,
			types.PayloadKeyDescription: input.Description,
			types.PayloadKeyAmount:      input.Amount.String(),
			types.PayloadKeyPaidBy:      paidBy,
			types.PayloadKeySplitWith:   strings.Join(participants, ","),
		},
		OccurredAt: s.now(),
	}

	if err := s.proc.Process(ctx, event); err != nil {
		return "", err
	}
	if err := s.transport.PushEvent(ctx, input.GroupID, event); err != nil {
		s.log.Warnw("Expense recorded locally but not yet propagated",
			"expenseID", expenseID,
			"groupID", input.GroupID,
			"error", err,
		)
	}

	s.log.Infow("Added expense",
		"expenseID", expenseID,
		"groupID", input.GroupID,
		"amount", input.Amount.String(),
		"participants", len(participants),
	)
	return expenseID, nil
}

// ListExpenses returns the group's expenses with splits, hiding soft-deleted
// rows.
func (s *ExpenseService) ListExpenses(ctx context.Context, groupID string) ([]types.Expense, error) {
	all, err := s.expenses.ListGroupExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	visible := make([]types.Expense, 0, len(all))
	for _, expense := range all {
		if expense.IsDeleted {
			continue
		}
		visible = append(visible, expense)
	}
	return visible, nil
}

// normalizeParticipants trims entries, drops blanks, and removes duplicates
// while preserving order. Share allocation depends on participant order, so
// the order callers pass is the order everyone ends up with.
func normalizeParticipants(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, userID := range raw {
		userID = strings.TrimSpace(userID)
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		out = append(out, userID)
	}
	return out
}
