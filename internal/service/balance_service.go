package service

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SplitSync/split-sync-backend/internal/settle"
	"github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

// BalanceService derives the read side of the ledger: per-member net
// balances and the simplified settlement transfers. Both are pure functions
// of the expense table and are recomputed rather than replicated, so they
// need no conflict handling of their own.
type BalanceService struct {
	expenses store.ExpenseStore
	log      *zap.SugaredLogger
	newID    func() string
}

func NewBalanceService(expenses store.ExpenseStore) *BalanceService {
	return &BalanceService{
		expenses: expenses,
		log:      logger.GetLogger().Named("balance_service"),
		newID:    func() string { return uuid.New().String() },
	}
}

// ComputeBalances folds every live expense into net positions: the payer is
// credited the full amount, every participant is debited their share. The
// balances sum to zero exactly because splits always sum to the expense
// amount.
func (s *BalanceService) ComputeBalances(ctx context.Context, groupID string) ([]types.MemberBalance, error) {
	expenses, err := s.expenses.ListGroupExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}

	net := make(map[string]types.Cents)
	for _, expense := range expenses {
		if expense.IsDeleted {
			continue
		}
		net[expense.PaidBy] += expense.Amount
		for _, split := range expense.Splits {
			net[split.UserID] -= split.ShareAmount
		}
	}

	balances := make([]types.MemberBalance, 0, len(net))
	for userID, balance := range net {
		balances = append(balances, types.MemberBalance{UserID: userID, Balance: balance})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].UserID < balances[j].UserID
	})
	return balances, nil
}

// RecomputeDebts rebuilds the materialized settlement view for a group from
// current balances and returns the new transfers.
func (s *BalanceService) RecomputeDebts(ctx context.Context, groupID string) ([]types.Debt, error) {
	balances, err := s.ComputeBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}

	net := make(map[string]types.Cents, len(balances))
	for _, balance := range balances {
		net[balance.UserID] = balance.Balance
	}

	transfers := settle.Simplify(net)
	debts := make([]types.Debt, len(transfers))
	for i, transfer := range transfers {
		debts[i] = types.Debt{
			ID:         s.newID(),
			GroupID:    groupID,
			FromUserID: transfer.FromUserID,
			ToUserID:   transfer.ToUserID,
			Amount:     transfer.Amount,
		}
	}

	if err := s.expenses.ReplaceDebts(ctx, groupID, debts); err != nil {
		return nil, err
	}
	s.log.Debugw("Recomputed debts", "groupID", groupID, "transfers", len(debts))
	return debts, nil
}

// ListDebts returns the last materialized settlement view.
func (s *BalanceService) ListDebts(ctx context.Context, groupID string) ([]types.Debt, error) {
	return s.expenses.ListDebts(ctx, groupID)
}
