// Package mocks provides testify mocks for the store contracts, shared by
// the processor and service tests.
package mocks

import (
	"context"

	"github.com/SplitSync/split-sync-backend/types"
	"github.com/stretchr/testify/mock"
)

type GroupStore struct {
	mock.Mock
}

func (m *GroupStore) UpsertGroup(ctx context.Context, group types.Group) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *GroupStore) UpsertMember(ctx context.Context, member types.GroupMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *GroupStore) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *GroupStore) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type ExpenseStore struct {
	mock.Mock
}

func (m *ExpenseStore) UpsertExpense(ctx context.Context, expense types.Expense) error {
	args := m.Called(ctx, expense)
	return args.Error(0)
}

func (m *ExpenseStore) ListGroupExpenses(ctx context.Context, groupID string) ([]types.Expense, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Expense), args.Error(1)
}

func (m *ExpenseStore) ReplaceDebts(ctx context.Context, groupID string, debts []types.Debt) error {
	args := m.Called(ctx, groupID, debts)
	return args.Error(0)
}

func (m *ExpenseStore) ListDebts(ctx context.Context, groupID string) ([]types.Debt, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Debt), args.Error(1)
}

type ProcessedEventStore struct {
	mock.Mock
}

func (m *ProcessedEventStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *ProcessedEventStore) MarkProcessed(ctx context.Context, record types.ProcessedEventRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *ProcessedEventStore) DeleteOlderThan(ctx context.Context, groupID string, olderThan int64) (int64, error) {
	args := m.Called(ctx, groupID, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type PrefsStore struct {
	mock.Mock
}

func (m *PrefsStore) GetPref(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *PrefsStore) SetPref(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}
