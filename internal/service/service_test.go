package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/internal/processor"
	syncx "github.com/SplitSync/split-sync-backend/internal/sync"
	"github.com/SplitSync/split-sync-backend/types"
)

// memStore backs every store contract the services touch.
type memStore struct {
	mu        sync.Mutex
	groups    map[string]types.Group
	members   map[string]types.GroupMember
	expenses  map[string]types.Expense
	debts     map[string][]types.Debt
	processed map[string]types.ProcessedEventRecord
	prefs     map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		groups:    make(map[string]types.Group),
		members:   make(map[string]types.GroupMember),
		expenses:  make(map[string]types.Expense),
		debts:     make(map[string][]types.Debt),
		processed: make(map[string]types.ProcessedEventRecord),
		prefs:     make(map[string]string),
	}
}

func (m *memStore) UpsertGroup(_ context.Context, group types.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
	return nil
}

func (m *memStore) UpsertMember(_ context.Context, member types.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.GroupID+"/"+member.UserID] = member
	return nil
}

func (m *memStore) GetGroup(_ context.Context, id string) (*types.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s not found", id)
	}
	for _, member := range m.members {
		if member.GroupID == id {
			g.Members = append(g.Members, member)
		}
	}
	return &g, nil
}

func (m *memStore) ListGroupIDsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, member := range m.members {
		if member.UserID == userID {
			ids = append(ids, member.GroupID)
		}
	}
	return ids, nil
}

func (m *memStore) UpsertExpense(_ context.Context, expense types.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[expense.ID] = expense
	return nil
}

func (m *memStore) ListGroupExpenses(_ context.Context, groupID string) ([]types.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Expense
	for _, e := range m.expenses {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ReplaceDebts(_ context.Context, groupID string, debts []types.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debts[groupID] = debts
	return nil
}

func (m *memStore) ListDebts(_ context.Context, groupID string) ([]types.Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debts[groupID], nil
}

func (m *memStore) HasProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkProcessed(_ context.Context, record types.ProcessedEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[record.EventID]; !ok {
		m.processed[record.EventID] = record
	}
	return nil
}

func (m *memStore) DeleteOlderThan(_ context.Context, groupID string, olderThan int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, record := range m.processed {
		if record.GroupID == groupID && record.ProcessedAt < olderThan {
			delete(m.processed, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) GetPref(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[key], nil
}

func (m *memStore) SetPref(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

// fakeTransport records interactions and lets tests inject inbound events
// through the registered callbacks.
type fakeTransport struct {
	mu        sync.Mutex
	userID    string
	created   map[string]string
	joinable  map[string]types.Group
	pushed    []types.Event
	callbacks map[string]syncx.EventCallback
	pushErr   error
	status    types.SyncStatus
}

var _ syncx.Transport = (*fakeTransport)(nil)

func newFakeTransport(userID string) *fakeTransport {
	return &fakeTransport{
		userID:    userID,
		created:   make(map[string]string),
		joinable:  make(map[string]types.Group),
		callbacks: make(map[string]syncx.EventCallback),
		status:    types.SyncStatus{State: types.SyncUpToDate},
	}
}

func (f *fakeTransport) Initialize(context.Context) error { return nil }

func (f *fakeTransport) CurrentUserID(context.Context) (string, error) { return f.userID, nil }

func (f *fakeTransport) CreateGroup(_ context.Context, groupID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[groupID] = name
	return nil
}

func (f *fakeTransport) JoinGroup(_ context.Context, code string) (types.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.joinable[code]
	if !ok {
		return types.Group{}, fmt.Errorf("unknown code %s", code)
	}
	return group, nil
}

func (f *fakeTransport) PushEvent(_ context.Context, _ string, event types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, event)
	return nil
}

func (f *fakeTransport) StartListening(groupID string, cb syncx.EventCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[groupID] = cb
}

func (f *fakeTransport) StopListening(groupID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callbacks, groupID)
}

func (f *fakeTransport) State() types.SyncStatus { return f.status }

func (f *fakeTransport) WatchState() <-chan types.SyncStatus {
	ch := make(chan types.SyncStatus, 1)
	return ch
}

func (f *fakeTransport) Disconnect(context.Context) error { return nil }

func (f *fakeTransport) listener(groupID string) syncx.EventCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[groupID]
}

func (f *fakeTransport) pushedEvents() []types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Event, len(f.pushed))
	copy(out, f.pushed)
	return out
}

type fixture struct {
	store     *memStore
	transport *fakeTransport
	proc      *processor.Processor
	engine    *SyncEngine
	groups    *GroupService
	expenses  *ExpenseService
	balances  *BalanceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	st.prefs["user_id"] = "u1"
	st.prefs["display_name"] = "User One"

	transport := newFakeTransport("u1")
	idents := identity.NewManager(st)
	proc := processor.New(st, st, st, idents)
	dispatcher := processor.NewDispatcher(proc, 2, 64)
	engine := NewSyncEngine(transport, dispatcher, proc, st)
	t.Cleanup(func() { dispatcher.Stop(2 * time.Second) })

	return &fixture{
		store:     st,
		transport: transport,
		proc:      proc,
		engine:    engine,
		groups:    NewGroupService(st, proc, transport, engine, idents),
		expenses:  NewExpenseService(st, proc, transport),
		balances:  NewBalanceService(st),
	}
}

func TestCreateGroupAppliesLocallyAndPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.groups.CreateGroup(ctx, "Ski Trip")
	require.NoError(t, err)
	assert.Equal(t, "Ski Trip", group.Name)
	assert.Equal(t, "u1", group.CreatedBy)
	require.Len(t, group.Members, 1)
	assert.Equal(t, "u1", group.Members[0].UserID)
	assert.Equal(t, "User One", group.Members[0].DisplayName)

	assert.Equal(t, "Ski Trip", f.transport.created[group.ID])
	pushed := f.transport.pushedEvents()
	require.Len(t, pushed, 1)
	assert.Equal(t, types.EventTypeGroupCreate, pushed[0].Type)
	assert.Equal(t, group.ID, pushed[0].GroupID)
	assert.NotNil(t, f.transport.listener(group.ID))
}

func TestCreateGroupRejectsBlankName(t *testing.T) {
	f := newFixture(t)

	_, err := f.groups.CreateGroup(context.Background(), "   ")
	require.Error(t, err)
	assert.Empty(t, f.transport.pushedEvents())
}

func TestCreateGroupSucceedsWhenPushFails(t *testing.T) {
	f := newFixture(t)
	f.transport.pushErr = fmt.Errorf("no connected peers")

	group, err := f.groups.CreateGroup(context.Background(), "Ski Trip")
	require.NoError(t, err)
	assert.Equal(t, "Ski Trip", group.Name)
}

func TestJoinGroupPersistsMembership(t *testing.T) {
	f := newFixture(t)
	f.transport.joinable["grp-remote"] = types.Group{
		ID:        "grp-remote",
		Name:      "Road Trip",
		CreatedBy: "u9",
		CreatedAt: 1700000000000,
	}

	group, err := f.groups.JoinGroup(context.Background(), "grp-remote")
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", group.Name)
	require.Len(t, group.Members, 1)
	assert.Equal(t, "u1", group.Members[0].UserID)
	assert.NotNil(t, f.transport.listener("grp-remote"))

	// Membership persisted means a restart resumes listening for it.
	ids, err := f.store.ListGroupIDsForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"grp-remote"}, ids)
}

func TestAddExpenseAppliesLocallyAndPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.groups.CreateGroup(ctx, "Dinner Club")
	require.NoError(t, err)

	expenseID, err := f.expenses.AddExpense(ctx, AddExpenseInput{
		GroupID:     group.ID,
		Description: "Dinner",
		Amount:      1000,
		SplitWith:   []string{"u1", "u2", "u3"},
	})
	require.NoError(t, err)

	expenses, err := f.expenses.ListExpenses(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, expenseID, expenses[0].ID)
	assert.Equal(t, types.Cents(1000), expenses[0].Amount)
	assert.Equal(t, "u1", expenses[0].PaidBy)

	shares := make(map[string]types.Cents)
	for _, split := range expenses[0].Splits {
		shares[split.UserID] = split.ShareAmount
	}
	assert.Equal(t, map[string]types.Cents{"u1": 334, "u2": 333, "u3": 333}, shares)

	pushed := f.transport.pushedEvents()
	require.Len(t, pushed, 2)
	assert.Equal(t, types.EventTypeExpenseAdd, pushed[1].Type)
	assert.Equal(t, "10.00", pushed[1].Payload[types.PayloadKeyAmount])
	assert.Equal(t, "u1,u2,u3", pushed[1].Payload[types.PayloadKeySplitWith])
}

func TestAddExpenseRecordedLocallyWhenPushFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.groups.CreateGroup(ctx, "Dinner Club")
	require.NoError(t, err)
	f.transport.pushErr = fmt.Errorf("relay unreachable")

	_, err = f.expenses.AddExpense(ctx, AddExpenseInput{
		GroupID:   group.ID,
		Amount:    500,
		SplitWith: []string{"u1", "u2"},
	})
	require.NoError(t, err)

	expenses, err := f.expenses.ListExpenses(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, expenses, 1)
}

func TestAddExpenseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.expenses.AddExpense(ctx, AddExpenseInput{Amount: 100, SplitWith: []string{"u1"}})
	assert.Error(t, err, "missing group")

	_, err = f.expenses.AddExpense(ctx, AddExpenseInput{GroupID: "g", Amount: 0, SplitWith: []string{"u1"}})
	assert.Error(t, err, "zero amount")

	_, err = f.expenses.AddExpense(ctx, AddExpenseInput{GroupID: "g", Amount: 100, SplitWith: []string{" ", ""}})
	assert.Error(t, err, "no participants")
}

func TestBalancesAndSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.groups.CreateGroup(ctx, "Dinner Club")
	require.NoError(t, err)

	_, err = f.expenses.AddExpense(ctx, AddExpenseInput{
		GroupID:     group.ID,
		Description: "Dinner",
		Amount:      1000,
		PaidBy:      "u1",
		SplitWith:   []string{"u1", "u2", "u3"},
	})
	require.NoError(t, err)

	balances, err := f.balances.ComputeBalances(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.MemberBalance{
		{UserID: "u1", Balance: 666},
		{UserID: "u2", Balance: -333},
		{UserID: "u3", Balance: -333},
	}, balances)

	debts, err := f.balances.RecomputeDebts(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, debts, 2)
	assert.Equal(t, "u2", debts[0].FromUserID)
	assert.Equal(t, "u1", debts[0].ToUserID)
	assert.Equal(t, types.Cents(333), debts[0].Amount)
	assert.Equal(t, "u3", debts[1].FromUserID)
	assert.Equal(t, "u1", debts[1].ToUserID)
	assert.Equal(t, types.Cents(333), debts[1].Amount)

	stored, err := f.balances.ListDebts(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, debts, stored)
}

func TestEngineResumesListeningForKnownGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMember(ctx, types.GroupMember{GroupID: "grp-a", UserID: "u1"}))
	require.NoError(t, f.store.UpsertMember(ctx, types.GroupMember{GroupID: "grp-b", UserID: "u1"}))

	require.NoError(t, f.engine.Start(ctx))
	assert.NotNil(t, f.transport.listener("grp-a"))
	assert.NotNil(t, f.transport.listener("grp-b"))

	// An inbound delivery through a resumed listener lands in storage.
	f.transport.listener("grp-a")(types.Event{
		ID:         "evt-inbound",
		Type:       types.EventTypeGroupCreate,
		UserID:     "u9",
		GroupID:    "grp-a",
		Payload:    map[string]string{types.PayloadKeyName: "Revived"},
		OccurredAt: 1700000000000,
	})
	assert.Eventually(t, func() bool {
		group, err := f.store.GetGroup(ctx, "grp-a")
		return err == nil && group.Name == "Revived"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweepProcessedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMember(ctx, types.GroupMember{GroupID: "grp-a", UserID: "u1"}))
	require.NoError(t, f.store.MarkProcessed(ctx, types.ProcessedEventRecord{
		EventID:     "evt-old",
		GroupID:     "grp-a",
		ProcessedAt: time.Now().Add(-48 * time.Hour).UnixMilli(),
	}))
	require.NoError(t, f.store.MarkProcessed(ctx, types.ProcessedEventRecord{
		EventID:     "evt-fresh",
		GroupID:     "grp-a",
		ProcessedAt: time.Now().UnixMilli(),
	}))

	require.NoError(t, f.engine.SweepProcessedEvents(ctx, 24*time.Hour))

	old, err := f.store.HasProcessed(ctx, "evt-old")
	require.NoError(t, err)
	assert.False(t, old)
	fresh, err := f.store.HasProcessed(ctx, "evt-fresh")
	require.NoError(t, err)
	assert.True(t, fresh)
}
