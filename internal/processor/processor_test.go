package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory implementation of every store contract the
// processor touches, with optional fault injection for apply failures.
type memStore struct {
	mu        sync.Mutex
	groups    map[string]types.Group
	members   map[string]types.GroupMember
	expenses  map[string]types.Expense
	debts     map[string][]types.Debt
	processed map[string]types.ProcessedEventRecord
	prefs     map[string]string

	failNextUpsert bool
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
	existing, ok := m.groups[group.ID]
	if ok {
		existing.Name = group.Name
		m.groups[group.ID] = existing
		return nil
	}
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
	if m.failNextUpsert {
		m.failNextUpsert = false
		return fmt.Errorf("simulated storage failure")
	}
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
	for id, rec := range m.processed {
		if rec.GroupID == groupID && rec.ProcessedAt < olderThan {
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

func newTestProcessor(t *testing.T) (*Processor, *memStore) {
	t.Helper()
	st := newMemStore()
	st.prefs["user_id"] = "local-user"
	st.prefs["display_name"] = "Local User"

	p := New(st, st, st, identity.NewManager(st))
	seq := 0
	p.newID = func() string {
		seq++
		return fmt.Sprintf("split-%d", seq)
	}
	return p, st
}

func groupCreateEvent(id string) types.Event {
	return types.Event{
		ID:         id,
		Type:       types.EventTypeGroupCreate,
		UserID:     "local-user",
		GroupID:    "grp-1",
		Payload:    map[string]string{types.PayloadKeyName: "Flat 4B"},
		OccurredAt: 1000,
	}
}

func expenseAddEvent(id, expenseID, amount string) types.Event {
	return types.Event{
		ID:      id,
		Type:    types.EventTypeExpenseAdd,
		UserID:  "u1",
		GroupID: "grp-1",
		Payload: map[string]string{
			types.PayloadKeyExpenseID:   expenseID,
			types.PayloadKeyDescription: "Dinner",
			types.PayloadKeyAmount:      amount,
			types.PayloadKeyPaidBy:      "u1",
			types.PayloadKeySplitWith:   "u1,u2,u3",
		},
		OccurredAt: 2000,
	}
}

func TestProcessGroupCreate(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, groupCreateEvent("evt-1")))

	group := st.groups["grp-1"]
	assert.Equal(t, "Flat 4B", group.Name)
	assert.Equal(t, "local-user", group.CreatedBy)
	assert.Equal(t, int64(1000), group.CreatedAt)

	member := st.members["grp-1/local-user"]
	assert.Equal(t, "Local User", member.DisplayName)

	_, marked := st.processed["evt-1"]
	assert.True(t, marked)
}

func TestProcessGroupCreateDefaultsName(t *testing.T) {
	p, st := newTestProcessor(t)
	e := groupCreateEvent("evt-1")
	e.Payload = map[string]string{}

	require.NoError(t, p.Process(context.Background(), e))
	assert.Equal(t, "Unnamed Group", st.groups["grp-1"].Name)
}

func TestProcessExpenseAddAllocatesSplits(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, expenseAddEvent("evt-2", "exp-1", "10.00")))

	expense := st.expenses["exp-1"]
	assert.Equal(t, types.Cents(1000), expense.Amount)
	require.Len(t, expense.Splits, 3)

	var sum types.Cents
	shares := map[string]types.Cents{}
	for _, sp := range expense.Splits {
		sum += sp.ShareAmount
		shares[sp.UserID] = sp.ShareAmount
		assert.Equal(t, sp.UserID == "u1", sp.IsPayer)
	}
	assert.Equal(t, expense.Amount, sum, "splits must sum to the amount exactly")
	assert.Equal(t, types.Cents(334), shares["u1"])
	assert.Equal(t, types.Cents(333), shares["u2"])
	assert.Equal(t, types.Cents(333), shares["u3"])
}

func TestProcessIsIdempotent(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()
	e := expenseAddEvent("evt-2", "exp-1", "10.00")

	require.NoError(t, p.Process(ctx, e))
	snapshot := st.expenses["exp-1"]

	require.NoError(t, p.Process(ctx, e))
	require.NoError(t, p.Process(ctx, e))

	assert.Equal(t, snapshot, st.expenses["exp-1"])
	assert.Len(t, st.expenses, 1)
}

func TestProcessOutOfOrderConvergence(t *testing.T) {
	events := []types.Event{
		groupCreateEvent("evt-1"),
		expenseAddEvent("evt-2", "exp-1", "10.00"),
		expenseAddEvent("evt-3", "exp-2", "7.50"),
	}

	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	type snapshot struct {
		group    types.Group
		expenses map[string]map[string]types.Cents // expenseID -> userID -> share
	}

	var first *snapshot
	for _, perm := range permutations {
		p, st := newTestProcessor(t)
		ctx := context.Background()
		for _, i := range perm {
			require.NoError(t, p.Process(ctx, events[i]))
		}

		got := snapshot{group: st.groups["grp-1"], expenses: map[string]map[string]types.Cents{}}
		for id, e := range st.expenses {
			shares := map[string]types.Cents{}
			for _, sp := range e.Splits {
				shares[sp.UserID] = sp.ShareAmount
			}
			got.expenses[id] = shares
		}

		if first == nil {
			first = &got
			continue
		}
		assert.Equal(t, first.group, got.group, "permutation %v", perm)
		assert.Equal(t, first.expenses, got.expenses, "permutation %v", perm)
	}
}

func TestProcessMalformedExpenseDroppedAndMarked(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing expenseId", func(p map[string]string) { delete(p, types.PayloadKeyExpenseID) }},
		{"missing paidBy", func(p map[string]string) { delete(p, types.PayloadKeyPaidBy) }},
		{"missing amount", func(p map[string]string) { delete(p, types.PayloadKeyAmount) }},
		{"empty splitWith", func(p map[string]string) { p[types.PayloadKeySplitWith] = "" }},
		{"unparseable amount", func(p map[string]string) { p[types.PayloadKeyAmount] = "ten dollars" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, st := newTestProcessor(t)
			e := expenseAddEvent("evt-bad", "exp-bad", "10.00")
			tt.mutate(e.Payload)

			require.NoError(t, p.Process(context.Background(), e))
			assert.Empty(t, st.expenses, "malformed event must not create rows")
			_, marked := st.processed["evt-bad"]
			assert.True(t, marked, "malformed event must be marked to avoid redelivery loops")
		})
	}
}

func TestProcessTransientFailureRetriesOnRedelivery(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()
	e := expenseAddEvent("evt-2", "exp-1", "10.00")

	st.failNextUpsert = true
	err := p.Process(ctx, e)
	require.Error(t, err)
	_, marked := st.processed["evt-2"]
	assert.False(t, marked, "failed apply must stay eligible for redelivery")

	// Redelivery succeeds and marks.
	require.NoError(t, p.Process(ctx, e))
	assert.Contains(t, st.expenses, "exp-1")
	_, marked = st.processed["evt-2"]
	assert.True(t, marked)
}

func TestProcessReservedKindsAreRecorded(t *testing.T) {
	for _, kind := range []types.EventType{
		types.EventTypeGroupEdit, types.EventTypeExpenseEdit, types.EventTypeExpenseDelete,
	} {
		t.Run(string(kind), func(t *testing.T) {
			p, st := newTestProcessor(t)
			e := types.Event{
				ID: "evt-r", Type: kind, UserID: "u1", GroupID: "grp-1",
				Payload: map[string]string{}, OccurredAt: 1000,
			}
			require.NoError(t, p.Process(context.Background(), e))
			_, marked := st.processed["evt-r"]
			assert.True(t, marked)
			assert.Empty(t, st.expenses)
			assert.Empty(t, st.groups)
		})
	}
}

func TestProcessRejectsInvalidEvent(t *testing.T) {
	p, st := newTestProcessor(t)
	err := p.Process(context.Background(), types.Event{Type: types.EventTypeGroupCreate})
	assert.Error(t, err)
	assert.Empty(t, st.processed)
}

func TestCleanupProcessedEvents(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, groupCreateEvent("evt-old")))
	st.processed["evt-old"] = types.ProcessedEventRecord{EventID: "evt-old", GroupID: "grp-1", ProcessedAt: 1}

	require.NoError(t, p.CleanupProcessedEvents(ctx, "grp-1", 0))
	assert.Empty(t, st.processed)

	// After GC the replay is redundant but idempotent.
	require.NoError(t, p.Process(ctx, groupCreateEvent("evt-old")))
	assert.Len(t, st.groups, 1)
}
