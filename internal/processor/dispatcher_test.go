package processor

import (
	"context"
	"testing"
	"time"

	"github.com/SplitSync/split-sync-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherAppliesQueuedEvents(t *testing.T) {
	p, st := newTestProcessor(t)
	d := NewDispatcher(p, 2, 16)
	d.Start()
	defer d.Stop(time.Second)

	require.True(t, d.Enqueue(groupCreateEvent("evt-1")))
	require.True(t, d.Enqueue(expenseAddEvent("evt-2", "exp-1", "10.00")))

	assert.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, g := st.groups["grp-1"]
		_, e := st.expenses["exp-1"]
		return g && e
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	p, _ := newTestProcessor(t)
	d := NewDispatcher(p, 1, 1)
	// Not started: the queue holds one event and the second is dropped.

	assert.True(t, d.Enqueue(groupCreateEvent("evt-1")))
	assert.False(t, d.Enqueue(groupCreateEvent("evt-2")))
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	p, st := newTestProcessor(t)
	d := NewDispatcher(p, 1, 16)
	d.Start()

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(expenseAddEvent(
			"evt-"+string(rune('a'+i)), "exp-"+string(rune('a'+i)), "5.00")))
	}
	d.Stop(2 * time.Second)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.expenses, 5)
}

func TestDispatcherStartIsIdempotent(t *testing.T) {
	p, _ := newTestProcessor(t)
	d := NewDispatcher(p, 1, 4)
	d.Start()
	d.Start()
	d.Stop(time.Second)
	d.Stop(time.Second)
	// Processing after stop still works through the processor directly.
	assert.NoError(t, p.Process(context.Background(), groupCreateEvent("evt-x")))
}
