// Package clock implements a Hybrid Logical Clock: physical wall time
// combined with a logical counter, so that timestamps issued by one node are
// strictly increasing and merging a remote timestamp never moves the clock
// backwards, even under wall-clock skew.
package clock

import (
	"sync"
	"time"

	"github.com/SplitSync/split-sync-backend/types"
)

// HybridLogicalClock issues causally-ordered timestamps for locally-produced
// events and merges timestamps carried by inbound remote events.
//
// All methods are safe for concurrent use; the last-issued timestamp is
// guarded by a mutex because Generate and Receive both read and replace it.
type HybridLogicalClock struct {
	mu     sync.Mutex
	nodeID string
	last   types.Timestamp
	now    func() int64 // wall-clock ms, injectable for tests
}

// New returns a clock for the given stable node identifier.
func New(nodeID string) *HybridLogicalClock {
	return &HybridLogicalClock{
		nodeID: nodeID,
		last:   types.Timestamp{NodeID: nodeID},
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// NewWithNow returns a clock that reads wall time from now. Used in tests to
// simulate skew and stalled clocks.
func NewWithNow(nodeID string, now func() int64) *HybridLogicalClock {
	c := New(nodeID)
	c.now = now
	return c
}

// Generate issues a timestamp for a new local event. Successive calls return
// strictly increasing timestamps even when the wall clock stalls or steps back.
func (c *HybridLogicalClock) Generate() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := c.now()

	var next types.Timestamp
	if pt > c.last.WallClock {
		next = types.Timestamp{WallClock: pt, Counter: 0, NodeID: c.nodeID}
	} else {
		next = types.Timestamp{WallClock: c.last.WallClock, Counter: c.last.Counter + 1, NodeID: c.nodeID}
	}

	c.last = next
	return next
}

// Receive advances local causal knowledge from a remote event's timestamp.
// It must be called for every inbound event that carries one.
func (c *HybridLogicalClock) Receive(remote types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := c.now()
	last := c.last

	newWall := pt
	if remote.WallClock > newWall {
		newWall = remote.WallClock
	}
	if last.WallClock > newWall {
		newWall = last.WallClock
	}

	var newCounter int32
	switch {
	case newWall == last.WallClock && newWall == remote.WallClock:
		// Clocks are in sync, increment the max counter.
		newCounter = maxCounter(last.Counter, remote.Counter) + 1
	case newWall == remote.WallClock:
		// Our clock was behind, take the remote counter and increment.
		newCounter = remote.Counter + 1
	case newWall == last.WallClock:
		// Remote was behind, increment our counter.
		newCounter = last.Counter + 1
	default:
		// Both were behind true wall time, reset the counter.
		newCounter = 0
	}

	c.last = types.Timestamp{WallClock: newWall, Counter: newCounter, NodeID: c.nodeID}
}

// Last returns the most recently issued or merged timestamp.
func (c *HybridLogicalClock) Last() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func maxCounter(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
