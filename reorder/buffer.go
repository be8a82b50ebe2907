// Package reorder implements the legacy-container reorder buffer (spec
// §4.5): within a latency budget, it merges frames arriving from
// concurrently open groups into strictly increasing timestamp order.
// CMAF bypasses this package entirely; a CMAF rendition's
// samples are already ordered and pushed straight to the decoder.
package reorder

import (
	"container/heap"
	"sync"
	"time"

	"github.com/zsiec/moqview/media"
)

// Frame is one legacy-container sample tagged with the group it arrived
// on and the wall-clock time it was pushed into the buffer.
type Frame struct {
	GroupID   uint64
	Timestamp media.ProducerMicro
	Keyframe  bool
	Data      []byte
	arrival   time.Time
}

// Buffer merges frames from concurrently open groups within a latency
// budget. Every method takes the Buffer's own mutex, so Push, Drain,
// CloseGroup and NextDeadline may be called from different goroutines;
// the source pipeline calls them from one goroutine per group plus a
// drain timer.
type Buffer struct {
	mu sync.Mutex

	budget time.Duration
	now    func() time.Time

	pending      frameHeap
	openGroups   map[uint64]bool
	highWater    map[uint64]media.ProducerMicro
	haveEmitted  bool
	lastEmitted  media.ProducerMicro
}

// New constructs a Buffer with the given latency budget L.
func New(budget time.Duration) *Buffer {
	return NewWithClock(budget, time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests of
// the hold-expiry path.
func NewWithClock(budget time.Duration, now func() time.Time) *Buffer {
	return &Buffer{
		budget:     budget,
		now:        now,
		openGroups: make(map[uint64]bool),
		highWater:  make(map[uint64]media.ProducerMicro),
	}
}

// OpenGroup registers a group as currently producing frames; the quorum
// check waits for every open group to catch up before emitting a hold.
func (b *Buffer) OpenGroup(groupID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openGroups[groupID] = true
}

// CloseGroup marks a group as finished (its stream ended or was
// cancelled). A closed group no longer participates in the quorum check,
// so it cannot indefinitely stall frames from other groups.
func (b *Buffer) CloseGroup(groupID uint64) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.openGroups, groupID)
	delete(b.highWater, groupID)
	return b.drainLocked()
}

// Push enqueues a frame and returns any frames now ready to emit in
// timestamp order. A frame older than the last emitted timestamp is
// dropped silently.
func (b *Buffer) Push(f Frame) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.arrival.IsZero() {
		f.arrival = b.now()
	}

	if b.haveEmitted && f.Timestamp < b.lastEmitted {
		return nil
	}

	b.openGroups[f.GroupID] = true
	if cur, ok := b.highWater[f.GroupID]; !ok || f.Timestamp > cur {
		b.highWater[f.GroupID] = f.Timestamp
	}
	heap.Push(&b.pending, f)

	return b.drainLocked()
}

// Drain re-evaluates hold-expiry against the current time and returns any
// frames whose budget has elapsed. Callers on a timer loop should call
// this at NextDeadline to guarantee forward progress even when no new
// frame arrives.
func (b *Buffer) Drain() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

// NextDeadline reports when the earliest held frame's budget expires, if
// any frame is currently held.
func (b *Buffer) NextDeadline() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.Len() == 0 {
		return time.Time{}, false
	}
	return b.pending[0].arrival.Add(b.budget), true
}

func (b *Buffer) drainLocked() []Frame {
	var ready []Frame
	now := b.now()
	for b.pending.Len() > 0 {
		top := b.pending[0]

		quorum := true
		for gid := range b.openGroups {
			if gid == top.GroupID {
				continue
			}
			hw, ok := b.highWater[gid]
			if !ok || hw < top.Timestamp {
				quorum = false
				break
			}
		}
		expired := now.Sub(top.arrival) >= b.budget

		if !quorum && !expired {
			break
		}

		f := heap.Pop(&b.pending).(Frame)
		if b.haveEmitted && f.Timestamp < b.lastEmitted {
			continue // became stale while held
		}
		b.haveEmitted = true
		b.lastEmitted = f.Timestamp
		ready = append(ready, f)
	}
	return ready
}

// frameHeap is a min-heap ordered by (timestamp, group ID).
type frameHeap []Frame

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if h[i].Timestamp != h[j].Timestamp {
		return h[i].Timestamp < h[j].Timestamp
	}
	return h[i].GroupID < h[j].GroupID
}
func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any) {
	*h = append(*h, x.(Frame))
}
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
