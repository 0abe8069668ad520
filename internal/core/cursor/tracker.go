// Package cursor tracks, per consumer, the newest block already delivered.
package cursor

import (
	"math"
	"sync"
	"time"

	"github.com/penwyp/go-log-plotter/internal/core/model"
)

// Unset is the cursor of a consumer that has never been served. Every block
// timestamp, including zero and negative relative ones, compares above it.
var Unset = math.Inf(-1)

// Source is the view of the retention buffer a Tracker needs.
type Source interface {
	// Since returns the blocks newer than minTS, newest first, and the
	// largest timestamp evicted so far, read at the same instant.
	Since(minTS float64) ([]*model.Block, float64)
}

// Delivery is the result of one poll.
type Delivery struct {
	// Blocks newer than the consumer's cursor, newest first.
	Blocks []*model.Block
	// Gap is set when blocks the consumer never received were evicted.
	Gap bool
	// Cursor is the consumer's position after this delivery.
	Cursor float64
}

type entry struct {
	mu       sync.Mutex
	last     float64
	lastSeen time.Time
	reaped   bool
}

// Tracker maps consumer ids to cursors. Polls from different consumers run
// in parallel; polls sharing an id are serialized so a block is never handed
// to the same consumer twice.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (t *Tracker) lookup(id string) *entry {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[id]; ok {
		return e
	}
	e = &entry{last: Unset, lastSeen: t.now()}
	t.entries[id] = e
	return e
}

// Deliver returns the blocks src holds beyond id's cursor and advances the
// cursor to the newest of them. An unknown id receives everything retained.
func (t *Tracker) Deliver(id string, src Source) Delivery {
	d, _ := t.DeliverWith(id, src, nil)
	return d
}

// DeliverWith is Deliver with a hook that runs while id is locked, before
// its cursor moves. When accept fails the cursor stays where it was and the
// same blocks are offered on the next poll.
func (t *Tracker) DeliverWith(id string, src Source, accept func(Delivery) error) (Delivery, error) {
	e := t.lookup(id)
	e.mu.Lock()
	for e.reaped {
		e.mu.Unlock()
		e = t.lookup(id)
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	blocks, evictedThrough := src.Since(e.last)
	d := Delivery{
		Blocks: blocks,
		Gap:    e.last != Unset && evictedThrough > e.last,
		Cursor: e.last,
	}
	for _, b := range blocks {
		if b.TS > d.Cursor {
			d.Cursor = b.TS
		}
	}

	e.lastSeen = t.now()
	if accept != nil {
		if err := accept(d); err != nil {
			d.Cursor = e.last
			return d, err
		}
	}
	e.last = d.Cursor
	return d, nil
}

// Cursor reports id's current position.
func (t *Tracker) Cursor(id string) (float64, bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return Unset, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, true
}

// Len is the number of known consumers.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reap forgets consumers idle for longer than idle and returns how many were
// removed. A reaped consumer that returns is treated as new.
func (t *Tracker) Reap(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := t.now().Add(-idle)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, e := range t.entries {
		// An entry locked by an in-flight poll is active by definition.
		if !e.mu.TryLock() {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			e.reaped = true
			delete(t.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}
