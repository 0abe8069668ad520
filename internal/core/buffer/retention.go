// Package buffer holds the recent history of extraction blocks.
package buffer

import (
	"math"
	"sync"

	"github.com/penwyp/go-log-plotter/internal/core/model"
)

// Retention is an ordered, duration-bounded sequence of blocks, oldest
// first. Blocks are never reordered and are treated as immutable once
// appended. All methods are safe for concurrent use; the write lock is held
// only while the slice is mutated.
type Retention struct {
	mu          sync.RWMutex
	blocks      []*model.Block
	maxDuration float64

	evictedThrough float64
	evictedTotal   int
}

// NewRetention creates a buffer keeping at most maxDuration seconds between
// its newest and oldest block. Zero or less disables eviction.
func NewRetention(maxDuration float64) *Retention {
	return &Retention{maxDuration: maxDuration, evictedThrough: math.Inf(-1)}
}

// MaxDuration is the configured retention window in seconds.
func (r *Retention) MaxDuration() float64 { return r.maxDuration }

// Append adds block at the live end and evicts from the old end until the
// span fits the retention window. It returns the number of evicted blocks.
func (r *Retention) Append(block *model.Block) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blocks = append(r.blocks, block)
	return r.evictLocked()
}

func (r *Retention) evictLocked() int {
	if r.maxDuration <= 0 {
		return 0
	}

	newest := r.blocks[len(r.blocks)-1].TS
	drop := 0
	for drop < len(r.blocks)-1 && newest-r.blocks[drop].TS > r.maxDuration {
		if ts := r.blocks[drop].TS; ts > r.evictedThrough {
			r.evictedThrough = ts
		}
		r.blocks[drop] = nil
		drop++
	}
	if drop == 0 {
		return 0
	}

	r.blocks = r.blocks[drop:]
	r.evictedTotal += drop
	// Reallocate once the dead prefix dominates so the backing array does
	// not grow without bound.
	if cap(r.blocks) > 64 && len(r.blocks) < cap(r.blocks)/4 {
		compacted := make([]*model.Block, len(r.blocks), len(r.blocks)*2)
		copy(compacted, r.blocks)
		r.blocks = compacted
	}
	return drop
}

// SnapshotSince returns every retained block with TS strictly greater than
// minTS, newest first. The result reflects one point in time.
func (r *Retention) SnapshotSince(minTS float64) []*model.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(minTS)
}

func (r *Retention) snapshotLocked(minTS float64) []*model.Block {
	out := make([]*model.Block, 0, 8)
	for i := len(r.blocks) - 1; i >= 0; i-- {
		if r.blocks[i].TS > minTS {
			out = append(out, r.blocks[i])
		}
	}
	return out
}

// Since is SnapshotSince together with EvictedThrough, both read under one
// lock so the watermark describes exactly the returned snapshot.
func (r *Retention) Since(minTS float64) ([]*model.Block, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(minTS), r.evictedThrough
}

// Len is the number of retained blocks.
func (r *Retention) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks)
}

// Span is newest.TS - oldest.TS, or zero when fewer than two blocks remain.
func (r *Retention) Span() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.blocks) < 2 {
		return 0
	}
	return r.blocks[len(r.blocks)-1].TS - r.blocks[0].TS
}

// Bounds returns the oldest and newest retained timestamps.
func (r *Retention) Bounds() (oldest, newest float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.blocks) == 0 {
		return 0, 0, false
	}
	return r.blocks[0].TS, r.blocks[len(r.blocks)-1].TS, true
}

// EvictedThrough is the largest timestamp of any evicted block, or -Inf
// before the first eviction. A consumer whose cursor is below it has missed
// data.
func (r *Retention) EvictedThrough() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evictedThrough
}

// EvictedTotal counts blocks evicted over the buffer's lifetime.
func (r *Retention) EvictedTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evictedTotal
}
