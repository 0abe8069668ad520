package buffer

import (
	"math"
	"sync"
	"testing"

	"github.com/penwyp/go-log-plotter/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(ts float64) *model.Block {
	b := model.NewBlock()
	b.TS = ts
	return b
}

func timestamps(blocks []*model.Block) []float64 {
	out := make([]float64, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.TS)
	}
	return out
}

func TestAppendEvictsBeyondWindow(t *testing.T) {
	r := NewRetention(10)

	for _, ts := range []float64{1, 3, 5, 9} {
		assert.Zero(t, r.Append(block(ts)))
	}
	assert.Equal(t, 4, r.Len())

	assert.Equal(t, 2, r.Append(block(14)))
	assert.Equal(t, []float64{14, 9, 5}, timestamps(r.SnapshotSince(-1)))
	assert.Equal(t, 3.0, r.EvictedThrough())
	assert.Equal(t, 2, r.EvictedTotal())
	assert.LessOrEqual(t, r.Span(), 10.0)
}

func TestAppendKeepsBoundaryBlock(t *testing.T) {
	r := NewRetention(5)
	r.Append(block(1))
	r.Append(block(6))

	assert.Equal(t, 2, r.Len(), "span equal to the window is retained")
	assert.Equal(t, 5.0, r.Span())
}

func TestNewestBlockNeverEvicted(t *testing.T) {
	r := NewRetention(1)
	r.Append(block(100))
	r.Append(block(1))

	assert.Equal(t, []float64{1, 100}, timestamps(r.SnapshotSince(-1)))

	r.Append(block(200))
	assert.Equal(t, []float64{200}, timestamps(r.SnapshotSince(-1)))
}

func TestUnboundedRetention(t *testing.T) {
	for _, max := range []float64{0, -1} {
		r := NewRetention(max)
		for i := 1; i <= 100; i++ {
			r.Append(block(float64(i * 1000)))
		}
		assert.Equal(t, 100, r.Len())
		assert.True(t, math.IsInf(r.EvictedThrough(), -1))
	}
}

func TestSnapshotSinceNewestFirstStrictlyGreater(t *testing.T) {
	r := NewRetention(0)
	for _, ts := range []float64{1, 2, 3, 4} {
		r.Append(block(ts))
	}

	assert.Equal(t, []float64{4, 3}, timestamps(r.SnapshotSince(2)))
	assert.Empty(t, r.SnapshotSince(4))
	assert.Equal(t, []float64{4, 3, 2, 1}, timestamps(r.SnapshotSince(0)))
}

func TestSnapshotOfEmptyBuffer(t *testing.T) {
	r := NewRetention(10)
	assert.Empty(t, r.SnapshotSince(0))
	assert.Zero(t, r.Span())

	_, _, ok := r.Bounds()
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	r := NewRetention(0)
	r.Append(block(2))
	r.Append(block(7))

	oldest, newest, ok := r.Bounds()
	require.True(t, ok)
	assert.Equal(t, 2.0, oldest)
	assert.Equal(t, 7.0, newest)
}

func TestSinceReadsWatermarkWithSnapshot(t *testing.T) {
	r := NewRetention(5)
	r.Append(block(1))

	blocks, evicted := r.Since(math.Inf(-1))
	assert.Equal(t, []float64{1}, timestamps(blocks))
	assert.True(t, math.IsInf(evicted, -1), "nothing evicted yet")

	r.Append(block(4))
	r.Append(block(8))
	blocks, evicted = r.Since(1)
	assert.Equal(t, []float64{8, 4}, timestamps(blocks))
	assert.Equal(t, 1.0, evicted)
}

func TestLongRunCompactsBackingArray(t *testing.T) {
	r := NewRetention(10)
	for i := 1; i <= 10000; i++ {
		r.Append(block(float64(i)))
	}
	assert.Equal(t, 11, r.Len())
	assert.Less(t, cap(r.blocks), 1000)
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	r := NewRetention(50)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			r.Append(block(float64(i)))
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := r.SnapshotSince(0)
				for j := 1; j < len(snap); j++ {
					if snap[j-1].TS <= snap[j].TS {
						t.Errorf("snapshot not newest first: %v", timestamps(snap))
						return
					}
				}
				if len(snap) > 1 && snap[0].TS-snap[len(snap)-1].TS > 50 {
					t.Errorf("snapshot exceeds window: %v", timestamps(snap))
					return
				}
			}
		}()
	}
	wg.Wait()
}
