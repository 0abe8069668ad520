package tailer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readAll(t *testing.T, f *Follower) []string {
	t.Helper()
	var all []string
	for i := 0; i < 100; i++ {
		lines, err := f.ReadLines()
		require.NoError(t, err)
		if len(lines) == 0 {
			return all
		}
		all = append(all, lines...)
	}
	return all
}

func newLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFollowerStartsAtEnd(t *testing.T) {
	path := newLog(t, "old line\n")

	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	assert.Empty(t, readAll(t, f))

	appendFile(t, path, "new line\n")
	assert.Equal(t, []string{"new line\n"}, readAll(t, f))
}

func TestFollowerFromStart(t *testing.T) {
	path := newLog(t, "one\ntwo\n")

	f, err := Open(path, true)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"one\n", "two\n"}, readAll(t, f))
}

func TestFollowerHoldsPartialLine(t *testing.T) {
	path := newLog(t, "")

	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	appendFile(t, path, "par")
	assert.Empty(t, readAll(t, f))
	assert.Equal(t, 3, f.Pending())

	appendFile(t, path, "tial\n")
	assert.Equal(t, []string{"partial\n"}, readAll(t, f))
	assert.Zero(t, f.Pending())
}

func TestFollowerTruncation(t *testing.T) {
	tests := []struct {
		name     string
		shrinkTo int64
	}{
		{"truncate to zero", 0},
		{"truncate to middle", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := newLog(t, "")
			f, err := Open(path, false)
			require.NoError(t, err)
			defer f.Close()

			var resets []ResetReason
			f.OnReset = func(r ResetReason) { resets = append(resets, r) }

			appendFile(t, path, "line one\nline two\nline three\npartial")
			require.Equal(t, []string{"line one\n", "line two\n", "line three\n"}, readAll(t, f))

			require.NoError(t, os.Truncate(path, tt.shrinkTo))
			assert.Empty(t, readAll(t, f))
			assert.Equal(t, []ResetReason{ResetTruncated}, resets)
			assert.Zero(t, f.Pending(), "remainder is dropped on truncation")

			appendFile(t, path, "after one\nafter two\n")
			got := readAll(t, f)
			assert.Equal(t, []string{"after one\n", "after two\n"}, got)
			for _, line := range got {
				assert.False(t, strings.HasPrefix(line, "line"), "pre-truncation content re-emitted")
			}
		})
	}
}

func TestFollowerTruncateThenWrite(t *testing.T) {
	tests := []struct {
		name  string
		after string
	}{
		{"shorter than before", "new\n"},
		{"grows past old offset", "a fresh line that is longer than everything before\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := newLog(t, "")
			f, err := Open(path, false)
			require.NoError(t, err)
			defer f.Close()

			var resets []ResetReason
			f.OnReset = func(r ResetReason) { resets = append(resets, r) }

			appendFile(t, path, "old line one\nold line two\n")
			require.Equal(t, []string{"old line one\n", "old line two\n"}, readAll(t, f))

			// The writer keeps going before the follower looks again.
			require.NoError(t, os.Truncate(path, 0))
			appendFile(t, path, tt.after)

			assert.Equal(t, []string{tt.after}, readAll(t, f))
			assert.Equal(t, []ResetReason{ResetTruncated}, resets)

			appendFile(t, path, "next\n")
			assert.Equal(t, []string{"next\n"}, readAll(t, f))
		})
	}
}

func TestFollowerRotation(t *testing.T) {
	path := newLog(t, "")
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	var resets []ResetReason
	f.OnReset = func(r ResetReason) { resets = append(resets, r) }

	appendFile(t, path, "before rotation\n")
	require.Equal(t, []string{"before rotation\n"}, readAll(t, f))

	require.NoError(t, os.Rename(path, path+".1"))
	appendFile(t, path, "fresh file line\n")

	got := readAll(t, f)
	if len(got) == 0 {
		got = readAll(t, f)
	}
	assert.Equal(t, []string{"fresh file line\n"}, got)
	assert.Equal(t, []ResetReason{ResetRotated}, resets)
}

func TestFollowerMissingPathKeepsHandle(t *testing.T) {
	path := newLog(t, "")
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.Remove(path))
	lines, err := f.ReadLines()
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.log"), false)
	assert.Error(t, err)

	_, err = Open(t.TempDir(), false)
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestWaitHonoursContext(t *testing.T) {
	path := newLog(t, "")
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	f.Wait(ctx, time.Minute)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitBackoff(t *testing.T) {
	path := newLog(t, "")
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	start := time.Now()
	f.Wait(context.Background(), 20*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := newLog(t, "")
	f, err := Open(path, false)
	require.NoError(t, err)

	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
