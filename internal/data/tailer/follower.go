package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/penwyp/go-log-plotter/internal/util"
)

var ErrNotRegularFile = errors.New("not a regular file")

// headSize bounds the leading bytes compared to spot in-place rewrites.
const headSize = 2048

// ResetReason explains why the follower reopened its file.
type ResetReason string

const (
	// ResetTruncated means the file shrank or was rewritten in place. Reading
	// resumes at the shrink point when the leading bytes survived, and at the
	// start when they were replaced.
	ResetTruncated ResetReason = "truncated"
	// ResetRotated means the path now names a different inode; the new file
	// is read from its beginning.
	ResetRotated ResetReason = "rotated"
)

// Follower tails one file path across truncation and rotation. ReadLines
// and Wait must be called from a single goroutine.
type Follower struct {
	path string
	file *os.File
	rem  Remainder
	last *util.FileInfo
	// head holds the file's leading bytes, up to headSize, as last seen.
	head []byte

	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	// OnReset, if set, is called after every reopen.
	OnReset func(reason ResetReason)
}

// Open starts following path. Unless fromStart is set, only bytes appended
// after Open are returned.
func Open(path string, fromStart bool) (*Follower, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := util.GetFileInfo(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Regular {
		return nil, fmt.Errorf("%s: %w", absPath, ErrNotRegularFile)
	}

	f := &Follower{
		path: absPath,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	offset := info.Size
	if fromStart {
		offset = 0
	}
	if err := f.open(offset); err != nil {
		return nil, err
	}
	f.last = info
	f.refreshHead(info.Size)

	f.startWatcher()
	return f, nil
}

// Path is the absolute path being followed.
func (f *Follower) Path() string { return f.path }

// Pending is the number of buffered bytes of an unterminated line.
func (f *Follower) Pending() int { return f.rem.Len() }

func (f *Follower) open(offset int64) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return err
		}
	}
	if f.file != nil {
		f.file.Close()
	}
	f.file = file
	f.rem.Reset()
	f.head = f.head[:0]
	return nil
}

// ReadLines returns the complete lines appended since the previous call,
// reading at most one chunk. Truncation is checked before every read.
// Rotation is checked once the old file is drained. The caller should back
// off with Wait when no lines come back.
func (f *Follower) ReadLines() ([]string, error) {
	if err := f.checkTruncation(); err != nil {
		return nil, err
	}

	lines, err := ReadIncrement(f.file, &f.rem)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(lines) > 0 {
		return lines, nil
	}

	rotated, err := f.checkRotation()
	if err != nil || !rotated {
		return nil, err
	}
	lines, err = ReadIncrement(f.file, &f.rem)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return lines, nil
}

// checkTruncation compares the open handle's size with the read offset, so
// a truncation followed by new writes is still seen. Rewritten leading
// bytes mean everything in the file is new.
func (f *Follower) checkTruncation() error {
	stat, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}
	size := stat.Size()
	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("seek %s: %w", f.path, err)
	}

	intact := f.headIntact(size)
	if size >= pos && intact {
		f.refreshHead(size)
		return nil
	}

	offset := size
	if !intact {
		offset = 0
	}
	util.LogWarnf("Log file %s truncated from %s to %s, resuming at %s",
		f.path, util.FormatBytes(pos), util.FormatBytes(size), util.FormatBytes(offset))
	if _, err := f.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", f.path, err)
	}
	f.rem.Reset()
	f.head = f.head[:0]
	f.refreshHead(size)
	f.notifyReset(ResetTruncated)
	return nil
}

// checkRotation reopens the path from the start when it names a new inode.
func (f *Follower) checkRotation() (bool, error) {
	cur, err := util.GetFileInfo(f.path)
	if err != nil {
		// Rotated away and not recreated yet; keep the old handle.
		util.LogDebugf("Log file %s unavailable: %v", f.path, err)
		return false, nil
	}
	if cur.SameFile(f.last) {
		return false, nil
	}

	util.LogWarnf("Log file %s was replaced, reading new file from the start", f.path)
	if err := f.open(0); err != nil {
		return false, fmt.Errorf("reopen %s: %w", f.path, err)
	}
	f.last = cur
	f.refreshHead(cur.Size)
	f.notifyReset(ResetRotated)
	return true, nil
}

// headIntact reports whether the file still starts with the bytes recorded
// in head, compared up to size.
func (f *Follower) headIntact(size int64) bool {
	n := int64(len(f.head))
	if size < n {
		n = size
	}
	if n == 0 {
		return true
	}
	got, err := f.readHead(n)
	if err != nil {
		util.LogDebugf("Cannot read head of %s: %v", f.path, err)
		return true
	}
	return bytes.Equal(got, f.head[:n])
}

// refreshHead extends head while the file is shorter than headSize.
func (f *Follower) refreshHead(size int64) {
	if len(f.head) >= headSize || size <= int64(len(f.head)) {
		return
	}
	if size > headSize {
		size = headSize
	}
	head, err := f.readHead(size)
	if err != nil {
		util.LogDebugf("Cannot read head of %s: %v", f.path, err)
		return
	}
	f.head = head
}

// readHead reads up to n leading bytes without moving the read offset.
func (f *Follower) readHead(n int64) ([]byte, error) {
	buf := make([]byte, n)
	read, err := f.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func (f *Follower) notifyReset(reason ResetReason) {
	if f.OnReset != nil {
		f.OnReset(reason)
	}
}

// startWatcher subscribes to changes of the file's directory so Wait can
// return as soon as the file is written, created or renamed. Without a
// watcher Wait simply sleeps.
func (f *Follower) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		util.LogWarnf("File notifications unavailable, polling %s: %v", f.path, err)
		return
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		util.LogWarnf("Cannot watch %s, polling instead: %v", filepath.Dir(f.path), err)
		watcher.Close()
		return
	}
	f.watcher = watcher

	f.wg.Add(1)
	go f.processEvents()
}

func (f *Follower) processEvents() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Name != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				select {
				case f.wake <- struct{}{}:
				default:
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			util.LogError("File monitoring error: " + err.Error())
		}
	}
}

// Wait blocks until the file changes, backoff elapses or ctx is done,
// whichever comes first.
func (f *Follower) Wait(ctx context.Context, backoff time.Duration) {
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-f.wake:
	case <-timer.C:
	}
}

// Close stops the watcher and closes the file.
func (f *Follower) Close() error {
	select {
	case <-f.done:
		return nil
	default:
		close(f.done)
	}

	if f.watcher != nil {
		f.watcher.Close()
	}
	f.wg.Wait()

	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
