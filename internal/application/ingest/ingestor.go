// Package ingest runs the single loop that tails the log, extracts blocks and
// feeds the retention buffer.
package ingest

import (
	"context"
	"time"

	"github.com/penwyp/go-log-plotter/internal/core/buffer"
	"github.com/penwyp/go-log-plotter/internal/core/cursor"
	"github.com/penwyp/go-log-plotter/internal/data/extractor"
	"github.com/penwyp/go-log-plotter/internal/monitoring"
	"github.com/penwyp/go-log-plotter/internal/util"
)

// LineSource is the part of the tailer the loop drives.
type LineSource interface {
	ReadLines() ([]string, error)
	Wait(ctx context.Context, backoff time.Duration)
}

// Options tunes the loop.
type Options struct {
	// Backoff bounds the wait after a read that returned nothing.
	Backoff time.Duration
	// StatsInterval is the period of throughput reports and consumer reaping.
	StatsInterval time.Duration
	// ReapIdle drops consumers silent for longer; zero disables reaping.
	ReapIdle time.Duration
}

// Stats counts what the loop has processed since it started.
type Stats struct {
	Lines        int
	Bytes        int64
	MatchedLines int
	Blocks       int
	Evicted      int
}

// Ingestor owns the extractor and is the only writer of the buffer.
type Ingestor struct {
	source    LineSource
	extractor *extractor.Extractor
	buffer    *buffer.Retention
	tracker   *cursor.Tracker
	metrics   *monitoring.Metrics
	opts      Options

	stats    Stats
	reported Stats
	gate     *util.PeriodGate
}

// New wires an ingestor. tracker may be nil when nothing is delivered.
func New(source LineSource, ex *extractor.Extractor, buf *buffer.Retention, tracker *cursor.Tracker, metrics *monitoring.Metrics, opts Options) *Ingestor {
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 5 * time.Second
	}
	return &Ingestor{
		source:    source,
		extractor: ex,
		buffer:    buf,
		tracker:   tracker,
		metrics:   metrics,
		opts:      opts,
		gate:      util.NewPeriodGate(opts.StatsInterval),
	}
}

// Stats returns the running totals. Only call it from the loop's goroutine
// or after Run returned.
func (in *Ingestor) Stats() Stats { return in.stats }

// Run loops until ctx ends or the source fails. Cancellation is checked once
// per iteration and is not an error.
func (in *Ingestor) Run(ctx context.Context) error {
	util.LogInfof("Ingestion started, retention %s", util.FormatSeconds(in.buffer.MaxDuration()))

	for {
		if ctx.Err() != nil {
			in.report(in.opts.StatsInterval)
			util.LogInfo("Ingestion stopped")
			return nil
		}

		n, err := in.Step()
		if err != nil {
			if in.metrics != nil {
				in.metrics.ReadErrors.Inc()
			}
			return err
		}

		if elapsed, ok := in.gate.Ready(); ok {
			in.report(elapsed)
			in.reap()
		}

		if n == 0 {
			in.source.Wait(ctx, in.opts.Backoff)
		}
	}
}

// Step reads one increment, extracts it and appends the resulting block. It
// returns the number of lines read.
func (in *Ingestor) Step() (int, error) {
	lines, err := in.source.ReadLines()
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	in.stats.Lines += len(lines)
	for _, l := range lines {
		in.stats.Bytes += int64(len(l))
	}
	if in.metrics != nil {
		in.metrics.RecordLines(lines)
	}

	block, matched := in.extractor.Process(lines)
	in.stats.MatchedLines += matched
	if block == nil {
		return len(lines), nil
	}

	evicted := in.buffer.Append(block)
	in.stats.Blocks++
	in.stats.Evicted += evicted
	if in.metrics != nil {
		in.metrics.RecordAppend(evicted, in.buffer.Len(), in.buffer.Span())
	}
	if evicted > 0 {
		util.LogDebugf("Evicted %d blocks, %d retained", evicted, in.buffer.Len())
	}
	return len(lines), nil
}

// report logs throughput since the previous report.
func (in *Ingestor) report(elapsed time.Duration) {
	lines := in.stats.Lines - in.reported.Lines
	matched := in.stats.MatchedLines - in.reported.MatchedLines
	bytes := in.stats.Bytes - in.reported.Bytes
	in.reported = in.stats

	if lines == 0 {
		util.LogDebug("No new lines")
		return
	}
	util.LogInfo("Throughput",
		util.F("lines", util.FormatRate(lines, elapsed)),
		util.F("matched", util.FormatRate(matched, elapsed)),
		util.F("read", util.FormatBytes(bytes)),
		util.F("retained", in.buffer.Len()),
		util.F("total_lines", util.FormatNumber(in.stats.Lines)),
	)
}

func (in *Ingestor) reap() {
	if in.tracker == nil || in.opts.ReapIdle <= 0 {
		return
	}
	removed := in.tracker.Reap(in.opts.ReapIdle)
	if in.metrics != nil {
		in.metrics.RecordReap(removed, in.tracker.Len())
	}
	if removed > 0 {
		util.LogInfof("Forgot %d idle consumers", removed)
	}
}
