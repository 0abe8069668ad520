package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/core/buffer"
	"github.com/penwyp/go-log-plotter/internal/core/cursor"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
	"github.com/penwyp/go-log-plotter/internal/data/extractor"
	"github.com/penwyp/go-log-plotter/internal/data/tailer"
	"github.com/penwyp/go-log-plotter/internal/monitoring"
	"github.com/penwyp/go-log-plotter/internal/server"
	"github.com/penwyp/go-log-plotter/internal/util"
)

// Orchestrator coordinates ingestion and delivery for the run command.
type Orchestrator struct {
	config   *config.RunConfig
	patterns *pattern.PatternSet

	follower *tailer.Follower
	buffer   *buffer.Retention
	tracker  *cursor.Tracker
	metrics  *monitoring.Metrics

	ingestor *Ingestor
	server   *server.Server
}

// NewOrchestrator loads the record types, opens the log and builds every
// component. Any failure here is a startup error.
func NewOrchestrator(cfg *config.RunConfig) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	patterns, err := config.LoadPatternSet(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	util.LogInfof("Loaded %d record types from %s", patterns.Len(), cfg.ConfigPath)

	follower, err := tailer.Open(cfg.LogPath, cfg.FromStart)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	metrics := monitoring.NewMetrics()
	follower.OnReset = func(reason tailer.ResetReason) {
		metrics.RecordReset(string(reason))
	}

	buf := buffer.NewRetention(cfg.MaxDuration)
	tracker := cursor.NewTracker()
	ex := extractor.New(patterns, metrics)

	srv, err := server.New(buf, tracker, patterns, metrics, server.Options{
		Settings:  cfg.Server,
		StaticDir: cfg.StaticDir,
	})
	if err != nil {
		follower.Close()
		return nil, err
	}

	ingestor := New(follower, ex, buf, tracker, metrics, Options{
		Backoff:       cfg.Backoff,
		StatsInterval: cfg.StatsInterval,
		ReapIdle:      cfg.ReapIdle(),
	})

	return &Orchestrator{
		config:   cfg,
		patterns: patterns,
		follower: follower,
		buffer:   buf,
		tracker:  tracker,
		metrics:  metrics,
		ingestor: ingestor,
		server:   srv,
	}, nil
}

// Epoch is the instance id handed to consumers.
func (o *Orchestrator) Epoch() string { return o.server.Epoch() }

// Run serves HTTP and ingests until ctx ends. If either side fails the other
// is stopped and the first error is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	util.LogInfof("Following %s (epoch %s)", o.follower.Path(), o.server.Epoch())

	var (
		wg   sync.WaitGroup
		once sync.Once
		err  error
	)
	fail := func(e error) {
		if e == nil {
			return
		}
		once.Do(func() {
			err = e
			cancel()
		})
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		fail(o.ingestor.Run(ctx))
	}()
	go func() {
		defer wg.Done()
		fail(o.server.Run(ctx))
	}()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the log file and its watcher.
func (o *Orchestrator) Close() error {
	return o.follower.Close()
}
