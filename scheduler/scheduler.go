// Package scheduler runs the scheduled scrape of all configured sources,
// persists the result and announces it.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/pricewatch/aggregator"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/store"
	"github.com/use-agent/pricewatch/webhook"
)

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("scheduler: run already in progress")

// Runner is the part of the aggregator the scheduler needs.
type Runner interface {
	RunWithStats(ctx context.Context, sources []models.Source) ([]models.PriceRecord, aggregator.Stats)
}

// Summary describes a finished run.
type Summary struct {
	ID       string
	Records  []models.PriceRecord
	Stats    aggregator.Stats
	Saved    int
	Started  time.Time
	Duration time.Duration
}

// Scheduler coalesces concurrent runs: at most one is active at a time.
type Scheduler struct {
	runner   Runner
	sink     store.Sink
	notifier *webhook.Notifier
	sources  []models.Source
	interval time.Duration

	mu      sync.Mutex
	running bool
	last    *Summary
}

// New creates a Scheduler. sink and notifier may be nil. interval <= 0
// disables the periodic loop; RunOnce still works.
func New(runner Runner, sink store.Sink, notifier *webhook.Notifier, sources []models.Source, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		sink:     sink,
		notifier: notifier,
		sources:  sources,
		interval: interval,
	}
}

// Sources returns the configured sources.
func (s *Scheduler) Sources() []models.Source { return s.sources }

// Last returns the most recent completed run, or nil.
func (s *Scheduler) Last() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce aggregates all sources, saves the records and fires a
// prices.updated event. A failing sink is reported but the aggregated
// records are still returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	sum := &Summary{ID: uuid.NewString(), Started: time.Now()}
	log := slog.With("run_id", sum.ID)
	log.Info("scheduled run started", "sources", len(s.sources))

	sum.Records, sum.Stats = s.runner.RunWithStats(ctx, s.sources)

	var saveErr error
	if s.sink != nil && len(sum.Records) > 0 {
		sum.Saved, saveErr = s.sink.SaveRecords(ctx, sum.Records)
		if saveErr != nil {
			log.Error("saving records failed", "error", saveErr)
		}
	}
	sum.Duration = time.Since(sum.Started)

	s.notifier.DeliverAsync(&webhook.Event{
		Type:      webhook.EventPricesUpdated,
		RunID:     sum.ID,
		Timestamp: time.Now().Unix(),
		Data: map[string]any{
			"sources":        sum.Stats.Sources,
			"sources_failed": sum.Stats.Failed,
			"records":        len(sum.Records),
			"saved":          sum.Saved,
		},
	})

	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()

	log.Info("scheduled run finished",
		"records", len(sum.Records), "saved", sum.Saved, "duration_ms", sum.Duration.Milliseconds())
	return sum, saveErr
}

// Start runs RunOnce immediately and then every interval until ctx is
// done. It returns at once when the interval is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("scheduler disabled")
		return
	}
	slog.Info("scheduler started", "interval", s.interval)

	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			slog.Info("scheduled tick skipped, run in progress")
			return
		}
		slog.Error("scheduled run failed", "error", err)
	}
}
