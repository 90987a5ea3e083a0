// Package worker consumes analysis jobs: it re-reads the item, calls the
// analysis engine and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/racketdrop/internal/analysis"
	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
)

// Store is the subset of the repository the worker needs.
type Store interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	MarkFailed(ctx context.Context, id string) error
	CompleteWithResult(ctx context.Context, res *model.Result) error
	CountStale(ctx context.Context, state model.ItemState, cutoff time.Time) (int, error)
}

// Option configures a Processor.
type Option func(*Processor)

// WithOrphanThreshold sets how long an item may stay submitted before the
// sweep reports it.
func WithOrphanThreshold(d time.Duration) Option {
	return func(p *Processor) { p.orphanThreshold = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// Processor is plugged into the asynq server or a memory queue consumer.
type Processor struct {
	store           Store
	engine          analysis.Client
	orphanThreshold time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewProcessor constructs a worker processor.
func NewProcessor(store Store, engine analysis.Client, opts ...Option) *Processor {
	p := &Processor{
		store:           store,
		engine:          engine,
		orphanThreshold: 10 * time.Minute,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handler registers the analysis and orphan sweep task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskAnalyze, p.handleAnalyze)
	mux.HandleFunc(queue.TaskSweepOrphans, p.handleSweep)
	return mux
}

func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	job, err := queue.DecodeJob(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return p.Handle(ctx, job)
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := p.SweepOrphans(ctx)
	return err
}

// Handle runs one job to completion. A job whose item no longer exists is
// acknowledged without error. An analysis failure marks the item failed and
// is returned so the broker records it; the result store is not touched.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	log := p.logger.With("item_id", job.ItemID)

	item, err := p.store.GetItem(ctx, job.ItemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("dropping job for unknown item")
			return nil
		}
		return fmt.Errorf("fetch item %s: %w", job.ItemID, err)
	}

	started := p.now()
	out, err := p.engine.Analyze(ctx, analysis.RequestFor(item))
	if err != nil {
		log.Error("analysis failed", "error", err, "duration", p.now().Sub(started))
		analyzeErr := fmt.Errorf("analyze item %s: %w", item.ID, err)
		if markErr := p.store.MarkFailed(ctx, item.ID); markErr != nil {
			return errors.Join(analyzeErr, fmt.Errorf("mark failed: %w", markErr))
		}
		return analyzeErr
	}

	res := out.Result(item.ID)
	if err := p.store.CompleteWithResult(ctx, res); err != nil {
		return fmt.Errorf("persist result for %s: %w", item.ID, err)
	}
	log.Info("item analysed",
		"attributed_to", res.AttributedTo,
		"fallback", res.UsedFallback(),
		"duration", p.now().Sub(started),
	)
	return nil
}

// SweepOrphans counts items stuck in submitted past the threshold and logs
// them. Orphans are reported, never re-enqueued.
func (p *Processor) SweepOrphans(ctx context.Context) (int, error) {
	cutoff := p.now().UTC().Add(-p.orphanThreshold)
	n, err := p.store.CountStale(ctx, model.StateSubmitted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("count orphans: %w", err)
	}
	if n > 0 {
		p.logger.Warn("orphaned items found",
			"count", n,
			"state", model.StateSubmitted,
			"older_than", p.orphanThreshold,
		)
	}
	return n, nil
}
