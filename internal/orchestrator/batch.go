// Package orchestrator runs ordered batches of generation jobs against a
// backend adapter with bounded concurrency and policy-rejection retries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

const tracerName = "github.com/cuongbtq/narra-sync/internal/orchestrator"

// Orchestrator is stateless between batches; every RunBatch call builds its
// own pool and aggregator, so batches with different policies can run
// concurrently.
type Orchestrator struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for batch and job events
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records pool, retry and outcome metrics
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New creates an Orchestrator
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunBatch runs one job per input through adapter with at most limit jobs in
// flight and returns one outcome per input, in input order. Blank inputs are
// recorded as skipped without calling the adapter. Job failures are returned
// inside the outcomes; the error is only set when the batch cannot start.
func (o *Orchestrator) RunBatch(ctx context.Context, inputs []domain.Payload, limit int, adapter backend.Adapter, policy domain.RetryPolicy) ([]domain.Outcome, error) {
	if adapter == nil {
		return nil, domain.ErrNilAdapter
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: max_retries=%d", err, policy.MaxRetries)
	}

	pool, err := NewPool(limit, adapter.Name(), o.metrics)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	logger := o.logger.With(
		slog.String("batch_id", batchID),
		slog.String("backend", adapter.Name()),
	)
	logger.Info("Starting batch",
		slog.Int("jobs", len(inputs)),
		slog.Int("concurrency", limit),
		slog.Int("max_retries", policy.MaxRetries),
	)

	started := time.Now()
	controller := NewController(adapter, policy, logger, o.metrics)
	agg := NewAggregator(len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		if in.IsBlank() {
			agg.Skip(i, in)
			logger.Debug("Skipping blank input", slog.Int("index", i))
			continue
		}

		job := domain.NewJob(i, in)
		wg.Add(1)
		go func() {
			defer wg.Done()
			var admitted time.Time
			agg.Collect(job, func() (domain.Artifact, error) {
				return o.runJob(ctx, pool, controller, job, adapter.Name(), logger, &admitted)
			})
			var took time.Duration
			if !admitted.IsZero() {
				took = time.Since(admitted)
			}
			o.metrics.JobFinished(adapter.Name(), string(job.State), took)
		}()
	}
	wg.Wait()

	results := agg.Results()
	succeeded, failed, skipped := Tally(results)
	logger.Info("Batch finished",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Int("peak_in_flight", pool.Peak()),
		slog.Duration("took", time.Since(started)),
	)

	return results, nil
}

// runJob holds a pool ticket for the whole retry loop of one job. admitted is
// set once the ticket is granted; queue time is not part of the job span.
func (o *Orchestrator) runJob(ctx context.Context, pool *Pool, controller *Controller, job *domain.Job, backendName string, logger *slog.Logger, admitted *time.Time) (domain.Artifact, error) {
	ticket, err := pool.Admit(ctx)
	if err != nil {
		logger.Debug("Job not admitted", slog.Int("index", job.Index), slog.String("error", err.Error()))
		return domain.Artifact{}, domain.SubmissionFailure("job was not admitted", err)
	}
	defer pool.Release(ticket)
	*admitted = time.Now()

	ctx, span := o.tracer.Start(ctx, "orchestrator.job", trace.WithAttributes(
		attribute.Int("job.index", job.Index),
		attribute.String("job.backend", backendName),
	))
	defer span.End()

	art, err := controller.Execute(ctx, job)
	span.SetAttributes(attribute.Int("job.attempts", job.Attempt+1))
	if err != nil {
		var rec *domain.ErrorRecord
		if errors.As(err, &rec) {
			span.SetAttributes(attribute.String("job.error_kind", string(rec.Kind)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")

		logger.Warn("Job failed",
			slog.Int("index", job.Index),
			slog.Int("attempts", job.Attempt+1),
			slog.String("error", err.Error()),
		)
		return art, err
	}

	logger.Debug("Job succeeded",
		slog.Int("index", job.Index),
		slog.Int("attempts", job.Attempt+1),
	)
	return art, nil
}

// Tally counts outcomes by terminal state
func Tally(results []domain.Outcome) (succeeded, failed, skipped int) {
	for _, r := range results {
		switch r.State {
		case domain.JobStateSucceeded:
			succeeded++
		case domain.JobStateFailed:
			failed++
		case domain.JobStateSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}
