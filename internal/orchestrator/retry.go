package orchestrator

import (
	"context"
	"io"
	"log/slog"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

// Controller runs a single job against an adapter and resubmits rewritten
// input after a policy rejection, up to the policy's bound.
type Controller struct {
	adapter backend.Adapter
	policy  domain.RetryPolicy
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewController creates a Controller. A nil logger discards output.
func NewController(adapter backend.Adapter, policy domain.RetryPolicy, logger *slog.Logger, metrics *telemetry.Metrics) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		adapter: adapter,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute drives job to a terminal state and returns its artifact or its
// *domain.ErrorRecord. On failure the record's LastInput is always the
// payload the job started with, and job.Input is restored to it.
func (c *Controller) Execute(ctx context.Context, job *domain.Job) (domain.Artifact, error) {
	original := job.Input
	job.State = domain.JobStateRunning

	for {
		art, err := c.adapter.Run(ctx, job.Input)
		if err == nil {
			job.Input = original
			job.Succeed(art)
			return art, nil
		}

		rec := domain.AsRecord(err)
		if !rec.Kind.Retryable() || job.Attempt >= c.policy.MaxRetries {
			if rec.Kind.Retryable() && c.policy.MaxRetries > 0 {
				c.logger.Warn("Policy retries exhausted",
					slog.Int("index", job.Index),
					slog.Int("attempts", job.Attempt+1),
					slog.String("backend", c.adapter.Name()),
				)
			}

			// Copy so a record shared with the adapter is never mutated
			out := *rec
			out.LastInput = original
			job.Input = original
			job.Fail(&out)
			return domain.Artifact{}, &out
		}

		job.Attempt++
		job.Input = c.policy.Rewrite(original, job.Attempt)
		c.metrics.PolicyRetry(c.adapter.Name())

		c.logger.Info("Resubmitting rewritten input after policy rejection",
			slog.Int("index", job.Index),
			slog.Int("attempt", job.Attempt),
			slog.String("backend", c.adapter.Name()),
			slog.String("reason", rec.Message),
		)
	}
}
