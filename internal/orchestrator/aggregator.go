package orchestrator

import (
	"fmt"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// Aggregator reassembles per-job outcomes into input order. Each slot is
// written by exactly one job, so concurrent Collect calls for distinct
// indices need no locking; Results must only be read after every Collect
// has returned.
type Aggregator struct {
	results []domain.Outcome
}

// NewAggregator creates an aggregator with n slots
func NewAggregator(n int) *Aggregator {
	return &Aggregator{results: make([]domain.Outcome, n)}
}

// Skip records a slot that is never dispatched
func (a *Aggregator) Skip(index int, input domain.Payload) {
	a.results[index] = domain.SkippedOutcome(index, input)
}

// Collect runs body for job and stores its terminal outcome at job.Index.
// A panic or an error that is not an *domain.ErrorRecord becomes an
// UnexpectedFault in that slot only.
func (a *Aggregator) Collect(job *domain.Job, body func() (domain.Artifact, error)) {
	original := job.Input

	defer func() {
		if r := recover(); r != nil {
			job.Input = original
			rec := domain.UnexpectedFault(fmt.Sprintf("job panicked: %v", r), nil)
			rec.LastInput = original
			job.Fail(rec)
		}
		a.results[job.Index] = domain.OutcomeOf(job)
	}()

	art, err := body()
	switch {
	case err != nil && job.State != domain.JobStateFailed:
		rec := *domain.AsRecord(err)
		rec.LastInput = original
		job.Input = original
		job.Fail(&rec)
	case err == nil && job.State != domain.JobStateSucceeded:
		job.Succeed(art)
	}
}

// Results returns the outcomes in input order
func (a *Aggregator) Results() []domain.Outcome {
	return a.results
}
