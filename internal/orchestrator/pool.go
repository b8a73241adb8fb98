package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

// Pool is the bounded admission gate shared by the jobs of one batch. It holds
// no per-job state beyond the gate itself.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	backend  string
	metrics  *telemetry.Metrics
	inFlight atomic.Int64
	peak     atomic.Int64
}

// Ticket is proof of admission. Releasing it more than once is a no-op.
type Ticket struct {
	pool *Pool
	once sync.Once
}

// NewPool creates a gate admitting at most limit tickets at a time
func NewPool(limit int, backend string, metrics *telemetry.Metrics) (*Pool, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidConcurrency, limit)
	}

	return &Pool{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		backend: backend,
		metrics: metrics,
	}, nil
}

// Admit blocks until a slot is free or ctx is done
func (p *Pool) Admit(ctx context.Context) (*Ticket, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to admit job: %w", err)
	}

	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.metrics.Admitted(p.backend)

	return &Ticket{pool: p}, nil
}

// Release frees the slot held by t
func (p *Pool) Release(t *Ticket) {
	if t == nil || t.pool != p {
		return
	}
	t.once.Do(func() {
		p.inFlight.Add(-1)
		p.metrics.Released(p.backend)
		p.sem.Release(1)
	})
}

// Limit returns the configured width
func (p *Pool) Limit() int { return p.limit }

// InFlight returns the number of tickets currently outstanding
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Peak returns the highest number of tickets that were outstanding at once
func (p *Pool) Peak() int { return int(p.peak.Load()) }
