package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

func TestNewPool_RejectsNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		_, err := NewPool(limit, "fake", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidConcurrency)
	}
}

func TestPool_AdmitBlocksAtLimit(t *testing.T) {
	pool, err := NewPool(2, "fake", nil)
	require.NoError(t, err)

	ctx := context.Background()
	t1, err := pool.Admit(ctx)
	require.NoError(t, err)
	_, err = pool.Admit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.InFlight())

	admitted := make(chan struct{})
	go func() {
		tk, err := pool.Admit(ctx)
		if err == nil {
			pool.Release(tk)
		}
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("third ticket admitted while pool was full")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(t1)

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiting job was not admitted after release")
	}
	assert.Equal(t, 2, pool.Peak())
}

func TestPool_AdmitHonoursContext(t *testing.T) {
	pool, err := NewPool(1, "fake", nil)
	require.NoError(t, err)

	_, err = pool.Admit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, pool.InFlight())
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	pool, err := NewPool(1, "fake", metrics)
	require.NoError(t, err)

	tk, err := pool.Admit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobsInFlight.WithLabelValues("fake")))

	pool.Release(tk)
	pool.Release(tk)
	pool.Release(nil)

	assert.Equal(t, 0, pool.InFlight())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.JobsInFlight.WithLabelValues("fake")))

	// the single slot is free exactly once
	_, err = pool.Admit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.InFlight())
}

func TestPool_PeakNeverExceedsLimitUnderSaturation(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			pool, err := NewPool(limit, "fake", nil)
			require.NoError(t, err)

			ctx := context.Background()
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				overrun int
			)
			for range limit * 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tk, err := pool.Admit(ctx)
					if err != nil {
						return
					}
					defer pool.Release(tk)

					if pool.InFlight() > limit {
						mu.Lock()
						overrun++
						mu.Unlock()
					}
					time.Sleep(2 * time.Millisecond)
				}()
			}
			wg.Wait()

			assert.Zero(t, overrun)
			assert.Equal(t, limit, pool.Peak())
			assert.LessOrEqual(t, pool.Peak(), pool.Limit())
			assert.Equal(t, 0, pool.InFlight())
		})
	}
}
