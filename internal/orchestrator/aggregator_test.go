package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

func TestAggregator_Collect(t *testing.T) {
	tests := []struct {
		name      string
		body      func() (domain.Artifact, error)
		wantState domain.JobState
		wantKind  domain.ErrorKind
	}{
		{
			name:      "success",
			body:      func() (domain.Artifact, error) { return domain.Artifact{Path: "a.wav"}, nil },
			wantState: domain.JobStateSucceeded,
		},
		{
			name:      "typed record is kept",
			body:      func() (domain.Artifact, error) { return domain.Artifact{}, domain.Timeout("slow", nil) },
			wantState: domain.JobStateFailed,
			wantKind:  domain.KindTimeout,
		},
		{
			name:      "plain error becomes unexpected fault",
			body:      func() (domain.Artifact, error) { return domain.Artifact{}, errors.New("nil map write") },
			wantState: domain.JobStateFailed,
			wantKind:  domain.KindUnexpectedFault,
		},
		{
			name:      "panic becomes unexpected fault",
			body:      func() (domain.Artifact, error) { panic("index out of range") },
			wantState: domain.JobStateFailed,
			wantKind:  domain.KindUnexpectedFault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(3)
			job := domain.NewJob(1, domain.Payload{Text: "hello"})

			require.NotPanics(t, func() { agg.Collect(job, tt.body) })

			got := agg.Results()[1]
			assert.Equal(t, 1, got.Index)
			assert.Equal(t, "hello", got.Input.Text)
			assert.Equal(t, tt.wantState, got.State)
			if tt.wantKind == "" {
				assert.Nil(t, got.Error)
				assert.NotNil(t, got.Artifact)
				return
			}
			require.NotNil(t, got.Error)
			assert.Nil(t, got.Artifact)
			assert.Equal(t, tt.wantKind, got.Error.Kind)
			assert.Equal(t, "hello", got.Error.LastInput.Text)
		})
	}
}

func TestAggregator_PanicAfterRewriteRestoresOriginal(t *testing.T) {
	agg := NewAggregator(1)
	job := domain.NewJob(0, domain.Payload{Text: "original"})

	agg.Collect(job, func() (domain.Artifact, error) {
		job.Attempt = 1
		job.Input = domain.Payload{Text: "rewritten"}
		panic("boom")
	})

	got := agg.Results()[0]
	assert.Equal(t, "original", got.Input.Text)
	assert.Equal(t, "original", got.Error.LastInput.Text)
	assert.Contains(t, got.Error.Message, "boom")
	assert.Equal(t, 2, got.Attempts)
}

func TestAggregator_Skip(t *testing.T) {
	agg := NewAggregator(2)
	agg.Skip(1, domain.Payload{Text: "  "})

	got := agg.Results()[1]
	assert.Equal(t, domain.JobStateSkipped, got.State)
	assert.Nil(t, got.Artifact)
	assert.Nil(t, got.Error)
}
