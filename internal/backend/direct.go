package backend

import (
	"context"
	"errors"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// CallFunc issues one synchronous request and writes the artifact.
type CallFunc func(ctx context.Context, in domain.Payload) (domain.Artifact, error)

// Direct adapts a single blocking call into an Adapter
type Direct struct {
	name string
	call CallFunc
}

// NewDirect creates a Direct adapter
func NewDirect(name string, call CallFunc) *Direct {
	return &Direct{name: name, call: call}
}

func (d *Direct) Name() string { return d.name }

// Run issues the call and maps its error onto the job error taxonomy. Errors
// already carrying a record pass through; errors wrapping
// domain.ErrContentPolicy become policy rejections; everything else is a
// submission failure.
func (d *Direct) Run(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	art, err := d.call(ctx, in)
	if err == nil {
		art.Input = in
		return art, nil
	}

	var rec *domain.ErrorRecord
	if errors.As(err, &rec) {
		return domain.Artifact{}, rec
	}

	if errors.Is(err, domain.ErrContentPolicy) {
		return domain.Artifact{}, domain.PolicyRejection("backend refused the input", err)
	}

	return domain.Artifact{}, domain.SubmissionFailure(d.name+" request failed", err)
}
