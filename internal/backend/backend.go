// Package backend defines the uniform interface through which a job is
// executed against an external generation service.
package backend

import (
	"context"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// Adapter runs one generation request. A failed run returns a *domain.ErrorRecord;
// any other error is treated by the orchestrator as an unexpected fault.
type Adapter interface {
	Name() string
	Run(ctx context.Context, in domain.Payload) (domain.Artifact, error)
}
