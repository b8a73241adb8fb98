package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

type stubAdapter struct {
	name string
	fn   func(ctx context.Context, in domain.Payload) (domain.Artifact, error)

	mu    sync.Mutex
	calls []domain.Payload
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Run(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	a.mu.Lock()
	a.calls = append(a.calls, in)
	a.mu.Unlock()
	return a.fn(ctx, in)
}

func (a *stubAdapter) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	for i, c := range a.calls {
		out[i] = c.Text
	}
	return out
}

type stubSource map[string]*stubAdapter

func (s stubSource) Adapter(name string) (backend.Adapter, int, error) {
	a, ok := s[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return a, 2, nil
}

// writeArtifact stores the text as the artifact so tests can read back what
// the backend was asked to produce
func writeArtifact(in domain.Payload) (domain.Artifact, error) {
	if err := os.WriteFile(in.Output, []byte(in.Text), 0o644); err != nil {
		return domain.Artifact{}, domain.DownloadFailure("write failed", err)
	}
	return domain.Artifact{Path: in.Output, URL: "http://cdn.test/" + in.Text, Input: in}, nil
}
