package orchestrator

import (
	"context"
	"sync"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

type funcAdapter struct {
	name string
	fn   func(ctx context.Context, in domain.Payload) (domain.Artifact, error)

	mu    sync.Mutex
	calls []domain.Payload
}

func newFuncAdapter(fn func(ctx context.Context, in domain.Payload) (domain.Artifact, error)) *funcAdapter {
	return &funcAdapter{name: "fake", fn: fn}
}

func (a *funcAdapter) Name() string { return a.name }

func (a *funcAdapter) Run(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	a.mu.Lock()
	a.calls = append(a.calls, in)
	a.mu.Unlock()
	return a.fn(ctx, in)
}

func (a *funcAdapter) Calls() []domain.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Payload, len(a.calls))
	copy(out, a.calls)
	return out
}

func echo(_ context.Context, in domain.Payload) (domain.Artifact, error) {
	return domain.Artifact{Path: in.Text + ".out", Input: in}, nil
}

func payloads(texts ...string) []domain.Payload {
	out := make([]domain.Payload, len(texts))
	for i, t := range texts {
		out[i] = domain.Payload{Text: t}
	}
	return out
}

// suffixRewrite tags the original text with the attempt number
func suffixRewrite(original domain.Payload, attempt int) domain.Payload {
	return original.WithText(original.Text + "#" + string(rune('0'+attempt)))
}
