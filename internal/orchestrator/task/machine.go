package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 30
)

// Poll is the decoded answer to one status query
type Poll struct {
	Status     Status
	Progress   string
	FailReason string
	ResultURL  string
	// Rejected marks a failure caused by the backend refusing the input
	Rejected bool
}

// Backend is a submit-then-poll generation service
type Backend interface {
	Name() string
	Submit(ctx context.Context, in domain.Payload) (string, error)
	Fetch(ctx context.Context, taskID string) (Poll, error)
	Download(ctx context.Context, resultURL, dest string) error
}

// DependentBackend can refine a successful initial result by picking one of
// several candidates. choice is 1-based.
type DependentBackend interface {
	Backend
	SubmitDependent(ctx context.Context, parentID string, choice int) (string, error)
}

// Sleeper waits between polls
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function into a Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// Chooser picks a candidate index in [0, n)
type Chooser interface {
	IntN(n int) int
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type randChooser struct{}

func (randChooser) IntN(n int) int { return rand.IntN(n) }

// Config bounds the poll loop
type Config struct {
	PollInterval time.Duration
	MaxPolls     int
	// Candidates is the number of options the dependent phase chooses from.
	// Zero disables the dependent phase even when the backend supports it.
	Candidates int
}

// Machine runs one two-phase generation per Run call. It keeps no state
// between calls and is safe for concurrent use.
type Machine struct {
	backend Backend
	config  Config
	sleeper Sleeper
	chooser Chooser
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Machine.
type Option func(*Machine)

func WithSleeper(s Sleeper) Option             { return func(m *Machine) { m.sleeper = s } }
func WithChooser(c Chooser) Option             { return func(m *Machine) { m.chooser = c } }
func WithLogger(l *slog.Logger) Option         { return func(m *Machine) { m.logger = l } }
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Machine) { m.metrics = mt } }

// New creates a Machine for backend
func New(backend Backend, config Config, opts ...Option) *Machine {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxPolls <= 0 {
		config.MaxPolls = DefaultMaxPolls
	}

	m := &Machine{
		backend: backend,
		config:  config,
		sleeper: timerSleeper{},
		chooser: randChooser{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Name() string { return m.backend.Name() }

// Run submits the initial phase, polls it to a terminal state, runs the
// dependent phase when configured, and downloads the last phase's result to
// in.Output.
func (m *Machine) Run(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	id, err := m.backend.Submit(ctx, in)
	if err != nil {
		return domain.Artifact{}, submitError(PhaseInitial, err)
	}

	t := Task{ID: id, Phase: PhaseInitial, State: StateSubmitted}
	t, poll, err := m.runPhase(ctx, t)
	if err != nil {
		return domain.Artifact{}, err
	}

	if dep, ok := m.backend.(DependentBackend); ok && m.config.Candidates > 0 {
		choice := m.chooser.IntN(m.config.Candidates) + 1

		m.logger.Info("Submitting dependent phase",
			slog.String("backend", m.backend.Name()),
			slog.String("parent_task_id", t.ID),
			slog.Int("choice", choice),
		)

		depID, err := dep.SubmitDependent(ctx, t.ID, choice)
		if err != nil {
			return domain.Artifact{}, submitError(PhaseDependent, err)
		}

		_, poll, err = m.runPhase(ctx, Task{ID: depID, Phase: PhaseDependent, State: StateSubmitted})
		if err != nil {
			return domain.Artifact{}, err
		}
	}

	if poll.ResultURL == "" {
		return domain.Artifact{}, domain.DownloadFailure("task succeeded without a result url", nil)
	}

	art := domain.Artifact{URL: poll.ResultURL, Input: in}
	if in.Output == "" {
		return art, nil
	}

	if err := m.backend.Download(ctx, poll.ResultURL, in.Output); err != nil {
		return domain.Artifact{}, domain.DownloadFailure("failed to download result", err)
	}
	art.Path = in.Output

	return art, nil
}

// runPhase polls t until it is terminal and maps non-success outcomes to records
func (m *Machine) runPhase(ctx context.Context, t Task) (Task, Poll, error) {
	var poll Poll

	for !t.State.IsTerminal() {
		if err := m.sleeper.Sleep(ctx, m.config.PollInterval); err != nil {
			return t, poll, domain.Timeout(fmt.Sprintf("%s phase interrupted", t.Phase), err)
		}

		var err error
		poll, err = m.backend.Fetch(ctx, t.ID)
		observed := poll.Status
		if err != nil {
			// A failed query is not a verdict on the task; keep polling within the bound.
			m.logger.Warn("Failed to fetch task status",
				slog.String("backend", m.backend.Name()),
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
			observed = StatusUnknown
		}

		t = Next(t, observed, m.config.MaxPolls)
		m.metrics.Polled(m.backend.Name(), string(t.Phase))

		m.logger.Debug("Task polled",
			slog.String("backend", m.backend.Name()),
			slog.String("task_id", t.ID),
			slog.String("phase", string(t.Phase)),
			slog.String("state", string(t.State)),
			slog.Int("polls_done", t.PollsDone),
			slog.String("progress", poll.Progress),
		)
	}

	switch t.State {
	case StateSuccess:
		return t, poll, nil
	case StateFailure:
		msg := fmt.Sprintf("%s phase failed: %s", t.Phase, poll.FailReason)
		if poll.Rejected {
			return t, poll, domain.PolicyRejection(msg, nil)
		}
		return t, poll, domain.SubmissionFailure(msg, nil)
	default:
		return t, poll, domain.Timeout(fmt.Sprintf("%s phase not finished after %d polls", t.Phase, t.PollsDone), nil)
	}
}

func submitError(phase Phase, err error) error {
	var rec *domain.ErrorRecord
	if errors.As(err, &rec) {
		return rec
	}
	if errors.Is(err, domain.ErrContentPolicy) {
		return domain.PolicyRejection(fmt.Sprintf("%s submission refused", phase), err)
	}
	return domain.SubmissionFailure(fmt.Sprintf("%s submission failed", phase), err)
}
