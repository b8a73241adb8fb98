// Package task drives submit-then-poll backends from submission to a terminal
// state, including an optional dependent second phase.
package task

// Phase identifies which leg of a two-phase task is running
type Phase string

const (
	PhaseInitial   Phase = "initial"
	PhaseDependent Phase = "dependent"
)

// State is the lifecycle state of one phase
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StatePolling   State = "POLLING"
	StateSuccess   State = "SUCCESS"
	StateFailure   State = "FAILURE"
	StateTimedOut  State = "TIMED_OUT"
)

// IsTerminal returns true if no further polling happens for the phase
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateTimedOut
}

// Status is what the backend reported for one status query
type Status string

const (
	// StatusPending covers queued and in-progress reports
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	// StatusUnknown is recorded when the query itself failed
	StatusUnknown Status = "UNKNOWN"
)

// Task is the state of one submitted phase. It is owned by the machine running it.
type Task struct {
	ID        string
	Phase     Phase
	State     State
	PollsDone int
}

// Next returns the task after observing one status query. maxPolls is a hard
// bound: once PollsDone reaches it without a terminal report the task times out.
func Next(t Task, observed Status, maxPolls int) Task {
	if t.State.IsTerminal() {
		return t
	}

	t.PollsDone++

	switch observed {
	case StatusSuccess:
		t.State = StateSuccess
	case StatusFailure:
		t.State = StateFailure
	default:
		if t.PollsDone >= maxPolls {
			t.State = StateTimedOut
		} else {
			t.State = StatePolling
		}
	}

	return t
}
