package domain

import (
	"strings"
	"time"
)

// Payload is the caller-supplied input of one job.
type Payload struct {
	// Text is the sentence or prompt sent to the backend
	Text string `json:"text"`
	// Output is the file the produced artifact is written to
	Output string `json:"output,omitempty"`
	// Params carries backend-selection parameters such as a voice or style id
	Params map[string]string `json:"params,omitempty"`
}

// IsBlank reports whether the payload has nothing to generate
func (p Payload) IsBlank() bool {
	return strings.TrimSpace(p.Text) == ""
}

// Param returns a backend parameter or def when unset
func (p Payload) Param(key, def string) string {
	if v, ok := p.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// WithText returns a copy of the payload carrying different text
func (p Payload) WithText(text string) Payload {
	out := p
	out.Text = text
	if p.Params != nil {
		out.Params = make(map[string]string, len(p.Params))
		for k, v := range p.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Artifact is the produced output of a successful job
type Artifact struct {
	Path     string        `json:"path,omitempty"`
	URL      string        `json:"url,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Input is the payload that actually produced the artifact, which may be a rewritten one
	Input Payload `json:"input"`
}

// RewriteFunc produces a new payload for a retry attempt. attempt starts at 1.
type RewriteFunc func(original Payload, attempt int) Payload

// RetryPolicy bounds the rewrite-and-resubmit behaviour for policy rejections
type RetryPolicy struct {
	MaxRetries int
	Rewrite    RewriteFunc
}

// Validate checks the policy can be honoured
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxRetries > 0 && p.Rewrite == nil {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Job is one unit of work. It is owned by a single execution path until it
// reaches a terminal state.
type Job struct {
	Index   int
	Input   Payload
	Attempt int
	State   JobState
	Result  *Artifact
	Error   *ErrorRecord
}

// NewJob creates a pending job for the input at index
func NewJob(index int, input Payload) *Job {
	return &Job{
		Index: index,
		Input: input,
		State: JobStatePending,
	}
}

// Succeed moves the job to its terminal success state
func (j *Job) Succeed(art Artifact) {
	j.State = JobStateSucceeded
	j.Result = &art
	j.Error = nil
}

// Fail moves the job to its terminal failure state
func (j *Job) Fail(rec *ErrorRecord) {
	j.State = JobStateFailed
	j.Result = nil
	j.Error = rec
}

// Outcome is the terminal result of one input slot of a batch
type Outcome struct {
	Index    int          `json:"index"`
	Input    Payload      `json:"input"`
	State    JobState     `json:"state"`
	Artifact *Artifact    `json:"artifact,omitempty"`
	Error    *ErrorRecord `json:"error,omitempty"`
	Attempts int          `json:"attempts"`
}

// Succeeded reports whether the slot holds an artifact
func (o Outcome) Succeeded() bool {
	return o.State == JobStateSucceeded
}

// OutcomeOf converts a terminal job into its outcome. Attempts counts backend calls.
func OutcomeOf(j *Job) Outcome {
	return Outcome{
		Index:    j.Index,
		Input:    j.Input,
		State:    j.State,
		Artifact: j.Result,
		Error:    j.Error,
		Attempts: j.Attempt + 1,
	}
}

// SkippedOutcome records a slot that was never dispatched
func SkippedOutcome(index int, input Payload) Outcome {
	return Outcome{
		Index: index,
		Input: input,
		State: JobStateSkipped,
	}
}
