package domain

// JobState is the externally visible lifecycle state of a job.
type JobState string

// Job state constants
const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateSkipped   JobState = "SKIPPED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateSkipped
}

// ErrorKind classifies why a job failed.
type ErrorKind string

// Error kind constants
const (
	KindSubmissionFailure ErrorKind = "SUBMISSION_FAILURE"
	KindPolicyRejection   ErrorKind = "POLICY_REJECTION"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindDownloadFailure   ErrorKind = "DOWNLOAD_FAILURE"
	KindUnexpectedFault   ErrorKind = "UNEXPECTED_FAULT"
)

// Retryable reports whether a failure of this kind may be rewritten and resubmitted.
// Only policy rejections say anything about the input itself.
func (k ErrorKind) Retryable() bool {
	return k == KindPolicyRejection
}
