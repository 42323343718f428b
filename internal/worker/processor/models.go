package processor

import "time"

// Outcome is how the history poll ended.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeErrored   Outcome = "errored"
	OutcomeTimedOut  Outcome = "timed_out"
)

// PollConfig bounds the wait for a submitted prompt.
type PollConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	SettleDelay   time.Duration
	FailOnTimeout bool
}

// Response texts. They are part of the job contract.
const (
	msgNoWorkflow     = "No workflow provided"
	msgQueueFailed    = "Failed to queue prompt"
	msgExecutionError = "Workflow execution failed"
	msgNoOutputs      = "No output files generated"
)
