package models

import "time"

// RunStatus tracks a playbook run. Completed, Failed, and Cancelled are
// terminal; AwaitingApproval occurs only at a step boundary.
type RunStatus string

// Run statuses.
const (
	RunRunning          RunStatus = "running"
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
	RunCancelled        RunStatus = "cancelled"
)

// Terminal reports whether the status is a sink state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepOutcome classifies how one playbook step ended.
type StepOutcome string

// Step outcomes. Rejected and Expired are approval verdicts; Failure covers
// tool and templating errors, including a tool failure after an approval
// was granted.
const (
	StepSuccess   StepOutcome = "success"
	StepFailure   StepOutcome = "failure"
	StepRejected  StepOutcome = "rejected"
	StepExpired   StepOutcome = "expired"
	StepCancelled StepOutcome = "cancelled"
)

// StepResult is one entry in a run's output list.
type StepResult struct {
	Index   int         `json:"index"`
	Name    string      `json:"name"`
	Outcome StepOutcome `json:"outcome"`

	// Output holds the serialized tool output on Success, or the failure
	// reason otherwise. Channel posts elide it; the run record keeps it
	// in full.
	Output string `json:"output"`
}

// RunSnapshot is an immutable view of a playbook run.
type RunSnapshot struct {
	RunID      string       `json:"run_id"`
	PlaybookID string       `json:"playbook_id"`
	Event      ClusterEvent `json:"event"`
	Status     RunStatus    `json:"status"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	TerminalAt time.Time    `json:"terminal_at,omitzero"`
}
