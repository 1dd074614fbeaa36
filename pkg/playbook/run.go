package playbook

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawbot/clawbot/pkg/models"
)

// Run is the live handle for one executing playbook. The executor mutates
// it from the run's goroutine; everyone else reads through Snapshot.
type Run struct {
	id         string
	playbookID string
	event      models.ClusterEvent

	mu         sync.Mutex
	status     models.RunStatus
	steps      []models.StepResult
	startedAt  time.Time
	terminalAt time.Time

	done chan struct{}
}

func newRun(playbookID string, event models.ClusterEvent) *Run {
	return &Run{
		id:         uuid.NewString(),
		playbookID: playbookID,
		event:      event,
		status:     models.RunRunning,
		startedAt:  time.Now().UTC(),
		done:       make(chan struct{}),
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// PlaybookID returns the playbook this run executes.
func (r *Run) PlaybookID() string { return r.playbookID }

// Status returns the current run status.
func (r *Run) Status() models.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Snapshot returns a copy of the run's current state.
func (r *Run) Snapshot() models.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]models.StepResult, len(r.steps))
	copy(steps, r.steps)
	return models.RunSnapshot{
		RunID:      r.id,
		PlaybookID: r.playbookID,
		Event:      r.event,
		Status:     r.status,
		Steps:      steps,
		StartedAt:  r.startedAt,
		TerminalAt: r.terminalAt,
	}
}

// setStatus moves between non-terminal statuses. Terminal transitions go
// through finish.
func (r *Run) setStatus(status models.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
}

// record appends one step result.
func (r *Run) record(result models.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, result)
}

// finish moves the run to a terminal status exactly once.
func (r *Run) finish(status models.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
	r.terminalAt = time.Now().UTC()
	close(r.done)
}
