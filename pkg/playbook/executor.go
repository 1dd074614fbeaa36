package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawbot/clawbot/pkg/approval"
	"github.com/clawbot/clawbot/pkg/channel"
	"github.com/clawbot/clawbot/pkg/mcp"
	"github.com/clawbot/clawbot/pkg/models"
)

// DefaultRunRetention keeps terminal runs queryable after they finish.
const DefaultRunRetention = 30 * time.Minute

// notifyElideBytes caps tool output quoted in progress messages. The run
// record keeps the full output.
const notifyElideBytes = 1500

// ErrExecutorStopped rejects new runs after shutdown has begun.
var ErrExecutorStopped = errors.New("playbook executor stopped")

// ErrPlaybookNotFound indicates an unknown playbook id.
var ErrPlaybookNotFound = errors.New("playbook not found")

// ToolCaller is the slice of the MCP manager the executor needs.
type ToolCaller interface {
	CallTool(ctx context.Context, toolName string, args map[string]string) (*mcp.ToolResult, error)
}

// Approver gates MEDIUM/HIGH steps. Satisfied by the approval manager,
// which performs the tool call itself on an approved action.
type Approver interface {
	RequestApproval(ctx context.Context, req approval.Request) (approval.Outcome, error)
}

// Executor runs playbooks against incidents. Each run is one goroutine
// stepping through its playbook strictly in order; runs never share state
// and are not serialized against each other.
type Executor struct {
	registry  *Registry
	tools     ToolCaller
	approver  Approver
	channels  *channel.Registry
	retention time.Duration
	logger    *slog.Logger

	// baseCtx parents every run; cancelRuns hard-cancels them when the
	// shutdown grace period lapses.
	baseCtx    context.Context
	cancelRuns context.CancelFunc

	mu      sync.Mutex
	runs    map[string]*Run
	stopped bool
	wg      sync.WaitGroup
}

// NewExecutor creates an executor. retention bounds how long terminal runs
// stay queryable; zero means DefaultRunRetention.
func NewExecutor(registry *Registry, tools ToolCaller, approver Approver, channels *channel.Registry, retention time.Duration) *Executor {
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		registry:   registry,
		tools:      tools,
		approver:   approver,
		channels:   channels,
		retention:  retention,
		baseCtx:    ctx,
		cancelRuns: cancel,
		runs:       make(map[string]*Run),
		logger:     slog.Default().With("component", "playbook-executor"),
	}
}

// Execute launches a playbook run for the event and returns its handle
// immediately. extraParams overlays rule-supplied values under the event's
// template context; progress streams to channelTarget.
func (e *Executor) Execute(playbookID string, event models.ClusterEvent, extraParams map[string]string, channelTarget string) (*Run, error) {
	pb, ok := e.registry.Get(playbookID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlaybookNotFound, playbookID)
	}

	run := newRun(playbookID, event)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrExecutorStopped
	}
	e.runs[run.ID()] = run
	e.wg.Add(1)
	e.mu.Unlock()

	templateCtx := make(map[string]string, len(extraParams)+8)
	for k, v := range extraParams {
		templateCtx[k] = v
	}
	for k, v := range event.TemplateContext() {
		templateCtx[k] = v
	}

	go e.runPlaybook(run, pb, templateCtx, channelTarget)
	return run, nil
}

// GetRun looks up a live or recently finished run.
func (e *Executor) GetRun(runID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	return run, ok
}

// Runs snapshots every tracked run.
func (e *Executor) Runs() []models.RunSnapshot {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	out := make([]models.RunSnapshot, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Snapshot())
	}
	return out
}

// Stop refuses new runs and waits up to grace for in-flight runs to drain,
// then cancels the stragglers. Cancelled runs end with status Cancelled and
// their current step marked Cancelled.
func (e *Executor) Stop(grace time.Duration) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(grace):
		e.logger.Warn("Shutdown grace elapsed, cancelling in-flight runs")
		e.cancelRuns()
		<-drained
	}
	e.cancelRuns()
}

// runPlaybook is the per-run goroutine: strict step order, risk gating,
// progress notifications, one terminal state.
func (e *Executor) runPlaybook(run *Run, pb *Playbook, templateCtx map[string]string, channelTarget string) {
	defer e.wg.Done()
	defer e.scheduleCleanup(run.ID())

	log := e.logger.With("run_id", run.ID(), "playbook", pb.ID)
	log.Info("Playbook run started", "resource", run.event.Resource())

	e.notify(channelTarget, fmt.Sprintf("🚀 Starting playbook *%s* for %s (run `%s`)",
		pb.Name, run.event.Resource(), run.ID()[:8]))

	for i, step := range pb.Steps {
		if e.baseCtx.Err() != nil {
			e.cancelRun(run, pb, i, step, channelTarget, log)
			return
		}

		e.notify(channelTarget, fmt.Sprintf("▶️ Step %d/%d: %s", i+1, len(pb.Steps), step.Name))

		result := e.executeStep(run, i, step, templateCtx, channelTarget)
		run.record(result)
		log.Info("Step finished", "step", i, "name", step.Name, "outcome", result.Outcome)

		switch result.Outcome {
		case models.StepSuccess:
			e.notify(channelTarget, fmt.Sprintf("✅ Step %d: %s\n```\n%s\n```", i+1, step.Name, elideOutput(result.Output)))
		case models.StepCancelled:
			e.finishRun(run, pb, models.RunCancelled, channelTarget, log)
			return
		case models.StepRejected:
			e.notify(channelTarget, fmt.Sprintf("🚫 Step %d: %s was rejected (%s)", i+1, step.Name, result.Output))
		case models.StepExpired:
			e.notify(channelTarget, fmt.Sprintf("⏰ Step %d: %s approval expired", i+1, step.Name))
		default:
			e.notify(channelTarget, fmt.Sprintf("❌ Step %d: %s failed: %s", i+1, step.Name, elideOutput(result.Output)))
		}

		if result.Outcome != models.StepSuccess && step.abortOnFailure() {
			e.finishRun(run, pb, models.RunFailed, channelTarget, log)
			return
		}
	}

	e.finishRun(run, pb, models.RunCompleted, channelTarget, log)
}

// executeStep resolves params and runs one step under the risk gate.
func (e *Executor) executeStep(run *Run, index int, step Step, templateCtx map[string]string, channelTarget string) models.StepResult {
	result := models.StepResult{Index: index, Name: step.Name}

	params, err := ResolveParams(step.Params, templateCtx)
	if err != nil {
		result.Outcome = models.StepFailure
		result.Output = err.Error()
		return result
	}

	if !step.Risk.RequiresApproval() {
		toolResult, err := e.tools.CallTool(e.baseCtx, step.ToolName, params)
		switch {
		case errors.Is(err, context.Canceled):
			result.Outcome = models.StepCancelled
			result.Output = "engine shutdown"
		case err != nil:
			result.Outcome = models.StepFailure
			result.Output = err.Error()
		case toolResult.IsError:
			result.Outcome = models.StepFailure
			result.Output = toolResult.Text()
		default:
			result.Outcome = models.StepSuccess
			result.Output = toolResult.Text()
		}
		return result
	}

	run.setStatus(models.RunAwaitingApproval)
	outcome, err := e.approver.RequestApproval(e.baseCtx, approval.Request{
		ToolName:      step.ToolName,
		Arguments:     params,
		Risk:          step.Risk,
		Description:   step.Description,
		RunID:         run.ID(),
		ChannelTarget: channelTarget,
	})
	run.setStatus(models.RunRunning)

	switch {
	case errors.Is(err, approval.ErrManagerStopped) || errors.Is(err, context.Canceled):
		result.Outcome = models.StepCancelled
		result.Output = "engine shutdown"
	case err != nil:
		result.Outcome = models.StepFailure
		result.Output = err.Error()
	case outcome.Status == models.ApprovalRejected:
		result.Outcome = models.StepRejected
		result.Output = fmt.Sprintf("rejected by %s", outcome.UserID)
	case outcome.Status == models.ApprovalExpired:
		result.Outcome = models.StepExpired
		result.Output = "approval expired before a decision was made"
	case outcome.Err != nil:
		// Approved, but the tool itself failed. An operational failure,
		// never a rejection.
		result.Outcome = models.StepFailure
		result.Output = outcome.Err.Error()
	default:
		result.Outcome = models.StepSuccess
		result.Output = outcome.Output
	}
	return result
}

// cancelRun records the cancellation of the step that was about to start.
func (e *Executor) cancelRun(run *Run, pb *Playbook, index int, step Step, channelTarget string, log *slog.Logger) {
	run.record(models.StepResult{
		Index:   index,
		Name:    step.Name,
		Outcome: models.StepCancelled,
		Output:  "engine shutdown",
	})
	e.finishRun(run, pb, models.RunCancelled, channelTarget, log)
}

func (e *Executor) finishRun(run *Run, pb *Playbook, status models.RunStatus, channelTarget string, log *slog.Logger) {
	run.finish(status)
	log.Info("Playbook run finished", "status", status)

	icon := "🏁"
	switch status {
	case models.RunFailed:
		icon = "💥"
	case models.RunCancelled:
		icon = "🛑"
	}
	e.notify(channelTarget, fmt.Sprintf("%s Playbook *%s* finished: %s (run `%s`)",
		icon, pb.Name, status, run.ID()[:8]))
}

// scheduleCleanup drops the run from the tracker after the retention window.
func (e *Executor) scheduleCleanup(runID string) {
	time.AfterFunc(e.retention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.runs, runID)
	})
}

// notify posts progress best-effort; delivery failures never fail a run.
func (e *Executor) notify(channelTarget, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.channels.Send(ctx, channelTarget, message); err != nil {
		e.logger.Warn("Progress notification failed", "target", channelTarget, "error", err)
	}
}

func elideOutput(output string) string {
	if len(output) <= notifyElideBytes {
		return output
	}
	return output[:notifyElideBytes] + "\n… (truncated)"
}
