// Package playbook holds the remediation playbook catalog and the executor
// that runs playbooks against incidents. Each playbook is an ordered list of
// steps; each step is one tool invocation with a declared risk level, and
// MEDIUM/HIGH steps are gated behind a human approval.
package playbook

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawbot/clawbot/pkg/models"
)

// FailurePolicy controls whether a failed step aborts the run.
type FailurePolicy string

// Failure policies. Abort is the default; Continue is reserved for steps
// whose failure is acceptable.
const (
	FailureAbort    FailurePolicy = "abort"
	FailureContinue FailurePolicy = "continue"
)

// Step is a single tool invocation within a playbook.
type Step struct {
	Name        string
	Description string
	Risk        models.RiskLevel
	ToolName    string

	// Params maps tool argument names to template strings. Templates
	// reference event-context fields by {dotted.path}, e.g. {resource_name}
	// or {annotations.container}.
	Params map[string]string

	// OnFailure defaults to FailureAbort when empty.
	OnFailure FailurePolicy
}

// abortOnFailure reports whether a non-Success outcome ends the run.
func (s Step) abortOnFailure() bool {
	return s.OnFailure != FailureContinue
}

// Playbook is a named, ordered remediation recipe.
type Playbook struct {
	ID          string
	Name        string
	Description string
	Steps       []Step
}

// RequiresApproval reports whether any step is gated.
func (p *Playbook) RequiresApproval() bool {
	for _, step := range p.Steps {
		if step.Risk.RequiresApproval() {
			return true
		}
	}
	return false
}

// ToolChecker answers whether a tool name resolves in the tool registry.
// Satisfied by the MCP manager.
type ToolChecker interface {
	HasTool(toolName string) bool
}

// Registry is the process-local playbook catalog.
type Registry struct {
	mu        sync.RWMutex
	playbooks map[string]*Playbook
	logger    *slog.Logger
}

// NewRegistry creates a registry pre-loaded with the built-in playbooks.
func NewRegistry() *Registry {
	r := &Registry{
		playbooks: make(map[string]*Playbook),
		logger:    slog.Default().With("component", "playbook-registry"),
	}
	for _, pb := range builtinPlaybooks() {
		r.playbooks[pb.ID] = pb
	}
	return r
}

// Register adds or replaces a playbook. A playbook with no steps or a step
// with no tool is malformed.
func (r *Registry) Register(pb *Playbook) error {
	if pb.ID == "" {
		return fmt.Errorf("playbook requires an id")
	}
	if len(pb.Steps) == 0 {
		return fmt.Errorf("playbook %q has no steps", pb.ID)
	}
	for i, step := range pb.Steps {
		if step.ToolName == "" {
			return fmt.Errorf("playbook %q step %d (%s) has no tool", pb.ID, i, step.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playbooks[pb.ID] = pb
	r.logger.Debug("Playbook registered", "playbook_id", pb.ID, "steps", len(pb.Steps))
	return nil
}

// Get looks up a playbook by id.
func (r *Registry) Get(id string) (*Playbook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pb, ok := r.playbooks[id]
	return pb, ok
}

// List returns every registered playbook.
func (r *Registry) List() []*Playbook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Playbook, 0, len(r.playbooks))
	for _, pb := range r.playbooks {
		out = append(out, pb)
	}
	return out
}

// ValidateTools checks every step's tool against the tool registry. An
// unresolved tool name is fatal at engine start.
func (r *Registry) ValidateTools(tools ToolChecker) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pb := range r.playbooks {
		for i, step := range pb.Steps {
			if !tools.HasTool(step.ToolName) {
				return fmt.Errorf("playbook %q step %d (%s): tool %q not available on any server",
					pb.ID, i, step.Name, step.ToolName)
			}
		}
	}
	return nil
}

// builtinPlaybooks covers the failure modes the built-in rules detect.
func builtinPlaybooks() []*Playbook {
	return []*Playbook{
		{
			ID:          "crash_loop_remediation",
			Name:        "CrashLoop Remediation",
			Description: "Diagnose and remediate a CrashLoopBackOff pod",
			Steps: []Step{
				{
					Name:        "Describe Pod",
					Description: "Gather pod conditions and events",
					Risk:        models.RiskLow,
					ToolName:    "k8s_describe_resource",
					Params: map[string]string{
						"resource_type": "pod",
						"resource_name": "{resource_name}",
						"namespace":     "{namespace}",
					},
				},
				{
					Name:        "Fetch Recent Logs",
					Description: "Get last 100 lines of logs for error analysis",
					Risk:        models.RiskLow,
					ToolName:    "k8s_analyze_logs",
					Params: map[string]string{
						"pod_name":   "{resource_name}",
						"namespace":  "{namespace}",
						"tail_lines": "100",
					},
				},
				{
					Name:        "Restart Pod",
					Description: "Delete pod to trigger fresh restart (controller will recreate)",
					Risk:        models.RiskMedium,
					ToolName:    "k8s_restart_pod",
					Params: map[string]string{
						"pod_name":  "{resource_name}",
						"namespace": "{namespace}",
					},
				},
				{
					Name:        "Verify Recovery",
					Description: "Check pod status after restart",
					Risk:        models.RiskLow,
					ToolName:    "k8s_get_pods",
					Params: map[string]string{
						"namespace":      "{namespace}",
						"label_selector": "",
					},
				},
			},
		},
		{
			ID:          "oom_kill_remediation",
			Name:        "OOMKill Remediation",
			Description: "Increase memory limits for OOM-killed pods",
			Steps: []Step{
				{
					Name:        "Get Current Limits",
					Description: "Describe deployment to see current memory limits",
					Risk:        models.RiskLow,
					ToolName:    "k8s_describe_resource",
					Params: map[string]string{
						"resource_type": "deployment",
						"resource_name": "{resource_name}",
						"namespace":     "{namespace}",
					},
				},
				{
					Name:        "Increase Memory Limit",
					Description: "Patch deployment to increase memory limit",
					Risk:        models.RiskHigh,
					ToolName:    "k8s_patch_resource",
					Params: map[string]string{
						"resource_type": "deployment",
						"resource_name": "{resource_name}",
						"namespace":     "{namespace}",
						"patch":         `{"spec":{"template":{"spec":{"containers":[{"name":"{resource_name}","resources":{"limits":{"memory":"1Gi"}}}]}}}}`,
					},
				},
			},
		},
		{
			ID:          "deployment_rollback",
			Name:        "Deployment Rollback",
			Description: "Roll back a failing deployment to the previous stable revision",
			Steps: []Step{
				{
					Name:        "Get Rollout History",
					Description: "Show deployment revisions available for rollback",
					Risk:        models.RiskLow,
					ToolName:    "k8s_get_rollout_history",
					Params: map[string]string{
						"deployment_name": "{resource_name}",
						"namespace":       "{namespace}",
					},
				},
				{
					Name:        "Rollback Deployment",
					Description: "Undo to previous stable revision",
					Risk:        models.RiskHigh,
					ToolName:    "k8s_rollback_deployment",
					Params: map[string]string{
						"deployment_name": "{resource_name}",
						"namespace":       "{namespace}",
					},
				},
				{
					Name:        "Check Rollout Status",
					Description: "Verify rollback completed successfully",
					Risk:        models.RiskLow,
					ToolName:    "k8s_rollout_status",
					Params: map[string]string{
						"deployment_name": "{resource_name}",
						"namespace":       "{namespace}",
					},
				},
			},
		},
		{
			ID:          "node_not_ready_remediation",
			Name:        "Node NotReady Remediation",
			Description: "Drain and cordon a NotReady node",
			Steps: []Step{
				{
					Name:        "Describe Node",
					Description: "Gather node conditions and events",
					Risk:        models.RiskLow,
					ToolName:    "k8s_describe_resource",
					Params: map[string]string{
						"resource_type": "node",
						"resource_name": "{resource_name}",
						"namespace":     "",
					},
				},
				{
					Name:        "Cordon Node",
					Description: "Prevent new pods from scheduling on this node",
					Risk:        models.RiskMedium,
					ToolName:    "k8s_cordon_node",
					Params: map[string]string{
						"node_name": "{resource_name}",
					},
				},
				{
					Name:        "Drain Node",
					Description: "Evict all pods from the node",
					Risk:        models.RiskHigh,
					ToolName:    "k8s_drain_node",
					Params: map[string]string{
						"node_name": "{resource_name}",
					},
				},
			},
		},
		{
			ID:          "scale_up_on_load",
			Name:        "Scale Up Under Load",
			Description: "Increase replica count when the workload is saturated",
			Steps: []Step{
				{
					Name:        "Scale Deployment",
					Description: "Add replicas to handle increased load",
					Risk:        models.RiskMedium,
					ToolName:    "k8s_scale_deployment",
					Params: map[string]string{
						"deployment": "{resource_name}",
						"namespace":  "{namespace}",
						"replicas":   "{target_replicas}",
					},
				},
			},
		},
	}
}
