// Package rules maps normalized cluster events to remediation playbooks.
// The engine is a pure matcher: rules are registered at startup, evaluated
// in registration order, and an event may fan out to several playbooks.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/clawbot/clawbot/pkg/models"
)

// Rule binds an event kind to a playbook, with optional namespace and
// severity filters.
type Rule struct {
	ID   string
	Name string

	// EventKind must match the event's kind exactly.
	EventKind models.EventKind

	// NamespaceFilter, when set, is matched against the event namespace.
	// Cluster-scoped events carry an empty namespace, which matches only
	// patterns that accept the empty string.
	NamespaceFilter *regexp.Regexp

	// SeverityFloor is the minimum severity that triggers the rule.
	SeverityFloor models.Severity

	PlaybookID string

	// Params are merged into the run's template context, letting a rule
	// supply values its playbook needs beyond the event fields.
	Params map[string]string

	Enabled bool
}

// matches reports whether the rule applies to the event.
func (r *Rule) matches(event *models.ClusterEvent) bool {
	if !r.Enabled {
		return false
	}
	if event.Kind != r.EventKind {
		return false
	}
	if r.NamespaceFilter != nil && !r.NamespaceFilter.MatchString(event.Namespace) {
		return false
	}
	return event.Severity.AtLeast(r.SeverityFloor)
}

// Match is one (rule, playbook) pairing produced by evaluation.
type Match struct {
	RuleID     string
	PlaybookID string
	Params     map[string]string
}

// Engine evaluates events against the registered rule catalog.
type Engine struct {
	mu     sync.RWMutex
	rules  []*Rule
	logger *slog.Logger
}

// NewEngine creates an engine pre-loaded with the built-in rules.
func NewEngine() *Engine {
	e := &Engine{
		logger: slog.Default().With("component", "rule-engine"),
	}
	for _, rule := range builtinRules() {
		e.rules = append(e.rules, rule)
	}
	return e
}

// Register appends a rule to the catalog. Evaluation preserves
// registration order. A duplicate rule id is rejected.
func (e *Engine) Register(rule *Rule) error {
	if rule.ID == "" || rule.PlaybookID == "" {
		return fmt.Errorf("rule requires id and playbook_id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("rule %q already registered", rule.ID)
		}
	}
	e.rules = append(e.rules, rule)
	e.logger.Info("Rule registered", "rule_id", rule.ID, "name", rule.Name, "playbook", rule.PlaybookID)
	return nil
}

// Remove deletes a rule by id, reporting whether it existed.
func (e *Engine) Remove(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, rule := range e.rules {
		if rule.ID == ruleID {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the catalog in registration order.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Match evaluates the event against every rule in registration order and
// returns all matches.
func (e *Engine) Match(event *models.ClusterEvent) []Match {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []Match
	for _, rule := range e.rules {
		if !rule.matches(event) {
			continue
		}
		e.logger.Info("Rule matched",
			"rule_id", rule.ID,
			"event_kind", event.Kind,
			"resource", event.Resource(),
			"playbook", rule.PlaybookID)
		matches = append(matches, Match{RuleID: rule.ID, PlaybookID: rule.PlaybookID, Params: rule.Params})
	}
	return matches
}

// PlaybookIDs returns the distinct playbook ids referenced by the catalog,
// used at startup to validate the playbook registry against the catalog.
func (e *Engine) PlaybookIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, rule := range e.rules {
		if !seen[rule.PlaybookID] {
			seen[rule.PlaybookID] = true
			ids = append(ids, rule.PlaybookID)
		}
	}
	return ids
}

// builtinRules is the default catalog covering the common failure modes the
// watch loop detects. All built-ins require Critical severity.
func builtinRules() []*Rule {
	return []*Rule{
		{
			ID:            "rule-001",
			Name:          "CrashLoop Auto-Restart",
			EventKind:     models.EventCrashLoop,
			SeverityFloor: models.SeverityCritical,
			PlaybookID:    "crash_loop_remediation",
			Enabled:       true,
		},
		{
			ID:            "rule-002",
			Name:          "OOMKill Memory Increase",
			EventKind:     models.EventOOMKilled,
			SeverityFloor: models.SeverityCritical,
			PlaybookID:    "oom_kill_remediation",
			Enabled:       true,
		},
		{
			ID:            "rule-003",
			Name:          "NotReady Node Evacuation",
			EventKind:     models.EventNotReadyNode,
			SeverityFloor: models.SeverityCritical,
			PlaybookID:    "node_not_ready_remediation",
			Enabled:       true,
		},
		{
			ID:            "rule-004",
			Name:          "Replication Failure Rollback",
			EventKind:     models.EventReplicationFailure,
			SeverityFloor: models.SeverityCritical,
			PlaybookID:    "deployment_rollback",
			Enabled:       true,
		},
		{
			ID:            "rule-005",
			Name:          "Scale Up Under Load",
			EventKind:     models.EventAlertmanagerFiring,
			SeverityFloor: models.SeverityCritical,
			PlaybookID:    "scale_up_on_load",
			Params:        map[string]string{"target_replicas": "5"},
			Enabled:       true,
		},
	}
}
