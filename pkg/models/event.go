// Package models contains the domain types shared across the AIOps engine:
// cluster events, risk levels, and pending approvals.
package models

import (
	"fmt"
	"time"
)

// EventKind classifies a detected cluster anomaly.
type EventKind string

// Event kind constants.
const (
	EventCrashLoop          EventKind = "crash_loop"
	EventOOMKilled          EventKind = "oom_killed"
	EventNotReadyNode       EventKind = "not_ready_node"
	EventReplicationFailure EventKind = "replication_failure"
	EventAlertmanagerFiring EventKind = "alertmanager_firing"
)

// Severity is an ordered event severity. Higher values are more severe.
type Severity int

// Severity levels, ordered.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// AtLeast reports whether s meets the given severity floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s >= floor
}

// MaxEventAnnotations bounds the free-form annotation map on a ClusterEvent.
const MaxEventAnnotations = 16

// ClusterEvent is a normalized cluster anomaly, produced by the WatchLoop or
// the Alertmanager webhook and consumed by the rule engine. It is never
// stored long-term.
type ClusterEvent struct {
	Kind         EventKind         `json:"kind"`
	Severity     Severity          `json:"severity"`
	ResourceKind string            `json:"resource_kind"` // Pod | Node | Deployment | ...
	Namespace    string            `json:"namespace"`     // empty for cluster-scoped resources
	ResourceName string            `json:"resource_name"`
	Message      string            `json:"message"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	ObservedAt   time.Time         `json:"observed_at"`
}

// IssueKey returns the deduplication key identifying the unresolved incident
// this event describes: (resource_kind, namespace, resource_name, kind).
func (e ClusterEvent) IssueKey() IssueKey {
	return IssueKey{
		ResourceKind: e.ResourceKind,
		Namespace:    e.Namespace,
		ResourceName: e.ResourceName,
		Kind:         e.Kind,
	}
}

// Resource returns a human-readable resource identifier for logs and
// notifications, e.g. "Pod prod/nginx-abc" or "Node worker-3".
func (e ClusterEvent) Resource() string {
	if e.Namespace == "" {
		return fmt.Sprintf("%s %s", e.ResourceKind, e.ResourceName)
	}
	return fmt.Sprintf("%s %s/%s", e.ResourceKind, e.Namespace, e.ResourceName)
}

// TemplateContext flattens the event into the string map used for playbook
// parameter templating. Annotations are exposed under "annotations.<key>".
func (e ClusterEvent) TemplateContext() map[string]string {
	ctx := map[string]string{
		"event_type":    string(e.Kind),
		"severity":      e.Severity.String(),
		"resource_kind": e.ResourceKind,
		"namespace":     e.Namespace,
		"resource_name": e.ResourceName,
		"message":       e.Message,
	}
	for k, v := range e.Annotations {
		ctx["annotations."+k] = v
	}
	return ctx
}

// BoundAnnotations drops annotation entries beyond MaxEventAnnotations.
// Which entries survive when the bound is exceeded is unspecified.
func (e *ClusterEvent) BoundAnnotations() {
	if len(e.Annotations) <= MaxEventAnnotations {
		return
	}
	bounded := make(map[string]string, MaxEventAnnotations)
	for k, v := range e.Annotations {
		if len(bounded) == MaxEventAnnotations {
			break
		}
		bounded[k] = v
	}
	e.Annotations = bounded
}

// IssueKey identifies one unresolved incident of one kind on one resource.
// The WatchLoop's known-issues set is keyed by this type.
type IssueKey struct {
	ResourceKind string
	Namespace    string
	ResourceName string
	Kind         EventKind
}

// String renders the key for logs, e.g. "Pod/prod/nginx-abc/crash_loop".
func (k IssueKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.ResourceKind, k.Namespace, k.ResourceName, k.Kind)
}
