package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
}

func TestClusterEventResource(t *testing.T) {
	event := ClusterEvent{ResourceKind: "Pod", Namespace: "prod", ResourceName: "nginx-abc"}
	assert.Equal(t, "Pod prod/nginx-abc", event.Resource())

	node := ClusterEvent{ResourceKind: "Node", ResourceName: "worker-3"}
	assert.Equal(t, "Node worker-3", node.Resource())
}

func TestTemplateContextFlattensAnnotations(t *testing.T) {
	event := ClusterEvent{
		Kind:         EventCrashLoop,
		Severity:     SeverityCritical,
		ResourceKind: "Pod",
		Namespace:    "prod",
		ResourceName: "nginx-abc",
		Annotations:  map[string]string{"container": "nginx", "restarts": "7"},
	}

	ctx := event.TemplateContext()
	assert.Equal(t, "crash_loop", ctx["event_type"])
	assert.Equal(t, "critical", ctx["severity"])
	assert.Equal(t, "nginx-abc", ctx["resource_name"])
	assert.Equal(t, "nginx", ctx["annotations.container"])
	assert.Equal(t, "7", ctx["annotations.restarts"])
}

func TestBoundAnnotations(t *testing.T) {
	event := ClusterEvent{Annotations: make(map[string]string)}
	for i := 0; i < MaxEventAnnotations+10; i++ {
		event.Annotations[fmt.Sprintf("key-%d", i)] = "v"
	}
	event.BoundAnnotations()
	assert.Len(t, event.Annotations, MaxEventAnnotations)
}

func TestPromptMessage(t *testing.T) {
	pending := PendingApproval{
		ApprovalID:  "deadbeef-0000-1111-2222-333344445555",
		ToolName:    "k8s_restart_pod",
		Arguments:   map[string]string{"pod_name": "nginx-abc", "namespace": "prod"},
		Risk:        RiskMedium,
		Description: "Delete pod to trigger fresh restart (controller will recreate)",
		ExpiresAt:   time.Now().Add(15 * time.Minute),
		Status:      ApprovalPending,
	}

	msg := pending.PromptMessage()
	assert.Contains(t, msg, "🟠")
	assert.Contains(t, msg, "k8s_restart_pod")
	assert.Contains(t, msg, "pod_name: `nginx-abc`")
	assert.Contains(t, msg, "Reply with `approve deadbeef` to proceed or `reject deadbeef` to cancel.")
	assert.Contains(t, msg, "expires in 15 minutes")
	assert.NotContains(t, msg, "HIGH RISK")
}

func TestPromptMessageHighRiskBanner(t *testing.T) {
	pending := PendingApproval{
		ApprovalID:  "cafebabe-0000-1111-2222-333344445555",
		ToolName:    "k8s_drain_node",
		Risk:        RiskHigh,
		Description: "Evict all pods from the node",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	msg := pending.PromptMessage()
	assert.Contains(t, msg, "HIGH RISK ACTION")
	assert.Contains(t, msg, "🔴")
}

func TestIssueKeyIdentity(t *testing.T) {
	a := ClusterEvent{Kind: EventCrashLoop, ResourceKind: "Pod", Namespace: "prod", ResourceName: "nginx-abc"}
	b := ClusterEvent{Kind: EventCrashLoop, ResourceKind: "Pod", Namespace: "prod", ResourceName: "nginx-abc",
		Message: "different message", ObservedAt: time.Now()}
	assert.Equal(t, a.IssueKey(), b.IssueKey(), "identity ignores message and timestamp")

	c := a
	c.Kind = EventOOMKilled
	assert.NotEqual(t, a.IssueKey(), c.IssueKey(), "same resource, different kind is a distinct incident")
	assert.Equal(t, "Pod/prod/nginx-abc/crash_loop", a.IssueKey().String())
}

func TestApprovalStatusTerminal(t *testing.T) {
	assert.False(t, ApprovalPending.Terminal())
	assert.True(t, ApprovalExecuted.Terminal())
	assert.True(t, ApprovalRejected.Terminal())
	assert.True(t, ApprovalExpired.Terminal())
}
