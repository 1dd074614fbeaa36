package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	context := map[string]string{
		"resource_name":         "nginx-abc",
		"namespace":             "prod",
		"annotations.container": "app",
	}

	t.Run("simple substitution", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"pod_name":  "{resource_name}",
			"namespace": "{namespace}",
		}, context)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"pod_name": "nginx-abc", "namespace": "prod"}, resolved)
	})

	t.Run("dotted annotation path", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"container": "{annotations.container}",
		}, context)
		require.NoError(t, err)
		assert.Equal(t, "app", resolved["container"])
	})

	t.Run("mixed literal and placeholder", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"selector": "app={resource_name}",
		}, context)
		require.NoError(t, err)
		assert.Equal(t, "app=nginx-abc", resolved["selector"])
	})

	t.Run("empty template stays empty", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"label_selector": "",
		}, context)
		require.NoError(t, err)
		assert.Equal(t, "", resolved["label_selector"])
	})

	t.Run("json braces survive", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"patch": `{"spec":{"containers":[{"name":"{resource_name}"}]}}`,
		}, context)
		require.NoError(t, err)
		assert.Equal(t, `{"spec":{"containers":[{"name":"nginx-abc"}]}}`, resolved["patch"])
	})

	t.Run("missing required parameter fails", func(t *testing.T) {
		_, err := ResolveParams(map[string]string{
			"replicas": "{target_replicas}",
		}, context)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing required parameter")
		assert.Contains(t, err.Error(), "replicas")
		assert.NotContains(t, err.Error(), "None")
	})

	t.Run("absent field renders empty inside larger value", func(t *testing.T) {
		resolved, err := ResolveParams(map[string]string{
			"note": "cause: {annotations.cause}",
		}, context)
		require.NoError(t, err)
		assert.Equal(t, "cause: ", resolved["note"])
	})
}

func TestBuiltinPlaybooks(t *testing.T) {
	registry := NewRegistry()

	want := map[string]int{
		"crash_loop_remediation":     4,
		"oom_kill_remediation":       2,
		"deployment_rollback":        3,
		"node_not_ready_remediation": 3,
		"scale_up_on_load":           1,
	}
	for id, steps := range want {
		pb, ok := registry.Get(id)
		require.True(t, ok, "missing built-in playbook %s", id)
		assert.Len(t, pb.Steps, steps)
		assert.True(t, pb.RequiresApproval(), "every built-in carries at least one gated step")
	}
}

func TestRegisterValidation(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(&Playbook{Name: "anonymous"}))
	assert.Error(t, registry.Register(&Playbook{ID: "empty"}))
	assert.Error(t, registry.Register(&Playbook{
		ID:    "no-tool",
		Steps: []Step{{Name: "broken"}},
	}))
}

type toolSet map[string]bool

func (s toolSet) HasTool(name string) bool { return s[name] }

func TestValidateTools(t *testing.T) {
	registry := NewRegistry()

	complete := toolSet{}
	for _, pb := range registry.List() {
		for _, step := range pb.Steps {
			complete[step.ToolName] = true
		}
	}
	assert.NoError(t, registry.ValidateTools(complete))

	incomplete := toolSet{}
	for name := range complete {
		incomplete[name] = true
	}
	delete(incomplete, "k8s_restart_pod")
	err := registry.ValidateTools(incomplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k8s_restart_pod")
}
