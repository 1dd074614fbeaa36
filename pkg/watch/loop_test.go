package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/clawbot/clawbot/pkg/models"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.ClusterEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event models.ClusterEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) all() []models.ClusterEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.ClusterEvent(nil), d.events...)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func crashLoopPod(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:         "app",
				RestartCount: 7,
				State: corev1.ContainerState{
					Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"},
				},
			}},
		},
	}
}

func healthyPod(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "app",
				Ready: true,
				State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
			}},
		},
	}
}

func oomPod(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{
				Name: "app",
				State: corev1.ContainerState{
					Running: &corev1.ContainerStateRunning{},
				},
				LastTerminationState: corev1.ContainerState{
					Terminated: &corev1.ContainerStateTerminated{Reason: "OOMKilled"},
				},
			}},
		},
	}
}

func notReadyNode(name string, transition time.Time) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{
				Type:               corev1.NodeReady,
				Status:             corev1.ConditionFalse,
				Reason:             "KubeletNotReady",
				LastTransitionTime: metav1.NewTime(transition),
			}},
		},
	}
}

func failedDeployment(namespace, name string, desired int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: 0},
	}
}

func newTestLoop(objects ...runtime.Object) (*Loop, *recordingDispatcher, *fake.Clientset) {
	client := fake.NewSimpleClientset(objects...)
	dispatcher := &recordingDispatcher{}
	return NewLoop(client, dispatcher, 30*time.Second), dispatcher, client
}

func TestCrashLoopSingleFire(t *testing.T) {
	loop, dispatcher, _ := newTestLoop(crashLoopPod("prod", "nginx-abc"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		loop.RunCycle(ctx)
	}

	events := dispatcher.all()
	require.Len(t, events, 1, "the same unresolved incident must fire exactly once")
	assert.Equal(t, models.EventCrashLoop, events[0].Kind)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Equal(t, "Pod", events[0].ResourceKind)
	assert.Equal(t, "prod", events[0].Namespace)
	assert.Equal(t, "nginx-abc", events[0].ResourceName)
	assert.Equal(t, "app", events[0].Annotations["container"])
}

func TestRecoveryReArmsAlert(t *testing.T) {
	loop, dispatcher, client := newTestLoop(crashLoopPod("prod", "nginx-abc"))
	ctx := context.Background()

	loop.RunCycle(ctx)
	require.Equal(t, 1, dispatcher.count())

	// Pod recovers: key is removed, no event emitted.
	_, err := client.CoreV1().Pods("prod").Update(ctx, healthyPod("prod", "nginx-abc"), metav1.UpdateOptions{})
	require.NoError(t, err)
	loop.RunCycle(ctx)
	assert.Equal(t, 1, dispatcher.count())
	assert.Empty(t, loop.Snapshot())

	// Same pod crashes again: a fresh event fires.
	_, err = client.CoreV1().Pods("prod").Update(ctx, crashLoopPod("prod", "nginx-abc"), metav1.UpdateOptions{})
	require.NoError(t, err)
	loop.RunCycle(ctx)
	assert.Equal(t, 2, dispatcher.count())
}

func TestOOMKilledDetection(t *testing.T) {
	loop, dispatcher, _ := newTestLoop(oomPod("prod", "worker-1"))
	loop.RunCycle(context.Background())

	events := dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOOMKilled, events[0].Kind)
	assert.Equal(t, "worker-1", events[0].ResourceName)
}

func TestNodeFlapSuppression(t *testing.T) {
	// Fresh transition: not yet non-Ready for a full interval.
	loop, dispatcher, _ := newTestLoop(notReadyNode("worker-3", time.Now()))
	ctx := context.Background()

	loop.RunCycle(ctx)
	assert.Zero(t, dispatcher.count(), "first non-Ready observation is suppressed")

	// Second consecutive cycle still non-Ready: fires.
	loop.RunCycle(ctx)
	events := dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNotReadyNode, events[0].Kind)
	assert.Equal(t, "", events[0].Namespace, "nodes are cluster-scoped")
	assert.Equal(t, "worker-3", events[0].ResourceName)
}

func TestNodeOldTransitionFiresImmediately(t *testing.T) {
	loop, dispatcher, _ := newTestLoop(notReadyNode("worker-9", time.Now().Add(-10*time.Minute)))
	loop.RunCycle(context.Background())
	require.Equal(t, 1, dispatcher.count(),
		"a node non-Ready longer than one interval fires on first observation")
}

func TestNodeRecoveryClearsSuspect(t *testing.T) {
	loop, dispatcher, client := newTestLoop(notReadyNode("worker-3", time.Now().Add(-10*time.Minute)))
	ctx := context.Background()

	loop.RunCycle(ctx)
	require.Equal(t, 1, dispatcher.count())

	ready := notReadyNode("worker-3", time.Now())
	ready.Status.Conditions[0].Status = corev1.ConditionTrue
	_, err := client.CoreV1().Nodes().Update(ctx, ready, metav1.UpdateOptions{})
	require.NoError(t, err)

	loop.RunCycle(ctx)
	assert.Empty(t, loop.Snapshot())
}

func TestReplicationFailureDetection(t *testing.T) {
	loop, dispatcher, _ := newTestLoop(
		failedDeployment("prod", "api", 3),
		failedDeployment("kube-system", "coredns", 2),
	)
	loop.RunCycle(context.Background())

	events := dispatcher.all()
	require.Len(t, events, 1, "system namespaces are excluded from the deployment scan")
	assert.Equal(t, models.EventReplicationFailure, events[0].Kind)
	assert.Equal(t, "Deployment", events[0].ResourceKind)
	assert.Equal(t, "api", events[0].ResourceName)
	assert.Contains(t, events[0].Message, "0/3 replicas")
}

func TestHealthyDeploymentIgnored(t *testing.T) {
	desired := int32(2)
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod"},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: 2},
	}
	loop, dispatcher, _ := newTestLoop(dep)
	loop.RunCycle(context.Background())
	assert.Zero(t, dispatcher.count())
}

func TestFailedScanDoesNotFakeRecovery(t *testing.T) {
	loop, dispatcher, client := newTestLoop(crashLoopPod("prod", "nginx-abc"))
	ctx := context.Background()

	loop.RunCycle(ctx)
	require.Equal(t, 1, dispatcher.count())
	require.Len(t, loop.Snapshot(), 1)

	// A failing pod list must not remove the known issue: that would
	// re-arm the alert without an observed recovery.
	client.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	loop.RunCycle(ctx)
	assert.Len(t, loop.Snapshot(), 1)
	assert.Equal(t, 1, dispatcher.count())
}

func TestStartStop(t *testing.T) {
	loop, _, _ := newTestLoop()
	loop.Start(context.Background())
	loop.Stop()
}
