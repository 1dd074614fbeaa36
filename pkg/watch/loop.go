// Package watch implements the cluster watch loop: a supervised background
// task that polls the cluster at a steady interval, normalizes anomalies
// into events, deduplicates them against a live known-issues set, and hands
// genuinely new events to the dispatcher.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/clawbot/clawbot/pkg/models"
)

// Dispatcher receives each newly detected event. Implementations own the
// rules → notify → executor path; errors stay inside the dispatcher so one
// bad event cannot stop the loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.ClusterEvent)
}

// skipNamespaces are excluded from the deployment scan; remediating system
// workloads automatically is out of bounds.
var skipNamespaces = map[string]bool{
	"kube-system":     true,
	"kube-public":     true,
	"kube-node-lease": true,
}

// Loop polls the cluster and owns the known-issues set. The set has a
// single writer (the cycle goroutine); Snapshot offers a read-only copy
// for diagnostics.
type Loop struct {
	client     kubernetes.Interface
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	known map[models.IssueKey]time.Time // key → first seen

	// nodeSuspect holds nodes seen non-Ready on the previous cycle, to
	// suppress single-cycle flaps.
	nodeSuspect map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLoop creates a watch loop. Events flow to the dispatcher; the loop
// does not start until Start is called.
func NewLoop(client kubernetes.Interface, dispatcher Dispatcher, interval time.Duration) *Loop {
	return &Loop{
		client:      client,
		dispatcher:  dispatcher,
		interval:    interval,
		known:       make(map[models.IssueKey]time.Time),
		nodeSuspect: make(map[string]bool),
		stopCh:      make(chan struct{}),
		logger:      slog.Default().With("component", "watchloop"),
	}
}

// Start launches the polling goroutine. Cycles never overlap: an overrun
// cycle delays the next tick instead.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.Info("Watch loop started", "interval", l.interval)
}

// Stop halts polling and waits for the in-flight cycle to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	l.logger.Info("Watch loop stopped")
}

// Snapshot returns a copy of the known-issues set for diagnostics.
func (l *Loop) Snapshot() map[models.IssueKey]time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[models.IssueKey]time.Time, len(l.known))
	for k, v := range l.known {
		out[k] = v
	}
	return out
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each cycle gets half the interval; an overrun finishes
			// but delays the next tick.
			cycleCtx, cancel := context.WithTimeout(ctx, l.interval/2)
			l.RunCycle(cycleCtx)
			cancel()
		}
	}
}

// RunCycle performs one full scan: pods, nodes, deployments. Exported so
// the lifecycle can prime an initial scan and tests can drive cycles
// deterministically.
func (l *Loop) RunCycle(ctx context.Context) {
	var events []models.ClusterEvent

	if podEvents, observed, err := l.scanPods(ctx); err != nil {
		l.logger.Warn("Pod scan skipped", "error", err)
	} else {
		events = append(events, l.admit(podEvents)...)
		l.sweepRecovered(observed, models.EventCrashLoop)
		l.sweepRecovered(observed, models.EventOOMKilled)
	}

	if nodeEvents, observed, err := l.scanNodes(ctx); err != nil {
		l.logger.Warn("Node scan skipped", "error", err)
	} else {
		events = append(events, l.admit(nodeEvents)...)
		l.sweepRecovered(observed, models.EventNotReadyNode)
	}

	if depEvents, observed, err := l.scanDeployments(ctx); err != nil {
		l.logger.Warn("Deployment scan skipped", "error", err)
	} else {
		events = append(events, l.admit(depEvents)...)
		l.sweepRecovered(observed, models.EventReplicationFailure)
	}

	for _, event := range events {
		l.logger.Info("Cluster event detected",
			"kind", event.Kind, "resource", event.Resource(), "severity", event.Severity)
		l.dispatcher.Dispatch(ctx, event)
	}
	if len(events) > 0 {
		l.logger.Info("Watch cycle complete", "events", len(events))
	}
}

// admit filters raw observations through the known-issues set: a key seen
// for the first time is recorded and its event passed through; a key
// already present is suppressed.
func (l *Loop) admit(observations []models.ClusterEvent) []models.ClusterEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []models.ClusterEvent
	for _, event := range observations {
		key := event.IssueKey()
		if _, exists := l.known[key]; exists {
			continue
		}
		l.known[key] = time.Now().UTC()
		fresh = append(fresh, event)
	}
	return fresh
}

// sweepRecovered removes known keys of one kind that no current observation
// matches. Removal re-arms future alerts for that resource; it is only run
// when the owning scan succeeded, so a failed scan never fakes a recovery.
func (l *Loop) sweepRecovered(observed map[models.IssueKey]bool, kind models.EventKind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.known {
		if key.Kind != kind || observed[key] {
			continue
		}
		delete(l.known, key)
		l.logger.Info("Issue recovered", "key", key.String())
	}
}

// scanPods derives CrashLoop and OOMKilled observations from container
// statuses cluster-wide.
func (l *Loop) scanPods(ctx context.Context) ([]models.ClusterEvent, map[models.IssueKey]bool, error) {
	pods, err := l.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("list pods: %w", err)
	}

	var events []models.ClusterEvent
	observed := make(map[models.IssueKey]bool)

	for i := range pods.Items {
		pod := &pods.Items[i]
		for _, status := range pod.Status.ContainerStatuses {
			if reason := waitingReason(status); reason != "" {
				event := podEvent(pod, models.EventCrashLoop, status,
					fmt.Sprintf("Pod %s in %s is %s (restarts: %d)",
						pod.Name, pod.Namespace, reason, status.RestartCount))
				observed[event.IssueKey()] = true
				events = append(events, event)
			}
			if status.LastTerminationState.Terminated != nil &&
				status.LastTerminationState.Terminated.Reason == "OOMKilled" {
				event := podEvent(pod, models.EventOOMKilled, status,
					fmt.Sprintf("Pod %s in %s had container %s OOMKilled",
						pod.Name, pod.Namespace, status.Name))
				observed[event.IssueKey()] = true
				events = append(events, event)
			}
		}
	}
	return events, observed, nil
}

// waitingReason returns the anomalous waiting reason, if any.
func waitingReason(status corev1.ContainerStatus) string {
	if status.State.Waiting == nil {
		return ""
	}
	switch status.State.Waiting.Reason {
	case "CrashLoopBackOff", "Error":
		return status.State.Waiting.Reason
	}
	return ""
}

func podEvent(pod *corev1.Pod, kind models.EventKind, status corev1.ContainerStatus, message string) models.ClusterEvent {
	return models.ClusterEvent{
		Kind:         kind,
		Severity:     models.SeverityCritical,
		ResourceKind: "Pod",
		Namespace:    pod.Namespace,
		ResourceName: pod.Name,
		Message:      message,
		Annotations: map[string]string{
			"container": status.Name,
			"restarts":  fmt.Sprintf("%d", status.RestartCount),
		},
		ObservedAt: time.Now().UTC(),
	}
}

// scanNodes derives NotReadyNode observations. A node fires only when seen
// non-Ready on two consecutive cycles, or when its Ready condition has
// already been in that state longer than one interval; both suppress
// single-cycle flaps.
func (l *Loop) scanNodes(ctx context.Context) ([]models.ClusterEvent, map[models.IssueKey]bool, error) {
	nodes, err := l.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("list nodes: %w", err)
	}

	var events []models.ClusterEvent
	observed := make(map[models.IssueKey]bool)
	suspect := make(map[string]bool)

	for i := range nodes.Items {
		node := &nodes.Items[i]
		cond := readyCondition(node)
		if cond == nil || cond.Status == corev1.ConditionTrue {
			continue
		}
		suspect[node.Name] = true

		settled := time.Since(cond.LastTransitionTime.Time) >= l.interval
		if !l.nodeSuspect[node.Name] && !settled {
			continue
		}

		event := models.ClusterEvent{
			Kind:         models.EventNotReadyNode,
			Severity:     models.SeverityCritical,
			ResourceKind: "Node",
			Namespace:    "",
			ResourceName: node.Name,
			Message:      fmt.Sprintf("Node %s is NotReady", node.Name),
			Annotations: map[string]string{
				"condition_reason": cond.Reason,
			},
			ObservedAt: time.Now().UTC(),
		}
		observed[event.IssueKey()] = true
		events = append(events, event)
	}

	l.nodeSuspect = suspect
	return events, observed, nil
}

func readyCondition(node *corev1.Node) *corev1.NodeCondition {
	for i := range node.Status.Conditions {
		if node.Status.Conditions[i].Type == corev1.NodeReady {
			return &node.Status.Conditions[i]
		}
	}
	return nil
}

// scanDeployments derives ReplicationFailure observations: a deployment
// wanting replicas but with none available. System namespaces are skipped.
func (l *Loop) scanDeployments(ctx context.Context) ([]models.ClusterEvent, map[models.IssueKey]bool, error) {
	deployments, err := l.client.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("list deployments: %w", err)
	}

	var events []models.ClusterEvent
	observed := make(map[models.IssueKey]bool)

	for i := range deployments.Items {
		dep := &deployments.Items[i]
		if skipNamespaces[dep.Namespace] {
			continue
		}
		desired := int32(1)
		if dep.Spec.Replicas != nil {
			desired = *dep.Spec.Replicas
		}
		if desired == 0 || dep.Status.AvailableReplicas != 0 {
			continue
		}

		event := models.ClusterEvent{
			Kind:         models.EventReplicationFailure,
			Severity:     models.SeverityCritical,
			ResourceKind: "Deployment",
			Namespace:    dep.Namespace,
			ResourceName: dep.Name,
			Message: fmt.Sprintf("Deployment %s in %s has 0/%d replicas available",
				dep.Name, dep.Namespace, desired),
			ObservedAt: time.Now().UTC(),
		}
		observed[event.IssueKey()] = true
		events = append(events, event)
	}
	return events, observed, nil
}
