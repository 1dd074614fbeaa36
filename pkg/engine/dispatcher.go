package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clawbot/clawbot/pkg/channel"
	"github.com/clawbot/clawbot/pkg/models"
	"github.com/clawbot/clawbot/pkg/playbook"
	"github.com/clawbot/clawbot/pkg/rules"
)

// Dispatcher carries each detected event through the shared pipeline: rule
// matching, the SRE-channel alert, and (when auto-remediation is on)
// launching one playbook run per match. The watch loop and the Alertmanager
// webhook both feed it.
type Dispatcher struct {
	rules    *rules.Engine
	executor *playbook.Executor
	channels *channel.Registry

	notificationTarget string
	autoRemediation    bool
	logger             *slog.Logger
}

// NewDispatcher wires the pipeline.
func NewDispatcher(ruleEngine *rules.Engine, executor *playbook.Executor, channels *channel.Registry, notificationTarget string, autoRemediation bool) *Dispatcher {
	return &Dispatcher{
		rules:              ruleEngine,
		executor:           executor,
		channels:           channels,
		notificationTarget: notificationTarget,
		autoRemediation:    autoRemediation,
		logger:             slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch processes one event. Errors are contained here; a bad event
// never propagates back into the loop that produced it.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.ClusterEvent) {
	event.BoundAnnotations()
	matches := d.rules.Match(&event)

	if err := d.channels.Send(ctx, d.notificationTarget, alertMessage(event, matches)); err != nil {
		d.logger.Warn("Alert notification failed", "target", d.notificationTarget, "error", err)
	}

	if !d.autoRemediation {
		d.logger.Info("Auto-remediation disabled, alert only",
			"kind", event.Kind, "resource", event.Resource())
		return
	}

	for _, match := range matches {
		run, err := d.executor.Execute(match.PlaybookID, event, match.Params, d.notificationTarget)
		if err != nil {
			d.logger.Error("Failed to launch playbook run",
				"playbook", match.PlaybookID, "rule", match.RuleID, "error", err)
			continue
		}
		d.logger.Info("Playbook run launched",
			"run_id", run.ID(), "playbook", match.PlaybookID, "rule", match.RuleID,
			"resource", event.Resource())
	}
}

// alertMessage renders the SRE-channel alert for a detected event.
func alertMessage(event models.ClusterEvent, matches []rules.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%s* detected: %s [%s]\n", event.Kind, event.Resource(), event.Severity)
	if event.Message != "" {
		fmt.Fprintf(&b, "%s\n", event.Message)
	}
	if len(matches) == 0 {
		b.WriteString("No matching playbooks.")
		return b.String()
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.PlaybookID)
	}
	fmt.Fprintf(&b, "Matched playbooks: %s", strings.Join(ids, ", "))
	return b.String()
}
