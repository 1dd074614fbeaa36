package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel declares the blast radius of a playbook step.
type RiskLevel string

// Risk levels. LOW steps run unattended; MEDIUM and HIGH are gated behind a
// human approval.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RequiresApproval reports whether a step at this risk level must be routed
// through the approval manager before execution.
func (r RiskLevel) RequiresApproval() bool {
	return r == RiskMedium || r == RiskHigh
}

// Icon returns the chat icon used in approval prompts.
func (r RiskLevel) Icon() string {
	switch r {
	case RiskLow:
		return "🟡"
	case RiskMedium:
		return "🟠"
	case RiskHigh:
		return "🔴"
	default:
		return "⚪"
	}
}

// ApprovalStatus tracks the lifecycle of a PendingApproval.
type ApprovalStatus string

// Approval statuses. Executed, Rejected, and Expired are terminal.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status is a sink state.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalExecuted || s == ApprovalRejected || s == ApprovalExpired
}

// ShortIDLength is the number of leading approval-id characters users type
// in approval replies.
const ShortIDLength = 8

// PendingApproval is a MEDIUM/HIGH action awaiting a human decision. It is
// serialized to the approval store with a TTL; the short id (first 8 hex
// chars of the approval id) is what users reference in chat replies.
type PendingApproval struct {
	ApprovalID    string            `json:"approval_id"`
	ToolName      string            `json:"tool_name"`
	Arguments     map[string]string `json:"arguments"`
	Risk          RiskLevel         `json:"risk_level"`
	Description   string            `json:"description"`
	RunID         string            `json:"run_id,omitempty"`
	ChannelTarget string            `json:"channel_target"`
	RequestedAt   time.Time         `json:"requested_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Status        ApprovalStatus    `json:"status"`
}

// ShortID returns the 8-character id users reply with.
func (p PendingApproval) ShortID() string {
	if len(p.ApprovalID) < ShortIDLength {
		return p.ApprovalID
	}
	return p.ApprovalID[:ShortIDLength]
}

// PromptMessage renders the user-facing approval prompt: risk label,
// description, tool, parameters, reply instructions, and time to expiry.
func (p PendingApproval) PromptMessage() string {
	msg := ""
	if p.Risk == RiskHigh {
		msg += "⚠️ *HIGH RISK ACTION — Review carefully before approving*\n\n"
	}
	msg += fmt.Sprintf("%s *Approval Required* [%s]\n\n", p.Risk.Icon(), strings.ToUpper(string(p.Risk)))
	msg += fmt.Sprintf("*Action:* %s\n", p.Description)
	msg += fmt.Sprintf("*Tool:* `%s`\n", p.ToolName)
	msg += "*Parameters:*\n"
	keys := make([]string, 0, len(p.Arguments))
	for k := range p.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg += fmt.Sprintf("  • %s: `%s`\n", k, p.Arguments[k])
	}
	minutes := int(time.Until(p.ExpiresAt).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	msg += fmt.Sprintf("\nReply with `approve %s` to proceed or `reject %s` to cancel.\n", p.ShortID(), p.ShortID())
	msg += fmt.Sprintf("This request expires in %d minutes.", minutes)
	return msg
}
