// Package approval brokers the human confirmation handshake for MEDIUM and
// HIGH risk playbook steps. Pending approvals live in Redis with a TTL; the
// suspended requester is resolved by a chat reply carrying the 8-character
// short id, or by expiry.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clawbot/clawbot/pkg/channel"
	"github.com/clawbot/clawbot/pkg/mcp"
	"github.com/clawbot/clawbot/pkg/models"
)

// keyPrefix namespaces approval records in the shared cache.
const keyPrefix = "approval:"

// shortIDRetries bounds regeneration on short-id collision.
const shortIDRetries = 5

// expiredRetention keeps an expired record readable for diagnostics after
// its TTL would have removed it.
const expiredRetention = time.Minute

// outputElideBytes caps tool output quoted in chat confirmations. The full
// output travels back to the run record untouched.
const outputElideBytes = 800

// replyRe matches the approval reply grammar: an approve or reject verb
// followed by the 8-hex short id, case-insensitive.
var replyRe = regexp.MustCompile(`(?i)\b(approve|yes|confirm|reject|no|cancel)\s+([a-fA-F0-9]{8})\b`)

// approveVerbs classifies the verb captured by replyRe.
var approveVerbs = map[string]bool{"approve": true, "yes": true, "confirm": true}

// ToolCaller is the slice of the MCP manager the approval path needs.
type ToolCaller interface {
	CallTool(ctx context.Context, toolName string, args map[string]string) (*mcp.ToolResult, error)
}

// Request describes one action awaiting human confirmation.
type Request struct {
	ToolName      string
	Arguments     map[string]string
	Risk          models.RiskLevel
	Description   string
	RunID         string
	ChannelTarget string
}

// Outcome is the terminal result of one approval handshake.
type Outcome struct {
	// Status is one of Executed, Rejected, Expired.
	Status models.ApprovalStatus

	// Output is the tool's text output when Status is Executed and the
	// call succeeded.
	Output string

	// UserID is the responder when Status is Rejected.
	UserID string

	// Err is set when the approval was granted but the tool call failed.
	// Callers must record this as an operational failure, not a rejection.
	Err error
}

// Manager owns pending approvals: it writes them to the store, posts the
// prompt, suspends the requester, and resolves on reply or expiry. Each
// waiter is a one-shot channel taken atomically by whichever path resolves
// first, so at most one terminal outcome is ever recorded per approval.
type Manager struct {
	store    *redis.Client
	tools    ToolCaller
	channels *channel.Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan Outcome // short id → one-shot resolution
}

// NewManager creates a Manager backed by the given Redis client.
func NewManager(store *redis.Client, tools ToolCaller, channels *channel.Registry, timeout time.Duration) *Manager {
	return &Manager{
		store:    store,
		tools:    tools,
		channels: channels,
		timeout:  timeout,
		waiters:  make(map[string]chan Outcome),
		logger:   slog.Default().With("component", "approval-manager"),
	}
}

// RequestApproval stores a pending approval, posts the prompt to the
// request's channel target, and blocks until a reply, expiry, or context
// cancellation. On cancellation the pending record is left to expire
// naturally in the store.
func (m *Manager) RequestApproval(ctx context.Context, req Request) (Outcome, error) {
	pending, waiter, err := m.create(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	if err := m.channels.Send(ctx, pending.ChannelTarget, pending.PromptMessage()); err != nil {
		// The record exists and a reply can still resolve it, but the
		// operator never saw the prompt. Fail the step rather than hang.
		m.takeWaiter(pending.ShortID())
		return Outcome{}, fmt.Errorf("post approval prompt: %w", err)
	}

	m.logger.Info("Approval requested",
		"approval_id", pending.ApprovalID,
		"short_id", pending.ShortID(),
		"tool", pending.ToolName,
		"risk", pending.Risk,
		"run_id", pending.RunID)

	expiry := time.NewTimer(time.Until(pending.ExpiresAt))
	defer expiry.Stop()

	select {
	case outcome := <-waiter:
		return outcome, nil
	case <-expiry.C:
		if ch := m.takeWaiter(pending.ShortID()); ch == nil {
			// A reply won the race; its outcome is already in flight.
			return <-waiter, nil
		}
		m.markExpired(context.WithoutCancel(ctx), pending.ApprovalID)
		m.logger.Info("Approval expired", "approval_id", pending.ApprovalID, "short_id", pending.ShortID())
		return Outcome{Status: models.ApprovalExpired}, nil
	case <-ctx.Done():
		m.takeWaiter(pending.ShortID())
		return Outcome{}, fmt.Errorf("%w: %w", ErrManagerStopped, ctx.Err())
	}
}

// create persists a new pending approval and registers its waiter. The
// short id must be unique across live pendings; on collision the approval
// id is regenerated.
func (m *Manager) create(ctx context.Context, req Request) (*models.PendingApproval, chan Outcome, error) {
	for attempt := 0; attempt < shortIDRetries; attempt++ {
		id := uuid.NewString()
		shortID := id[:models.ShortIDLength]

		m.mu.Lock()
		if _, live := m.waiters[shortID]; live {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		if existing, err := m.findByShortID(ctx, shortID); err != nil {
			return nil, nil, err
		} else if existing != nil {
			continue
		}

		now := time.Now().UTC()
		pending := &models.PendingApproval{
			ApprovalID:    id,
			ToolName:      req.ToolName,
			Arguments:     req.Arguments,
			Risk:          req.Risk,
			Description:   req.Description,
			RunID:         req.RunID,
			ChannelTarget: req.ChannelTarget,
			RequestedAt:   now,
			ExpiresAt:     now.Add(m.timeout),
			Status:        models.ApprovalPending,
		}
		if err := m.write(ctx, pending, m.timeout); err != nil {
			return nil, nil, err
		}

		waiter := make(chan Outcome, 1)
		m.mu.Lock()
		m.waiters[shortID] = waiter
		m.mu.Unlock()
		return pending, waiter, nil
	}
	return nil, nil, ErrShortIDExhausted
}

// HandleReply inspects an inbound chat message for an approval reply. The
// returned string is a user-visible confirmation; handled is false when the
// message is not an approval reply at all. Replies to unknown, expired, or
// already-resolved short ids are acknowledged but change nothing.
func (m *Manager) HandleReply(ctx context.Context, text, userID string) (string, bool) {
	match := replyRe.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	verb := strings.ToLower(match[1])
	shortID := strings.ToLower(match[2])

	pending, err := m.findByShortID(ctx, shortID)
	if err != nil {
		m.logger.Error("Approval lookup failed", "short_id", shortID, "error", err)
		return fmt.Sprintf("⚠️ Could not look up approval `%s`, please retry.", shortID), true
	}
	if pending == nil || pending.Status != models.ApprovalPending {
		return fmt.Sprintf("⚠️ No pending approval found for ID `%s`. It may have expired.", shortID), true
	}

	// Taking the waiter is the commit point: whoever takes it owns the
	// single terminal resolution.
	waiter := m.takeWaiter(shortID)
	if waiter == nil {
		return fmt.Sprintf("⚠️ No pending approval found for ID `%s`. It may have expired.", shortID), true
	}

	if approveVerbs[verb] {
		return m.execute(ctx, pending, waiter, userID), true
	}
	return m.reject(ctx, pending, waiter, userID), true
}

// execute runs the approved tool and resolves the waiter. A tool failure
// after approval stays an operational failure in the outcome; it is never
// reported as a rejection.
func (m *Manager) execute(ctx context.Context, pending *models.PendingApproval, waiter chan Outcome, userID string) string {
	m.logger.Info("Approval granted",
		"approval_id", pending.ApprovalID, "tool", pending.ToolName, "approved_by", userID)

	result, err := m.tools.CallTool(ctx, pending.ToolName, pending.Arguments)
	if err == nil && result.IsError {
		err = fmt.Errorf("tool %s reported an error: %s", pending.ToolName, result.Text())
	}

	pending.Status = models.ApprovalExecuted
	if werr := m.write(context.WithoutCancel(ctx), pending, time.Until(pending.ExpiresAt)); werr != nil {
		m.logger.Warn("Failed to persist approval status", "approval_id", pending.ApprovalID, "error", werr)
	}

	if err != nil {
		m.logger.Error("Approved tool call failed",
			"approval_id", pending.ApprovalID, "tool", pending.ToolName, "error", err)
		waiter <- Outcome{Status: models.ApprovalExecuted, Err: err}
		return fmt.Sprintf("❌ Execution failed: %v", err)
	}

	output := result.Text()
	waiter <- Outcome{Status: models.ApprovalExecuted, Output: output}
	return fmt.Sprintf("✅ *%s* executed successfully.\n```\n%s\n```", pending.Description, elide(output))
}

// reject resolves the waiter with the responder's identity.
func (m *Manager) reject(ctx context.Context, pending *models.PendingApproval, waiter chan Outcome, userID string) string {
	m.logger.Info("Approval rejected", "approval_id", pending.ApprovalID, "rejected_by", userID)

	pending.Status = models.ApprovalRejected
	if err := m.write(context.WithoutCancel(ctx), pending, time.Until(pending.ExpiresAt)); err != nil {
		m.logger.Warn("Failed to persist approval status", "approval_id", pending.ApprovalID, "error", err)
	}

	waiter <- Outcome{Status: models.ApprovalRejected, UserID: userID}
	return fmt.Sprintf("❌ Action *%s* rejected by %s.", pending.Description, userID)
}

// ListPending returns every approval still awaiting a decision.
func (m *Manager) ListPending(ctx context.Context) ([]*models.PendingApproval, error) {
	var pendings []*models.PendingApproval
	iter := m.store.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		pending, err := m.read(ctx, iter.Val())
		if err != nil || pending == nil {
			continue
		}
		if pending.Status == models.ApprovalPending {
			pendings = append(pendings, pending)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
	}
	return pendings, nil
}

// findByShortID scans for the pending whose approval id starts with the
// short id. Volume is low; a prefix scan is sufficient.
func (m *Manager) findByShortID(ctx context.Context, shortID string) (*models.PendingApproval, error) {
	iter := m.store.Scan(ctx, 0, keyPrefix+shortID+"*", 50).Iterator()
	for iter.Next(ctx) {
		pending, err := m.read(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if pending != nil {
			return pending, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
	}
	return nil, nil
}

// markExpired flips a still-pending record to expired, retaining it briefly
// for diagnostics.
func (m *Manager) markExpired(ctx context.Context, approvalID string) {
	pending, err := m.read(ctx, keyPrefix+approvalID)
	if err != nil || pending == nil || pending.Status != models.ApprovalPending {
		return
	}
	pending.Status = models.ApprovalExpired
	if err := m.write(ctx, pending, expiredRetention); err != nil {
		m.logger.Warn("Failed to persist approval expiry", "approval_id", approvalID, "error", err)
	}
}

// takeWaiter atomically removes and returns the waiter for a short id, or
// nil when the approval is already resolved.
func (m *Manager) takeWaiter(shortID string) chan Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiter, ok := m.waiters[shortID]
	if !ok {
		return nil
	}
	delete(m.waiters, shortID)
	return waiter
}

func (m *Manager) write(ctx context.Context, pending *models.PendingApproval, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	if err := m.store.SetEx(ctx, keyPrefix+pending.ApprovalID, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: setex: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Manager) read(ctx context.Context, key string) (*models.PendingApproval, error) {
	data, err := m.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrStoreUnavailable, err)
	}
	var pending models.PendingApproval
	if err := json.Unmarshal(data, &pending); err != nil {
		m.logger.Warn("Dropping malformed approval record", "key", key, "error", err)
		return nil, nil
	}
	return &pending, nil
}

func elide(output string) string {
	if len(output) <= outputElideBytes {
		return output
	}
	return output[:outputElideBytes] + "\n… (truncated)"
}
