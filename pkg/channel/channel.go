// Package channel delivers engine notifications and approval prompts to
// chat destinations. A destination is addressed by a channel target string
// "<type>:<channel_id>", where the type names a registered Sender.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrInvalidTarget indicates a channel target not of the form
	// "<type>:<channel_id>".
	ErrInvalidTarget = errors.New("invalid channel target")

	// ErrSenderNotRegistered indicates no sender is registered for the
	// target's channel type.
	ErrSenderNotRegistered = errors.New("sender not registered")
)

// Sender delivers messages to one channel type. Implementations must be
// safe for concurrent use; rate limiting is the sender's concern.
type Sender interface {
	// Type is the channel-type token this sender serves, e.g. "slack".
	Type() string

	// Send posts a message to the given channel id.
	Send(ctx context.Context, channelID, message string) error
}

// Target is a parsed channel target.
type Target struct {
	Type      string
	ChannelID string
}

// String renders the target back to its "<type>:<channel_id>" form.
func (t Target) String() string {
	return t.Type + ":" + t.ChannelID
}

// ParseTarget splits a "<type>:<channel_id>" string.
func ParseTarget(target string) (Target, error) {
	typ, id, ok := strings.Cut(target, ":")
	if !ok || typ == "" || id == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return Target{Type: typ, ChannelID: id}, nil
}

// Registry routes messages to the sender owning each channel type.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *slog.Logger
}

// NewRegistry creates an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
		logger:  slog.Default().With("component", "channel-registry"),
	}
}

// Register adds a sender for its channel type, replacing any previous one.
func (r *Registry) Register(sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[sender.Type()] = sender
	r.logger.Info("Channel sender registered", "type", sender.Type())
}

// Send parses the target and delivers the message through the owning sender.
func (r *Registry) Send(ctx context.Context, target, message string) error {
	parsed, err := ParseTarget(target)
	if err != nil {
		return err
	}

	r.mu.RLock()
	sender, ok := r.senders[parsed.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSenderNotRegistered, parsed.Type)
	}

	if err := sender.Send(ctx, parsed.ChannelID, message); err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}
