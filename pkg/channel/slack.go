package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// slackPostTimeout bounds one chat.postMessage call.
const slackPostTimeout = 10 * time.Second

// SlackSender posts messages through the Slack Web API.
type SlackSender struct {
	api    *goslack.Client
	logger *slog.Logger
}

// NewSlackSender creates a sender using the given bot token.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "slack-sender"),
	}
}

// NewSlackSenderWithAPIURL creates a sender targeting a custom API URL.
// Useful for testing with a mock server.
func NewSlackSenderWithAPIURL(token, apiURL string) *SlackSender {
	return &SlackSender{
		api:    goslack.New(token, goslack.OptionAPIURL(apiURL)),
		logger: slog.Default().With("component", "slack-sender"),
	}
}

// Type returns the channel-type token.
func (s *SlackSender) Type() string {
	return "slack"
}

// Send posts a plain-text message to the channel.
func (s *SlackSender) Send(ctx context.Context, channelID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, slackPostTimeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, channelID,
		goslack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	s.logger.Debug("Message posted", "channel", channelID, "bytes", len(message))
	return nil
}
