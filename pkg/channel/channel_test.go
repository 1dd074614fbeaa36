package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	typ      string
	messages []string
	channels []string
	err      error
}

func (s *recordingSender) Type() string { return s.typ }

func (s *recordingSender) Send(_ context.Context, channelID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.channels = append(s.channels, channelID)
	s.messages = append(s.messages, message)
	return nil
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		want    Target
		wantErr bool
	}{
		{name: "slack target", target: "slack:C0123ABC", want: Target{Type: "slack", ChannelID: "C0123ABC"}},
		{name: "telegram target", target: "telegram:12345", want: Target{Type: "telegram", ChannelID: "12345"}},
		{name: "id containing colon", target: "slack:team:general", want: Target{Type: "slack", ChannelID: "team:general"}},
		{name: "no separator", target: "slack", wantErr: true},
		{name: "empty type", target: ":C0123ABC", wantErr: true},
		{name: "empty id", target: "slack:", wantErr: true},
		{name: "empty string", target: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.target, got.String())
		})
	}
}

func TestRegistrySend(t *testing.T) {
	registry := NewRegistry()
	slack := &recordingSender{typ: "slack"}
	registry.Register(slack)

	require.NoError(t, registry.Send(context.Background(), "slack:C0123ABC", "hello"))
	assert.Equal(t, []string{"C0123ABC"}, slack.channels)
	assert.Equal(t, []string{"hello"}, slack.messages)
}

func TestRegistrySendUnknownType(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&recordingSender{typ: "slack"})

	err := registry.Send(context.Background(), "discord:999", "hello")
	assert.ErrorIs(t, err, ErrSenderNotRegistered)
}

func TestRegistrySendInvalidTarget(t *testing.T) {
	registry := NewRegistry()
	err := registry.Send(context.Background(), "not-a-target", "hello")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestSlackSenderPostsMessage(t *testing.T) {
	var gotChannel, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotChannel = r.Form.Get("channel")
		gotText = r.Form.Get("text")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700000000.000100"}))
	}))
	defer server.Close()

	sender := NewSlackSenderWithAPIURL("xoxb-test", server.URL+"/")
	require.NoError(t, sender.Send(context.Background(), "C0123ABC", "pod restarted"))

	assert.Equal(t, "C0123ABC", gotChannel)
	assert.Equal(t, "pod restarted", gotText)
}
