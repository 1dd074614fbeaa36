package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// sessionLost reports whether a tool call failed because the server's
// connection died, in which case one on-demand restart is worth a retry.
// Context errors and timeouts are never retried: the server may simply be
// slow, and replaying a possibly-applied mutation is worse than failing.
func sessionLost(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"session closed",
		"file already closed",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
