// Package mcp wraps the MCP (Model Context Protocol) client SDK behind a
// Manager that owns the configured tool servers and a flat tool registry,
// routing each tool call to the owning server's session.
package mcp

import "strings"

// ContentFragment is one typed fragment of a tool result. The standard
// shape is {type:"text", text:...}; non-text fragments are dropped when
// converting SDK results.
type ContentFragment struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of one tools/call. IsError marks a tool-level
// failure surfaced in-band, as opposed to a transport or protocol error.
type ToolResult struct {
	Content []ContentFragment `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

// Text concatenates the text fragments of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
