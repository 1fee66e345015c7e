// ABOUTME: Shared test fixtures for the mcp package: a scripted echo backend.
// ABOUTME: Lets dispatcher and transport tests run without a real tool provider.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoBackend struct{}

func (echoBackend) Name() string    { return "mcpz-test" }
func (echoBackend) Version() string { return "0.0.1" }

func (echoBackend) Tools() []Tool {
	return []Tool{
		{
			Name:        "echo",
			Description: "Echo the text argument",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		},
		{
			Name:        "explode",
			Description: "Always fails internally",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		{
			Name:        "args",
			Description: "Return the raw arguments",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
	}
}

func (echoBackend) CallTool(_ context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	switch name {
	case "echo":
		var in struct {
			Text *string `json:"text"`
		}
		if err := DecodeArguments(args, &in); err != nil {
			return ErrorResult("%v", err), nil
		}
		if in.Text == nil {
			return ErrorResult("Missing 'text' argument"), nil
		}
		return TextResult(*in.Text), nil
	case "explode":
		return nil, errors.New("boom")
	case "args":
		return TextResult(string(args)), nil
	}
	return ErrorResult("Unknown tool: %s", name), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherConfig{Backend: echoBackend{}, Logger: quietLogger()})
	require.NoError(t, err)
	return d
}

func mustRequest(t *testing.T, raw string) *Request {
	t.Helper()
	req, err := DecodeRequest([]byte(raw))
	require.NoError(t, err)
	return req
}
