// ABOUTME: Tests for session listing, patching, and model id normalization.

package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-client/internal/protocol"
)

func TestNormalizeModelID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"opus", "anthropic/claude-opus-4"},
		{"Sonnet", "anthropic/claude-sonnet-4"},
		{"  haiku  ", "anthropic/claude-haiku-4"},
		{"Anthropic/claude-opus-4", "anthropic/claude-opus-4"},
		{"OpenRouter/some/model", "openrouter/some/model"},
		{"custom-local-model", "custom-local-model"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeModelID(tt.in), "input %q", tt.in)
	}
}

func TestListSessions(t *testing.T) {
	gw := newFakeGateway(t)
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodSessionsList {
			return false
		}
		_ = c.replyOK(req.ID, protocol.SessionsListResult{Sessions: []protocol.SessionEntry{
			{Key: "main", Label: "Main", Model: "anthropic/claude-opus-4", MessageCount: 12},
			{Key: "scratch", DerivedTitle: "Scratch pad"},
		}})
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	sessions, err := c.ListSessions(context.Background(), protocol.SessionsListParams{IncludeDerivedTitles: true})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "main", sessions[0].Key)
	assert.Equal(t, 12, sessions[0].MessageCount)
	assert.Equal(t, "Scratch pad", sessions[1].DerivedTitle)
}

func TestPatchSessionNormalizesModel(t *testing.T) {
	gw := newFakeGateway(t)

	var got protocol.SessionPatch
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodSessionsPatch {
			return false
		}
		require.NoError(t, json.Unmarshal(req.Params, &got))
		_ = c.replyOK(req.ID, json.RawMessage(`{}`))
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	model := "opus"
	label := "Primary"
	require.NoError(t, c.PatchSession(context.Background(), protocol.SessionPatch{
		Key:   "main",
		Label: &label,
		Model: &model,
	}))

	assert.Equal(t, "main", got.Key)
	require.NotNil(t, got.Model)
	assert.Equal(t, "anthropic/claude-opus-4", *got.Model, "bare alias expands before patching")
	require.NotNil(t, got.Label)
	assert.Equal(t, "Primary", *got.Label)
}

func TestPatchSessionWithoutModelLeavesItUnset(t *testing.T) {
	gw := newFakeGateway(t)

	var raw json.RawMessage
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodSessionsPatch {
			return false
		}
		raw = append(raw[:0], req.Params...)
		_ = c.replyOK(req.ID, json.RawMessage(`{}`))
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	label := "Renamed"
	require.NoError(t, c.PatchSession(context.Background(), protocol.SessionPatch{Key: "main", Label: &label}))

	assert.NotContains(t, string(raw), `"model"`, "unset model must not appear in the patch body")
}
