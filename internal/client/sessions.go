// ABOUTME: sessions.list and sessions.patch request methods.
// ABOUTME: Model ids are normalized client-side before patching.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-client/internal/protocol"
)

// modelAliases maps bare model aliases to their full ids.
var modelAliases = map[string]string{
	"opus":   "anthropic/claude-opus-4",
	"sonnet": "anthropic/claude-sonnet-4",
	"haiku":  "anthropic/claude-haiku-4",
}

// ListSessions fetches the session list.
func (c *Client) ListSessions(ctx context.Context, params protocol.SessionsListParams) ([]protocol.SessionEntry, error) {
	payload, err := c.Request(ctx, protocol.MethodSessionsList, params)
	if err != nil {
		return nil, err
	}

	var result protocol.SessionsListResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("parsing sessions payload: %w", err)
	}
	return result.Sessions, nil
}

// PatchSession updates mutable session fields. The model id, if present,
// is normalized before the patch is sent.
func (c *Client) PatchSession(ctx context.Context, patch protocol.SessionPatch) error {
	if patch.Model != nil {
		normalized := NormalizeModelID(*patch.Model)
		patch.Model = &normalized
	}
	_, err := c.Request(ctx, protocol.MethodSessionsPatch, patch)
	return err
}

// NormalizeModelID canonicalizes a model id: trims whitespace, lowercases
// the provider prefix, and expands bare aliases to their full ids.
func NormalizeModelID(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return ""
	}

	if full, ok := modelAliases[strings.ToLower(model)]; ok {
		return full
	}

	if provider, rest, ok := strings.Cut(model, "/"); ok {
		return strings.ToLower(provider) + "/" + rest
	}
	return model
}
