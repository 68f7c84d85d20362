// ABOUTME: chat.history and chat.inject request methods.
// ABOUTME: History rows keep their raw shape; callers normalize via content.Extract.

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-client/internal/protocol"
)

// HistoryResult holds one fetched page of session history. Messages keep
// their heterogeneous wire shape.
type HistoryResult struct {
	Messages []json.RawMessage `json:"messages"`
}

// History fetches up to limit messages for a session.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) (*HistoryResult, error) {
	payload, err := c.Request(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: sessionKey,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	var result HistoryResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("parsing history payload: %w", err)
	}
	return &result, nil
}

// Inject inserts a message into a session's transcript without triggering
// an agent turn. The optional label attributes the injection.
func (c *Client) Inject(ctx context.Context, sessionKey, message, label string) error {
	_, err := c.Request(ctx, protocol.MethodChatInject, protocol.ChatInjectParams{
		SessionKey: sessionKey,
		Message:    message,
		Label:      label,
	})
	return err
}
