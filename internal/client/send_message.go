// ABOUTME: chat.send wrappers with duplicate-send coalescing.
// ABOUTME: Identical concurrent sends share one round trip and one result.

package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-client/internal/dedupe"
	"github.com/2389/coven-client/internal/protocol"
)

// SendResult is the gateway's acknowledgement of a chat.send.
type SendResult struct {
	MessageID string `json:"messageId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Status    string `json:"status,omitempty"`
}

// SendMessage sends a text message to a session. A second call with the
// same session and text while the first is still pending returns the same
// result instead of issuing a duplicate request.
func (c *Client) SendMessage(ctx context.Context, sessionKey, text string) (*SendResult, error) {
	signature := dedupe.TextSignature(sessionKey, text)
	payload, err := c.inflight.Do(signature, func() (json.RawMessage, error) {
		return c.Request(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
			SessionKey:     sessionKey,
			Message:        text,
			IdempotencyKey: uuid.New().String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return parseSendResult(payload), nil
}

// SendMessageWithImages sends a message with image attachments. Images are
// data URIs or direct URLs, as produced by the content normalizer.
func (c *Client) SendMessageWithImages(ctx context.Context, sessionKey, text string, images []string) (*SendResult, error) {
	signature := dedupe.ImagesSignature(sessionKey, text, images)
	payload, err := c.inflight.Do(signature, func() (json.RawMessage, error) {
		attachments := make([]protocol.Attachment, 0, len(images))
		for _, img := range images {
			attachments = append(attachments, imageAttachment(img))
		}
		return c.Request(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
			SessionKey:     sessionKey,
			Message:        text,
			IdempotencyKey: uuid.New().String(),
			Attachments:    attachments,
		})
	})
	if err != nil {
		return nil, err
	}
	return parseSendResult(payload), nil
}

// imageAttachment converts an image reference to a wire attachment. Data
// URIs are split into mime type and base64 body; anything else travels as
// an opaque reference.
func imageAttachment(img string) protocol.Attachment {
	att := protocol.Attachment{Type: "image", Content: img}

	rest, ok := strings.CutPrefix(img, "data:")
	if !ok {
		return att
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return att
	}
	att.Content = body
	att.MimeType = strings.TrimSuffix(meta, ";base64")
	return att
}

func parseSendResult(payload json.RawMessage) *SendResult {
	var result SendResult
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &result)
	}
	return &result
}
