// ABOUTME: Tests for chat.send wrappers and duplicate-send coalescing.
// ABOUTME: Counts wire-level requests at the fake gateway to prove dedupe.

package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-client/internal/protocol"
)

func TestConcurrentIdenticalSendsShareOneRequest(t *testing.T) {
	gw := newFakeGateway(t)

	var sends atomic.Int64
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodChatSend {
			return false
		}
		sends.Add(1)
		arrived <- struct{}{}
		<-release
		_ = c.replyOK(req.ID, SendResult{MessageID: "m-1", RunID: "r-1", Status: "queued"})
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	type outcome struct {
		res *SendResult
		err error
	}
	results := make(chan outcome, 2)

	go func() {
		res, err := c.SendMessage(context.Background(), "main", "hello there")
		results <- outcome{res, err}
	}()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached the gateway")
	}

	// Differs only in case and spacing; both normalize to one signature.
	go func() {
		res, err := c.SendMessage(context.Background(), "MAIN", "  hello   there ")
		results <- outcome{res, err}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case out := <-results:
			require.NoError(t, out.err)
			assert.Equal(t, "m-1", out.res.MessageID)
			assert.Equal(t, "r-1", out.res.RunID)
		case <-time.After(2 * time.Second):
			t.Fatal("send did not settle")
		}
	}

	assert.Equal(t, int64(1), sends.Load(), "coalesced sends issue a single chat.send")
}

func TestSequentialIdenticalSendsAreNotDeduped(t *testing.T) {
	gw := newFakeGateway(t)

	var sends atomic.Int64
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodChatSend {
			return false
		}
		sends.Add(1)
		_ = c.replyOK(req.ID, SendResult{MessageID: "m-1"})
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	_, err := c.SendMessage(context.Background(), "main", "again")
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "main", "again")
	require.NoError(t, err)

	assert.Equal(t, int64(2), sends.Load(), "a settled send must not suppress a later retry")
}

func TestFailedSendClearsPendingRecord(t *testing.T) {
	gw := newFakeGateway(t)

	var sends atomic.Int64
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodChatSend {
			return false
		}
		if sends.Add(1) == 1 {
			_ = c.replyError(req.ID, "UNAVAILABLE", "agent busy")
		} else {
			_ = c.replyOK(req.ID, SendResult{MessageID: "m-2"})
		}
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	_, err := c.SendMessage(context.Background(), "main", "try me")
	require.Error(t, err)

	res, err := c.SendMessage(context.Background(), "main", "try me")
	require.NoError(t, err)
	assert.Equal(t, "m-2", res.MessageID)
	assert.Equal(t, int64(2), sends.Load())
}

func TestSendMessageWithImagesBuildsAttachments(t *testing.T) {
	gw := newFakeGateway(t)

	var got protocol.ChatSendParams
	gw.onRequest = func(c *gwConn, req reqFrame) bool {
		if req.Method != protocol.MethodChatSend {
			return false
		}
		require.NoError(t, json.Unmarshal(req.Params, &got))
		_ = c.replyOK(req.ID, SendResult{MessageID: "m-3"})
		return true
	}

	c := newTestClient(t, Events{})
	require.NoError(t, c.Connect(context.Background(), gw.target()))

	images := []string{
		"data:image/png;base64,iVBORw0KGgo=",
		"https://example.test/shot.png",
	}
	res, err := c.SendMessageWithImages(context.Background(), "main", "see attached", images)
	require.NoError(t, err)
	assert.Equal(t, "m-3", res.MessageID)

	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "image/png", got.Attachments[0].MimeType)
	assert.Equal(t, "iVBORw0KGgo=", got.Attachments[0].Content)
	assert.Empty(t, got.Attachments[1].MimeType)
	assert.Equal(t, "https://example.test/shot.png", got.Attachments[1].Content)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestImageAttachmentParsing(t *testing.T) {
	tests := []struct {
		name     string
		img      string
		wantMime string
		wantBody string
	}{
		{
			name:     "base64 data uri",
			img:      "data:image/jpeg;base64,/9j/4AAQ",
			wantMime: "image/jpeg",
			wantBody: "/9j/4AAQ",
		},
		{
			name:     "data uri without base64 marker",
			img:      "data:text/plain,hello",
			wantMime: "text/plain",
			wantBody: "hello",
		},
		{
			name:     "data prefix without comma stays opaque",
			img:      "data:image/png",
			wantMime: "",
			wantBody: "data:image/png",
		},
		{
			name:     "plain url stays opaque",
			img:      "https://example.test/a.png",
			wantMime: "",
			wantBody: "https://example.test/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att := imageAttachment(tt.img)
			assert.Equal(t, "image", att.Type)
			assert.Equal(t, tt.wantMime, att.MimeType)
			assert.Equal(t, tt.wantBody, att.Content)
		})
	}
}
