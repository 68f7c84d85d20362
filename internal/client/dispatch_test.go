// ABOUTME: Tests for request correlation, timeouts, and server errors.
// ABOUTME: Verifies late responses are dropped without side effects.

package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-client/internal/protocol"
)

func TestRequestTimeout(t *testing.T) {
	gw := newFakeGateway(t)
	gw.onRequest = func(gc *gwConn, req reqFrame) bool {
		// Swallow slow.op requests; never reply.
		return req.Method == "slow.op"
	}

	c := newTestClient(t, Events{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, gw.target()))

	start := time.Now()
	_, err := c.RequestWithTimeout(ctx, "slow.op", nil, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// The timed-out id is gone; the connection still works.
	payload, err := c.Request(ctx, "sessions.list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(payload))
}

func TestRequestServerError(t *testing.T) {
	gw := newFakeGateway(t)
	gw.onRequest = func(gc *gwConn, req reqFrame) bool {
		if req.Method == "chat.send" {
			_ = gc.replyError(req.ID, "NOT_FOUND", "session not found")
			return true
		}
		return false
	}

	c := newTestClient(t, Events{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, gw.target()))

	_, err := c.Request(ctx, "chat.send", protocol.ChatSendParams{SessionKey: "gone", Message: "hi", IdempotencyKey: "k"})
	require.Error(t, err)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "NOT_FOUND", serr.Code)
	assert.Equal(t, "session not found", serr.Message)
	assert.Contains(t, serr.Error(), "chat.send")
}

func TestRequestContextCancellation(t *testing.T) {
	gw := newFakeGateway(t)
	gw.onRequest = func(gc *gwConn, req reqFrame) bool {
		return req.Method == "slow.op"
	}

	c := newTestClient(t, Events{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, gw.target()))

	reqCtx, reqCancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(50 * time.Millisecond)
		reqCancel()
	}()

	_, err := c.Request(reqCtx, "slow.op", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestNotConnected(t *testing.T) {
	c := newTestClient(t, Events{})

	_, err := c.Request(context.Background(), "sessions.list", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}
