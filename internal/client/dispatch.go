// ABOUTME: Request dispatcher: correlation ids, pending-request table, timeouts.
// ABOUTME: Late or unmatched responses are dropped silently; that race is expected.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-client/internal/protocol"
)

// ServerError is a request failure reported by the gateway.
type ServerError struct {
	Method  string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Request sends a request frame and waits for the matching response, using
// the client's default timeout.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.RequestWithTimeout(ctx, method, params, c.opts.RequestTimeout)
}

// RequestWithTimeout sends a request frame with a fresh correlation id and
// waits for the matching response. On timeout the pending entry is removed
// and a late response for it is silently dropped.
func (c *Client) RequestWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	frame, err := protocol.NewRequest(uuid.New().String(), method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	c.mu.Lock()
	c.pending[frame.ID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(frame); err != nil {
		c.removePending(frame.ID)
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.OK {
			return res.Payload, nil
		}
		serr := &ServerError{Method: method, Message: res.ErrorMessage()}
		if res.Error != nil {
			serr.Code = res.Error.Code
		}
		return nil, serr
	case <-timer.C:
		c.removePending(frame.ID)
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)
	case <-ctx.Done():
		c.removePending(frame.ID)
		return nil, ctx.Err()
	}
}

// handleResponse routes a response frame to its pending request. An id with
// no pending entry is ignored: that happens under racing timeouts and
// reconnects and is not an error condition.
func (c *Client) handleResponse(res *protocol.ResponseFrame) {
	c.mu.Lock()
	ch, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request", "id", res.ID)
		return
	}
	ch <- res
}

// removePending drops a pending request entry, if still present.
func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
