// ABOUTME: config.get, config.patch, and gateway.restart request methods.
// ABOUTME: Restart falls back to an empty config.patch on older gateways.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/coven-client/internal/protocol"
)

// ConfigGet fetches the gateway's raw config text and its base hash.
func (c *Client) ConfigGet(ctx context.Context) (*protocol.ConfigGetResult, error) {
	payload, err := c.Request(ctx, protocol.MethodConfigGet, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ConfigGetResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("parsing config payload: %w", err)
	}
	return &result, nil
}

// ConfigPatch writes new raw config text. The baseHash guards against
// clobbering concurrent edits; restartDelayMs delays the resulting
// gateway restart.
func (c *Client) ConfigPatch(ctx context.Context, raw, baseHash string, restartDelayMs int) error {
	_, err := c.Request(ctx, protocol.MethodConfigPatch, protocol.ConfigPatchParams{
		Raw:            raw,
		BaseHash:       baseHash,
		RestartDelayMs: restartDelayMs,
	})
	return err
}

// Restart asks the gateway to restart. Gateways that predate the
// gateway.restart method get an equivalent no-op config.patch instead,
// which also triggers a restart.
func (c *Client) Restart(ctx context.Context, reason string, delayMs int) error {
	_, err := c.Request(ctx, protocol.MethodGatewayRestart, protocol.GatewayRestartParams{
		Reason:  reason,
		DelayMs: delayMs,
	})
	if err == nil {
		return nil
	}
	if !isUnsupportedMethod(err) {
		return err
	}

	current, err := c.ConfigGet(ctx)
	if err != nil {
		return fmt.Errorf("restart fallback: %w", err)
	}
	return c.ConfigPatch(ctx, current.Raw, current.BaseHash, delayMs)
}

// isUnsupportedMethod matches the error class for unknown RPC methods.
func isUnsupportedMethod(err error) bool {
	var serr *ServerError
	if !errors.As(err, &serr) {
		return false
	}
	if serr.Code == "METHOD_NOT_FOUND" {
		return true
	}
	msg := strings.ToLower(serr.Message)
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "unknown method") ||
		strings.Contains(msg, "unsupported")
}
