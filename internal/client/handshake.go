// ABOUTME: Auth handshake: signed device payload, connect request, recovery.
// ABOUTME: A "user not found" rejection regenerates identity at most once per client.

package client

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-client/internal/identity"
	"github.com/2389/coven-client/internal/protocol"
)

// devicePayloadVersion tags the signed auth payload format. Field order and
// the exact field set are the signature's entire trust boundary.
const devicePayloadVersion = "v2"

// authenticate consumes the challenge nonce from the current socket, builds
// and signs the device-auth payload, and issues the connect request.
func (c *Client) authenticate(gen int, nonce string) {
	c.mu.Lock()
	if gen != c.gen || c.desired == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticating
	target := *c.desired
	c.mu.Unlock()

	params := c.connectParams(target, nonce)

	payload, err := c.Request(context.Background(), protocol.MethodConnect, params)
	if err != nil {
		c.authFailed(gen, err)
		return
	}

	var hello protocol.HelloPayload
	if err := json.Unmarshal(payload, &hello); err != nil {
		c.logger.Warn("unparseable hello payload", "error", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.attempts = 0
	if hello.Auth != nil && hello.Auth.DeviceToken != "" {
		if err := identity.CheckDeviceToken(hello.Auth.DeviceToken); err == nil {
			c.deviceToken = hello.Auth.DeviceToken
		} else {
			c.logger.Debug("ignoring unusable device token", "error", err)
		}
	}
	c.mu.Unlock()

	c.logger.Info("authenticated to gateway",
		"server_version", hello.Server.Version,
		"conn_id", hello.Server.ConnID,
	)
	c.deliverAuth(nil)
	if cb := c.opts.Events.OnConnected; cb != nil {
		cb(&hello)
	}
}

// connectParams assembles the connect request body. Device attachment is
// best-effort: when identity loading or signing fails the request proceeds
// without a device block, yielding a degraded-scope connection.
func (c *Client) connectParams(target Target, nonce string) protocol.ConnectParams {
	token := target.Token
	if token == "" {
		c.mu.Lock()
		stored := c.deviceToken
		c.mu.Unlock()
		if stored != "" && identity.CheckDeviceToken(stored) == nil {
			token = stored
		}
	}

	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client: protocol.ClientInfo{
			ID:          c.opts.ClientID,
			DisplayName: c.opts.DisplayName,
			Version:     c.opts.Version,
			Platform:    c.opts.Platform,
			Mode:        c.opts.Mode,
		},
		Role:   c.opts.Role,
		Scopes: c.opts.Scopes,
		Caps:   c.opts.Caps,
	}
	if token != "" || target.Password != "" {
		params.Auth = &protocol.AuthInfo{Token: token, Password: target.Password}
	}

	signer, err := c.signer()
	if err != nil {
		c.logger.Warn("connecting without device identity", "error", err)
		return params
	}

	signedAt := time.Now().UnixMilli()
	signed := strings.Join([]string{
		devicePayloadVersion,
		signer.DeviceID(),
		c.opts.ClientID,
		c.opts.Mode,
		c.opts.Role,
		strings.Join(c.opts.Scopes, ","),
		strconv.FormatInt(signedAt, 10),
		token,
		nonce,
	}, "|")

	signature, err := signer.Sign(signed)
	if err != nil {
		c.logger.Warn("connecting without device identity", "error", err)
		return params
	}

	params.Device = &protocol.DeviceInfo{
		ID:        signer.DeviceID(),
		PublicKey: signer.PublicKey(),
		Signature: signature,
		SignedAt:  signedAt,
		Nonce:     nonce,
	}
	return params
}

// signer returns the configured Signer, loading the persisted identity on
// first use.
func (c *Client) signer() (identity.Signer, error) {
	if c.opts.Signer != nil {
		return c.opts.Signer, nil
	}
	id, err := c.ids.LoadOrCreate()
	if err != nil {
		return nil, err
	}
	return identity.NewSigner(id)
}

// authFailed handles a rejected connect request. A "user not found" error
// clears the persisted identity once per client instance and reconnects,
// which regenerates a fresh keypair on the next attempt; anything else is
// reported and retried under the normal reconnect policy.
func (c *Client) authFailed(gen int, err error) {
	if isUserNotFound(err) {
		c.mu.Lock()
		firstReset := !c.identityReset
		if firstReset {
			c.identityReset = true
		}
		c.mu.Unlock()

		if firstReset {
			c.logger.Info("gateway rejected device identity, regenerating")
			if clearErr := c.ids.Clear(); clearErr != nil {
				c.logger.Error("failed to clear device identity", "error", clearErr)
			}
			c.closeCurrent(gen)
			return
		}
	}

	c.logger.Warn("gateway handshake failed", "error", err)
	c.report(err)
	c.closeCurrent(gen)
}

// isUserNotFound matches the identity-rejection error class by
// case-insensitive substring, the way the gateway reports it.
func isUserNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "user not found")
}
