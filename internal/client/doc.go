// Package client implements the gateway protocol client: a persistent,
// authenticated WebSocket connection to a coven gateway.
//
// # Overview
//
// A Client owns one socket at a time. It dials, waits for the server's
// connect.challenge, proves its device identity by signing the challenge
// nonce, and then correlates request/response frames while routing pushed
// events to the caller's callbacks.
//
// # Lifecycle
//
// States move idle -> connecting -> awaiting-challenge -> authenticating ->
// connected. Any socket loss moves to disconnected; while a desired
// connection target is set the client schedules reconnects with exponential
// backoff, up to an attempt ceiling. An explicit Disconnect clears the
// target and suppresses all reconnection.
//
// # Requests
//
//	c, _ := client.New(client.Options{...})
//	err := c.Connect(ctx, client.Target{Host: "gw.example.com", Port: 443, Token: token})
//	payload, err := c.Request(ctx, "sessions.list", params)
//
// Each request carries a UUID correlation id and a timeout; a response that
// arrives after its request timed out is silently dropped.
//
// # Events
//
// Inbound events are classified as chat, agent, or other. Chat events for
// sessions other than the current one never reach the primary chat
// callback; completed messages from other sessions surface on a separate
// cross-session callback instead.
package client
