// Package protocol defines the wire format spoken over the gateway
// WebSocket: the req/res/event frame union, the connect handshake
// shapes, and the chat/agent event payloads.
package protocol
