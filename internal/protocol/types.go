// ABOUTME: Method names, event names, and payload shapes for the gateway protocol.
// ABOUTME: Mirrors the connect handshake, chat, agent, session, and config RPCs.

package protocol

import "encoding/json"

// Method names.
const (
	MethodConnect        = "connect"
	MethodChatSend       = "chat.send"
	MethodChatHistory    = "chat.history"
	MethodChatInject     = "chat.inject"
	MethodSessionsList   = "sessions.list"
	MethodSessionsPatch  = "sessions.patch"
	MethodConfigGet      = "config.get"
	MethodConfigPatch    = "config.patch"
	MethodGatewayRestart = "gateway.restart"
)

// Event names.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventAgent            = "agent"
)

// Chat event lifecycle states.
const (
	ChatStateDelta    = "delta"
	ChatStateFinal    = "final"
	ChatStateError    = "error"
	ChatStateAborted  = "aborted"
	ChatStateComplete = "complete" // targeted health-check flows only
)

// Agent event stream discriminators.
const (
	AgentStreamTool      = "tool"
	AgentStreamLifecycle = "lifecycle"
)

// HousekeepingEvents are high-frequency events suppressed from diagnostic
// output entirely.
var HousekeepingEvents = map[string]bool{
	"tick":      true,
	"health":    true,
	"cron":      true,
	"heartbeat": true,
}

// ConnectParams is the body of the connect request.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Caps        []string    `json:"caps"`
	Auth        *AuthInfo   `json:"auth,omitempty"`
	Device      *DeviceInfo `json:"device,omitempty"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// AuthInfo carries shared-secret credentials.
type AuthInfo struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// DeviceInfo carries the signed device-identity block. Signature covers the
// canonical pipe-delimited payload bound to the server challenge nonce.
type DeviceInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// HelloPayload is the successful connect response payload.
type HelloPayload struct {
	Protocol int         `json:"protocol"`
	Server   ServerInfo  `json:"server"`
	Auth     *AuthResult `json:"auth,omitempty"`
}

// ServerInfo describes the gateway that accepted the connection.
type ServerInfo struct {
	Version string `json:"version"`
	Host    string `json:"host,omitempty"`
	ConnID  string `json:"connId"`
}

// AuthResult reports the granted role/scopes and an optional device token.
type AuthResult struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Role        string   `json:"role,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	IssuedAtMs  int64    `json:"issuedAtMs,omitempty"`
}

// ChallengePayload is the connect.challenge event payload.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts,omitempty"`
}

// ChatEventPayload is the chat event payload. Message shape is heterogeneous
// and handled by the content normalizer.
type ChatEventPayload struct {
	SessionKey string          `json:"sessionKey"`
	State      string          `json:"state,omitempty"`
	RunID      string          `json:"runId,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Text       string          `json:"text,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ErrorMsg   string          `json:"errorMessage,omitempty"`
	Model      string          `json:"model,omitempty"`
}

// AgentEventPayload is the agent event payload.
type AgentEventPayload struct {
	SessionKey string          `json:"sessionKey,omitempty"`
	Stream     string          `json:"stream"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Attachment is an image attached to chat.send.
type Attachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

// ChatSendParams is the body of chat.send.
type ChatSendParams struct {
	SessionKey     string       `json:"sessionKey"`
	Message        string       `json:"message"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// ChatHistoryParams is the body of chat.history.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// ChatInjectParams is the body of chat.inject.
type ChatInjectParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	Label      string `json:"label,omitempty"`
}

// SessionsListParams is the body of sessions.list.
type SessionsListParams struct {
	IncludeDerivedTitles bool `json:"includeDerivedTitles,omitempty"`
	IncludeGlobal        bool `json:"includeGlobal,omitempty"`
}

// SessionEntry is one session in a sessions.list result.
type SessionEntry struct {
	Key          string `json:"key"`
	Label        string `json:"label,omitempty"`
	DerivedTitle string `json:"derivedTitle,omitempty"`
	Model        string `json:"model,omitempty"`
	Channel      string `json:"channel,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
}

// SessionsListResult is the payload of a sessions.list response.
type SessionsListResult struct {
	Sessions []SessionEntry `json:"sessions"`
}

// SessionPatch holds the mutable session fields for sessions.patch. Pointer
// fields distinguish "unset" from "clear".
type SessionPatch struct {
	Key   string  `json:"key"`
	Label *string `json:"label,omitempty"`
	Model *string `json:"model,omitempty"`
}

// ConfigGetResult is the payload of a config.get response.
type ConfigGetResult struct {
	Raw      string `json:"raw"`
	BaseHash string `json:"baseHash,omitempty"`
}

// ConfigPatchParams is the body of config.patch.
type ConfigPatchParams struct {
	Raw            string `json:"raw"`
	BaseHash       string `json:"baseHash,omitempty"`
	RestartDelayMs int    `json:"restartDelayMs,omitempty"`
}

// GatewayRestartParams is the body of gateway.restart.
type GatewayRestartParams struct {
	Reason  string `json:"reason,omitempty"`
	DelayMs int    `json:"delayMs,omitempty"`
}
