// ABOUTME: Event router: classifies chat/agent/other events and applies
// ABOUTME: session affinity, cross-session notification, and error rewrites.

package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-client/internal/content"
	"github.com/2389/coven-client/internal/protocol"
)

// rateLimitMessage is the canonical fallback error the gateway emits when a
// model is rate limited. On its own it does not identify which model
// failed, so the router rewrites it to embed the model id.
const rateLimitMessage = "Rate limit exceeded. Please try again later."

// syncMarker is an internal synchronization message that must never
// surface to any callback.
const syncMarker = "[[system-sync]]"

// ChatNotice is a routed chat event.
type ChatNotice struct {
	SessionKey string
	State      string
	RunID      string
	Text       string
	Images     []string
	Err        string
}

// AgentNotice is a routed agent event.
type AgentNotice struct {
	SessionKey string
	Stream     string
	Summary    string
	Data       json.RawMessage
}

// handleEvent classifies one inbound event frame.
func (c *Client) handleEvent(ev *protocol.EventFrame) {
	switch ev.Event {
	case protocol.EventConnectChallenge:
		// Consumed at the raw-message layer; a late duplicate is ignored.
	case protocol.EventChat:
		c.handleChatEvent(ev)
	case protocol.EventAgent:
		c.handleAgentEvent(ev)
	default:
		if protocol.HousekeepingEvents[ev.Event] {
			return
		}
		c.logger.Debug("gateway event", "event", ev.Event)
	}
}

// handleChatEvent applies the session affinity rule: events for the
// current session go to the primary chat callback; for any other session
// only final-state assistant messages with content surface, on the
// cross-session callback. This keeps a UI bound to one session from being
// flooded by every other session's deltas while still seeing completed
// messages elsewhere.
func (c *Client) handleChatEvent(ev *protocol.EventFrame) {
	raw := ev.DecodedPayload()
	var payload protocol.ChatEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("dropping malformed chat event", "error", err)
		return
	}

	extracted := content.Extract(payload.Message, raw)
	notice := ChatNotice{
		SessionKey: payload.SessionKey,
		State:      payload.State,
		RunID:      payload.RunID,
		Text:       extracted.Text,
		Images:     extracted.Images,
	}
	if payload.State == protocol.ChatStateError {
		notice.Err = rewriteRateLimit(payload.ErrorMsg, payload.Model)
	}

	c.mu.Lock()
	current := c.currentSession
	watchedOnly := len(c.watched) > 0
	watched := c.watched[normalizeSessionKey(payload.SessionKey)]
	c.mu.Unlock()

	if strings.EqualFold(strings.TrimSpace(payload.SessionKey), strings.TrimSpace(current)) {
		if cb := c.opts.Events.OnChat; cb != nil {
			cb(notice)
		}
		return
	}

	// Cross-session: completed assistant messages with content only.
	if payload.State != protocol.ChatStateFinal && payload.State != protocol.ChatStateComplete {
		return
	}
	if notice.Text == "" && len(notice.Images) == 0 {
		return
	}
	if notice.Text == syncMarker {
		return
	}
	if role := messageRole(payload.Message); role != "" && role != "assistant" {
		return
	}
	if watchedOnly && !watched {
		return
	}
	if cb := c.opts.Events.OnCrossSessionChat; cb != nil {
		cb(notice)
	}
}

// handleAgentEvent routes agent stream events: tool-call summaries and
// model-fallback lifecycle diagnostics.
func (c *Client) handleAgentEvent(ev *protocol.EventFrame) {
	var payload protocol.AgentEventPayload
	if err := json.Unmarshal(ev.DecodedPayload(), &payload); err != nil {
		c.logger.Warn("dropping malformed agent event", "error", err)
		return
	}

	notice := AgentNotice{
		SessionKey: payload.SessionKey,
		Stream:     payload.Stream,
		Data:       payload.Data,
	}

	switch payload.Stream {
	case protocol.AgentStreamTool:
		notice.Summary = toolSummary(payload.Data)
	case protocol.AgentStreamLifecycle:
		notice.Summary = lifecycleSummary(payload.Data)
	default:
		c.logger.Debug("agent event", "stream", payload.Stream)
	}

	if cb := c.opts.Events.OnAgent; cb != nil {
		cb(notice)
	}
}

// toolSummary renders a live tool-call summary line from tool stream data.
func toolSummary(data json.RawMessage) string {
	var tool struct {
		Name  string `json:"name"`
		Tool  string `json:"tool"`
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(data, &tool); err != nil {
		return ""
	}
	name := tool.Name
	if name == "" {
		name = tool.Tool
	}
	if name == "" {
		return ""
	}
	if tool.Phase != "" {
		return fmt.Sprintf("tool %s (%s)", name, tool.Phase)
	}
	return "tool " + name
}

// lifecycleSummary renders model-fallback diagnostics from lifecycle
// stream data, applying the rate-limit rewrite.
func lifecycleSummary(data json.RawMessage) string {
	var lifecycle struct {
		Phase string `json:"phase"`
		Model string `json:"model"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &lifecycle); err != nil {
		return ""
	}
	if lifecycle.Error != "" {
		return rewriteRateLimit(lifecycle.Error, lifecycle.Model)
	}
	if lifecycle.Phase != "" && lifecycle.Model != "" {
		return fmt.Sprintf("%s (model: %s)", lifecycle.Phase, lifecycle.Model)
	}
	return lifecycle.Phase
}

// rewriteRateLimit embeds the offending model id when the error is exactly
// the canonical rate-limit message. This is a deliberate translation, not
// a pass-through.
func rewriteRateLimit(msg, model string) string {
	if msg == rateLimitMessage && model != "" {
		return fmt.Sprintf("%s (model: %s)", rateLimitMessage, model)
	}
	return msg
}

// messageRole extracts the role field from a heterogeneous message object.
func messageRole(message json.RawMessage) string {
	if len(message) == 0 {
		return ""
	}
	var m struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(message, &m); err != nil {
		return ""
	}
	return m.Role
}
