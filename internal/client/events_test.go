// ABOUTME: Tests for event classification, session affinity, and rewrites.
// ABOUTME: Drives handleEvent directly; no socket involved.

package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-client/internal/protocol"
)

// routedEvents captures callback deliveries for router tests.
type routedEvents struct {
	chat  []ChatNotice
	cross []ChatNotice
	agent []AgentNotice
	errs  []error
}

func newRouterClient(t *testing.T) (*Client, *routedEvents) {
	t.Helper()

	captured := &routedEvents{}
	c := newTestClient(t, Events{
		OnChat:             func(n ChatNotice) { captured.chat = append(captured.chat, n) },
		OnCrossSessionChat: func(n ChatNotice) { captured.cross = append(captured.cross, n) },
		OnAgent:            func(n AgentNotice) { captured.agent = append(captured.agent, n) },
		OnError:            func(err error) { captured.errs = append(captured.errs, err) },
	})
	return c, captured
}

func chatEvent(t *testing.T, payload protocol.ChatEventPayload) *protocol.EventFrame {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: protocol.EventChat, Payload: data}
}

func TestChatEventCurrentSessionDelivered(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "main",
		State:      protocol.ChatStateDelta,
		Message:    json.RawMessage(`{"role":"assistant","content":"partial"}`),
	}))

	require.Len(t, captured.chat, 1)
	assert.Empty(t, captured.cross)
	assert.Equal(t, "partial", captured.chat[0].Text)
	assert.Equal(t, protocol.ChatStateDelta, captured.chat[0].State)
}

func TestChatEventSessionAffinityIsCaseInsensitive(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("Main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "mAiN",
		State:      protocol.ChatStateFinal,
		Message:    json.RawMessage(`{"role":"assistant","content":"done"}`),
	}))

	require.Len(t, captured.chat, 1)
	assert.Empty(t, captured.cross)
}

func TestChatEventOtherSessionFinalGoesCross(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "other",
		State:      protocol.ChatStateFinal,
		Message:    json.RawMessage(`{"role":"assistant","content":"finished elsewhere"}`),
	}))

	assert.Empty(t, captured.chat, "primary callback never sees other sessions")
	require.Len(t, captured.cross, 1)
	assert.Equal(t, "other", captured.cross[0].SessionKey)
	assert.Equal(t, "finished elsewhere", captured.cross[0].Text)
}

func TestChatEventOtherSessionDeltaDropped(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "other",
		State:      protocol.ChatStateDelta,
		Message:    json.RawMessage(`{"role":"assistant","content":"token"}`),
	}))

	assert.Empty(t, captured.chat)
	assert.Empty(t, captured.cross, "deltas from other sessions invoke neither callback")
}

func TestChatEventOtherSessionEmptyFinalDropped(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "other",
		State:      protocol.ChatStateFinal,
		Message:    json.RawMessage(`{"role":"assistant","content":"   "}`),
	}))

	assert.Empty(t, captured.cross, "final with no text or images is not notified")
}

func TestChatEventOtherSessionUserMessageDropped(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "other",
		State:      protocol.ChatStateFinal,
		Message:    json.RawMessage(`{"role":"user","content":"typed in another tab"}`),
	}))

	assert.Empty(t, captured.cross, "only assistant messages cross sessions")
}

func TestChatEventSyncMarkerFiltered(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "other",
		State:      protocol.ChatStateFinal,
		Message:    json.RawMessage(`{"role":"assistant","content":"[[system-sync]]"}`),
	}))

	assert.Empty(t, captured.cross)
	assert.Empty(t, captured.chat)
}

func TestChatEventWatchedSessionsFilter(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")
	c.WatchSession("Interesting")

	final := func(session string) *protocol.EventFrame {
		return chatEvent(t, protocol.ChatEventPayload{
			SessionKey: session,
			State:      protocol.ChatStateFinal,
			Message:    json.RawMessage(`{"role":"assistant","content":"done"}`),
		})
	}

	c.handleEvent(final("interesting"))
	c.handleEvent(final("boring"))

	require.Len(t, captured.cross, 1, "with subscriptions, only subscribed sessions notify")
	assert.Equal(t, "interesting", captured.cross[0].SessionKey)

	c.UnwatchSession("interesting")
	c.handleEvent(final("boring"))
	require.Len(t, captured.cross, 2, "with no subscriptions, every other session notifies")
}

func TestChatEventRateLimitRewrite(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "main",
		State:      protocol.ChatStateError,
		ErrorMsg:   "Rate limit exceeded. Please try again later.",
		Model:      "anthropic/claude-opus-4",
	}))

	require.Len(t, captured.chat, 1)
	assert.Equal(t, "Rate limit exceeded. Please try again later. (model: anthropic/claude-opus-4)", captured.chat[0].Err)
}

func TestChatEventNonCanonicalErrorPassesThrough(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(chatEvent(t, protocol.ChatEventPayload{
		SessionKey: "main",
		State:      protocol.ChatStateError,
		ErrorMsg:   "something else went wrong",
		Model:      "anthropic/claude-opus-4",
	}))

	require.Len(t, captured.chat, 1)
	assert.Equal(t, "something else went wrong", captured.chat[0].Err)
}

func TestChatEventPayloadJSONFallback(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(&protocol.EventFrame{
		Type:        protocol.FrameTypeEvent,
		Event:       protocol.EventChat,
		PayloadJSON: `{"sessionKey":"main","state":"final","message":{"role":"assistant","content":"decoded"}}`,
	})

	require.Len(t, captured.chat, 1)
	assert.Equal(t, "decoded", captured.chat[0].Text)
}

func TestAgentEventToolSummary(t *testing.T) {
	c, captured := newRouterClient(t)

	data, _ := json.Marshal(protocol.AgentEventPayload{
		SessionKey: "main",
		Stream:     protocol.AgentStreamTool,
		Data:       json.RawMessage(`{"name":"browser","phase":"start"}`),
	})
	c.handleEvent(&protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: protocol.EventAgent, Payload: data})

	require.Len(t, captured.agent, 1)
	assert.Equal(t, protocol.AgentStreamTool, captured.agent[0].Stream)
	assert.Equal(t, "tool browser (start)", captured.agent[0].Summary)
}

func TestAgentEventLifecycleRateLimit(t *testing.T) {
	c, captured := newRouterClient(t)

	data, _ := json.Marshal(protocol.AgentEventPayload{
		Stream: protocol.AgentStreamLifecycle,
		Data:   json.RawMessage(`{"model":"anthropic/claude-sonnet-4","error":"Rate limit exceeded. Please try again later."}`),
	})
	c.handleEvent(&protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: protocol.EventAgent, Payload: data})

	require.Len(t, captured.agent, 1)
	assert.Equal(t, "Rate limit exceeded. Please try again later. (model: anthropic/claude-sonnet-4)", captured.agent[0].Summary)
}

func TestMalformedEventPayloadDropped(t *testing.T) {
	c, captured := newRouterClient(t)
	c.SetSession("main")

	c.handleEvent(&protocol.EventFrame{
		Type:        protocol.FrameTypeEvent,
		Event:       protocol.EventChat,
		PayloadJSON: `{broken`,
	})

	assert.Empty(t, captured.chat)
	assert.Empty(t, captured.cross)
}

func TestHousekeepingEventsSuppressed(t *testing.T) {
	c, captured := newRouterClient(t)

	for _, name := range []string{"tick", "health", "cron", "heartbeat", "presence"} {
		c.handleEvent(&protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: name})
	}

	assert.Empty(t, captured.chat)
	assert.Empty(t, captured.agent)
	assert.Empty(t, captured.errs)
}
