// ABOUTME: In-process fake gateway for client lifecycle tests.
// ABOUTME: Speaks just enough of the protocol: challenge, connect, scripted RPCs.

package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-client/internal/protocol"
)

// gwConn wraps one server-side socket with write serialization so tests
// can push events while the handler loop replies to requests.
type gwConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (g *gwConn) writeJSON(v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.WriteJSON(v)
}

func (g *gwConn) sendEvent(event string, payload any) error {
	data, _ := json.Marshal(payload)
	return g.writeJSON(map[string]any{
		"type":    "event",
		"event":   event,
		"payload": json.RawMessage(data),
	})
}

func (g *gwConn) replyOK(id string, payload any) error {
	data, _ := json.Marshal(payload)
	return g.writeJSON(map[string]any{
		"type":    "res",
		"id":      id,
		"ok":      true,
		"payload": json.RawMessage(data),
	})
}

func (g *gwConn) replyError(id, code, message string) error {
	return g.writeJSON(map[string]any{
		"type":  "res",
		"id":    id,
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}

// reqFrame is the fake gateway's view of an inbound request.
type reqFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeGateway is an in-process gateway accepting websocket clients.
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server

	// skipChallenge makes connections start without a connect.challenge.
	skipChallenge bool
	// nonce is the challenge nonce issued to every new connection.
	nonce string
	// connectErrs is a queue of error messages for successive connect
	// attempts; "" means accept.
	connectErrs []string
	// onRequest, when set, gets every non-connect request first; returning
	// true means it was handled.
	onRequest func(c *gwConn, req reqFrame) bool

	mu       sync.Mutex
	connects []protocol.ConnectParams

	// conns receives each accepted connection.
	conns chan *gwConn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		t:     t,
		nonce: "test-nonce",
		conns: make(chan *gwConn, 16),
	}

	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gc := &gwConn{conn: conn}
		g.conns <- gc
		g.serve(gc)
	}))
	t.Cleanup(g.srv.Close)

	return g
}

func (g *fakeGateway) serve(gc *gwConn) {
	defer gc.conn.Close()

	if !g.skipChallenge {
		if err := gc.sendEvent(protocol.EventConnectChallenge, protocol.ChallengePayload{Nonce: g.nonce}); err != nil {
			return
		}
	}

	for {
		var req reqFrame
		if err := gc.conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Type != "req" {
			continue
		}

		if req.Method == protocol.MethodConnect {
			var params protocol.ConnectParams
			_ = json.Unmarshal(req.Params, &params)

			g.mu.Lock()
			g.connects = append(g.connects, params)
			var errMsg string
			if len(g.connectErrs) > 0 {
				errMsg = g.connectErrs[0]
				g.connectErrs = g.connectErrs[1:]
			}
			g.mu.Unlock()

			if errMsg != "" {
				_ = gc.replyError(req.ID, "NOT_AUTHORIZED", errMsg)
			} else {
				_ = gc.replyOK(req.ID, protocol.HelloPayload{
					Protocol: protocol.ProtocolVersion,
					Server:   protocol.ServerInfo{Version: "test", ConnID: "conn-1"},
				})
			}
			continue
		}

		if g.onRequest != nil && g.onRequest(gc, req) {
			continue
		}
		_ = gc.replyOK(req.ID, json.RawMessage(`{}`))
	}
}

// connectParams returns the recorded connect attempts so far.
func (g *fakeGateway) connectParams() []protocol.ConnectParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]protocol.ConnectParams, len(g.connects))
	copy(out, g.connects)
	return out
}

// target builds a client Target pointing at this fake gateway.
func (g *fakeGateway) target() Target {
	u, err := url.Parse(g.srv.URL)
	if err != nil {
		g.t.Fatalf("parsing test server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return Target{Host: u.Hostname(), Port: port, Scheme: "ws", Token: "test-token"}
}

// newTestClient builds a Client with fast timeouts and a temp identity path.
func newTestClient(t *testing.T, events Events) *Client {
	t.Helper()

	c, err := New(Options{
		ClientID:             "test-client",
		RequestTimeout:       2 * time.Second,
		HandshakeTimeout:     2 * time.Second,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectGrowth:      1.5,
		ReconnectCap:         50 * time.Millisecond,
		MaxReconnectAttempts: 8,
		IdentityPath:         t.TempDir() + "/device.json",
		Events:               events,
	})
	if err != nil {
		t.Fatalf("creating test client: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}
