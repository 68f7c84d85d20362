// ABOUTME: Client core: socket lifecycle, state machine, and reconnect policy.
// ABOUTME: Owns the single live socket, the pending-request table, and the backoff timer.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-client/internal/dedupe"
	"github.com/2389/coven-client/internal/identity"
	"github.com/2389/coven-client/internal/protocol"
)

// State is the connection lifecycle state.
type State string

// Connection states.
const (
	StateIdle              State = "idle"
	StateConnecting        State = "connecting"
	StateAwaitingChallenge State = "awaiting-challenge"
	StateAuthenticating    State = "authenticating"
	StateConnected         State = "connected"
	StateDisconnected      State = "disconnected"
	StateReconnecting      State = "reconnecting"
)

// Client errors
var (
	// ErrNotConnected means no socket is currently established.
	ErrNotConnected = errors.New("not connected to gateway")

	// ErrRequestTimeout means a request's response did not arrive in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrMaxReconnects means the reconnect attempt ceiling was exceeded.
	// Reconnection has stopped; the caller must Connect again to resume.
	ErrMaxReconnects = errors.New("max reconnect attempts exceeded")

	// ErrSuperseded means a newer Connect call replaced this one.
	ErrSuperseded = errors.New("superseded by a newer connect")
)

// Target is the desired connection: the gateway the client tries to reach
// and keep reaching. Its presence gates reconnection.
type Target struct {
	Host     string
	Port     int
	Scheme   string // "ws" or "wss"; empty means infer from host/port
	Token    string
	Password string
}

// Events is the typed observer surface. Nil funcs are skipped. Callbacks
// run on the socket read goroutine, in frame delivery order.
type Events struct {
	OnConnected        func(hello *protocol.HelloPayload)
	OnDisconnected     func(err error)
	OnChat             func(notice ChatNotice)
	OnCrossSessionChat func(notice ChatNotice)
	OnAgent            func(notice AgentNotice)
	OnError            func(err error)
}

// Options configures a Client. Zero values get defaults in New.
type Options struct {
	ClientID    string
	DisplayName string
	Version     string
	Platform    string
	Mode        string
	Role        string
	Scopes      []string
	Caps        []string

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration

	ReconnectBase        time.Duration
	ReconnectGrowth      float64
	ReconnectCap         time.Duration
	MaxReconnectAttempts int

	// IdentityPath overrides the persisted identity record location.
	IdentityPath string
	// Signer overrides identity loading entirely (e.g. an SSH key signer).
	Signer identity.Signer

	Logger *slog.Logger
	Events Events
}

// Client is a gateway protocol client. One live socket, one pending-request
// table, one reconnect timer at any time.
type Client struct {
	opts     Options
	logger   *slog.Logger
	ids      *identity.Store
	inflight *dedupe.Table

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            int // socket generation; stale read loops are ignored
	desired        *Target
	pending        map[string]chan *protocol.ResponseFrame
	reconnectTimer *time.Timer
	attempts       int
	identityReset  bool
	currentSession string
	watched        map[string]bool
	deviceToken    string
	authWait       chan error

	// writeMu serializes socket writes; gorilla allows one writer at a time.
	writeMu sync.Mutex
}

// New creates a Client with defaults applied.
func New(opts Options) (*Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = "webchat"
	}
	if opts.Mode == "" {
		opts.Mode = "webchat"
	}
	if opts.Role == "" {
		opts.Role = "operator"
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{"operator.read", "operator.write"}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Platform == "" {
		opts.Platform = runtime.GOOS
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = 350 * time.Millisecond
	}
	if opts.ReconnectGrowth == 0 {
		opts.ReconnectGrowth = 1.7
	}
	if opts.ReconnectCap == 0 {
		opts.ReconnectCap = 8 * time.Second
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	identityPath := opts.IdentityPath
	if identityPath == "" {
		p, err := identity.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolving identity path: %w", err)
		}
		identityPath = p
	}

	return &Client{
		opts:     opts,
		logger:   opts.Logger,
		ids:      identity.NewStore(identityPath, opts.Logger),
		inflight: dedupe.NewTable(),
		state:    StateIdle,
		pending:  make(map[string]chan *protocol.ResponseFrame),
		watched:  make(map[string]bool),
	}, nil
}

// Connect sets the desired connection target and establishes the socket.
// It blocks until the handshake succeeds, the reconnect ceiling is hit, or
// ctx is done; background reconnection continues to honor the target after
// a successful return.
func (c *Client) Connect(ctx context.Context, target Target) error {
	c.mu.Lock()
	if c.authWait != nil {
		c.authWait <- ErrSuperseded
	}
	t := target
	c.desired = &t
	c.attempts = 0
	authWait := make(chan error, 1)
	c.authWait = authWait
	c.mu.Unlock()

	c.redial()

	select {
	case err := <-authWait:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		if c.authWait == authWait {
			c.authWait = nil
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Disconnect clears the desired connection target, suppressing all further
// reconnection, and closes the socket with a normal-closure code. Pending
// requests are left to their timeouts.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.desired = nil
	c.stopReconnectTimerLocked()
	conn := c.conn
	c.conn = nil
	c.gen++ // orphan the read loop; its closure handling becomes a no-op
	c.state = StateIdle
	if c.authWait != nil {
		c.authWait <- ErrNotConnected
		c.authWait = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetSession sets the current session key used for chat-event affinity.
func (c *Client) SetSession(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentSession = strings.TrimSpace(key)
}

// CurrentSession returns the current session key.
func (c *Client) CurrentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSession
}

// WatchSession subscribes a session key for cross-session notifications.
// With no subscriptions, completed messages from every other session are
// surfaced; with at least one, only subscribed sessions are.
func (c *Client) WatchSession(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched[normalizeSessionKey(key)] = true
}

// UnwatchSession removes a cross-session subscription.
func (c *Client) UnwatchSession(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watched, normalizeSessionKey(key))
}

// redial tears down any prior socket and pending reconnect timer, then
// starts a fresh connection attempt toward the desired target. At most one
// live socket and one pending timer exist at any time.
func (c *Client) redial() {
	c.mu.Lock()
	c.stopReconnectTimerLocked()
	if c.conn != nil {
		prior := c.conn
		c.conn = nil
		go prior.Close()
	}
	if c.desired == nil {
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	target := *c.desired
	c.state = StateConnecting
	c.mu.Unlock()

	go c.dial(gen, target)
}

// dial opens the socket. On open the client moves to awaiting-challenge:
// the connect request is deliberately not sent until the server's
// connect.challenge arrives, so the auth signature can bind to its nonce.
func (c *Client) dial(gen int, target Target) {
	url := buildURL(target)
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		c.logger.Warn("gateway dial failed", "url", url, "error", err)
		c.report(fmt.Errorf("dialing gateway: %w", err))
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.desired == nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateAwaitingChallenge
	c.mu.Unlock()

	c.logger.Debug("socket open, awaiting challenge", "url", url)
	go c.readLoop(conn, gen)
}

// readLoop processes frames in the order the socket delivers them. The
// first inbound message is inspected for connect.challenge before anything
// is handed to generic dispatch.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	first := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.socketClosed(gen, err)
			return
		}

		if first {
			first = false
			nonce, isChallenge := parseChallenge(data)
			go c.authenticate(gen, nonce)
			if isChallenge {
				continue
			}
			// Server skipped the challenge; route this frame normally.
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch {
		case frame.Res != nil:
			c.handleResponse(frame.Res)
		case frame.Event != nil:
			c.handleEvent(frame.Event)
		case frame.Req != nil:
			// The gateway does not initiate requests toward clients.
			c.logger.Debug("ignoring server req frame", "method", frame.Req.Method)
		}
	}
}

// socketClosed handles loss of the socket from any state. Pending requests
// are not proactively rejected; they simply time out.
func (c *Client) socketClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	wantReconnect := c.desired != nil
	c.mu.Unlock()

	c.logger.Info("gateway socket closed", "error", err, "reconnect", wantReconnect)
	if cb := c.opts.Events.OnDisconnected; cb != nil {
		cb(err)
	}
	if wantReconnect {
		c.scheduleReconnect(gen)
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. Exceeding
// the attempt ceiling stops reconnection entirely and surfaces
// ErrMaxReconnects; only a fresh Connect resumes.
func (c *Client) scheduleReconnect(gen int) {
	c.mu.Lock()
	if c.desired == nil || gen != c.gen || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.desired = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		c.report(ErrMaxReconnects)
		c.deliverAuth(ErrMaxReconnects)
		return
	}
	delay := backoffDelay(c.opts.ReconnectBase, c.opts.ReconnectGrowth, c.opts.ReconnectCap, c.attempts)
	c.attempts++
	c.state = StateReconnecting
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.redial()
	})
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "delay", delay, "attempt", c.attempts)
}

// backoffDelay computes min(ceiling, base * growth^attempt).
func backoffDelay(base time.Duration, growth float64, ceiling time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= growth
	}
	if d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// writeFrame marshals and sends one frame on the current socket.
func (c *Client) writeFrame(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// report surfaces an error on the error callback.
func (c *Client) report(err error) {
	if cb := c.opts.Events.OnError; cb != nil {
		cb(err)
	}
}

// deliverAuth completes a blocked Connect call, if any.
func (c *Client) deliverAuth(err error) {
	c.mu.Lock()
	ch := c.authWait
	c.authWait = nil
	c.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

// closeCurrent closes the socket for the given generation, if still live.
// The read loop notices and drives disconnect handling.
func (c *Client) closeCurrent(gen int) {
	c.mu.Lock()
	conn := c.conn
	live := gen == c.gen
	c.mu.Unlock()
	if live && conn != nil {
		_ = conn.Close()
	}
}

// stopReconnectTimerLocked cancels a pending reconnect timer. Must be
// called with mu held.
func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// parseChallenge reports whether raw bytes are a connect.challenge event
// and returns its nonce (empty when the server supplies none).
func parseChallenge(data []byte) (nonce string, isChallenge bool) {
	frame, err := protocol.Decode(data)
	if err != nil || frame.Event == nil || frame.Event.Event != protocol.EventConnectChallenge {
		return "", false
	}
	var payload protocol.ChallengePayload
	if raw := frame.Event.DecodedPayload(); raw != nil {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload.Nonce, true
}

// normalizeSessionKey lowercases and trims a session key for comparison.
func normalizeSessionKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
