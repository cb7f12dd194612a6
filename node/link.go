// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/internal/logging"
	"github.com/anchorage-audio/anchorage/internal/metrics"
	"github.com/anchorage-audio/anchorage/protocol"
)

// Router receives guild-scoped events read off a link's stream, tagged
// with the originating node so stale bindings can be filtered.
type Router interface {
	Dispatch(node string, event *protocol.PlayerEvent)
}

// Evictor tears down every session bound to a lost link. Satisfied by the
// session registry.
type Evictor interface {
	EvictAllForLink(node string) int
}

// Options configures a Link.
type Options struct {
	Node config.Node

	// UserID is the owning client's identity, sent as User-Id during the
	// stream handshake.
	UserID string

	UserAgent string

	// MaxRetries bounds consecutive failed connection attempts. The
	// budget refills on every successful connect, so a link that
	// reconnects cleanly faces its next outage with full retries.
	MaxRetries int

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
	RestTimeout       time.Duration

	Router   Router
	Sessions Evictor

	// HTTPClient is shared across the pool's REST facades. Optional.
	HTTPClient *http.Client
}

// Link is the persistent connection to one backend node. It owns the
// node's connection state machine and runs as a supervised service; the
// Link itself is never recreated while the process lives, only its
// underlying stream.
type Link struct {
	opts Options
	rest *Rest
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	sessions  int
	sessionID string
	stats     *protocol.Stats
	conn      *websocket.Conn
	closing   bool

	// outcome is closed when the link first reaches Connected, Failed or
	// Closed, which is what a blocking Start waits on.
	outcome     chan struct{}
	outcomeDone bool
}

// NewLink builds the link for one configured node. It does not connect;
// add the link to a supervisor to run its state machine.
func NewLink(opts Options) *Link {
	l := &Link{
		opts:    opts,
		state:   Disconnected,
		outcome: make(chan struct{}),
		log:     logging.With().Str("node", opts.Node.Name).Logger(),
	}
	l.rest = newRest(opts, l.SessionID)
	metrics.SetLinkState(opts.Node.Name, Disconnected.String())
	return l
}

// Name returns the node's pool-unique identity.
func (l *Link) Name() string { return l.opts.Node.Name }

// String implements fmt.Stringer for supervisor logging.
func (l *Link) String() string { return "link-" + l.opts.Node.Name }

// Rest returns the node's REST facade.
func (l *Link) Rest() *Rest { return l.rest }

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SessionCount returns the number of sessions bound to this link.
func (l *Link) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions
}

// SessionID returns the stream session id from the node's ready frame.
func (l *Link) SessionID() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID, l.sessionID != ""
}

// Stats returns the node's last received stats report, or nil.
func (l *Link) Stats() *protocol.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Penalties returns the load score of the last stats report. Links that
// have not reported yet score zero.
func (l *Link) Penalties() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stats == nil {
		return 0
	}
	return l.stats.Penalties()
}

// TryAttach binds one more session to the link if it is currently
// connected. Called by the registry under its own lock; must not block.
func (l *Link) TryAttach() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return false
	}
	l.sessions++
	return true
}

// Detach releases one session binding.
func (l *Link) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions > 0 {
		l.sessions--
	}
}

// FirstOutcome returns a channel closed once the link reaches its first
// terminal startup outcome: Connected, or Failed with the budget spent.
func (l *Link) FirstOutcome() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome
}

// Close requests a graceful shutdown of the link's stream. The state
// moves to Closed before Close returns, so no new session can attach
// afterwards; the running service observes the request and evicts the
// sessions already bound.
func (l *Link) Close() {
	l.mu.Lock()
	l.closing = true
	conn := l.conn
	l.setStateLocked(Closed)
	l.signalOutcomeLocked()
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Reset rearms a terminal link so a caller-triggered restart can add it
// back to the supervisor. It reports false while the link is still
// running.
func (l *Link) Reset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Terminal() && l.state != Disconnected {
		return false
	}
	l.setStateLocked(Disconnected)
	l.attempts = 0
	l.closing = false
	l.outcome = make(chan struct{})
	l.outcomeDone = false
	return true
}

// Serve runs the connection state machine until the context is canceled,
// the retry budget is exhausted, or Close is called. It implements
// suture.Service; terminal states return suture.ErrDoNotRestart so the
// supervisor leaves recovery to an explicit caller restart.
func (l *Link) Serve(ctx context.Context) error {
	delay := l.opts.ReconnectDelay

	for {
		if ctx.Err() != nil {
			l.terminate(Closed)
			return ctx.Err()
		}
		if l.isClosing() {
			l.terminate(Closed)
			return suture.ErrDoNotRestart
		}

		l.setState(Connecting)

		conn, err := l.dial(ctx)
		if err != nil {
			exhausted := l.noteFailure()
			l.log.Warn().Err(err).
				Int("attempt", l.attemptCount()).
				Int("max_retries", l.opts.MaxRetries).
				Msg("connection attempt failed")

			if exhausted {
				l.log.Error().Msg("retry budget exhausted, link lost")
				l.terminate(Failed)
				return suture.ErrDoNotRestart
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				l.terminate(Closed)
				return ctx.Err()
			}
			delay *= 2
			if delay > l.opts.MaxReconnectDelay {
				delay = l.opts.MaxReconnectDelay
			}
			continue
		}

		// Close may have raced the dial; the fresh connection is the
		// only thing left to tear down.
		if !l.becomeConnected(conn) {
			_ = conn.Close()
			l.terminate(Closed)
			return suture.ErrDoNotRestart
		}
		delay = l.opts.ReconnectDelay

		l.readPump(ctx, conn)

		// Leave Connected under the link mutex before sweeping the
		// registry; registrations check the state under the registry
		// lock, so the sweep observes every session that attached.
		target := Connecting
		if ctx.Err() != nil || l.isClosing() {
			target = Closed
		}
		l.mu.Lock()
		l.conn = nil
		l.setStateLocked(target)
		l.mu.Unlock()
		l.opts.Sessions.EvictAllForLink(l.Name())
	}
}

// dial performs one handshake attempt against the node's stream endpoint.
func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", l.opts.Node.Authorization)
	header.Set("User-Id", l.opts.UserID)
	header.Set("Client-Name", l.opts.UserAgent)
	header.Set("User-Agent", l.opts.UserAgent)
	if sid, ok := l.SessionID(); ok {
		// Replaying the session id asks the node to resume the previous
		// stream session instead of starting fresh.
		header.Set("Session-Id", sid)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  l.opts.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, l.opts.Node.StreamEndpoint(), header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	return conn, nil
}

// readPump consumes stream frames until the connection drops or the
// context is canceled. The keepalive goroutine closes the connection on
// cancellation, which unblocks the read.
func (l *Link) readPump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go l.keepalive(ctx, conn, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Info().Msg("stream closed by node")
			} else if ctx.Err() == nil && !l.isClosing() {
				l.log.Warn().Err(err).Msg("stream read failed")
			}
			_ = conn.Close()
			return
		}

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			l.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		l.handleMessage(msg)
	}
}

const (
	readDeadline      = 90 * time.Second
	keepaliveInterval = 30 * time.Second
	pingWriteTimeout  = 10 * time.Second
)

// keepalive pings the node periodically and tears the connection down on
// context cancellation so the read pump never outlives its service.
func (l *Link) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(pingWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// handleMessage applies one decoded frame to link state or hands it to
// the router.
func (l *Link) handleMessage(msg *protocol.Message) {
	switch msg.Op {
	case protocol.OpReady:
		l.mu.Lock()
		l.sessionID = msg.Ready.SessionID
		l.mu.Unlock()
		l.log.Info().
			Bool("resumed", msg.Ready.Resumed).
			Str("session_id", msg.Ready.SessionID).
			Msg("node ready")

	case protocol.OpStats:
		l.mu.Lock()
		l.stats = msg.Stats
		l.mu.Unlock()
		metrics.LinkPenalties.WithLabelValues(l.Name()).Set(msg.Stats.Penalties())

	case protocol.OpPlayerUpdate:
		l.log.Debug().
			Str("guild", msg.PlayerUpdate.GuildID).
			Int64("position", msg.PlayerUpdate.State.Position).
			Msg("player update")

	case protocol.OpEvent:
		l.opts.Router.Dispatch(l.Name(), msg.Event)

	default:
		l.log.Debug().Str("op", string(msg.Op)).Msg("ignoring unknown frame op")
	}
}

// becomeConnected enters Connected unless Close already moved the link to
// its terminal state. The closing check and the transition share one
// critical section, so Closed is never overwritten and TryAttach cannot
// accept a session on a link the caller saw closed.
func (l *Link) becomeConnected(conn *websocket.Conn) bool {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return false
	}
	l.conn = conn
	l.attempts = 0
	l.setStateLocked(Connected)
	l.signalOutcomeLocked()
	l.mu.Unlock()

	metrics.LinkReconnects.WithLabelValues(l.Name(), "success").Inc()
	l.log.Info().Msg("node connected")
	return true
}

// noteFailure counts one failed attempt and reports whether the budget is
// spent.
func (l *Link) noteFailure() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	metrics.LinkReconnects.WithLabelValues(l.Name(), "failure").Inc()
	return l.attempts >= l.opts.MaxRetries
}

func (l *Link) attemptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func (l *Link) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// terminate moves the link to a terminal state and sweeps its sessions.
func (l *Link) terminate(s State) {
	l.mu.Lock()
	l.conn = nil
	l.setStateLocked(s)
	l.signalOutcomeLocked()
	l.mu.Unlock()

	l.opts.Sessions.EvictAllForLink(l.Name())
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setStateLocked(s)
}

func (l *Link) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	metrics.SetLinkState(l.Name(), s.String())
}

func (l *Link) signalOutcomeLocked() {
	if !l.outcomeDone {
		l.outcomeDone = true
		close(l.outcome)
	}
}
