// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/session"
)

// fakeBackend is a minimal node event stream: it accepts the handshake,
// emits a ready frame and hands each accepted connection to the test.
type fakeBackend struct {
	srv    *httptest.Server
	connCh chan *websocket.Conn

	mu      sync.Mutex
	headers http.Header
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{connCh: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/websocket" {
			http.NotFound(w, r)
			return
		}
		fb.mu.Lock()
		fb.headers = r.Header.Clone()
		fb.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ready := `{"op":"ready","resumed":false,"sessionId":"sess-1"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ready)); err != nil {
			return
		}
		// Consume client frames so pings and close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		fb.connCh <- conn
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) node(t *testing.T) config.Node {
	t.Helper()
	u, err := url.Parse(fb.srv.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse backend port: %v", err)
	}
	return config.Node{Name: "test", Host: u.Hostname(), Port: port, Authorization: "hunter2"}
}

func (fb *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fb.connCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (fb *fakeBackend) handshakeHeader(key string) string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.headers.Get(key)
}

func testOptions(n config.Node, registry *session.Registry) Options {
	return Options{
		Node:              n,
		UserID:            "user-1",
		UserAgent:         "Anchorage/test",
		MaxRetries:        2,
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		RestTimeout:       time.Second,
		Router:            session.NewRouter(registry),
		Sessions:          registry,
	}
}

func startLink(t *testing.T, l *Link) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- l.Serve(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return on cancel")
		}
	})
	return done, cancel
}

func waitOutcome(t *testing.T, l *Link) {
	t.Helper()
	select {
	case <-l.FirstOutcome():
	case <-time.After(2 * time.Second):
		t.Fatal("link never reached a first outcome")
	}
}

func TestLinkConnects(t *testing.T) {
	fb := newFakeBackend(t)
	registry := session.NewRegistry()
	l := NewLink(testOptions(fb.node(t), registry))

	startLink(t, l)
	fb.accept(t)
	waitOutcome(t, l)

	if got := l.State(); got != Connected {
		t.Fatalf("state = %v, want Connected", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sid, ok := l.SessionID(); ok {
			if sid != "sess-1" {
				t.Errorf("session id = %q, want sess-1", sid)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ready frame never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := fb.handshakeHeader("Authorization"); got != "hunter2" {
		t.Errorf("Authorization = %q, want hunter2", got)
	}
	if got := fb.handshakeHeader("User-Id"); got != "user-1" {
		t.Errorf("User-Id = %q, want user-1", got)
	}
	if got := fb.handshakeHeader("Client-Name"); got != "Anchorage/test" {
		t.Errorf("Client-Name = %q, want Anchorage/test", got)
	}
}

func TestLinkDispatchesEvents(t *testing.T) {
	fb := newFakeBackend(t)
	registry := session.NewRegistry()
	l := NewLink(testOptions(fb.node(t), registry))

	startLink(t, l)
	conn := fb.accept(t)
	waitOutcome(t, l)

	s, err := registry.Create("g1", l, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.SessionCount() != 1 {
		t.Errorf("session count = %d, want 1", l.SessionCount())
	}

	frame := `{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"finished"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write event: %v", err)
	}

	select {
	case n := <-s.Events():
		if n.Kind != session.KindEvent {
			t.Fatalf("kind = %v, want KindEvent", n.Kind)
		}
		if n.Event.Reason != "finished" {
			t.Errorf("reason = %q, want finished", n.Event.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the session sink")
	}
}

func TestLinkEvictsOnStreamDrop(t *testing.T) {
	fb := newFakeBackend(t)
	registry := session.NewRegistry()
	l := NewLink(testOptions(fb.node(t), registry))

	startLink(t, l)
	conn := fb.accept(t)
	waitOutcome(t, l)

	s, err := registry.Create("g1", l, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Kill the stream; the link must evict the session and reconnect.
	_ = conn.Close()

	select {
	case n := <-s.Events():
		if n.Kind != session.KindDestroyed {
			t.Fatalf("kind = %v, want KindDestroyed", n.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session was not evicted on stream drop")
	}
	if _, open := <-s.Events(); open {
		t.Error("sink still open after destroyed notification")
	}
	if registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", registry.Len())
	}

	// The retry budget was refilled on the successful connect, so the
	// link comes back on its own.
	fb.accept(t)
	deadline := time.Now().Add(2 * time.Second)
	for l.State() != Connected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, link never reconnected", l.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLinkRetryBudgetExhausted(t *testing.T) {
	// A server that was shut down leaves a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	srv.Close()

	registry := session.NewRegistry()
	n := config.Node{Name: "test", Host: u.Hostname(), Port: port, Authorization: "x"}
	l := NewLink(testOptions(n, registry))

	done, _ := startLink(t, l)

	select {
	case err := <-done:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve err = %v, want ErrDoNotRestart", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not give up")
	}
	if got := l.State(); got != Failed {
		t.Errorf("state = %v, want Failed", got)
	}
	waitOutcome(t, l)

	// A failed link refuses new sessions.
	if _, err := registry.Create("g1", l, 8); !errors.Is(err, session.ErrLinkNotConnected) {
		t.Errorf("Create err = %v, want ErrLinkNotConnected", err)
	}
}

func TestLinkClose(t *testing.T) {
	fb := newFakeBackend(t)
	registry := session.NewRegistry()
	l := NewLink(testOptions(fb.node(t), registry))

	done, _ := startLink(t, l)
	fb.accept(t)
	waitOutcome(t, l)

	s, err := registry.Create("g1", l, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve err = %v, want ErrDoNotRestart", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	if got := l.State(); got != Closed {
		t.Errorf("state = %v, want Closed", got)
	}

	select {
	case n := <-s.Events():
		if n.Kind != session.KindDestroyed {
			t.Errorf("kind = %v, want KindDestroyed", n.Kind)
		}
	default:
		t.Error("no destroyed notification after Close")
	}
}

func TestCloseWinsOverRacingConnect(t *testing.T) {
	registry := session.NewRegistry()
	n := config.Node{Name: "test", Host: "example.com", Port: 2333, Authorization: "x"}
	l := NewLink(testOptions(n, registry))

	// Close landing between the serve loop's closing check and the
	// Connected transition must not resurrect the link.
	l.Close()
	if l.becomeConnected(nil) {
		t.Fatal("a closed link transitioned to Connected")
	}
	if got := l.State(); got != Closed {
		t.Errorf("state = %v, want Closed", got)
	}
	if l.TryAttach() {
		t.Error("TryAttach accepted a session on a closed link")
	}
	if _, err := registry.Create("g1", l, 8); !errors.Is(err, session.ErrLinkNotConnected) {
		t.Errorf("Create err = %v, want ErrLinkNotConnected", err)
	}
}

func TestLinkReset(t *testing.T) {
	fb := newFakeBackend(t)
	registry := session.NewRegistry()
	l := NewLink(testOptions(fb.node(t), registry))

	done, _ := startLink(t, l)
	fb.accept(t)
	waitOutcome(t, l)

	if l.Reset() {
		t.Error("Reset succeeded on a running link")
	}

	l.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	if !l.Reset() {
		t.Fatal("Reset failed on a closed link")
	}
	if got := l.State(); got != Disconnected {
		t.Errorf("state after Reset = %v, want Disconnected", got)
	}
	select {
	case <-l.FirstOutcome():
		t.Error("outcome channel not rearmed by Reset")
	default:
	}
}

func TestLinkStringer(t *testing.T) {
	l := NewLink(Options{Node: config.Node{Name: "alpha"}})
	if got, want := l.String(), "link-alpha"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := fmt.Sprint(l); got != "link-alpha" {
		t.Errorf("Sprint = %q, want link-alpha", got)
	}
}
