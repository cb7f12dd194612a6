// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package anchorage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/internal/logging"
	"github.com/anchorage-audio/anchorage/node"
	"github.com/anchorage-audio/anchorage/session"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Output: io.Discard})
	m.Run()
}

// startBackend serves a minimal node event stream and returns its node
// config. Each accepted connection gets a ready frame and is then held
// open.
func startBackend(t *testing.T, name string) config.Node {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ready := `{"op":"ready","resumed":false,"sessionId":"sess-` + name + `"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ready)); err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse backend port: %v", err)
	}
	return config.Node{Name: name, Host: u.Hostname(), Port: port, Authorization: "hunter2"}
}

// deadNode points at a port nothing listens on.
func deadNode(t *testing.T, name string) config.Node {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	srv.Close()
	return config.Node{Name: name, Host: u.Hostname(), Port: port, Authorization: "x"}
}

func fastPool() Options {
	return Options{Pool: config.Pool{
		MaxRetries:        2,
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		RestTimeout:       time.Second,
		SessionBuffer:     8,
	}}
}

func startPool(t *testing.T, nodes ...config.Node) *Anchorage {
	t.Helper()
	pool := New(fastPool())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Start(ctx, "user-1", nodes); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestStartConnectsAllNodes(t *testing.T) {
	alpha := startBackend(t, "alpha")
	beta := startBackend(t, "beta")
	pool := startPool(t, alpha, beta)

	links := pool.Nodes()
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	// Registration order is preserved.
	if links[0].Name() != "alpha" || links[1].Name() != "beta" {
		t.Errorf("order = %s, %s, want alpha, beta", links[0].Name(), links[1].Name())
	}
	for _, l := range links {
		if l.State() != node.Connected {
			t.Errorf("%s state = %v, want Connected", l.Name(), l.State())
		}
	}
}

func TestStartPartialPoolSucceeds(t *testing.T) {
	alpha := startBackend(t, "alpha")
	down := deadNode(t, "down")
	pool := startPool(t, alpha, down)

	live, err := pool.GetIdealNode()
	if err != nil {
		t.Fatalf("GetIdealNode: %v", err)
	}
	if live.Name() != "alpha" {
		t.Errorf("ideal = %q, want alpha", live.Name())
	}

	lost, err := pool.Node("down")
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if lost.State() != node.Failed {
		t.Errorf("down state = %v, want Failed", lost.State())
	}
}

func TestStartAllNodesDead(t *testing.T) {
	pool := New(fastPool())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pool.Start(ctx, "user-1", []config.Node{deadNode(t, "d1"), deadNode(t, "d2")})
	if !errors.Is(err, ErrStartup) {
		t.Errorf("err = %v, want ErrStartup", err)
	}
}

func TestStartRetryAfterFailure(t *testing.T) {
	pool := New(fastPool())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Start(ctx, "user-1", []config.Node{deadNode(t, "n1")}); !errors.Is(err, ErrStartup) {
		t.Fatalf("first Start err = %v, want ErrStartup", err)
	}

	// The dead link must not linger; a retry under the same name gets a
	// clean pool, not a duplicate entry.
	live := startBackend(t, "n1")
	if err := pool.Start(ctx, "user-1", []config.Node{live}); err != nil {
		t.Fatalf("retried Start: %v", err)
	}
	t.Cleanup(pool.Close)

	links := pool.Nodes()
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1 after retried Start", len(links))
	}
	if links[0].State() != node.Connected {
		t.Errorf("state = %v, want Connected", links[0].State())
	}
	if _, err := pool.CreateSession("g1", nil, 0); err != nil {
		t.Errorf("CreateSession after retried Start: %v", err)
	}
}

func TestStartValidation(t *testing.T) {
	pool := New(fastPool())
	ctx := context.Background()

	if err := pool.Start(ctx, "user-1", nil); err == nil {
		t.Error("expected error for empty node list")
	}

	nodes := []config.Node{
		{Name: "a", Host: "h1", Port: 2333, Authorization: "x"},
		{Name: "a", Host: "h2", Port: 2333, Authorization: "x"},
	}
	if err := pool.Start(ctx, "user-1", nodes); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	s, err := pool.CreateSession("g1", nil, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Node() != "alpha" {
		t.Errorf("session bound to %q, want alpha", s.Node())
	}
	if pool.Sessions() != 1 {
		t.Errorf("Sessions = %d, want 1", pool.Sessions())
	}

	link, err := pool.GetNodeForSession("g1")
	if err != nil {
		t.Fatalf("GetNodeForSession: %v", err)
	}
	if link.Name() != "alpha" {
		t.Errorf("node = %q, want alpha", link.Name())
	}

	if _, err := pool.CreateSession("g1", nil, 0); !errors.Is(err, session.ErrDuplicateSession) {
		t.Errorf("duplicate err = %v, want ErrDuplicateSession", err)
	}

	if _, err := pool.Player("g1"); err != nil {
		t.Errorf("Player: %v", err)
	}
	if _, err := pool.Player("nobody"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Player for unknown guild err = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateSessionBeforeStart(t *testing.T) {
	pool := New(fastPool())
	if _, err := pool.CreateSession("g1", nil, 0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestDisconnectEvictsSessions(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	s, err := pool.CreateSession("g1", nil, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := pool.Disconnect("alpha"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// Eviction is synchronous with Disconnect.
	select {
	case n, open := <-s.Events():
		if !open || n.Kind != session.KindDestroyed {
			t.Errorf("notification = %+v open=%v, want KindDestroyed", n, open)
		}
	default:
		t.Error("no destroyed notification after Disconnect")
	}
	if pool.Sessions() != 0 {
		t.Errorf("Sessions = %d, want 0", pool.Sessions())
	}

	if _, err := pool.CreateSession("g2", nil, 0); !errors.Is(err, node.ErrNoAvailableNode) {
		t.Errorf("err = %v, want ErrNoAvailableNode", err)
	}
}

func TestConnectRestartsLostLink(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	if err := pool.Disconnect("alpha"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	link, _ := pool.Node("alpha")
	deadline := time.Now().Add(2 * time.Second)
	for link.State() != node.Closed {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want Closed", link.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Connect(ctx, "alpha"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if link.State() != node.Connected {
		t.Errorf("state = %v, want Connected after restart", link.State())
	}

	if _, err := pool.CreateSession("g1", nil, 0); err != nil {
		t.Errorf("CreateSession after restart: %v", err)
	}
}

func TestConnectDoesNotBlockPoolReads(t *testing.T) {
	alpha := startBackend(t, "alpha")
	beta := startBackend(t, "beta")
	pool := startPool(t, alpha, beta)

	if err := pool.Disconnect("alpha"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	link, _ := pool.Node("alpha")
	deadline := time.Now().Add(2 * time.Second)
	for link.State() != node.Closed {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want Closed", link.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		connectDone <- pool.Connect(ctx, "alpha")
	}()

	// Lookups on the rest of the pool keep working while the restart is
	// in flight.
	deadline = time.Now().Add(5 * time.Second)
	for done := false; !done; {
		select {
		case err := <-connectDone:
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			done = true
		default:
			if _, err := pool.Node("beta"); err != nil {
				t.Fatalf("Node during Connect: %v", err)
			}
			if got := len(pool.Nodes()); got != 2 {
				t.Fatalf("Nodes = %d, want 2", got)
			}
			if time.Now().After(deadline) {
				t.Fatal("Connect did not finish")
			}
		}
	}
	if link.State() != node.Connected {
		t.Errorf("state = %v, want Connected after restart", link.State())
	}
}

func TestCreateSessionConcurrentSameGuild(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	// The guild binding is exclusive; racing creators must resolve to
	// exactly one session.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := pool.CreateSession("g1", nil, 0)
			errs <- err
		}()
	}

	var created, duplicate int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			created++
		case errors.Is(err, session.ErrDuplicateSession):
			duplicate++
		default:
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if created != 1 || duplicate != 1 {
		t.Errorf("created = %d, duplicate = %d, want 1 and 1", created, duplicate)
	}
	if got := pool.Sessions(); got != 1 {
		t.Errorf("Sessions = %d, want 1", got)
	}
}

func TestConnectUnknownNode(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	ctx := context.Background()
	if err := pool.Connect(ctx, "ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
	if err := pool.Disconnect("ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Disconnect err = %v, want ErrNodeNotFound", err)
	}
}

func TestCloseEvictsEverything(t *testing.T) {
	alpha := startBackend(t, "alpha")
	pool := startPool(t, alpha)

	s, err := pool.CreateSession("g1", nil, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	pool.Close()

	select {
	case n, open := <-s.Events():
		if !open || n.Kind != session.KindDestroyed {
			t.Errorf("notification = %+v open=%v, want KindDestroyed", n, open)
		}
	case <-time.After(2 * time.Second):
		t.Error("no destroyed notification after Close")
	}
	if pool.Sessions() != 0 {
		t.Errorf("Sessions = %d, want 0", pool.Sessions())
	}

	// Close is idempotent.
	pool.Close()
}
