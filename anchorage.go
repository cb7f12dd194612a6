// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package anchorage maintains a pool of persistent links to audio
// backend nodes and a registry of guild sessions bound to them. The pool
// is the composition root: it supervises the links, routes stream events
// to session sinks, and exposes node selection and player commands.
package anchorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/internal/logging"
	"github.com/anchorage-audio/anchorage/node"
	"github.com/anchorage-audio/anchorage/player"
	"github.com/anchorage-audio/anchorage/session"
)

var (
	// ErrStartup reports that no configured node accepted a connection
	// during Start.
	ErrStartup = errors.New("no node reached connected state")

	// ErrAlreadyStarted reports a second Start on a running pool.
	ErrAlreadyStarted = errors.New("pool already started")

	// ErrNotStarted reports an operation that needs a running pool.
	ErrNotStarted = errors.New("pool not started")

	// ErrNodeNotFound reports an unknown node name.
	ErrNodeNotFound = errors.New("no node with that name")

	// ErrDuplicateNode reports two configured nodes sharing a name.
	ErrDuplicateNode = errors.New("duplicate node name")
)

// Anchorage is a pool of node links plus the session registry bound to
// them. Construct with New, bring up with Start, release with Close.
type Anchorage struct {
	opts     Options
	registry *session.Registry
	router   *session.Router

	mu      sync.Mutex
	started bool
	userID  string
	links   []*node.Link
	byName  map[string]*node.Link
	tokens  map[string]suture.ServiceToken
	sup     *suture.Supervisor
	cancel  context.CancelFunc
	supDone <-chan error
}

// New builds an idle pool. No connection is attempted until Start.
func New(opts Options) *Anchorage {
	opts.normalize()
	registry := session.NewRegistry()
	return &Anchorage{
		opts:     opts,
		registry: registry,
		router:   session.NewRouter(registry),
		byName:   make(map[string]*node.Link),
		tokens:   make(map[string]suture.ServiceToken),
	}
}

// Start connects the pool to every configured node and blocks until each
// link reaches its first outcome: connected, or lost with the retry
// budget spent. It returns ErrStartup only when no node at all came up;
// a partial pool is a working pool. ctx bounds the wait, not the pool's
// lifetime.
func (a *Anchorage) Start(ctx context.Context, userID string, nodes []config.Node) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(nodes) == 0 {
		a.mu.Unlock()
		return errors.New("no nodes configured")
	}

	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.Name]; dup {
			a.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrDuplicateNode, n.Name)
		}
		seen[n.Name] = struct{}{}
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	a.sup = suture.New("anchorage", suture.Spec{EventHook: handler.MustHook()})

	// A failed Start leaves its dead links behind; drop them so a retry
	// does not register the same names twice.
	a.links = nil
	a.byName = make(map[string]*node.Link, len(nodes))
	a.tokens = make(map[string]suture.ServiceToken, len(nodes))

	a.userID = userID
	for _, n := range nodes {
		link := a.newLink(n)
		a.links = append(a.links, link)
		a.byName[n.Name] = link
		a.tokens[n.Name] = a.sup.Add(link)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.supDone = a.sup.ServeBackground(runCtx)
	a.started = true
	links := append([]*node.Link(nil), a.links...)
	a.mu.Unlock()

	for _, link := range links {
		select {
		case <-link.FirstOutcome():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	connected := 0
	for _, link := range links {
		if link.State() == node.Connected {
			connected++
		}
	}
	if connected == 0 {
		a.Close()
		return ErrStartup
	}

	logging.Info().
		Int("connected", connected).
		Int("configured", len(links)).
		Msg("pool started")
	return nil
}

func (a *Anchorage) newLink(n config.Node) *node.Link {
	return node.NewLink(node.Options{
		Node:              n,
		UserID:            a.userID,
		UserAgent:         a.opts.Pool.UserAgent,
		MaxRetries:        a.opts.Pool.MaxRetries,
		ReconnectDelay:    a.opts.Pool.ReconnectDelay,
		MaxReconnectDelay: a.opts.Pool.MaxReconnectDelay,
		HandshakeTimeout:  a.opts.Pool.HandshakeTimeout,
		RestTimeout:       a.opts.Pool.RestTimeout,
		Router:            a.router,
		Sessions:          a.registry,
		HTTPClient:        a.opts.HTTPClient,
	})
}

// Node returns the link for a configured node name.
func (a *Anchorage) Node(name string) (*node.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	link, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return link, nil
}

// Nodes returns every link in registration order.
func (a *Anchorage) Nodes() []*node.Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*node.Link(nil), a.links...)
}

// GetIdealNode returns the connected link carrying the fewest sessions.
// Registration order breaks ties.
func (a *Anchorage) GetIdealNode() (*node.Link, error) {
	return node.SelectIdeal(a.Nodes())
}

// GetNodeForSession returns the link a guild's session is bound to.
func (a *Anchorage) GetNodeForSession(guildID string) (*node.Link, error) {
	sess, err := a.registry.Lookup(guildID)
	if err != nil {
		return nil, err
	}
	return a.Node(sess.Node())
}

// CreateSession binds a guild to a link and returns the session whose
// Events channel carries the guild's stream notifications. A nil link
// selects the ideal node; a non-positive buffer takes the pool's
// SessionBuffer. The binding is exclusive per guild until DestroySession
// or a link loss evicts it.
func (a *Anchorage) CreateSession(guildID string, link *node.Link, buffer int) (*session.Session, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	if link == nil {
		var err error
		link, err = a.GetIdealNode()
		if err != nil {
			return nil, err
		}
	}
	if buffer <= 0 {
		buffer = a.opts.Pool.SessionBuffer
	}
	return a.registry.Create(guildID, link, buffer)
}

// DestroySession removes the guild's player from its node and releases
// the session binding. The sink closes without a destroyed notification;
// only link loss announces teardown.
func (a *Anchorage) DestroySession(ctx context.Context, guildID string) error {
	link, err := a.GetNodeForSession(guildID)
	if err != nil {
		return err
	}

	restErr := link.Rest().DestroyPlayer(ctx, guildID)
	if err := a.registry.Destroy(guildID); err != nil {
		return errors.Join(restErr, err)
	}
	return restErr
}

// Player returns the command surface for a guild's session.
func (a *Anchorage) Player(guildID string) (*player.Player, error) {
	link, err := a.GetNodeForSession(guildID)
	if err != nil {
		return nil, err
	}
	return player.New(guildID, link.Rest()), nil
}

// Sessions returns the number of live session bindings.
func (a *Anchorage) Sessions() int {
	return a.registry.Len()
}

// Connect restarts a lost or disconnected node's link and blocks until
// it reaches its next outcome. ctx bounds the wait.
func (a *Anchorage) Connect(ctx context.Context, name string) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	link, ok := a.byName[name]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	token, hadToken := a.tokens[name]
	delete(a.tokens, name)
	a.mu.Unlock()

	// Make sure the previous service instance is fully stopped before
	// rearming the link; Reset clears the closing flag a still-running
	// instance would act on. The wait must not hold the pool lock, or
	// every lookup stalls behind a slow shutdown.
	if hadToken {
		_ = a.sup.RemoveAndWait(token, 10*time.Second)
	}
	if !link.Reset() {
		return fmt.Errorf("node %q is already running", name)
	}

	a.mu.Lock()
	a.tokens[name] = a.sup.Add(link)
	a.mu.Unlock()

	select {
	case <-link.FirstOutcome():
	case <-ctx.Done():
		return ctx.Err()
	}
	if link.State() != node.Connected {
		return fmt.Errorf("node %q: %w", name, ErrStartup)
	}
	return nil
}

// Disconnect closes a node's link. Its sessions are evicted before the
// call returns, each sink receiving a destroyed notification.
func (a *Anchorage) Disconnect(name string) error {
	a.mu.Lock()
	link, ok := a.byName[name]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}

	link.Close()
	// Close is asynchronous with the service loop; sweep here so every
	// bound session is gone when Disconnect returns. The sweep is
	// idempotent with the one the loop performs.
	a.registry.EvictAllForLink(name)
	return nil
}

// Close stops every link and evicts every session. The pool cannot be
// restarted; build a new one.
func (a *Anchorage) Close() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	cancel := a.cancel
	done := a.supDone
	links := append([]*node.Link(nil), a.links...)
	a.mu.Unlock()

	cancel()
	if done != nil {
		<-done
	}
	for _, link := range links {
		a.registry.EvictAllForLink(link.Name())
	}
	logging.Info().Msg("pool closed")
}
