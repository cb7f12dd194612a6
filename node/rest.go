// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/internal/metrics"
	"github.com/anchorage-audio/anchorage/protocol"
)

// ErrNoSessionID is returned for session-scoped REST calls made before the
// node's ready frame arrived. The stream handshake supplies the session id
// every player path is scoped by.
var ErrNoSessionID = errors.New("no stream session id yet")

// maxErrorBody caps how much of an error response is read back for
// diagnostics.
const maxErrorBody = 64 * 1024

// Rest is the stateless request/response facade of one backend node. It
// is the narrow collaborator the pool core depends on: resolve resources,
// mutate players, read node status. Calls are independent of the link's
// stream except for the session id captured at handshake.
//
// A circuit breaker per node sheds calls after consecutive failures so a
// dead REST surface fails fast instead of tying callers up in timeouts.
// Breaker rejections surface as gobreaker.ErrOpenState.
type Rest struct {
	node      string
	baseURL   string
	auth      string
	userAgent string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	sessionID func() (string, bool)
}

// NewRest builds a REST facade detached from any stream link, for callers
// that only need the request surface. sessionID supplies the stream
// session scope for player paths; nil leaves session-scoped calls failing
// with ErrNoSessionID.
func NewRest(n config.Node, userAgent string, client *http.Client, sessionID func() (string, bool)) *Rest {
	if sessionID == nil {
		sessionID = func() (string, bool) { return "", false }
	}
	return newRest(Options{Node: n, UserAgent: userAgent, HTTPClient: client}, sessionID)
}

func newRest(opts Options, sessionID func() (string, bool)) *Rest {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RestTimeout}
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "rest-" + opts.Node.Name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Rest{
		node:      opts.Node.Name,
		baseURL:   opts.Node.RestEndpoint(),
		auth:      opts.Node.Authorization,
		userAgent: opts.UserAgent,
		client:    client,
		breaker:   breaker,
		sessionID: sessionID,
	}
}

// sessionPath prefixes path with the current stream session scope.
func (r *Rest) sessionPath(path string) (string, error) {
	sid, ok := r.sessionID()
	if !ok {
		return "", ErrNoSessionID
	}
	return "/sessions/" + url.PathEscape(sid) + path, nil
}

// do runs one REST round trip through the circuit breaker and returns the
// raw response body, which is empty for 204-style responses.
func (r *Rest) do(ctx context.Context, operation, method, path string, query url.Values, body any) ([]byte, error) {
	return r.breaker.Execute(func() ([]byte, error) {
		start := time.Now()
		data, err := r.roundTrip(ctx, method, path, query, body)
		metrics.RestRequestDuration.WithLabelValues(r.node, operation).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RestRequestErrors.WithLabelValues(r.node, operation).Inc()
		}
		return data, err
	})
}

func (r *Rest) roundTrip(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	target := r.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", r.auth)
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readBodyForError(resp.Body)
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// readBodyForError reads at most maxErrorBody bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

func decode[T any](data []byte, what string) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", what, err)
	}
	return &v, nil
}

// Resolve loads tracks for an identifier: a direct URL, or a search term
// with a source prefix.
func (r *Rest) Resolve(ctx context.Context, identifier string) (*protocol.LoadResult, error) {
	data, err := r.do(ctx, "loadtracks", http.MethodGet, "/loadtracks",
		url.Values{"identifier": {identifier}}, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.LoadResult](data, "loadtracks")
}

// DecodeTrack expands an encoded track into its metadata.
func (r *Rest) DecodeTrack(ctx context.Context, encoded string) (*protocol.Track, error) {
	data, err := r.do(ctx, "decodetrack", http.MethodGet, "/decodetrack",
		url.Values{"track": {encoded}}, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.Track](data, "decodetrack")
}

// Player fetches one guild's player on this node.
func (r *Rest) Player(ctx context.Context, guildID string) (*protocol.Player, error) {
	path, err := r.sessionPath("/players/" + url.PathEscape(guildID))
	if err != nil {
		return nil, err
	}
	data, err := r.do(ctx, "get_player", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.Player](data, "player")
}

// Players fetches every player in this node's stream session.
func (r *Rest) Players(ctx context.Context) ([]protocol.Player, error) {
	path, err := r.sessionPath("/players")
	if err != nil {
		return nil, err
	}
	data, err := r.do(ctx, "get_players", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	players, err := decode[[]protocol.Player](data, "players")
	if err != nil {
		return nil, err
	}
	return *players, nil
}

// UpdatePlayer applies a partial player update. With noReplace set, a
// track in the update does not replace one that is already playing.
func (r *Rest) UpdatePlayer(ctx context.Context, guildID string, noReplace bool, update *protocol.PlayerUpdateRequest) (*protocol.Player, error) {
	path, err := r.sessionPath("/players/" + url.PathEscape(guildID))
	if err != nil {
		return nil, err
	}
	query := url.Values{"noReplace": {fmt.Sprintf("%t", noReplace)}}
	data, err := r.do(ctx, "update_player", http.MethodPatch, path, query, update)
	if err != nil {
		return nil, err
	}
	return decode[protocol.Player](data, "player update")
}

// DestroyPlayer removes one guild's player on this node.
func (r *Rest) DestroyPlayer(ctx context.Context, guildID string) error {
	path, err := r.sessionPath("/players/" + url.PathEscape(guildID))
	if err != nil {
		return err
	}
	_, err = r.do(ctx, "destroy_player", http.MethodDelete, path, nil, nil)
	return err
}

// UpdateSession configures resuming for the current stream session.
func (r *Rest) UpdateSession(ctx context.Context, update *protocol.SessionUpdate) (*protocol.SessionUpdate, error) {
	path, err := r.sessionPath("")
	if err != nil {
		return nil, err
	}
	data, err := r.do(ctx, "update_session", http.MethodPatch, path, nil, update)
	if err != nil {
		return nil, err
	}
	return decode[protocol.SessionUpdate](data, "session update")
}

// Stats fetches the node's current load report.
func (r *Rest) Stats(ctx context.Context) (*protocol.Stats, error) {
	data, err := r.do(ctx, "stats", http.MethodGet, "/stats", nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.Stats](data, "stats")
}

// Info fetches the node's build and capability report.
func (r *Rest) Info(ctx context.Context) (*protocol.Info, error) {
	data, err := r.do(ctx, "info", http.MethodGet, "/info", nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.Info](data, "info")
}

// RoutePlannerStatus fetches the node's IP rotation status.
func (r *Rest) RoutePlannerStatus(ctx context.Context) (*protocol.RoutePlanner, error) {
	data, err := r.do(ctx, "routeplanner_status", http.MethodGet, "/routeplanner/status", nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[protocol.RoutePlanner](data, "route planner")
}

// UnmarkFailedAddress clears one address from the node's IP rotator.
func (r *Rest) UnmarkFailedAddress(ctx context.Context, address string) error {
	body := map[string]string{"address": address}
	_, err := r.do(ctx, "routeplanner_free", http.MethodPost, "/routeplanner/free/address", nil, body)
	return err
}
