// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Command anchorage is a diagnostic runner for the node pool. It connects
// to every configured node, serves Prometheus metrics, and logs the
// stream events it receives until interrupted. Useful for verifying node
// credentials and watching reconnect behavior; the library surface is
// package anchorage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anchorage-audio/anchorage"
	"github.com/anchorage-audio/anchorage/config"
	"github.com/anchorage-audio/anchorage/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		userID      = flag.String("user-id", "", "client user id sent during the stream handshake")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address (e.g. :9190)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("anchorage %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if *userID == "" {
		*userID = os.Getenv("ANCHORAGE_USER_ID")
	}
	if *userID == "" {
		logging.Fatal().Msg("No user id given (flag -user-id or ANCHORAGE_USER_ID)")
	}
	if len(cfg.Nodes) == 0 {
		logging.Fatal().Msg("No nodes configured")
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logging.Info().Str("addr", *metricsAddr).Msg("Serving metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := anchorage.New(anchorage.Options{Pool: cfg.Pool})

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = pool.Start(startCtx, *userID, cfg.Nodes)
	cancel()
	if err != nil {
		logging.Fatal().Err(err).Msg("Pool startup failed")
	}
	defer pool.Close()

	for _, link := range pool.Nodes() {
		logging.Info().
			Str("node", link.Name()).
			Str("state", link.State().String()).
			Msg("Node link")
	}

	// Poll node stats until interrupted so an operator can watch load
	// change across the pool.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Shutting down")
			return
		case <-ticker.C:
			for _, link := range pool.Nodes() {
				stats := link.Stats()
				if stats == nil {
					continue
				}
				logging.Info().
					Str("node", link.Name()).
					Int("players", stats.Players).
					Float64("penalties", stats.Penalties()).
					Msg("Node stats")
			}
		}
	}
}
