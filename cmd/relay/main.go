package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Juancal1728/multichat-relay/internal/call"
	"github.com/Juancal1728/multichat-relay/internal/config"
	"github.com/Juancal1728/multichat-relay/internal/database"
	"github.com/Juancal1728/multichat-relay/internal/delivery"
	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/relay"
	"github.com/Juancal1728/multichat-relay/internal/router"
	"github.com/Juancal1728/multichat-relay/internal/store"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
	"github.com/Juancal1728/multichat-relay/internal/transport/tcp"
	"github.com/Juancal1728/multichat-relay/internal/transport/ws"
	"github.com/Juancal1728/multichat-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"storage_backend", cfg.Storage.Backend,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Storage backend
	var (
		history  store.HistoryLog
		regStore store.RegistryStore
		pgStore  *database.PostgresStore
	)
	switch cfg.Storage.Backend {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Storage.Postgres.Host,
			"port", cfg.Storage.Postgres.Port,
			"database", cfg.Storage.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pgStore = database.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		history = pgStore
		regStore = pgStore
		logger.Info("database connected")
	default:
		fileHistory, err := store.NewFileHistoryLog(cfg.Storage.DataDir)
		if err != nil {
			logger.Error("failed to open history store", "error", err)
			os.Exit(1)
		}
		fileRegistry, err := store.NewFileRegistryStore(cfg.Storage.DataDir)
		if err != nil {
			logger.Error("failed to open registry store", "error", err)
			os.Exit(1)
		}
		history = fileHistory
		regStore = fileRegistry
	}

	// Voice-note blobs always live on disk; history rows reference them.
	media, err := store.NewFileMediaStore(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("failed to open media store", "error", err)
		os.Exit(1)
	}

	// Core registries and queues
	groups := group.NewRegistry(regStore, logger)
	queue := pending.New()
	subs := subscriber.NewTable(logger)
	pres := presence.NewRegistry(regStore, history, groups, queue, logger)

	// Audio relay and WebSocket transport reference each other: the
	// relay forwards frames through the ws connection table, the ws
	// server feeds frames and stream commands into the relay.
	rel := relay.New(pres, logger)
	wsSrv := ws.NewServer(ws.Config{
		Port:         cfg.Server.WSPort,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, rel, logger)
	rel.SetSink(wsSrv)

	rt := router.NewRouter(history, media, pres, groups, queue, subs, wsSrv, logger)

	chain := delivery.NewChain(logger,
		delivery.NewPushLink(subs),
		delivery.NewSignalLink(wsSrv),
		delivery.NewQueueLink(queue))
	calls := call.NewCoordinator(pres, subs, chain, wsSrv, logger)

	tcpSrv := tcp.NewServer(tcp.Config{
		Port:         cfg.Server.TCPPort,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, tcp.Deps{
		Presence:    pres,
		Groups:      groups,
		Pending:     queue,
		Subscribers: subs,
		Router:      rt,
		Calls:       calls,
	}, logger)

	if err := rel.Start(ctx); err != nil {
		logger.Error("failed to start audio relay", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		rel.Stop(shutdownCtx)
	}()

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler: createHealthHandler(pres, groups, subs, wsSrv, pgStore),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tcpSrv.Serve(gctx) })
	g.Go(func() error { return wsSrv.Serve(gctx) })
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Server.HealthPort)
		errCh := make(chan error, 1)
		go func() { errCh <- healthServer.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			healthServer.Shutdown(shutdownCtx)
			return nil
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"tcp_port", cfg.Server.TCPPort,
		"ws_port", cfg.Server.WSPort,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.HealthPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("transport failed", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	pres presence.Registry,
	groups *group.Registry,
	subs *subscriber.Table,
	wsSrv *ws.Server,
	pgStore *database.PostgresStore,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if pgStore != nil {
			if err := pgStore.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		health.Components["presence"] = map[string]any{
			"online": pres.OnlineCount(),
			"known":  pres.KnownCount(),
		}
		health.Components["groups"] = len(groups.ListGroups())
		health.Components["subscribers"] = subs.Count()
		health.Components["ws_connections"] = wsSrv.ConnectionCount()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/online", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"online": pres.ListOnline(),
			"all":    pres.ListAllWithStatus(),
		})
	})

	return mux
}
