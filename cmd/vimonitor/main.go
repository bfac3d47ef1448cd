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

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/api"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/config"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/database"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/market"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/recorder"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/session"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/subs"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/version"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/vi"
)

func main() {
	configPath := flag.String("config", "configs/vimonitor.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting vimonitor",
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
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
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

	// Create API client and issue the first access token
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.AppKey,
		cfg.API.SecretKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	if _, err := apiClient.IssueToken(ctx); err != nil {
		logger.Error("failed to issue access token", "error", err)
		os.Exit(1)
	}
	tokenSource := apiClient.TokenSource()

	// Load the symbol master to classify symbols by market
	logger.Info("loading symbol master")
	master := market.NewRegistry(market.DefaultConfig(), apiClient, logger)
	if err := master.Start(ctx); err != nil {
		logger.Error("failed to load symbol master", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		master.Stop(stopCtx)
	}()

	lookup := marketFilter(vi.MarketLookup(master.GetMarket), cfg.VI.Markets)

	// Connect to database and start recorders when persistence is enabled
	var (
		pool     *pgxpool.Pool
		events   *recorder.EventRecorder
		ticks    *recorder.TickRecorder
		observer vi.Observer
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		recCfg := recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}
		events = recorder.NewEventRecorder(recCfg, pool, logger)
		ticks = recorder.NewTickRecorder(recCfg, pool, logger)
		observer = recorder.NewObserver(events, ticks, lookup)

		logger.Info("database connected")
	}

	// Create the websocket session
	sessCfg := session.Config{
		Transport: transport.Config{
			URL:               cfg.API.WSURL,
			TokenSource:       tokenSource,
			HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
			KeepaliveInterval: cfg.Stream.KeepaliveInterval,
			KeepaliveTimeout:  cfg.Stream.KeepaliveTimeout,
			WriteTimeout:      cfg.Stream.WriteTimeout,
			BufferSize:        cfg.Stream.MessageBufferSize,
		},
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
	}
	sess := session.New(sessCfg, logger)

	// Registry and router
	registry := subs.NewRegistry(
		subs.Config{MaxSubscriptions: cfg.Stream.MaxSubscriptions},
		sess,
		tokenSource,
		logger,
	)
	registry.OnError(func(env *protocol.Envelope) {
		logger.Error("broker rejected request",
			"tr_cd", env.Header.TrCd,
			"rsp_cd", env.Header.RspCd,
			"rsp_msg", env.Header.RspMsg,
		)
	})
	registry.OnDefault(func(env *protocol.Envelope) {
		logger.Debug("unrouted message", "tr_cd", env.Channel(), "tr_key", env.RoutingKey())
	})

	router := subs.NewRouter(registry, sess.Events(), sess.Messages(), logger)

	// VI cascade controller
	controller := vi.New(
		vi.Config{GracePeriod: cfg.VI.GracePeriod},
		registry,
		lookup,
		observer,
		logger,
	)

	// Start everything back to front so consumers are up before producers
	if events != nil {
		if err := events.Start(ctx); err != nil {
			logger.Error("failed to start event recorder", "error", err)
			os.Exit(1)
		}
	}
	if ticks != nil {
		if err := ticks.Start(ctx); err != nil {
			logger.Error("failed to start tick recorder", "error", err)
			os.Exit(1)
		}
	}
	if err := controller.Start(ctx); err != nil {
		logger.Error("failed to start vi controller", "error", err)
		os.Exit(1)
	}
	if err := router.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	if err := sess.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Health server
	healthPort := cfg.Health.Port
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(sess, registry, controller, master, pool),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("vimonitor running",
		"instance_id", cfg.Instance.ID,
		"grace_period", cfg.VI.GracePeriod,
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sess.Stop()
	router.Stop(shutdownCtx)
	controller.Stop(shutdownCtx)
	if ticks != nil {
		ticks.Stop(shutdownCtx)
	}
	if events != nil {
		events.Stop(shutdownCtx)
	}

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("vimonitor stopped")
}

// marketFilter restricts a lookup to the configured markets. An empty
// list keeps every market.
func marketFilter(lookup vi.MarketLookup, markets []string) vi.MarketLookup {
	if len(markets) == 0 {
		return lookup
	}
	allowed := make(map[protocol.Market]bool, len(markets))
	for _, m := range markets {
		allowed[protocol.Market(m)] = true
	}
	return func(symbol string) (protocol.Market, bool) {
		market, ok := lookup(symbol)
		if !ok || !allowed[market] {
			return "", false
		}
		return market, true
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(sess *session.Session, registry *subs.Registry, controller *vi.Controller, master market.Registry, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check session
		state := sess.State()
		health.Components["session"] = state.String()
		if state != session.StateConnected {
			health.Status = "degraded"
		}

		// Check database when persistence is on
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		stats := registry.Stats()
		health.Components["subscriptions"] = map[string]interface{}{
			"count":        len(registry.Keys()),
			"dispatched":   stats.Dispatched,
			"parse_errors": stats.ParseErrors,
		}

		health.Components["vi"] = map[string]interface{}{
			"active_symbols": len(controller.ActiveSymbols()),
		}

		health.Components["symbol_master"] = map[string]interface{}{
			"symbols":      master.Count(),
			"last_sync_at": master.LastSyncAt(),
		}
		if master.Count() == 0 {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/vi", func(w http.ResponseWriter, r *http.Request) {
		snaps := controller.Snapshots()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   len(snaps),
			"symbols": snaps,
		})
	})

	return mux
}
