// streamprobe connects to the LS websocket and streams parsed VI events and
// trade ticks to the console.
// Usage: go run ./cmd/streamprobe --config configs/vimonitor.local.yaml --symbols 005930,000660
//
// Required environment variables (when referenced from the config file):
//
//	LS_APP_KEY    - application key from the LS OpenAPI portal
//	LS_SECRET_KEY - application secret
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/api"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/config"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/market"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/session"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/subs"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/vimonitor.local.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated short codes to stream trade ticks for")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.AppKey,
		cfg.API.SecretKey,
		api.WithLogger(logger),
	)

	if _, err := apiClient.IssueToken(ctx); err != nil {
		logger.Error("failed to issue access token", "error", err)
		os.Exit(1)
	}
	tokenSource := apiClient.TokenSource()

	master := market.NewRegistry(market.DefaultConfig(), apiClient, logger)
	if err := master.Start(ctx); err != nil {
		logger.Error("failed to load symbol master", "error", err)
		os.Exit(1)
	}
	logger.Info("symbol master ready", "symbols", master.Count())

	sess := session.New(session.Config{
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
	}, logger)

	registry := subs.NewRegistry(
		subs.Config{MaxSubscriptions: cfg.Stream.MaxSubscriptions},
		sess,
		tokenSource,
		logger,
	)
	registry.OnError(func(env *protocol.Envelope) {
		fmt.Printf("[ERROR] tr_cd=%s rsp_cd=%s msg=%s\n",
			env.Header.TrCd, env.Header.RspCd, env.Header.RspMsg)
	})

	if err := registry.Subscribe(protocol.ChannelVI, protocol.AllSymbols, func(env *protocol.Envelope) {
		printVI(env, *verbose)
	}); err != nil {
		logger.Error("failed to queue vi subscription", "error", err)
		os.Exit(1)
	}

	for _, symbol := range splitSymbols(*symbols) {
		m, ok := master.GetMarket(symbol)
		if !ok {
			logger.Warn("unknown symbol, skipping", "symbol", symbol)
			continue
		}
		if err := registry.Subscribe(m.TradeChannel(), symbol, func(env *protocol.Envelope) {
			printTick(env, *verbose)
		}); err != nil {
			logger.Error("failed to queue trade subscription", "symbol", symbol, "error", err)
		}
	}

	router := subs.NewRouter(registry, sess.Events(), sess.Messages(), logger)
	if err := router.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	if err := sess.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming, ctrl-c to stop")
	<-ctx.Done()

	sess.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	router.Stop(shutdownCtx)
	master.Stop(shutdownCtx)
}

func printVI(env *protocol.Envelope, verbose bool) {
	if verbose {
		dumpJSON("VI", env)
		return
	}
	ev, err := protocol.ParseVIEvent(env.Body)
	if err != nil {
		fmt.Printf("[VI] parse error: %v\n", err)
		return
	}
	fmt.Printf("[VI] %s %s %s trigger=%s time=%s\n",
		ev.Symbol, ev.KindLabel(), ev.Exchange, ev.TriggerPrice, ev.Time)
}

func printTick(env *protocol.Envelope, verbose bool) {
	if verbose {
		dumpJSON("TICK", env)
		return
	}
	tick, err := protocol.ParseTradeTick(env.Body)
	if err != nil {
		fmt.Printf("[TICK] parse error: %v\n", err)
		return
	}
	fmt.Printf("[TICK] %s %s price=%s vol=%s side=%s\n",
		tick.Symbol, tick.Time, tick.Price, tick.Volume, tick.Side)
}

func dumpJSON(tag string, env *protocol.Envelope) {
	data, _ := json.Marshal(env)
	fmt.Printf("[%s] %s\n", tag, data)
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
