package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/streamgrab/backend/internal/api"
	"github.com/streamgrab/backend/internal/cache"
	"github.com/streamgrab/backend/internal/config"
	"github.com/streamgrab/backend/internal/converter"
	"github.com/streamgrab/backend/internal/downloader"
	"github.com/streamgrab/backend/internal/extractor"
	"github.com/streamgrab/backend/internal/health"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/metrics"
	"github.com/streamgrab/backend/internal/orchestrator"
	"github.com/streamgrab/backend/internal/stream"
	"github.com/streamgrab/backend/internal/websocket"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg := config.Load()

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "bridge")
	logger.SetDefault(log)

	ctx := context.Background()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Error(ctx, "failed to create output directory", err, map[string]interface{}{
			"dir": cfg.OutputDir,
		})
		os.Exit(1)
	}

	// Redirect cache is optional; the pipeline runs without it.
	var redirectCache extractor.RedirectCache
	var cachePing func(context.Context) error
	if cfg.RedisAddr != "" {
		c, err := cache.New(cfg.RedisAddr)
		if err != nil {
			log.Warn(ctx, "redirect cache unavailable, continuing without it", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
		} else {
			redirectCache = c
			cachePing = c.Ping
			defer c.Close()
		}
	}

	ids := identity.NewProvider()
	engine := downloader.NewEngine(ids.BrowserUserAgent(), cfg.HTTPTimeout, cfg.MaxRetries, cfg.RetryBaseDelay)
	transcoder := converter.New(cfg.FFmpegPath, cfg.FFprobePath)

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	registry := extractor.DefaultRegistry(client, ids, engine, redirectCache)

	hub := websocket.NewHub()
	go hub.Run()
	wsHandler := websocket.NewHandler(hub, cfg.CORSAllowedOrigins)

	m := metrics.Default()
	history := stream.NewHistory(stream.DefaultHistorySize)

	sinks := orchestrator.EventSinks{
		websocket.NewEventBridge(hub),
		history,
		api.NewMetricsSink(m),
	}

	orch := orchestrator.New(registry, engine, transcoder, cfg.OutputDir, sinks)

	checker := health.NewChecker(&health.CheckerConfig{
		FFmpegPath: cfg.FFmpegPath,
		OutputDir:  cfg.OutputDir,
		CachePing:  cachePing,
		Version:    version,
		Timeout:    5 * time.Second,
	})

	router := api.NewRouter(
		api.NewMediaHandlers(orch, m),
		stream.NewHandler(history),
		wsHandler,
		health.NewHandler(checker),
		m,
	)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	server := &http.Server{
		Addr:              cfg.BridgeAddr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info(ctx, "bridge listening", map[string]interface{}{
			"addr":       cfg.BridgeAddr,
			"output_dir": cfg.OutputDir,
			"version":    version,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server failed", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info(ctx, "shutting down", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}
