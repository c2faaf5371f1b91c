package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/auth"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/cache"
	"github.com/dctx/routex/internal/config"
	"github.com/dctx/routex/internal/crypto"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/proxy"
	"github.com/dctx/routex/internal/ratelimit"
	"github.com/dctx/routex/internal/router"
	"github.com/dctx/routex/internal/server"
	"github.com/dctx/routex/internal/storage/sqlite"
	"github.com/dctx/routex/internal/tee"
	"github.com/dctx/routex/internal/telemetry"
	"github.com/dctx/routex/internal/tokencount"
	"github.com/dctx/routex/internal/transform"
	"github.com/dctx/routex/internal/worker"
	"go.opentelemetry.io/otel/trace"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting routex", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			slog.Warn("api key empty, skipped", "name", k.Name)
			continue
		}
		valid := strings.HasPrefix(k.Key, routex.AdminKeyPrefix)
		slog.Info("api key configured", "name", k.Name, "valid_prefix", valid)
	}

	// Credential box for at-rest Channel API key / refresh token encryption.
	// A nil box leaves credentials stored (and read back) as plaintext,
	// matching config.Bootstrap's own no-crypto-configured convenience.
	var box *crypto.Box
	if cfg.Crypto.Passphrase != "" {
		salt, err := hex.DecodeString(cfg.Crypto.Salt)
		if err != nil {
			return fmt.Errorf("crypto salt: %w", err)
		}
		box, err = crypto.New(cfg.Crypto.Passphrase, salt)
		if err != nil {
			return fmt.Errorf("crypto box: %w", err)
		}
		slog.Info("credential encryption enabled")
	} else {
		slog.Warn("crypto passphrase not configured, channel credentials stored in plaintext")
	}

	for _, c := range cfg.Channels {
		slog.Info("channel configured", "name", c.Name, "vendor", c.Vendor, "enabled", c.IsEnabled())
	}

	// Read-through cache backing channel/routing lookups on the hot path.
	mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
	if err != nil {
		return err
	}
	cacheStore := cache.NewStore(mem, cache.NewController(cache.DefaultClassConfig()))
	channels := server.NewChannelProvider(cacheStore, store)

	prices := server.NewPriceTable(store)
	if err := prices.Refresh(ctx); err != nil {
		return fmt.Errorf("load model prices: %w", err)
	}

	healthReg := health.NewRegistry(health.DefaultConfig())
	lb := balancer.New(balancer.StrategyPriority, time.Now().UnixNano())
	ruleRouter := router.New(store)
	transformers := transform.NewRegistry()

	// Shared DNS cache for every channel's outbound HTTP client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()
	upstreamClient := &http.Client{Transport: proxy.NewTransport(dnsResolver)}

	// Admin authentication over the persisted API key table.
	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}

	// Finalized request logs are buffered and batch-flushed async.
	logFlusher := worker.NewRequestLogFlusher(store)

	// Tee fan-out dispatcher.
	teeDispatcher := tee.NewDispatcher(store, http.DefaultClient, tee.DefaultQueueDepth, 4)

	// Identity-scoped RPM/TPM limiting and fixed-window ingress presets.
	identityLimiter := ratelimit.NewRegistry()
	windows := ratelimit.NewWindowRegistry()
	tokenCounter := tokencount.NewCounter()
	slog.Info("rate limits configured",
		"default_rpm", cfg.RateLimits.DefaultRPM,
		"default_tpm", cfg.RateLimits.DefaultTPM,
	)

	// Prometheus metrics.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var spanRecorder *telemetry.SpanRecorder
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		recorder, shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			spanRecorder = recorder
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("routex/server")
			slog.Info("opentelemetry tracing enabled",
				"endpoint", endpoint,
				"sample_rate", sampleRate,
			)
		}
	}

	// Outbound proxy engine.
	eng := proxy.NewEngine(
		channels,
		lb,
		healthReg,
		ruleRouter,
		transformers,
		server.NewOptionalDecrypter(box),
		store,
		logFlusher,
		teeDispatcher,
		prices,
		upstreamClient,
		tracer,
	)

	oauthProviders := server.BuildOAuthProviders(cfg.OAuth)

	handler := server.New(server.Deps{
		Auth:            apiKeyAuth,
		Store:           store,
		Engine:          eng,
		Channels:        channels,
		Prices:          prices,
		Balancer:        lb,
		RuleRoute:       ruleRouter,
		Health:          healthReg,
		Transform:       transformers,
		Tee:             teeDispatcher,
		OAuthProviders:  oauthProviders,
		KeyInvalidator:  apiKeyAuth,
		Windows:         windows,
		IdentityLimiter: identityLimiter,
		TokenCounter:    tokenCounter,
		SignatureSecret: cfg.Auth.SignatureSecret,
		Metrics:         metrics,
		MetricsHandler:  metricsHandler,
		Tracer:          tracer,
		SpanRecorder:    spanRecorder,
		ReadyCheck:      store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Background workers: request log flushing, health-record eviction,
	// quota rollup, tee fan-out.
	workers := []worker.Worker{
		logFlusher,
		worker.NewHealthSweepWorker(healthReg),
		worker.NewQuotaSyncWorker(ratelimit.NewQuotaTracker(), store),
		teeDispatcher,
	}
	runner := worker.NewRunner(workers...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	// Periodic eviction of stale identity rate limiters.
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				identityLimiter.EvictStale(time.Now().Add(-1 * time.Hour))
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("hot path enabled",
		"endpoints", []string{
			"POST /v1/messages",
			"POST /v1/chat/completions",
			"POST /v1/models/{modelAction}",
		},
	)
	slog.Info("routex ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("routex stopped")
	return nil
}
