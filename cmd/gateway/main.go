package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocx/inference-gateway/internal/admission"
	"github.com/ocx/inference-gateway/internal/circuitbreaker"
	"github.com/ocx/inference-gateway/internal/config"
	"github.com/ocx/inference-gateway/internal/metrics"
	"github.com/ocx/inference-gateway/internal/proxy"
	"github.com/ocx/inference-gateway/internal/quota"
	"github.com/ocx/inference-gateway/internal/ratelimit"
	"github.com/ocx/inference-gateway/internal/reaper"
	"github.com/ocx/inference-gateway/internal/registry"
	"github.com/ocx/inference-gateway/internal/router"
	"github.com/ocx/inference-gateway/internal/transport"
)

// secs converts a fractional-seconds config value to a time.Duration without
// truncating the fractional part the way time.Duration(f)*time.Second would.
func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("fatal config error: %v", err)
	}

	if cfg.IsProduction() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	pools := map[string][]string{
		"chat":     cfg.Pools.Chat,
		"text2sql": cfg.Pools.Text2SQL,
		"embed":    cfg.Pools.Embed,
		"rerank":   cfg.Pools.Rerank,
	}
	reg := registry.New(pools, circuitbreaker.ConsecutiveConfig(
		"backend",
		cfg.Policy.Health.FailThreshold,
		cfg.Policy.Health.RecoverThreshold,
	))

	outboundClient := transport.New(transport.Options{})
	probeClient := &http.Client{Timeout: 5 * time.Second}

	unary := proxy.NewUnary(outboundClient, secs(cfg.Proxy.MaxRequestSecs))
	stream := proxy.NewStream(
		outboundClient,
		secs(cfg.Proxy.MaxRequestSecs),
		secs(cfg.Proxy.StreamIdleTimeoutSecs),
	)

	var limiter ratelimit.Limiter
	rlCfg := ratelimit.Config{
		MaxRPSPerIP: cfg.RateLimit.MaxRPSPerIP,
		Window:      secs(cfg.RateLimit.WindowSecs),
		Burst:       cfg.RateLimit.Burst,
	}
	if cfg.RateLimit.Algorithm == "token-bucket" {
		limiter = ratelimit.NewTokenBucket(rlCfg)
	} else {
		limiter = ratelimit.NewSlidingWindow(rlCfg)
	}

	queue := admission.NewQueue(cfg.Admission.MaxInflightPerIP, secs(cfg.Admission.QueueTimeoutSecs))
	metricsReg := metrics.New()
	reap := reaper.New(
		limiter,
		queue,
		secs(cfg.Reaper.PeriodSecs),
		secs(cfg.Reaper.IdleSecs),
	)
	orchestrator := admission.New(limiter, queue, metricsReg, reap)

	var accountant quota.Accountant = quota.NoopAccountant{}
	if cfg.Quota.RedisAddr != "" {
		acct, err := quota.NewRedisAccountant(cfg.Quota.RedisAddr, cfg.Quota.RedisPassword, cfg.Quota.RedisDB)
		if err != nil {
			slog.Warn("quota accountant disabled, falling back to no-op", "error", err)
		} else {
			accountant = acct
		}
	}
	defer accountant.Close()

	routeOverrides := make(map[string]string, len(cfg.Policy.Routes))
	for path, override := range cfg.Policy.Routes {
		routeOverrides[path] = override.UpstreamPath
	}

	handler := router.NewHandler(router.Deps{
		Registry:         reg,
		Unary:            unary,
		Stream:           stream,
		Orchestrator:     orchestrator,
		GatewayKey:       cfg.Auth.GatewayAPIKey,
		BackendKey:       cfg.Auth.BackendAPIKey,
		Metrics:          metricsReg,
		ChatBackendCount: len(cfg.Pools.Chat),
		Quota:            accountant,
		Routes:           router.WithOverrides(router.Table, routeOverrides),
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	prober := registry.NewProber(
		reg,
		probeClient,
		secs(cfg.Policy.Health.IntervalSecs),
		secs(cfg.Policy.Health.ProbeTimeoutSecs),
	)
	go prober.Run(bgCtx)
	go reap.Run(bgCtx)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("inference gateway starting", "addr", cfg.Server.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed to bind", "error", err)
		os.Exit(2)
	}

	slog.Info("server stopped")
}
