// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/syncmq/config"
	tlsconf "github.com/absmach/syncmq/pkg/tls"
	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/ratelimit"
	"github.com/absmach/syncmq/server/api"
	"github.com/absmach/syncmq/server/health"
	"github.com/absmach/syncmq/server/http"
	"github.com/absmach/syncmq/server/otel"
	"github.com/absmach/syncmq/server/websocket"
	"github.com/absmach/syncmq/webhook"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting syncmq", "version", version, "node_id", cfg.Server.NodeID)
	slog.Info("Configuration loaded",
		"api_enabled", cfg.Server.APIEnabled,
		"api_listener", cfg.Server.APIAddr,
		"http_enabled", cfg.Server.HTTPEnabled,
		"http_listener", cfg.Server.HTTPAddr,
		"ws_enabled", cfg.Server.WSEnabled,
		"ws_listener", cfg.Server.WSAddr,
		"health_enabled", cfg.Server.HealthEnabled,
		"max_message_size", cfg.Queue.MaxMessageSize,
		"lock", cfg.Queue.Lock,
		"log_level", cfg.Log.Level)

	var notifier queue.Notifier
	var webhooks *webhook.Notifier
	if cfg.Webhook.Enabled {
		wh, err := webhook.NewNotifier(cfg.Webhook, cfg.Server.NodeID, webhook.NewHTTPSender(nil), logger)
		if err != nil {
			slog.Error("Failed to initialize webhooks", "error", err)
			os.Exit(1)
		}
		webhooks = wh
		notifier = wh
		slog.Info("Webhooks enabled",
			"endpoints", len(cfg.Webhook.Endpoints),
			"workers", cfg.Webhook.Workers,
			"queue_size", cfg.Webhook.QueueSize)
	} else {
		slog.Info("Webhooks disabled")
	}

	var otelShutdown otel.ShutdownFunc
	var metrics *otel.Metrics
	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(cfg.Server)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)

		if cfg.Server.OtelMetricsEnabled {
			m, err := otel.NewMetrics(nil)
			if err != nil {
				slog.Error("Failed to create metrics", "error", err)
				os.Exit(1)
			}
			metrics = m
			slog.Info("OTel metrics enabled")
		}
		if cfg.Server.OtelTracesEnabled {
			slog.Info("Distributed tracing enabled", "sample_rate", cfg.Server.OtelTraceSampleRate)
		}
	}

	limiter := ratelimit.NewManager(cfg.RateLimit)
	defer limiter.Stop()
	if metrics != nil {
		limiter.OnReject = metrics.RecordRateLimited
	}
	if cfg.RateLimit.Enabled {
		slog.Info("Rate limiting enabled",
			"send_rate", cfg.RateLimit.Send.Rate,
			"request_rate", cfg.RateLimit.Request.Rate)
	}

	reg, err := queue.NewRegistry(queue.Options{
		MaxMessageSize: cfg.Queue.MaxMessageSize,
		MaxQueues:      cfg.Queue.MaxQueues,
		Lock:           cfg.Queue.Lock,
	})
	if err != nil {
		slog.Error("Failed to create queue registry", "error", err)
		os.Exit(1)
	}

	svcCfg := queue.ServiceConfig{
		SendTimeout:    cfg.Queue.SendTimeout,
		ReceiveTimeout: cfg.Queue.ReceiveTimeout,
		IncludePayload: cfg.Webhook.IncludePayload,
		Logger:         logger,
		Notifier:       notifier,
		Limiter:        limiter,
	}
	if metrics != nil {
		svcCfg.Metrics = metrics
	}
	service := queue.NewService(reg, svcCfg)

	tlsCfg, err := tlsconf.LoadTLSConfig(&cfg.Server.TLS)
	if err != nil {
		slog.Error("Failed to load TLS configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Listener security", slog.String("status", tlsconf.SecurityStatus(tlsCfg)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 4)

	if cfg.Server.APIEnabled {
		apiServer := api.New(api.Config{
			Address:         cfg.Server.APIAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			TLSConfig:       tlsCfg,
		}, service, limiter, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HTTPEnabled {
		httpServer := http.New(http.Config{
			Address:         cfg.Server.HTTPAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			TLSConfig:       tlsCfg,
		}, service, limiter, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.WSEnabled {
		wsServer := websocket.New(websocket.Config{
			Address:         cfg.Server.WSAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, service, limiter, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wsServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HealthEnabled {
		var stats health.WebhookStats
		if webhooks != nil {
			stats = webhooks
		}
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			NodeID:          cfg.Server.NodeID,
		}, reg, stats, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("syncmq started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	// Closing the service first wakes every blocked Send and Receive so the
	// transports can drain.
	service.Close()
	cancel()
	wg.Wait()

	if webhooks != nil {
		if err := webhooks.Close(); err != nil {
			slog.Error("Failed to stop webhooks", "error", err)
		}
	}

	if otelShutdown != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		} else {
			slog.Info("OpenTelemetry shutdown complete")
		}
	}

	slog.Info("syncmq stopped")
}
