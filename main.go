package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"accel-gap-monitor/cache"
	"accel-gap-monitor/config"
	"accel-gap-monitor/handlers"
	"accel-gap-monitor/ingest"
	"accel-gap-monitor/session"
	"accel-gap-monitor/transport"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:          "accel-gap-monitor",
		Short:        "Accelerometer telemetry ingestion and gap detection service",
		SilenceUsage: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MQTT ingestion pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, dir)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	serve.Flags().String("config", ".", "directory containing config.yaml")
	serve.Flags().String("addr", ":8080", "HTTP listen address")
	serve.Flags().String("broker", "tcp://localhost:1883", "MQTT broker URL (tcp:// or ssl://)")
	serve.Flags().String("redis", "localhost:6379", "Redis address")
	serve.Flags().String("feed-mode", "refresh", "live series feed: direct or refresh")
	serve.Flags().String("embedded-broker", "", "start an in-process MQTT broker on this address")
	bindFlags(v, serve, map[string]string{
		"server.addr":          "addr",
		"broker.url":           "broker",
		"redis.addr":           "redis",
		"pipeline.feed_mode":   "feed-mode",
		"broker.embedded_addr": "embedded-broker",
	})

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	feedMode, err := ingest.ParseFeedMode(cfg.Pipeline.FeedMode)
	if err != nil {
		return err
	}

	if cfg.Broker.EmbeddedAddr != "" {
		broker, err := transport.StartEmbeddedBroker(cfg.Broker.EmbeddedAddr, logger.With("component", "broker"))
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer broker.Close()
		logger.Info("embedded MQTT broker listening", "addr", cfg.Broker.EmbeddedAddr)
	}

	redisClient, err := cache.NewRedisClient(ctx, cache.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		ReportTTL: cfg.Redis.ReportTTL,
	})
	if err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	mqttClient := transport.NewMQTTClient(transport.Options{
		URL:            cfg.Broker.URL,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		QoS:            byte(cfg.Broker.QoS),
	}, logger.With("component", "mqtt"))

	// A failed initial connect leaves the service up; users reconnect via
	// POST /broker/connect.
	if cfg.Broker.AutoConnect {
		_ = mqttClient.Connect(ctx)
	}

	sessionHandler := handlers.NewSessionHandler(redisClient, mqttClient, session.Settings{
		FeedMode:        feedMode,
		RefreshInterval: cfg.Pipeline.RefreshInterval,
		VisiblePoints:   cfg.Pipeline.VisiblePoints,
		HistoryPoints:   cfg.Pipeline.HistoryPoints,
	}, logger)

	r := mux.NewRouter()
	sessionHandler.Register(r)
	r.Path("/metrics").Handler(promhttp.Handler())

	srv := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	sessionHandler.Sessions().StopAll(shutdownCtx)
	if err := mqttClient.Disconnect(); err != nil {
		logger.Warn("broker disconnect failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
