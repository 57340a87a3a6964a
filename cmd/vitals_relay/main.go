package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/vitals_relay/internal/api"
	"github.com/dgnsrekt/vitals_relay/internal/config"
	"github.com/dgnsrekt/vitals_relay/internal/ingest"
	"github.com/dgnsrekt/vitals_relay/internal/mqttingest"
	"github.com/dgnsrekt/vitals_relay/internal/netutil"
	"github.com/dgnsrekt/vitals_relay/internal/notify"
	"github.com/dgnsrekt/vitals_relay/internal/relay"
	"github.com/dgnsrekt/vitals_relay/internal/storage"
	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (overrides TELEMETRY_CONFIG_FILE)")
	envFiles := pflag.StringSlice("env-file", nil, "dotenv file(s) to load instead of ./.env")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		_, _ = io.WriteString(os.Stdout, version+"\n")
		return
	}

	cfg, err := config.Load(*configPath, *envFiles...)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("vitals_relay config loaded",
		"version", version,
		"bind_addr", cfg.BindAddr,
		"auto_fallback", cfg.AutoFallback,
		"fallback_addrs", cfg.FallbackAddrs,
		"history_capacity", cfg.HistoryCapacity,
		"queue_size", cfg.QueueSize,
		"write_timeout", cfg.WriteTimeout,
		"mqtt_enabled", cfg.MQTT.Enabled(),
		"journal_dir", cfg.Journal.Dir,
		"notify_enabled", cfg.Notify.Endpoint != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.FallbackAddrs, cfg.AutoFallback)
	if err != nil {
		slog.Error("failed to bind", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	store := telemetry.NewStore(cfg.HistoryCapacity, time.Now())
	broker := relay.NewBroker(cfg.QueueSize)

	var opts []ingest.Option
	var journal *storage.Journal
	if cfg.Journal.Dir != "" {
		journal = storage.NewJournal(cfg.Journal.Dir, cfg.Journal.MaxSizeMB, cfg.Journal.MaxAge)
		opts = append(opts, ingest.WithJournal(journal))
	}
	if cfg.Notify.Endpoint != "" {
		client := &http.Client{Timeout: cfg.Notify.Timeout}
		opts = append(opts, ingest.WithAlerter(notify.NewNotifier(client, cfg.Notify.Endpoint, cfg.Notify.Title)))
	}
	svc := ingest.NewService(store, broker, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consumer *mqttingest.Consumer
	if cfg.MQTT.Enabled() {
		consumer = mqttingest.NewConsumer(mqttingest.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, svc)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mqtt consumer failed to start", "broker", cfg.MQTT.Broker, "error", err)
			}
		}()
	}

	h := api.NewServer(svc, api.Options{
		MaxBodyBytes:  cfg.MaxBodyBytes,
		WriteTimeout:  cfg.WriteTimeout,
		SSEHeartbeat:  cfg.SSEHeartbeat,
		CORSOrigins:   cfg.CORSOrigins,
		StaticDir:     cfg.StaticDir,
		ServerVersion: version,
	})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	addr := ln.Addr().String()
	go func() {
		slog.Info("vitals_relay listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("vitals_relay server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("vitals_relay shutting down")

	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Push streams never finish on their own; disconnect them first.
	broker.Close(2 * time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("vitals_relay shutdown failed", "error", err)
	}
	svc.Wait()
	if journal != nil {
		if err := journal.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
