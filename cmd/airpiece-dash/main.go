package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"airpiece/internal/config"
	"airpiece/internal/dashboard"
	"airpiece/internal/eventlog"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "airpiece.yaml", "Config file path")
	addr := cli.StringP("addr", "a", "", "Listen address, overrides dashboard.addr")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[*logLevel],
		TimeFormat: time.TimeOnly,
	})))

	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, *configPath)
	if err != nil {
		log.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Dashboard.Addr = *addr
	}

	store, err := eventlog.Open(cfg.Store.Path)
	if err != nil {
		log.Error("Failed to open event log", "path", cfg.Store.Path, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	srv, err := dashboard.New(store, dashboard.Options{
		Captures:     afero.NewBasePathFs(fs, cfg.Camera.CapturesDir),
		PollInterval: time.Duration(cfg.Dashboard.PollInterval) * time.Millisecond,
		Registerer:   reg,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	if err != nil {
		log.Error("Failed to build dashboard", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, cfg.Dashboard.Addr); err != nil {
		log.Error("Dashboard failed", "err", err)
		os.Exit(1)
	}
}
