package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"icalproxy/internal/config"
	"icalproxy/internal/fetch"
	appLog "icalproxy/internal/log"
	"icalproxy/internal/rules"
	"icalproxy/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(conf.LogLevel)

	// CLI --listen overrides the config file if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// Compile every calendar's rules up front; a bad declaration aborts
	// startup instead of failing requests later.
	ruleSets := make(map[string]rules.Set, len(conf.Calendars))
	for name, cal := range conf.Calendars {
		set, err := rules.Compile(cal)
		if err != nil {
			appLog.Error("failed to compile overrides", err, "calendar", name)
			os.Exit(1)
		}
		ruleSets[name] = set
	}

	appLog.Info("icalproxy starting",
		"listen", conf.Listen,
		"cache_dir", conf.CacheDir,
		"calendars", len(conf.Calendars),
		"metrics", conf.Metrics,
		"refresh", conf.Refresh,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.New(conf.CacheDir)
	server := web.NewServer(conf, ruleSets, fetcher)

	srv := &http.Server{
		Addr:         conf.Listen,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Optional background cache prewarm so client requests hit warm
	// cache entries. Failures are logged, never fatal.
	var scheduler *cron.Cron
	if conf.Refresh != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(conf.Refresh, func() {
			prewarm(ctx, conf, fetcher)
		})
		if err != nil {
			appLog.Error("invalid refresh schedule", err, "refresh", conf.Refresh)
			os.Exit(1)
		}
		scheduler.Start()
	}

	go func() {
		appLog.Info("HTTP server listening", "listen", conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", err)
	}
	appLog.Sync()
}

// prewarm refreshes the feed cache for every registered calendar.
func prewarm(ctx context.Context, conf *config.Config, fetcher *fetch.Fetcher) {
	for name, cal := range conf.Calendars {
		if ctx.Err() != nil {
			return
		}
		if _, err := fetcher.Fetch(ctx, name, cal); err != nil {
			appLog.Error("cache prewarm failed", err, "calendar", name)
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/icalproxy/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
