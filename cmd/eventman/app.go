package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/reminder"
	"github.com/eventman/eventman-live/eventman/rest"
	"github.com/eventman/eventman-live/eventman/session"
	"github.com/eventman/eventman-live/eventman/video"
)

// app holds what every command builds from the configuration.
type app struct {
	cfg      Config
	out      io.Writer
	logger   *slog.Logger
	log      eventman.Logger
	registry *prometheus.Registry
	metrics  *eventman.Metrics
	session  *session.Session
}

func newApp(cfg Config, out io.Writer, notifier reminder.Notifier) *app {
	logger := newLogger(cfg.Log, os.Stderr)
	log := eventman.NewSlogLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := eventman.NewMetrics(reg)

	api := rest.NewClient(cfg.APIURL)
	transport := eventman.NewClient(cfg.realtime())
	transport.SetLogger(log)
	transport.SetMetrics(metrics)

	sched := reminder.New(cfg.reminders(), notifier,
		reminder.WithLogger(log),
		reminder.WithMetrics(metrics),
	)

	return &app{
		cfg:      cfg,
		out:      out,
		logger:   logger,
		log:      log,
		registry: reg,
		metrics:  metrics,
		session:  session.New(api, transport, sched, log),
	}
}

func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// authenticate adopts the configured token.
func (a *app) authenticate(ctx context.Context) (session.Identity, error) {
	if a.cfg.Token == "" {
		return session.Identity{}, errors.New("no access token: run `eventman login` and set EVENTMAN_TOKEN")
	}
	id, err := a.session.Authenticate(ctx, a.cfg.Token)
	if err != nil {
		return id, fmt.Errorf("authenticate: %w", err)
	}
	if id.Expired(time.Now()) {
		return id, errors.New("access token expired: run `eventman login` again")
	}
	return id, nil
}

// videoController builds the terminal video controller rendering into out.
func (a *app) videoController() *video.Controller {
	loader := video.NewScriptCache(video.HTTPScriptLoader{Domain: a.cfg.Video.Domain})
	return video.NewController(loader, video.LinkFactory(), video.NewTextMount(a.out),
		video.WithDomain(a.cfg.Video.Domain),
		video.WithStartMuted(a.cfg.Video.StartMuted),
		video.WithLogger(a.log),
		video.WithMetrics(a.metrics),
	)
}

// serveMetrics exposes the registry on metrics_addr until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
}
