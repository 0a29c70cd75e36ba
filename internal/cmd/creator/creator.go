// Package creator wires configuration, sessions, pubsub, tracing and the
// starter page into a runnable live server.
package creator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/creatormvp/live"
	"github.com/creatormvp/live/internal/config"
	"github.com/creatormvp/live/internal/page"
	"github.com/creatormvp/live/internal/telemetry"
	"github.com/creatormvp/live/livenats"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	serviceName = "creator"
	streamName  = "CREATOR"
)

// NewLogger builds the process logger the same way the engine does, tagged
// with the service name.
func NewLogger(cfg config.Config) (zerolog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return zerolog.Nop(), err
	}
	return live.NewLogger(cfg.DevMode, lvl).With().Str("service", serviceName).Logger(), nil
}

// Build assembles the live app for cfg. The returned cleanup releases what
// Build opened and is safe to call after the app has shut down.
func Build(ctx context.Context, cfg config.Config) (*live.V, func(), error) {
	brand, err := page.LookupBrand(cfg.Brand)
	if err != nil {
		return nil, nil, fmt.Errorf("default brand: %w", err)
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}

	v := live.New()
	v.Config(live.Options{DevMode: cfg.DevMode, LogLevel: &lvl})
	logger := v.Logger().With().Str("service", serviceName).Logger()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	title := cfg.DocumentTitle
	if title == "" {
		title = brand.Title
	}
	opts := live.Options{
		DevMode:         cfg.DevMode,
		LogLevel:        &lvl,
		ServerAddress:   cfg.HTTPAddr,
		DocumentTitle:   title,
		DatastarURL:     cfg.DatastarURL,
		ContextTTL:      cfg.ContextTTL,
		ActionRateLimit: live.RateLimitConfig{Rate: cfg.ActionRate, Burst: cfg.ActionBurst},
	}
	if cfg.OTLPEndpoint != "" {
		opts.Middleware = append(opts.Middleware, telemetry.Middleware(serviceName))
	}

	if cfg.SessionDB != "" {
		db, err := sql.Open("sqlite3", cfg.SessionDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open session db: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		sm, err := live.NewSQLiteSessionManager(db)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		opts.SessionManager = sm
	}

	if cfg.NATSDir != "" {
		ps, err := livenats.New(ctx, cfg.NATSDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := ps.EnsureStream(streamName, "creator.>"); err != nil {
			_ = ps.Close()
			cleanup()
			return nil, nil, err
		}
		if _, err := ps.Subscribe(page.ClickSubject, logClicks(logger)); err != nil {
			_ = ps.Close()
			cleanup()
			return nil, nil, err
		}
		opts.PubSub = ps
	}

	v.Config(opts)
	v.HTTPServeMux().HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	page.New(brand, logger).Mount(v)

	return v, cleanup, nil
}

func logClicks(logger zerolog.Logger) func([]byte) {
	return func(data []byte) {
		var evt page.ClickEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Warn().Err(err).Msg("undecodable click event")
			return
		}
		logger.Info().
			Str("brand", evt.Brand).
			Int("count", evt.Count).
			Time("at", evt.At).
			Msg("counter clicked")
	}
}

// Run serves the creator page until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	v, cleanup, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := v.Logger().With().Str("service", serviceName).Logger()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		v.Shutdown()
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.HTTPAddr).Str("brand", cfg.Brand).Msg("starting creator page")
	if err := v.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
