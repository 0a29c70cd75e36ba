// Command creator serves the Creator MVP starter page.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/creatormvp/live/internal/cmd/creator"
	"github.com/creatormvp/live/internal/config"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("load config")
	}
	logger, err := creator.NewLogger(cfg)
	if err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("build logger")
	}

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("creator failed")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return creator.Run(ctx, cfg)
}
