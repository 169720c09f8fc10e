package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chargepoint/libs/logging"

	"chargepoint/internal/app"
	"chargepoint/internal/config"
)

// exitRestart tells the process supervisor a Reset asked for a restart.
const exitRestart = 3

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize charge point", zap.Error(err))
	}

	err = application.Run(ctx)
	application.Close()
	switch {
	case errors.Is(err, app.ErrRestart):
		_ = logger.Sync()
		os.Exit(exitRestart)
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Fatal("charge point stopped with error", zap.Error(err))
	}
}
