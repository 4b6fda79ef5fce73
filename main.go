package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"wapor-downloader/internal/config"
	"wapor-downloader/internal/logging"
)

func main() {
	fs := afero.NewOsFs()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := config.LoadEnvironment(".env")
	if err != nil {
		logging.NewFromEnv().Error("Failed to load environment", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, env.DebugEnabled())

	app := NewApp(fs, env, logger)
	err = NewRootCommand(app).ExecuteContext(ctx)
	app.Shutdown()
	if err != nil {
		logger.Error("Command failed", "err", err)
		os.Exit(1)
	}
}
