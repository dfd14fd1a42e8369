// Command worker consumes requests from the configured broker, runs the
// handler and publishes correlated replies. SIGINT or SIGTERM drains
// in-flight work before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/miladsoleymani/replymux/config"
	"github.com/miladsoleymani/replymux/internal/app"
	"github.com/miladsoleymani/replymux/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	l := logger.Setup(logger.Options{Level: cfg.LogLevel, Console: cfg.ConsoleLogs()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := app.Build(cfg, l)
	if err != nil {
		l.Error("startup failed", "error", err)
		return 1
	}

	if err := w.Run(ctx); err != nil {
		l.Error("worker failed", "error", err)
		return 1
	}
	l.Info("worker exited cleanly")
	return 0
}
