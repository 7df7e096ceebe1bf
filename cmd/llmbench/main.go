// Package main is the entry point for the llmbench server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmbench/config"
	"llmbench/internal/app"
	"llmbench/internal/logging"

	// Import provider packages to trigger their init() registration
	_ "llmbench/internal/providers/builtin"
	"llmbench/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to llmbench.yaml (default: ./llmbench.yaml or ./config/llmbench.yaml)")
	validateFlag := flag.Bool("validate", false, "Check connectivity of every configured provider and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.Logging))

	// Log the version immediately on startup
	slog.Info("starting llmbench",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, app.Config{AppConfig: cfg})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if *validateFlag {
		code := application.Validate(ctx, os.Stdout)
		_ = application.Shutdown(context.Background())
		os.Exit(code)
	}

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed to start", "error", err)
		os.Exit(1)
	}
}
