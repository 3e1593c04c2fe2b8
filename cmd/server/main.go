package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/chatnet/internal/auth"
	"github.com/Tyrowin/chatnet/internal/history"
	"github.com/Tyrowin/chatnet/internal/server"
	"github.com/Tyrowin/chatnet/internal/usage"
)

// Exit codes reported to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatnet terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	var envFile, port, logLevel string

	flagSet := pflag.NewFlagSet("chatnet", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file (default: .env when present)")
	flagSet.StringVar(&port, "port", "", "listen address, overrides SERVER_PORT")
	flagSet.StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR, overrides LOG_LEVEL")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, nil
		}
		return exitConfig, err
	}

	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			envFile = ".env"
		}
	}

	// 1. Configuration & logger
	cfg, err := server.LoadConfig(envFile)
	if err != nil {
		return exitConfig, err
	}
	if port != "" {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg = cfg.Sanitize()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return exitConfig, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 2. Message store (BadgerDB, in memory when no path is configured)
	store, err := history.Open(history.Options{
		Path:   cfg.BadgerFilepath,
		Logger: logger.With("component", "history"),
	})
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close message store", "error", err)
		}
	}()
	if cfg.BadgerFilepath == "" {
		logger.Warn("BADGER_FILEPATH not set, message history is kept in memory")
	}

	// 3. Server
	srv := server.New(cfg, server.Deps{
		Ledger:   usage.NewLedger(),
		Store:    store,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()
	logger.Info("Starting ChatNet server", "addr", cfg.Port)

	// 4. Wait for a signal or a listener failure
	select {
	case err := <-serveErr:
		if err != nil {
			return exitRuntime, fmt.Errorf("server failed: %w", err)
		}
		return exitOK, nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-serveErr; err != nil {
		return exitRuntime, err
	}

	logger.Info("Server stopped")
	return exitOK, nil
}
