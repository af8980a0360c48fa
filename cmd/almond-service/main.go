package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/ent0n29/almond/internal/app"
	"github.com/ent0n29/almond/internal/config"
	"github.com/ent0n29/almond/internal/dbusapi"
	"github.com/ent0n29/almond/internal/observability"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs on every path.
func run() int {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (debug|info|warn|error)")
	addr := cli.String("addr", "", "HTTP listen address")
	agentMode := cli.String("agent", "", "Dialogue agent mode (auto|websocket|http|openai|mock)")
	dbusMode := cli.String("dbus", "", "D-Bus export (session|off)")
	noColor := cli.Bool("no-color", false, "Disable colored log output")
	cli.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("env file not loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *agentMode != "" {
		cfg.AgentMode = *agentMode
	}
	if *dbusMode != "" {
		cfg.DBus = *dbusMode
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config error", "err", err)
		return 1
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, *noColor)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "err", err)
		}
	}()
	if built.VoiceDetail != "" {
		logger.Info("voice capabilities", "detail", built.VoiceDetail)
	}

	dbusServer, err := built.ServeDBus(logger)
	switch {
	case errors.Is(err, dbusapi.ErrNameTaken):
		logger.Error("another assistant instance owns the bus name", "err", err)
		return 1
	case err != nil:
		logger.Warn("D-Bus export disabled", "err", err)
	}
	if dbusServer != nil {
		defer func() {
			if err := dbusServer.Close(); err != nil {
				logger.Warn("D-Bus close failed", "err", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := built.Session.ReloadPreferences(); err != nil {
					logger.Warn("preference reload failed", "err", err)
				}
			case <-built.Session.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: built.API.Router(),
	}
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen error", "err", err)
			built.Session.Stop()
		}
	}()

	if err := built.Session.Run(ctx); err != nil {
		logger.Error("session failed", "err", err)
	}
	logger.Info("session ended; shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return 0
}
