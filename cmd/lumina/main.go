package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/luminahq/lumina/internal/adapters/api"
	"github.com/luminahq/lumina/internal/adapters/repository"
	"github.com/luminahq/lumina/internal/config"
	"github.com/luminahq/lumina/internal/core/services"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	store, closeStore, err := repository.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := closeStore(); errClose != nil {
			logger.Error("failed to close store", "error", errClose)
		}
	}()

	svc := services.NewLicenseService(store, services.KeyOptions{
		Prefix: cfg.License.KeyPrefix,
		Length: cfg.License.KeyLength,
	})
	gate := services.NewAuthService(store, services.AuthConfig{
		AdminUsername:     cfg.Security.AdminUsername,
		AdminPasswordHash: cfg.Security.AdminPasswordHash,
		APIKey:            cfg.Security.APIKey,
		SecretKey:         cfg.Security.SecretKey,
		TokenTTL:          cfg.Security.TokenTTL,
	})

	mux := http.NewServeMux()
	api.NewAPIHandler(svc, gate).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("license server listening",
			"addr", srv.Addr, "backend", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
