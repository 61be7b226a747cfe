package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meur/mistbook/internal/api"
	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/config"
	"github.com/meur/mistbook/internal/logging"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("MISTBOOK_CONFIG"), "TOML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}

	log := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	broker := realtime.NewBroker(64)
	store, err := storage.New(cfg.DB.Path, broker)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	authSvc := auth.NewService(store, cfg.Auth.Secret, cfg.Auth.SessionTTL.Duration)
	srv := api.New(store, authSvc, broker, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	if cfg.Server.StaticDir != "" {
		serveWebClient(srv.Router(), cfg.Server.StaticDir)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("mistbook api starting", slog.String("addr", cfg.Server.Addr), slog.String("db", cfg.DB.Path))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
