package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/config"
	"github.com/ssd-technologies/nebulon/internal/linkverify"
	"github.com/ssd-technologies/nebulon/internal/registry"
	"github.com/ssd-technologies/nebulon/internal/server"
	"github.com/ssd-technologies/nebulon/internal/storage"
	"github.com/ssd-technologies/nebulon/internal/storage/badgerstore"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	var authority ed25519.PrivateKey
	if cfg.Authority.KeyFile != "" {
		authority, err = agent.LoadKey(cfg.Authority.KeyFile)
		if err != nil {
			return fmt.Errorf("authority key: %w", err)
		}
	}

	hub := server.NewHub(logger.Named("events"))
	svc, err := registry.New(store,
		registry.WithPolicy(cfg.Policy),
		registry.WithLogger(logger.Named("registry")),
		registry.WithNotifier(hub.Publish),
	)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	verifier := linkverify.New(linkverify.Config{
		Platforms: cfg.PlatformHosts(),
		Timeout:   cfg.LinkVerify.Timeout,
		Prefix:    cfg.LinkVerify.Prefix,
	}, nil, logger.Named("linkverify"))

	srv := server.New(svc, hub, server.Options{
		AdminSecret:   cfg.Server.AdminSecret,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
		Authority:     authority,
		Verifier:      verifier,
		LinkBonus:     cfg.LinkVerify.Bonus,
		TierInterval:  cfg.Workers.TierInterval,
		AuditInterval: cfg.Workers.AuditInterval,
		Logger:        logger.Named("server"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.StartWorkers(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	fields := []zap.Field{
		zap.String("listen", cfg.Server.Listen),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("vault", svc.VaultAddress().String()),
	}
	if a := srv.Authority(); a != "" {
		fields = append(fields, zap.String("authority", a.String()))
	} else {
		logger.Warn("no authority key configured; tier recalculation and link verification are off")
	}
	logger.Info("nebulon running", fields...)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			srv.Close()
			return fmt.Errorf("listen: %w", err)
		}
	}

	stop()
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore opens the configured ledger backend.
func openStore(cfg config.StorageConfig, logger *zap.Logger) (registry.Store, func() error, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	switch cfg.Backend {
	case config.BackendBadger:
		bc := badgerstore.DefaultConfig(cfg.BadgerDir())
		bc.Logger = logger.Named("badger")
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		return s, s.Close, nil
	default:
		db, err := storage.NewDB(cfg.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return db, db.Close, nil
	}
}
