// Command taskmill runs the task-scheduling engine behind an HTTP control
// surface.
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

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/engine"
	"github.com/taskmill/taskmill/pkg/storage"
	"github.com/taskmill/taskmill/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "taskmill:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		listen     = flag.String("listen", "", "listen address (overrides config)")
		dataPath   = flag.String("data", "", "database file or data directory (overrides config)")
		driver     = flag.String("driver", "", "storage driver: sqlite or file (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataPath != "" {
		cfg.Storage.Path = *dataPath
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engCfg := cfg.engineConfig()
	engCfg.Logger = logger
	eng, err := engine.New(ctx, store, engCfg)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      web.Handler(eng, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Listen,
			"driver", cfg.Storage.Driver, "path", cfg.Storage.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	eng.Stop()
	return nil
}

func openStorage(cfg fileConfig) (core.Storage, error) {
	switch cfg.Storage.Driver {
	case "file":
		return storage.NewFileStorage(cfg.Storage.Path), nil
	default:
		db, err := gorm.Open(sqlite.Open(cfg.Storage.Path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return storage.NewGormStorage(db), nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
