package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/event"
	"github.com/HerbHall/netreach/internal/history"
	"github.com/HerbHall/netreach/internal/notify"
	"github.com/HerbHall/netreach/internal/reach"
	"github.com/HerbHall/netreach/internal/registry"
	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/internal/store"
	"github.com/HerbHall/netreach/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach: %v\n", err)
		return 1
	}
	logger, err := newLogger(v.GetString("log.level"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(v.GetString("server.host"), v.GetInt("server.port"), config.New(v), logger); err != nil {
		logger.Error("netreach stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func serve(host string, port int, cfg *config.ViperConfig, logger *zap.Logger) error {
	logger.Info("NetReach server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db plugin.Store
	if cfg.GetBool("plugins.history.enabled") {
		s, err := store.NewContext(ctx, cfg.GetString("history.path"))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Checkpoint(context.Background()); err != nil {
				logger.Warn("WAL checkpoint failed", zap.Error(err))
			}
			if err := s.Close(); err != nil {
				logger.Warn("failed to close store", zap.Error(err))
			}
		}()
		db = s
	}

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger)

	// Compile-time composition.
	plugins := []plugin.Plugin{
		reach.New(),
		history.New(nil),
		notify.New(),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return err
		}
		name := p.Info().Name
		if !cfg.GetBool("plugins." + name + ".enabled") {
			if err := reg.Disable(name, "disabled by configuration"); err != nil {
				return err
			}
		}
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg,
			Logger: logger.Named(name),
			Bus:    bus,
			Store:  db,
		}
	})
	if err != nil {
		return err
	}
	reg.Subscribe(bus)
	if err := reg.StartAll(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := server.New(addr, reg, nil, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	logger.Info("NetReach server ready", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-serveErr:
		if err == nil {
			err = errors.New("HTTP server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", zap.Error(serr))
	}
	reg.StopAll(shutdownCtx)

	logger.Info("NetReach server stopped")
	return err
}
