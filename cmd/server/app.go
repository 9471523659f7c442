package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warp/rent-engine/config"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/lock"
	"github.com/warp/rent-engine/logger"
	"github.com/warp/rent-engine/rent"
	"github.com/warp/rent-engine/store/memory"
	"github.com/warp/rent-engine/store/sqlite"
)

// overrides are command-line values that take precedence over config.
type overrides struct {
	Port   string
	DBPath string
}

// app holds the wired dependencies shared by every command.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	svc  *rent.Service
	ping func(context.Context) error

	closers []func() error
}

func newApp(configPath string, o overrides, clock generic.Clock) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if o.Port != "" {
		cfg.App.Port = o.Port
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log = log.With(zap.String("service", cfg.App.Name))

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() error { _ = log.Sync(); return nil })

	repo, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.openLocker()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc = rent.NewService(repo, locker, clock,
		rent.WithLogger(log),
		rent.WithLockWait(cfg.Lock.Wait),
	)
	return a, nil
}

func (a *app) openStore() (rent.Repository, error) {
	path := a.cfg.Database.Path
	if path == ":memory:" {
		a.log.Warn("Using in-memory store; data is lost on exit")
		return memory.New(), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.ping = store.Ping
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) openLocker() (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case "redis":
		r, err := lock.NewRedis(lock.RedisConfig{
			Host:     a.cfg.Redis.Host,
			Port:     a.cfg.Redis.Port,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		}, a.cfg.Lock.TTL, a.log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.RedisAddr(), err)
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return lock.NewMemory(), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
