package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/config"
	"github.com/chorequest/chorequest/internal/logging"
	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/remote"
	"github.com/chorequest/chorequest/internal/sync"
)

// app bundles the pieces every command needs: resolved state directory,
// config, logger and the open local cache.
type app struct {
	stateDir string
	cfg      *config.Config
	log      *zap.Logger
	store    *cache.Store
}

// openApp loads configuration and opens the local cache, exiting on
// failure. Commands call this first and defer close().
func openApp() *app {
	stateDir := config.FindStateDir()

	cfg, err := config.Load(stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := cache.Open(config.CachePath(stateDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	if err := store.InitSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing cache: %v\n", err)
		os.Exit(1)
	}

	return &app{stateDir: stateDir, cfg: cfg, log: logger, store: store}
}

func (a *app) close() {
	_ = a.log.Sync()
	_ = a.store.Close()
}

// requireOwner returns the configured owner, exiting with a hint when
// the config is incomplete.
func (a *app) requireOwner() string {
	if a.cfg.OwnerID == "" {
		fmt.Fprintf(os.Stderr, "Error: owner_id is not configured\n")
		fmt.Fprintf(os.Stderr, "Set owner_id in %s or via CHOREQUEST_OWNER_ID\n",
			a.stateDir+"/config.yaml")
		os.Exit(1)
	}
	return a.cfg.OwnerID
}

func (a *app) syncOptions() sync.Options {
	return sync.Options{
		Interval:    a.cfg.Sync.Interval,
		BatchSize:   a.cfg.Sync.BatchSize,
		WorkerLimit: a.cfg.Sync.WorkerLimit,
		Logger:      a.log,
	}
}

// openRemote connects to the shared store. Returns nil when no remote is
// configured or it is unreachable; callers treat nil as offline.
func (a *app) openRemote() *remote.Store {
	if a.cfg.Remote.URL == "" {
		return nil
	}

	rs, err := remote.Open(a.cfg.RemoteURL())
	if err != nil {
		a.log.Warn("remote store unreachable, working offline", zap.Error(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rs.InitSchema(ctx); err != nil {
		a.log.Warn("remote schema init failed, working offline", zap.Error(err))
		_ = rs.Close()
		return nil
	}
	return rs
}

// engine builds the sync orchestrator over the local cache. The remote
// side may be nil; queueing mutations still works and the queue drains
// on a later online run.
func (a *app) engine() (*sync.Orchestrator, *remote.Store) {
	rs := a.openRemote()
	if rs == nil {
		return sync.New(a.store, nil, a.syncOptions()), nil
	}
	return sync.New(a.store, sync.Remote{Store: rs}, a.syncOptions()), rs
}

// findCategory resolves a category by name or ID, exiting when no match
// exists.
func (a *app) findCategory(ctx context.Context, owner, nameOrID string) *model.Category {
	cats, err := a.store.GetCategories(ctx, owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing categories: %v\n", err)
		os.Exit(1)
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, nameOrID) || c.ID == nameOrID {
			return c
		}
	}
	fmt.Fprintf(os.Stderr, "Error: unknown category %q\n", nameOrID)
	fmt.Fprintf(os.Stderr, "Run 'cq categories list' to see what exists\n")
	os.Exit(1)
	return nil
}
