// Package app assembles the ReadPDF client: configuration, the expiring
// guest cache, the API client, and the identity, library and chat state the
// commands operate on.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/thanyathonk/read-pdf-anything/internal/cache"
	"github.com/thanyathonk/read-pdf-anything/internal/chat"
	"github.com/thanyathonk/read-pdf-anything/internal/config"
	"github.com/thanyathonk/read-pdf-anything/internal/gateway"
	"github.com/thanyathonk/read-pdf-anything/internal/identity"
	"github.com/thanyathonk/read-pdf-anything/internal/library"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

// App wires the client together. Commands reach the engine through its
// fields rather than constructing parts themselves.
type App struct {
	Config   *config.Config
	StateDir string
	Cache    *cache.Store
	API      *remote.Client
	Identity *identity.Coordinator
	Library  *library.Library
	Chat     *chat.Session
}

// New loads configuration and builds every component. Call Start to restore
// the session and warm state, and Close when done.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	stateDir, err := cfg.ResolveStateDir()
	if err != nil {
		return nil, err
	}

	cacheOpts := cache.Options{
		Backend:  cfg.Cache.Backend,
		DSN:      cfg.Cache.DSN,
		Addr:     cfg.Cache.Addr,
		Username: cfg.Cache.Username,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      cfg.Cache.TTL(),
	}
	if cacheOpts.DSN == "" && (cacheOpts.Backend == "sqlite" || cacheOpts.Backend == "sqlite3") {
		cacheOpts.DSN = filepath.Join(stateDir, "cache.db")
	}
	store, err := cache.Open(cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("open guest cache: %w", err)
	}

	timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	api := remote.NewClient(cfg.Remote.BaseURL, timeout)

	coord := identity.NewCoordinator(api, store, stateDir)
	lib := library.New(coord.Gateway(), api, library.Options{Epoch: coord.Epoch, Token: coord.Token})
	session := chat.New(coord.Gateway(), api, chat.Options{
		Epoch:    coord.Epoch,
		Token:    coord.Token,
		Selected: lib.SelectedDocumentIDs,
	})
	coord.Attach(lib, session)

	return &App{
		Config:   cfg,
		StateDir: stateDir,
		Cache:    store,
		API:      api,
		Identity: coord,
		Library:  lib,
		Chat:     session,
	}, nil
}

// Start evicts expired guest data, restores any stored session and loads the
// document list and transcript for the resulting identity.
func (a *App) Start(ctx context.Context) error {
	if err := a.Cache.PurgeExpired(ctx, gateway.GuestKeys()...); err != nil {
		log.Printf("app: purge expired guest data: %v", err)
	}
	if err := a.Identity.Restore(ctx); err != nil {
		return err
	}
	a.Library.Load(ctx)
	a.Chat.LoadHistory(ctx)
	return nil
}

// Close stops the upload worker and releases the cache.
func (a *App) Close() {
	a.Library.Close()
	if err := a.Cache.Close(); err != nil {
		log.Printf("app: close cache: %v", err)
	}
}
