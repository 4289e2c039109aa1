package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/config"
	"github.com/kalambet/shelf/internal/gist"
	"github.com/kalambet/shelf/internal/library"
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/preview"
	"github.com/kalambet/shelf/internal/storage"
)

// app is the set of services one command invocation works with.
type app struct {
	cfg        config.Config
	categories material.Categories
	keychain   config.Keychain
	settings   *config.Settings
	store      *storage.Store
	library    *library.Manager
	backup     *backup.Service
	preview    *preview.Session
}

// openApp loads configuration and opens the local library. Tests replace it.
var openApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return newApp(cfg, store, config.OpenSettings(cfg), config.NewKeychain()), nil
}

func newApp(cfg config.Config, store *storage.Store, settings *config.Settings, kc config.Keychain) *app {
	logger := slog.Default()
	remote := gist.NewClientWithBaseURL(cfg.Remote.BaseURL,
		gist.WithFileName(cfg.Remote.FileName),
		gist.WithHTTPClient(&http.Client{Timeout: cfg.Remote.TimeoutDuration()}),
	)
	svc := backup.New(store, remote, settings,
		backup.WithAtomicRestore(cfg.Sync.AtomicRestore),
		backup.WithWorkers(cfg.Sync.RestoreWorkers),
		backup.WithFileName(remote.FileName()),
		backup.WithDescription(cfg.Remote.Description),
		backup.WithLogger(logger),
	)
	return &app{
		cfg:        cfg,
		categories: cfg.Library.CategoryList(),
		keychain:   kc,
		settings:   settings,
		store:      store,
		library: library.NewManager(store,
			library.WithWorkers(cfg.Library.UploadWorkers),
			library.WithGuard(svc),
			library.WithLogger(logger),
		),
		backup:  svc,
		preview: preview.NewSession(store),
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

// checkCategory rejects keys outside the configured category list.
func (a *app) checkCategory(key string) error {
	if !a.categories.Contains(key) {
		return fmt.Errorf("unknown category %q (valid: %s)", key, a.categories)
	}
	return nil
}
