package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/habitsync/habitsync/internal/engine"
	"github.com/habitsync/habitsync/internal/identity"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/settings"
	"github.com/habitsync/habitsync/internal/store"
	"github.com/habitsync/habitsync/internal/xp"
)

// App wires the local store, settings, remote client, and engine for a
// command invocation.
type App struct {
	Config   Config
	Local    *store.Store
	Settings *settings.Store
	Remote   remote.Store
	XP       *xp.Service
	Engine   *engine.Engine
}

// OpenApp bootstraps the application from a config path. With no remote
// URL configured the engine runs against an in-memory store; sync entry
// points are no-ops in that mode but local tracking still works.
func OpenApp(configPath string, opts ...engine.Option) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}
	local, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	set, err := settings.Open(cfg.Settings)
	if err != nil {
		local.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open settings", err)
	}

	var rem remote.Store
	if cfg.Remote != "" {
		rem = remote.NewHTTPStore(cfg.Remote)
	} else {
		rem = remote.NewMemStore()
	}

	xpSvc := xp.NewService(rem)
	eng := engine.New(local, rem, set, identity.Static{UserID: cfg.User}, xpSvc, opts...)

	return &App{
		Config:   cfg,
		Local:    local,
		Settings: set,
		Remote:   rem,
		XP:       xpSvc,
		Engine:   eng,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if err := a.Local.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
