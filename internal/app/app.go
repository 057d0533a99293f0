// Package app wires a workspace into a ready-to-run engine.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"time"

	"swapline/internal/config"
	"swapline/internal/db"
	"swapline/internal/docstore"
	"swapline/internal/engine"
	"swapline/internal/migrate"
	"swapline/internal/notify"
	"swapline/internal/runner"
)

// Runtime holds the open database and the engine built on it.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Store     *docstore.Store
	Engine    engine.Engine
	Logger    *slog.Logger

	conn *sql.DB
}

// Open ensures the workspace, migrates the database and loads swapline.yml,
// falling back to the built-in defaults when the file is absent.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	store := docstore.New(conn)

	emitter := notify.Fanout{
		Primary: notify.StoreEmitter{Store: store, Now: store.Now},
		Logger:  logger,
	}
	if hooks := notify.NewWebhookEmitter(cfg.Webhooks, logger); hooks != nil {
		emitter.Secondaries = append(emitter.Secondaries, hooks)
	}

	e := engine.New(store, emitter, cfg)
	e.Logger = logger
	e.Retry.Logger = logger
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		Store:     store,
		Engine:    e,
		Logger:    logger,
		conn:      conn,
	}, nil
}

func (r *Runtime) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// StatePath is where the visit runner records its last run.
func (r *Runtime) StatePath() string {
	name := r.Config.Runner.StateFile
	if name == "" {
		name = "last_visit_run"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(db.Dir(r.Workspace), name)
}

// VisitRunner returns the opportunistic runner for this workspace.
func (r *Runtime) VisitRunner() runner.VisitRunner {
	return runner.VisitRunner{
		Engine:   r.Engine,
		State:    runner.FileState{Path: r.StatePath()},
		Interval: r.Config.Runner.VisitInterval,
		Triggers: r.Config.Runner.VisitTriggers,
		Logger:   r.Logger,
	}
}

// Scheduler returns the periodic runner using the configured cadences.
func (r *Runtime) Scheduler(runAtStart bool) *runner.Scheduler {
	cadences := make(map[string]time.Duration, len(config.Triggers))
	for _, name := range config.Triggers {
		cadences[name] = r.Config.CadenceFor(name)
	}
	return &runner.Scheduler{
		Engine:     r.Engine,
		Cadences:   cadences,
		RunAtStart: runAtStart,
		Logger:     r.Logger,
	}
}
