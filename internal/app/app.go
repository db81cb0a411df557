// Package app assembles a full runtime from a workspace: configuration,
// the journal database, the managers, and the playbook library.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"playline/internal/capability"
	"playline/internal/config"
	"playline/internal/db"
	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/execution"
	"playline/internal/library"
	"playline/internal/migrate"
	"playline/internal/repo"
	"playline/internal/resource"
	"playline/internal/runtime"
)

// App is one assembled runtime instance.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Bus       *events.Bus
	Library   *library.Library
	Runtime   *runtime.Orchestrator
	Executor  *execution.Manager
}

// Options tweak assembly; zero value is the production wiring.
type Options struct {
	Now func() time.Time

	// Strategies override the default strategy set. The default wires an
	// algorithmic registry only; AI and human collaborators are attached
	// by the host.
	Strategies []execution.Strategy
}

// New resolves workspace configuration, opens and migrates the journal
// database, and wires the managers together. Lifecycle notifications are
// journaled from the moment the bus exists.
func New(workspace string, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	bus := events.NewBus()
	writer := events.Writer{DB: conn, Now: now}
	bus.Subscribe(func(n events.Notification) {
		// Journal writes are best effort; the runtime never depends on them.
		_ = writer.Append(context.Background(), n)
	})

	resources := resource.NewManager(resource.Options{
		Bus:                       bus,
		Now:                       now,
		MaxConcurrentAllocations:  cfg.Runtime.Resources.MaxConcurrentAllocations,
		DefaultReservationMinutes: cfg.Runtime.Resources.DefaultReservationMinutes,
	})
	registry := capability.NewRegistry()
	resolver := capability.NewResolver(registry, capability.ResolverOptions{
		Bus:          bus,
		DisableCache: cfg.Runtime.Capabilities.CacheResolutions != nil && !*cfg.Runtime.Capabilities.CacheResolutions,
	})

	strategies := opts.Strategies
	if strategies == nil {
		strategies = []execution.Strategy{execution.NewAlgorithmicStrategy()}
	}
	executor := execution.NewManager(execution.Options{
		Bus:        bus,
		Now:        now,
		Policy:     policyFromConfig(cfg),
		Strategies: strategies,
	})

	lib := library.New(libraryDir(workspace, cfg))
	orch := runtime.NewOrchestrator(runtime.Options{
		Resources:    resources,
		Capabilities: registry,
		Resolver:     resolver,
		Executor:     executor,
		Library:      lib,
		Bus:          bus,
		Now:          now,
	})

	app := &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Bus:       bus,
		Library:   lib,
		Runtime:   orch,
		Executor:  executor,
	}
	if bundle, err := lib.Bundle(); err == nil {
		orch.Initialize(bundle)
	} else {
		conn.Close()
		return nil, fmt.Errorf("load library: %w", err)
	}
	return app, nil
}

// Close shuts the runtime down and closes the journal database.
func (a *App) Close() error {
	a.Runtime.Shutdown()
	return a.DB.Close()
}

func policyFromConfig(cfg *config.Config) *execution.Policy {
	policy := execution.DefaultPolicy()
	pc := cfg.Runtime.ExecutionPolicy
	if len(pc.DefaultChain) > 0 {
		policy.DefaultChain = toTypes(pc.DefaultChain)
	}
	if pc.AllowHumanOverride != nil {
		policy.AllowHumanOverride = *pc.AllowHumanOverride
	}
	if pc.MaxRetries > 0 {
		policy.MaxRetries = pc.MaxRetries
	}
	if pc.ExecutionTimeoutSeconds > 0 {
		policy.ExecutionTimeout = pc.ExecutionTimeout()
	}
	if len(pc.AvailableTypes) > 0 {
		policy.AvailableTypes = toTypes(pc.AvailableTypes)
	}
	return &policy
}

func toTypes(modes []string) []domain.ExecutionType {
	out := make([]domain.ExecutionType, 0, len(modes))
	for _, m := range modes {
		out = append(out, domain.ExecutionType(m))
	}
	return out
}

func libraryDir(workspace string, cfg *config.Config) string {
	dir := cfg.Library.Path
	if dir == "" {
		dir = "library"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dir)
}
