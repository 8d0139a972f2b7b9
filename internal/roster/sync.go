package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isometry/virtual-ldap/internal/cache"
	"github.com/isometry/virtual-ldap/internal/ldap"
)

// Recorder receives sync outcomes. The metrics package implements it.
type Recorder interface {
	SyncCompleted(provider string, err error, duration time.Duration)
	SnapshotPublished(stats ldap.SnapshotStats)
}

type nopRecorder struct{}

func (nopRecorder) SyncCompleted(string, error, time.Duration) {}
func (nopRecorder) SnapshotPublished(ldap.SnapshotStats)       {}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Provider  Provider
	Layout    *ldap.Layout
	Snapshots *ldap.Snapshots
	Cache     cache.Cache // nil disables fetch caching
	Options   Options
	Logger    ldap.Logger
	Recorder  Recorder
}

// Orchestrator runs sync passes: fetch the roster, build a snapshot and
// publish it. At most one pass runs at a time; a pass requested while
// another is running returns ErrSyncInProgress.
type Orchestrator struct {
	provider  Provider
	layout    *ldap.Layout
	snapshots *ldap.Snapshots
	cache     cache.Cache
	opts      Options
	logger    ldap.Logger
	recorder  Recorder

	running sync.Mutex

	schedulerMu sync.Mutex
	scheduler   *scheduler
}

// NewOrchestrator creates an orchestrator. The provider must already be set up.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		provider:  cfg.Provider,
		layout:    cfg.Layout,
		snapshots: cfg.Snapshots,
		cache:     cfg.Cache,
		opts:      cfg.Options,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}
	if o.cache == nil {
		o.cache = cache.Noop{}
	}
	if o.logger == nil {
		o.logger = ldap.NewNullLogger()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.opts.Concurrency < 1 {
		o.opts.Concurrency = 1
	}
	return o
}

// Sync runs one pass, reading fetch results from the cache while they are fresh.
func (o *Orchestrator) Sync(ctx context.Context) error {
	return o.run(ctx, true)
}

// Reload resets the provider session and runs a pass that bypasses the cache.
func (o *Orchestrator) Reload(ctx context.Context) error {
	return o.run(ctx, false)
}

func (o *Orchestrator) run(ctx context.Context, useCache bool) error {
	if !o.running.TryLock() {
		o.logger.Warn("Sync pass skipped, previous pass still running", nil)
		return ErrSyncInProgress
	}
	defer o.running.Unlock()

	start := time.Now()
	fields := map[string]any{"provider": o.provider.Name(), "use_cache": useCache}

	err := ldap.LogOperation(o.logger, "sync", fields, func() error {
		if !useCache {
			if err := o.provider.Reload(ctx); err != nil {
				return err
			}
		}
		return o.pass(ctx, useCache)
	})

	elapsed := time.Since(start)
	o.recorder.SyncCompleted(o.provider.Name(), err, elapsed)
	if err == nil {
		ldap.LogPerformance(o.logger, "sync", elapsed, fields)
	}
	return err
}

func (o *Orchestrator) pass(ctx context.Context, useCache bool) error {
	departments, err := o.departments(ctx, useCache)
	if err != nil {
		return err
	}

	tree, err := BuildDepartmentTree(departments)
	if err != nil {
		return err
	}

	users, err := o.users(ctx, tree, useCache)
	if err != nil {
		return err
	}

	snapshot, stats, err := BuildSnapshot(o.layout, tree, users, o.logger)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	previous := o.snapshots.Publish(snapshot)
	o.recorder.SnapshotPublished(snapshot.Stats())

	o.logger.Info("Published snapshot", map[string]any{
		"generation":          snapshot.Generation(),
		"previous_generation": previous.Generation(),
		"departments":         stats.Departments,
		"users":               stats.Users,
		"dropped":             stats.Dropped,
	})
	return nil
}

func (o *Orchestrator) cacheName(kind string) string {
	return o.provider.Name() + "_" + kind + ".json"
}

// departments returns normalized, de-duplicated departments. The normalized
// list is what gets cached.
func (o *Orchestrator) departments(ctx context.Context, useCache bool) ([]Department, error) {
	name := o.cacheName("groups")

	if useCache {
		var cached []Department
		if o.loadCache(ctx, name, &cached) {
			return cached, nil
		}
	}

	fetched, err := o.provider.FetchDepartments(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Fetched departments", map[string]any{"count": len(fetched)})

	departments := NormalizeDepartments(fetched)
	o.saveCache(ctx, name, departments)
	return departments, nil
}

// users fetches every department's users concurrently and concatenates the
// results in department order. Any department failing fails the pass.
func (o *Orchestrator) users(ctx context.Context, tree *DepartmentTree, useCache bool) ([]User, error) {
	name := o.cacheName("users")

	if useCache {
		var cached []User
		if o.loadCache(ctx, name, &cached) {
			return cached, nil
		}
	}

	nodes := tree.Nodes()
	perDepartment := make([][]User, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for i, node := range nodes {
		g.Go(func() error {
			users, err := o.provider.FetchUsers(gctx, node.ID)
			if err != nil {
				return err
			}
			for j := range users {
				users[j].FetchedFrom = node.ID
			}
			perDepartment[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []User
	for _, users := range perDepartment {
		all = append(all, users...)
	}
	o.logger.Info("Fetched users", map[string]any{"count": len(all), "departments": len(nodes)})

	o.saveCache(ctx, name, all)
	return all, nil
}

func (o *Orchestrator) loadCache(ctx context.Context, name string, dst any) bool {
	hit, err := o.cache.Load(ctx, name, dst)
	if err != nil {
		o.logger.Warn("Cache load failed, fetching from provider", map[string]any{"name": name, "error": err.Error()})
		return false
	}
	if hit {
		o.logger.Debug("Using cached roster data", map[string]any{"name": name})
	}
	return hit
}

func (o *Orchestrator) saveCache(ctx context.Context, name string, value any) {
	if o.opts.CacheTTL <= 0 {
		return
	}
	if err := o.cache.Save(ctx, name, value, o.opts.CacheTTL); err != nil {
		o.logger.Warn("Cache save failed", map[string]any{"name": name, "error": err.Error()})
	}
}
