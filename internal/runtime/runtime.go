// Package runtime wires the platform's components into one constructed
// value, the way the teacher's cmd/*/main.go assembles its service
// dependencies explicitly rather than reaching for package-level globals.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/workflow_platform/internal/assetgraph"
	"github.com/R3E-Network/workflow_platform/internal/config"
	"github.com/R3E-Network/workflow_platform/internal/lifecycle"
	"github.com/R3E-Network/workflow_platform/internal/logging"
	"github.com/R3E-Network/workflow_platform/internal/manifestcache"
	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
	"github.com/R3E-Network/workflow_platform/internal/metrics"
	"github.com/R3E-Network/workflow_platform/internal/partitionio"
	"github.com/R3E-Network/workflow_platform/internal/queue"
	"github.com/R3E-Network/workflow_platform/internal/timeline"
	"github.com/R3E-Network/workflow_platform/internal/trigger"
	"github.com/R3E-Network/workflow_platform/internal/workflow"
)

// Runtime is the fully-wired dependency graph shared by cmd/workflowd's
// background runners. Every field is exported so a caller can reach past
// the constructor for tests or ad-hoc tooling; cmd/workflowd itself uses
// the Logger, Lifecycle and AuditPruner fields and Close.
type Runtime struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  metrics.Recorder
	Registry *prometheus.Registry

	DB *sql.DB

	ManifestStore manifeststore.Store
	ManifestCache *manifestcache.Cache
	Partitions    partitionio.Adapter

	Compaction  *lifecycle.CompactionExecutor
	Retention   *lifecycle.RetentionExecutor
	AuditPruner *lifecycle.AuditPruner
	Lifecycle   *lifecycle.Runner

	AssetStore assetgraph.Store
	Staleness  *assetgraph.StalenessIndex
	Claims     *assetgraph.ClaimManager

	WorkflowStore workflow.Store
	Workflows     *workflow.Executor

	Deliveries trigger.DeliveryStore
	Triggers   *trigger.Engine

	Timeline *timeline.Aggregator

	Queue queue.Queue
}

// Option customizes New's construction, primarily so tests can substitute
// in-memory stores without touching the wiring logic.
type Option func(*options)

type options struct {
	manifestStore manifeststore.Store
	assetStore    assetgraph.Store
	workflowStore workflow.Store
	deliveryStore trigger.DeliveryStore
	checkpoints   lifecycle.CheckpointStore
	retentionPols lifecycle.RetentionPolicyStore
	partitionRoot string
}

// WithManifestStore overrides the manifest store (e.g. a PostgresStore
// pointed at a test database, or manifeststore.NewMemoryStore() for an
// in-process deployment). When unset, New opens a Postgres connection
// using cfg.Database.
func WithManifestStore(store manifeststore.Store) Option {
	return func(o *options) { o.manifestStore = store }
}

// WithPartitionRoot overrides the local filesystem root partitionio writes
// materialized partitions under. Defaults to "./data/partitions".
func WithPartitionRoot(root string) Option {
	return func(o *options) { o.partitionRoot = root }
}

// WithAssetStore overrides the C8 asset-graph store.
func WithAssetStore(store assetgraph.Store) Option {
	return func(o *options) { o.assetStore = store }
}

// WithWorkflowStore overrides the C5/C6 workflow store.
func WithWorkflowStore(store workflow.Store) Option {
	return func(o *options) { o.workflowStore = store }
}

// WithDeliveryStore overrides the C7 trigger delivery store.
func WithDeliveryStore(store trigger.DeliveryStore) Option {
	return func(o *options) { o.deliveryStore = store }
}

// WithCheckpointStore overrides the C4 compaction checkpoint store.
func WithCheckpointStore(store lifecycle.CheckpointStore) Option {
	return func(o *options) { o.checkpoints = store }
}

// WithRetentionPolicyStore overrides the C4 retention policy store.
func WithRetentionPolicyStore(store lifecycle.RetentionPolicyStore) Option {
	return func(o *options) { o.retentionPols = store }
}

// New constructs a Runtime from cfg, opening a Postgres connection unless
// WithManifestStore supplies an alternative store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{partitionRoot: "./data/partitions"}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	registry := prometheus.NewRegistry()
	recorder := metrics.Recorder(metrics.NewPromRecorder(registry))

	cache := manifestcache.New(30 * time.Second)

	rt := &Runtime{
		Config:        cfg,
		Logger:        logger,
		Metrics:       recorder,
		Registry:      registry,
		ManifestCache: cache,
		Partitions:    partitionio.NewLocalFSAdapter(o.partitionRoot),
		Queue:         queue.NewInMemoryQueue(),
	}

	var db *sql.DB
	manifestStore := o.manifestStore
	if manifestStore == nil {
		var err error
		db, err = openPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("runtime: open manifest database: %w", err)
		}
		manifestStore = manifeststore.NewPostgresStore(db).WithInvalidationHook(cache.Invalidate)
	}
	rt.DB = db
	rt.ManifestStore = manifestStore

	checkpoints := o.checkpoints
	if checkpoints == nil {
		checkpoints = lifecycle.NewMemoryCheckpointStore()
	}
	retentionPolicies := o.retentionPols
	if retentionPolicies == nil {
		retentionPolicies = lifecycle.NewMemoryRetentionPolicyStore()
	}

	cacheInvalidator := lifecycle.CacheInvalidator(cacheAdapter{cache})
	plannerCfg := lifecycle.PlannerConfig{
		TargetPartitionBytes:  cfg.Lifecycle.TargetPartitionBytes,
		SmallPartitionBytes:   cfg.Lifecycle.SmallPartitionBytes,
		MaxPartitionsPerGroup: cfg.Lifecycle.MaxPartitionsPerGroup,
	}
	rt.Compaction = lifecycle.NewCompactionExecutor(manifestStore, checkpoints, rt.Partitions, cacheInvalidator, plannerCfg)
	rt.Retention = lifecycle.NewRetentionExecutor(manifestStore, retentionPolicies, cacheInvalidator)
	rt.AuditPruner = lifecycle.NewAuditPruner(manifestStore, time.Duration(cfg.Lifecycle.AuditRetentionHours)*time.Hour, cfg.Lifecycle.AuditPruneBatchSize)
	rt.Lifecycle = lifecycle.NewRunner(manifestStore, rt.Compaction, rt.Retention, logger, cfg.Lifecycle.ChunkPartitionLimit)

	assetStore := o.assetStore
	if assetStore == nil {
		if db != nil {
			assetStore = assetgraph.NewPostgresStore(db)
		} else {
			assetStore = assetgraph.NewMemoryStore()
		}
	}
	rt.AssetStore = assetStore
	rt.Staleness = assetgraph.NewStalenessIndex(assetStore)
	rt.Claims = assetgraph.NewClaimManager(assetStore)

	workflowStore := o.workflowStore
	if workflowStore == nil {
		workflowStore = workflow.NewMemoryStore()
	}
	rt.WorkflowStore = workflowStore
	rt.Workflows = workflow.NewExecutor(workflowStore, rt.Queue, rt.Staleness, logger, recorder)

	deliveryStore := o.deliveryStore
	if deliveryStore == nil {
		if db != nil {
			deliveryStore = trigger.NewPostgresStore(db)
		} else {
			deliveryStore = trigger.NewMemoryDeliveryStore()
		}
	}
	rt.Deliveries = deliveryStore
	rt.Triggers = trigger.NewEngine(deliveryStore, rt.Workflows)

	rt.Timeline = timeline.NewAggregator(nil)

	return rt, nil
}

// Close releases the resources New acquired (the Postgres connection, if
// any was opened).
func (r *Runtime) Close() error {
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifeSecs > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSecs) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// cacheAdapter adapts *manifestcache.Cache to lifecycle.CacheInvalidator
// (a structural match already, but named explicitly so the wiring above
// reads as deliberate rather than relying on accidental interface shape).
type cacheAdapter struct {
	cache *manifestcache.Cache
}

func (c cacheAdapter) Invalidate(datasetID, shard string) {
	c.cache.Invalidate(datasetID, shard)
}
