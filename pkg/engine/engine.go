// Package engine is the public entry point for the table extraction
// pipeline. It assembles the extract, validate, repair, and orchestration
// stages from a single Config and exposes document-level operations.
package engine

import (
	"context"
	"time"

	"github.com/spherical-ai/table-engine/internal/cache"
	"github.com/spherical-ai/table-engine/internal/config"
	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/llm"
	"github.com/spherical-ai/table-engine/internal/observability"
	"github.com/spherical-ai/table-engine/internal/orchestrator"
	"github.com/spherical-ai/table-engine/internal/pdf"
	"github.com/spherical-ai/table-engine/internal/repair"
	"github.com/spherical-ai/table-engine/internal/schema"
	"github.com/spherical-ai/table-engine/internal/storage"
	"github.com/spherical-ai/table-engine/internal/validate"
)

// Re-export result types for public API consumers.
type (
	ExtractionResult = domain.ExtractionResult
	NormalizedRecord = domain.NormalizedRecord
	RunSummary       = orchestrator.RunSummary
)

// TableRequest names one table to extract from a document page.
type TableRequest struct {
	TableID string
	Page    int
}

// Client runs extractions against one configured pipeline.
type Client struct {
	cfg      *config.Config
	registry *schema.Registry
	orch     *orchestrator.Orchestrator
	model    *llm.Client
	cache    cache.Client
	store    *storage.ResultStore
	closers  []func() error
	logger   *observability.Logger
}

// New builds a client from configuration and verifies the generative
// endpoint is reachable. An unreachable endpoint fails construction; it is
// the one error that must stop a run before any job is scheduled.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "table-engine",
	})

	model := llm.NewClient(llm.Config{
		Endpoint: cfg.Model.Endpoint,
		Model:    cfg.Model.Name,
	}, logger)
	if err := model.Ping(ctx); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, model: model, logger: logger}

	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			return nil, domain.ConfigError("connect redis cache", err)
		}
		c.cache = rc
	default:
		c.cache = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}
	c.closers = append(c.closers, c.cache.Close)

	db, err := storage.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		return nil, domain.ConfigError("open result store", err)
	}
	c.closers = append(c.closers, db.Close)
	if err := storage.Migrate(ctx, db); err != nil {
		c.Close()
		return nil, err
	}
	c.store = storage.NewResultStore(db)

	c.registry = schema.NewRegistry()
	validator := validate.New(validate.Config{
		PassThreshold:    cfg.Pipeline.PassThreshold,
		EmptyCellCeiling: cfg.Pipeline.EmptyCellCeiling,
	})
	repairer := repair.NewEngine(model, cfg.Pipeline.RepairTimeout, logger)

	c.orch = orchestrator.New(c.registry, validator, repairer, c.cache, c.store, logger,
		orchestrator.Config{
			MaxRetries: cfg.Pipeline.MaxRetries,
			Workers:    cfg.Pipeline.Workers,
			CacheTTL:   cfg.Cache.TTL,
		})

	return c, nil
}

// OnResult registers a per-job completion callback, e.g. for progress bars.
// Must be set before the first run; the callback may fire concurrently.
func (c *Client) OnResult(fn func(*ExtractionResult)) {
	c.orch.OnResult = fn
}

// ExtractDocument runs the requested tables of a PDF and returns the results
// plus a run summary.
func (c *Client) ExtractDocument(ctx context.Context, pdfPath, vintage string, requests []TableRequest) ([]*ExtractionResult, *RunSummary, error) {
	src, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()
	return c.ExtractFrom(ctx, src, pdfPath, vintage, requests)
}

// ExtractFrom runs the requested tables against any page source. The docPath
// is the identity under which results are stored.
func (c *Client) ExtractFrom(ctx context.Context, src pdf.PageSource, docPath, vintage string, requests []TableRequest) ([]*ExtractionResult, *RunSummary, error) {
	if !domain.ValidVintage(vintage) {
		return nil, nil, domain.ValidationError("unsupported vintage "+vintage, nil)
	}

	start := time.Now()
	jobs := make([]*orchestrator.Job, 0, len(requests))
	for _, req := range requests {
		text, err := src.PageText(ctx, req.Page)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, orchestrator.NewJob(docPath, vintage, req.TableID, req.Page, text))
	}

	results, err := c.orch.RunAll(ctx, jobs)
	if err != nil {
		return nil, nil, err
	}
	return results, orchestrator.Summarize(docPath, vintage, results, time.Since(start)), nil
}

// Results returns the stored results for a document.
func (c *Client) Results(ctx context.Context, docPath string) ([]*ExtractionResult, error) {
	return c.store.ListByDocument(ctx, docPath)
}

// TableIDs returns the table kinds the engine knows how to extract.
func (c *Client) TableIDs() []string {
	return c.registry.IDs()
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model.Model()
}

// Close releases the cache and store connections.
func (c *Client) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
