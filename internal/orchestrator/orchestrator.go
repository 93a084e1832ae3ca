package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spherical-ai/table-engine/internal/cache"
	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/extract"
	"github.com/spherical-ai/table-engine/internal/observability"
	"github.com/spherical-ai/table-engine/internal/repair"
	"github.com/spherical-ai/table-engine/internal/schema"
	"github.com/spherical-ai/table-engine/internal/storage"
	"github.com/spherical-ai/table-engine/internal/validate"
)

// Config holds orchestrator tuning.
type Config struct {
	// MaxRetries bounds re-extraction after a failed validation. Retries use
	// relaxed extractor options; other failures are terminal on first hit.
	MaxRetries int
	// Workers sizes the job pool.
	Workers int
	// CacheTTL bounds cached repaired records. Zero means no expiry.
	CacheTTL time.Duration
}

// DefaultConfig returns the default orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		Workers:    4,
	}
}

// Orchestrator runs jobs through the pipeline. Shared state is limited to the
// read-only registry, the cache, and the append-only result store, so jobs
// are safe to run concurrently.
type Orchestrator struct {
	registry  *schema.Registry
	validator *validate.Validator
	repairer  *repair.Engine
	cache     cache.Client
	store     *storage.ResultStore
	logger    *observability.Logger
	cfg       Config

	// OnResult, when set, is called after each job completes. Used by the
	// CLI for progress reporting; must be safe for concurrent calls.
	OnResult func(*domain.ExtractionResult)
}

// New creates an orchestrator. The store may be nil for in-memory runs; the
// cache defaults to an in-process client.
func New(registry *schema.Registry, validator *validate.Validator, repairer *repair.Engine,
	cacheClient cache.Client, store *storage.ResultStore, logger *observability.Logger, cfg Config) *Orchestrator {
	if cacheClient == nil {
		cacheClient = cache.NewMemoryClient(0)
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Orchestrator{
		registry:  registry,
		validator: validator,
		repairer:  repairer,
		cache:     cacheClient,
		store:     store,
		logger:    logger,
		cfg:       cfg,
	}
}

// RunJob drives one job to a terminal result. Pipeline failures are recorded
// on the result, never returned; the error return is reserved for context
// cancellation and storage faults.
func (o *Orchestrator) RunJob(ctx context.Context, job *Job) (*domain.ExtractionResult, error) {
	log := o.logger.WithJob(job.ID.String())

	// Re-submitting a completed job key is a no-op returning the stored
	// result.
	if o.store != nil {
		existing, err := o.store.FindCompleted(ctx, job.DocPath, job.Vintage,
			schema.NormalizeTableID(job.TableID), job.Page)
		if err == nil {
			log.Debug().Str("table_kind", existing.TableKind).Int("page", job.Page).
				Msg("Job already completed, returning stored result")
			if err := job.transition(StateDone); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	s, err := o.registry.Lookup(job.TableID)
	if err != nil {
		if err := job.transition(StateDone); err != nil {
			return nil, err
		}
		return o.finish(ctx, job, s, &domain.ExtractionResult{
			Status:          domain.StatusHardFailure,
			FailureKind:     domain.FailureSchemaNotFound,
			RejectionReason: err.Error(),
		})
	}

	opts := extract.DefaultOptions()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := job.transition(StateExtracting); err != nil {
			return nil, err
		}

		at := Attempt{Number: len(job.Attempts) + 1}
		job.Attempts = append(job.Attempts, at)
		cur := job.lastAttempt()

		start := time.Now()
		candidates := extract.New(opts).ExtractPage(job.PageText, job.Page)
		cur.Timings.Extract = time.Since(start)
		cur.Candidates = len(candidates)

		if len(candidates) == 0 {
			if err := job.transition(StateExtractFailed); err != nil {
				return nil, err
			}
			cur.Failure = domain.FailureExtractionEmpty
			cur.Reason = domain.ErrExtractionEmpty.Error()
			if err := job.transition(StateDone); err != nil {
				return nil, err
			}
			return o.finish(ctx, job, s, &domain.ExtractionResult{
				Status:          domain.StatusHardFailure,
				FailureKind:     domain.FailureExtractionEmpty,
				RejectionReason: cur.Reason,
			})
		}
		if err := job.transition(StateExtracted); err != nil {
			return nil, err
		}

		if err := job.transition(StateValidating); err != nil {
			return nil, err
		}
		start = time.Now()
		best, verdict := o.pickBest(candidates, s)
		cur.Timings.Validate = time.Since(start)
		cur.Source = best.Source
		cur.Confidence = verdict.Confidence

		if !verdict.Passed {
			if err := job.transition(StateValidationFailed); err != nil {
				return nil, err
			}
			cur.Failure = domain.FailureValidationFailed
			cur.Reason = strings.Join(verdict.Errors, "; ")

			if len(job.Attempts) <= o.cfg.MaxRetries {
				log.Debug().Int("attempt", cur.Number).Float64("confidence", verdict.Confidence).
					Msg("Validation failed, retrying with relaxed extraction")
				opts = extract.Relaxed()
				continue
			}
			if err := job.transition(StateDone); err != nil {
				return nil, err
			}
			return o.finish(ctx, job, s, &domain.ExtractionResult{
				Status:          domain.StatusPartialFailure,
				FailureKind:     domain.FailureValidationFailed,
				Confidence:      verdict.Confidence,
				RejectionReason: cur.Reason,
			})
		}
		if err := job.transition(StateValidated); err != nil {
			return nil, err
		}

		return o.repairCandidate(ctx, job, s, best, verdict.Confidence)
	}
}

// pickBest validates every candidate and returns the highest-confidence one.
// Ties keep the earlier candidate so selection stays deterministic.
func (o *Orchestrator) pickBest(candidates []domain.TableCandidate, s *schema.Schema) (domain.TableCandidate, validate.Result) {
	best := candidates[0]
	bestRes := o.validator.Validate(best, s)
	for _, c := range candidates[1:] {
		res := o.validator.Validate(c, s)
		if res.Confidence > bestRes.Confidence {
			best, bestRes = c, res
		}
	}
	return best, bestRes
}

// repairCandidate runs the cache-or-repair stage and finishes the job.
func (o *Orchestrator) repairCandidate(ctx context.Context, job *Job, s *schema.Schema,
	c domain.TableCandidate, confidence float64) (*domain.ExtractionResult, error) {

	if err := job.transition(StateRepairing); err != nil {
		return nil, err
	}
	cur := job.lastAttempt()
	log := o.logger.WithJob(job.ID.String())

	key := cache.RepairKey(s.ID, job.Vintage, c.Markdown)
	start := time.Now()
	if data, err := o.cache.Get(ctx, key); err == nil {
		if rec, perr := domain.ParseRecordJSON(data); perr == nil {
			cur.Timings.Repair = time.Since(start)
			if err := job.transition(StateRepaired); err != nil {
				return nil, err
			}
			if err := job.transition(StateDone); err != nil {
				return nil, err
			}
			log.Debug().Str("table_kind", s.ID).Msg("Repair cache hit")
			return o.finish(ctx, job, s, &domain.ExtractionResult{
				Status:     domain.StatusSuccess,
				Method:     "cache",
				Confidence: confidence,
				Record:     rec,
			})
		}
		// A corrupt entry falls through to a fresh repair.
		_ = o.cache.Delete(ctx, key)
	}

	rec, err := o.repairer.Repair(ctx, c, s, repair.Context{
		Vintage:   job.Vintage,
		TableKind: s.ID,
		Page:      job.Page,
	})
	cur.Timings.Repair = time.Since(start)

	if err != nil {
		var rejected *repair.RejectedError
		switch {
		case errors.Is(err, domain.ErrRepairTimeout):
			if terr := job.transition(StateRepairTimeout); terr != nil {
				return nil, terr
			}
			cur.Failure = domain.FailureRepairTimeout
			cur.Reason = err.Error()
			if terr := job.transition(StateDone); terr != nil {
				return nil, terr
			}
			return o.finish(ctx, job, s, &domain.ExtractionResult{
				Status:          domain.StatusPartialFailure,
				FailureKind:     domain.FailureRepairTimeout,
				Confidence:      confidence,
				RejectionReason: err.Error(),
			})
		case errors.As(err, &rejected):
			if terr := job.transition(StateRepairRejected); terr != nil {
				return nil, terr
			}
			cur.Failure = domain.FailureRepairRejected
			cur.Reason = rejected.Reason
			if terr := job.transition(StateDone); terr != nil {
				return nil, terr
			}
			return o.finish(ctx, job, s, &domain.ExtractionResult{
				Status:          domain.StatusPartialFailure,
				FailureKind:     domain.FailureRepairRejected,
				Confidence:      confidence,
				RejectionReason: rejected.Reason,
			})
		default:
			return nil, err
		}
	}

	if err := job.transition(StateRepaired); err != nil {
		return nil, err
	}
	if cerr := o.cache.Set(ctx, key, rec.CanonicalJSON(), o.cfg.CacheTTL); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to cache repaired record")
	}
	if err := job.transition(StateDone); err != nil {
		return nil, err
	}
	return o.finish(ctx, job, s, &domain.ExtractionResult{
		Status:     domain.StatusSuccess,
		Method:     c.Source,
		Confidence: confidence,
		Record:     rec,
	})
}

// finish stamps identity and timing onto the result and appends it to the
// store.
func (o *Orchestrator) finish(ctx context.Context, job *Job, s *schema.Schema, r *domain.ExtractionResult) (*domain.ExtractionResult, error) {
	r.JobID = job.ID
	r.DocPath = job.DocPath
	r.Vintage = job.Vintage
	if s != nil {
		r.TableKind = s.ID
	} else {
		r.TableKind = schema.NormalizeTableID(job.TableID)
	}
	r.Page = job.Page
	r.Attempts = len(job.Attempts)
	for _, at := range job.Attempts {
		r.Timings.Extract += at.Timings.Extract
		r.Timings.Validate += at.Timings.Validate
		r.Timings.Repair += at.Timings.Repair
	}
	r.Timings.Total = r.Timings.Extract + r.Timings.Validate + r.Timings.Repair
	r.CompletedAt = time.Now().UTC()

	if o.store != nil {
		if err := o.store.Append(ctx, r); err != nil && !errors.Is(err, domain.ErrDuplicateJob) {
			return nil, err
		}
	}

	o.logger.WithJob(job.ID.String()).Info().
		Str("table_kind", r.TableKind).
		Int("page", r.Page).
		Str("status", string(r.Status)).
		Str("method", r.Method).
		Float64("confidence", r.Confidence).
		Int("attempts", r.Attempts).
		Dur("total", r.Timings.Total).
		Msg("Job completed")

	if o.OnResult != nil {
		o.OnResult(r)
	}
	return r, nil
}
