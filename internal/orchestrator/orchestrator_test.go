package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/table-engine/internal/cache"
	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/observability"
	"github.com/spherical-ai/table-engine/internal/repair"
	"github.com/spherical-ai/table-engine/internal/schema"
	"github.com/spherical-ai/table-engine/internal/storage"
	"github.com/spherical-ai/table-engine/internal/validate"
)

const envelopePage = `3.2.2.2. Thermal Characteristics of Above-ground Opaque Building Assemblies

| Assembly | Zone 4 | Zone 5 | Zone 6 | Zone 7A | Zone 7B | Zone 8 |
|---|---|---|---|---|---|---|
| Walls | 0.315 | 0.278 | 0.247 | 0.210 | 0.210 | 0.183 |
| Roofs | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |
| Floors | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |
`

const envelopeResponse = `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
  {"assembly_type": "Walls", "zone_4_max_u": 0.315, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142},
  {"assembly_type": "Floors", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142}
]}`

type fakeGen struct {
	response string
	calls    atomic.Int32
	stall    bool
}

func (f *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	if f.stall {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, nil
}

func newTestOrchestrator(gen *fakeGen, store *storage.ResultStore) *Orchestrator {
	repairer := repair.NewEngine(gen, 50*time.Millisecond, observability.Nop())
	return New(
		schema.NewRegistry(),
		validate.New(validate.DefaultConfig()),
		repairer,
		cache.NewMemoryClient(0),
		store,
		observability.Nop(),
		Config{MaxRetries: 2, Workers: 2},
	)
}

func TestOrchestrator_RunJob_CleanTableSucceeds(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("codes/necb-2020.pdf", "2020", "3.2.2.2", 41, envelopePage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "layout", result.Method)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, StateDone, job.State)
	require.NotNil(t, result.Record)
	assert.Len(t, result.Record.Rows, 3)
	assert.InDelta(t, 1.0, result.Confidence, 0.001)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_RunJob_ProseOnlyPageIsExtractionEmpty(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "3.2.2.2", 7, "Prose only. No tables on this page.")
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusHardFailure, result.Status)
	assert.Equal(t, domain.FailureExtractionEmpty, result.FailureKind)
	assert.Equal(t, 1, result.Attempts)
	assert.Zero(t, gen.calls.Load())
}

func TestOrchestrator_RunJob_UnknownTableKind(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "9.9.9.9", 1, envelopePage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusHardFailure, result.Status)
	assert.Equal(t, domain.FailureSchemaNotFound, result.FailureKind)
	assert.Zero(t, result.Attempts)
	assert.Zero(t, gen.calls.Load())
}

func TestOrchestrator_RunJob_RetryWithRelaxedExtractionSucceeds(t *testing.T) {
	// Two data rows lost their last cell; strict parsing fails validation,
	// relaxed parsing pads them back to the header width.
	raggedPage := `| Assembly | Zone 4 | Zone 5 | Zone 6 | Zone 7A | Zone 7B | Zone 8 |
|---|---|---|---|---|---|---|
| Walls | 0.315 | 0.278 | 0.247 | 0.210 | 0.210 | 0.183 |
| Roofs | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 |
| Floors | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 |
`
	response := `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
  {"assembly_type": "Walls", "zone_4_max_u": 0.315, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.162},
  {"assembly_type": "Floors", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.162}
]}`
	gen := &fakeGen{response: response}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "3.2.2.2", 41, raggedPage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "layout-relaxed", result.Method)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, domain.FailureValidationFailed, job.Attempts[0].Failure)
}

func TestOrchestrator_RunJob_ValidationFailureExhaustsRetries(t *testing.T) {
	// A two-column fragment can never carry the seven envelope fields, so
	// relaxed re-extraction cannot save it.
	narrowPage := "| Assembly | Zone 4 |\n|---|---|\n| Walls | 0.315 |\n| Roofs | 0.227 |\n| Floors | 0.227 |\n"
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "3.2.2.2", 41, narrowPage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartialFailure, result.Status)
	assert.Equal(t, domain.FailureValidationFailed, result.FailureKind)
	assert.Equal(t, 3, result.Attempts)
	assert.NotEmpty(t, result.RejectionReason)
	assert.Zero(t, gen.calls.Load())
}

func TestOrchestrator_RunJob_RepairRejectedIsTerminal(t *testing.T) {
	gen := &fakeGen{response: `{"error": "values are ambiguous"}`}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartialFailure, result.Status)
	assert.Equal(t, domain.FailureRepairRejected, result.FailureKind)
	assert.Contains(t, result.RejectionReason, "ambiguous")
	// Rejection is terminal: exactly one generative call, no retry.
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_RunJob_RepairTimeoutIsTerminal(t *testing.T) {
	gen := &fakeGen{stall: true}
	o := newTestOrchestrator(gen, nil)

	job := NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage)
	result, err := o.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartialFailure, result.Status)
	assert.Equal(t, domain.FailureRepairTimeout, result.FailureKind)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_RunJob_SecondIdenticalTableHitsCache(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	first, err := o.RunJob(context.Background(), NewJob("a.pdf", "2020", "3.2.2.2", 41, envelopePage))
	require.NoError(t, err)
	assert.Equal(t, "layout", first.Method)

	second, err := o.RunJob(context.Background(), NewJob("b.pdf", "2020", "3.2.2.2", 12, envelopePage))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, second.Status)
	assert.Equal(t, "cache", second.Method)
	assert.Equal(t, first.Record.CanonicalJSON(), second.Record.CanonicalJSON())
	// One generative call serves both jobs.
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_RunJob_ResubmissionReturnsStoredResult(t *testing.T) {
	db, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(context.Background(), db))
	store := storage.NewResultStore(db)

	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, store)

	first, err := o.RunJob(context.Background(), NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage))
	require.NoError(t, err)

	resubmitted, err := o.RunJob(context.Background(), NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage))
	require.NoError(t, err)

	assert.Equal(t, first.JobID, resubmitted.JobID)
	assert.Equal(t, first.Record.CanonicalJSON(), resubmitted.Record.CanonicalJSON())
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_RunAll_PreservesJobOrder(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	jobs := []*Job{
		NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage),
		NewJob("doc.pdf", "2020", "3.2.2.2", 99, "no table here"),
		NewJob("doc.pdf", "2020", "9.9.9.9", 3, envelopePage),
	}
	results, err := o.RunAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, domain.StatusSuccess, results[0].Status)
	assert.Equal(t, domain.FailureExtractionEmpty, results[1].FailureKind)
	assert.Equal(t, domain.FailureSchemaNotFound, results[2].FailureKind)
}

func TestSummarize(t *testing.T) {
	gen := &fakeGen{response: envelopeResponse}
	o := newTestOrchestrator(gen, nil)

	jobs := []*Job{
		NewJob("doc.pdf", "2020", "3.2.2.2", 41, envelopePage),
		NewJob("doc.pdf", "2020", "3.2.2.2", 99, "no table here"),
	}
	results, err := o.RunAll(context.Background(), jobs)
	require.NoError(t, err)

	summary := Summarize("doc.pdf", "2020", results, time.Second)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.InDelta(t, 0.5, summary.SuccessRate, 0.001)
	assert.Equal(t, 1, summary.ByFailure[domain.FailureExtractionEmpty])
	assert.Equal(t, 1, summary.ByMethod["layout"])
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 99, summary.Failures[0].Page)
}

func TestJob_TransitionRejectsIllegalMoves(t *testing.T) {
	job := NewJob("doc.pdf", "2020", "3.2.2.2", 1, "")
	require.NoError(t, job.transition(StateExtracting))
	assert.Error(t, job.transition(StateRepairing))
	assert.Error(t, job.transition(StatePending))
}
