package repair

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/observability"
	"github.com/spherical-ai/table-engine/internal/schema"
)

// fakeGenerator returns a fixed completion, counting calls.
type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// stallingGenerator blocks until the context expires.
type stallingGenerator struct{}

func (stallingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

const envelopeMarkdown = `| Assembly | Zone 4 | Zone 5 | Zone 6 | Zone 7A | Zone 7B | Zone 8 |
|---|---|---|---|---|---|---|
| Walls | 0.315 | 0.278 | 0.247 | 0.210 | 0.210 | 0.183 |
| Roofs | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |
| Floors | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |`

const envelopeResponse = `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
  {"assembly_type": "Walls", "zone_4_max_u": 0.315, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142},
  {"assembly_type": "Floors", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142}
]}`

func envelopeInputs(t *testing.T) (domain.TableCandidate, *schema.Schema, Context) {
	t.Helper()
	s, err := schema.NewRegistry().Lookup("3.2.2.2")
	require.NoError(t, err)
	c := domain.TableCandidate{Markdown: envelopeMarkdown, Page: 41}
	return c, s, Context{Vintage: "2020", TableKind: "3.2.2.2", Page: 41}
}

func TestEngine_Repair_Success(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(&fakeGenerator{response: envelopeResponse}, time.Second, observability.Nop())

	rec, err := e.Repair(context.Background(), c, s, rctx)
	require.NoError(t, err)
	require.Len(t, rec.Rows, 3)
	assert.Equal(t, "3.2.2.2", rec.TableKind)
	assert.Equal(t, "2020", rec.Vintage)

	// Fields come out in schema order regardless of JSON key order.
	assert.Equal(t, "assembly_type", rec.Rows[0].Values[0].Field)
	assert.Equal(t, "Walls", rec.Rows[0].Values[0].Text)
	assert.Equal(t, 0.315, rec.Rows[0].Values[1].Number)
}

func TestEngine_Repair_DeterministicOutput(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(&fakeGenerator{response: envelopeResponse}, time.Second, observability.Nop())

	first, err := e.Repair(context.Background(), c, s, rctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec, err := e.Repair(context.Background(), c, s, rctx)
		require.NoError(t, err)
		assert.Equal(t, first.CanonicalJSON(), rec.CanonicalJSON())
	}
}

func TestEngine_Repair_RejectsUngroundedNumber(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	// 0.999 appears nowhere in the candidate.
	response := `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
	  {"assembly_type": "Walls", "zone_4_max_u": 0.999, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
	  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142},
	  {"assembly_type": "Floors", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "0.999")
	assert.Contains(t, rejected.Reason, "not present in source table")
}

func TestEngine_Repair_GroundingToleratesDecimalFormat(t *testing.T) {
	s, err := schema.NewRegistry().Lookup("4.2.1.3")
	require.NoError(t, err)
	// The source prints 9.50; the model returns 9.5. Same number, accepted.
	c := domain.TableCandidate{Markdown: "| Building | LPD |\n| Office | 9.50 |\n| Retail | 13.10 |"}
	response := `{"vintage": "2017", "table_kind": "4.2.1.3", "rows": [
	  {"building_type": "Office", "max_lpd": 9.5},
	  {"building_type": "Retail", "max_lpd": 13.1}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	rec, err := e.Repair(context.Background(), c, s, Context{Vintage: "2017", TableKind: "4.2.1.3"})
	require.NoError(t, err)
	assert.Len(t, rec.Rows, 2)
}

func TestEngine_Repair_RejectsOutOfRange(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	// 10.0 is far outside the U-value bounds; rejected, never clamped.
	response := `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
	  {"assembly_type": "Walls", "zone_4_max_u": 10.0, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "above maximum")
}

func TestEngine_Repair_RejectsMissingRequiredCategory(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	// Three rows but no Floors row.
	response := `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
	  {"assembly_type": "Walls", "zone_4_max_u": 0.315, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
	  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142},
	  {"assembly_type": "Walls", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "Floors")
}

func TestEngine_Repair_RejectsMissingRequiredField(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	response := `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
	  {"assembly_type": "Walls", "zone_4_max_u": 0.315}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "missing")
}

func TestEngine_Repair_ModelDeclinesWithErrorObject(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(&fakeGenerator{response: `{"error": "table headers are unreadable"}`}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "unreadable")
}

func TestEngine_Repair_StripsMarkdownFences(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	fenced := "```json\n" + envelopeResponse + "\n```"
	e := NewEngine(&fakeGenerator{response: fenced}, time.Second, observability.Nop())

	rec, err := e.Repair(context.Background(), c, s, rctx)
	require.NoError(t, err)
	assert.Len(t, rec.Rows, 3)
}

func TestEngine_Repair_AcceptsNumericStrings(t *testing.T) {
	s, err := schema.NewRegistry().Lookup("3.2.1.4")
	require.NoError(t, err)
	c := domain.TableCandidate{Markdown: "| HDD | FDWR |\n| 0 to 3,000 | 0.40 |"}
	response := `{"vintage": "2011", "table_kind": "3.2.1.4", "rows": [
	  {"hdd_min": "0", "hdd_max": "3,000", "max_fdwr": "0.40"}
	]}`
	e := NewEngine(&fakeGenerator{response: response}, time.Second, observability.Nop())

	rec, err := e.Repair(context.Background(), c, s, Context{Vintage: "2011", TableKind: "3.2.1.4"})
	require.NoError(t, err)
	hdd, ok := rec.Rows[0].Get("hdd_max")
	require.True(t, ok)
	assert.Equal(t, 3000.0, hdd.Number)
}

func TestEngine_Repair_InvalidJSON(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(&fakeGenerator{response: "the table contains walls and roofs"}, time.Second, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "invalid JSON")
}

func TestEngine_Repair_Timeout(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(stallingGenerator{}, 20*time.Millisecond, observability.Nop())

	_, err := e.Repair(context.Background(), c, s, rctx)
	assert.ErrorIs(t, err, domain.ErrRepairTimeout)
}

func TestEngine_Repair_CallerCancellation(t *testing.T) {
	c, s, rctx := envelopeInputs(t)
	e := NewEngine(stallingGenerator{}, time.Minute, observability.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Repair(ctx, c, s, rctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGrounding_NumberAndTextMatching(t *testing.T) {
	g := newGrounding("| Walls | 0.315 |\n| Roofs | 1,250 |")

	assert.True(t, g.hasNumber(0.315))
	assert.True(t, g.hasNumber(1250))
	assert.False(t, g.hasNumber(0.316))

	assert.True(t, g.hasText("Walls"))
	assert.True(t, g.hasText("walls"))
	assert.False(t, g.hasText("Skylights"))
	assert.False(t, g.hasText(""))
}
