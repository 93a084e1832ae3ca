// Package repair rewrites a table candidate into a schema-valid normalized
// record using a zero-temperature generative model, then gates the output
// with bounds, vocabulary, and source-grounding checks. The engine never
// guesses: a value that cannot be traced to the candidate text is rejected.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/llm"
	"github.com/spherical-ai/table-engine/internal/observability"
	"github.com/spherical-ai/table-engine/internal/schema"
)

// Context carries job metadata into the repair call.
type Context struct {
	Vintage   string
	TableKind string
	Page      int
}

// RejectedError is a structured rejection with a human-readable reason. It
// signals a data/content problem, not an infrastructure one, and is terminal
// for the job.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "repair rejected: " + e.Reason
}

func rejectf(format string, args ...interface{}) *RejectedError {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// Engine drives the generative repair step.
type Engine struct {
	gen     llm.Generator
	timeout time.Duration
	logger  *observability.Logger
}

// NewEngine creates a repair engine. The generator is injected so tests can
// supply deterministic doubles; timeout bounds each generative call.
func NewEngine(gen llm.Generator, timeout time.Duration, logger *observability.Logger) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Engine{gen: gen, timeout: timeout, logger: logger}
}

// Repair transforms a candidate into a normalized record or returns a
// *RejectedError / domain.ErrRepairTimeout. Identical inputs produce
// byte-identical records: the prompt is deterministic, decoding is greedy,
// and serialization follows schema field order.
func (e *Engine) Repair(ctx context.Context, c domain.TableCandidate, s *schema.Schema, rctx Context) (*domain.NormalizedRecord, error) {
	prompt := buildPrompt(c.Markdown, s, rctx)

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.gen.Generate(cctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generative call after %s: %w", e.timeout, domain.ErrRepairTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rejectf("model request failed: %v", err)
	}

	rec, err := e.decode(out, c, s, rctx)
	if err != nil {
		e.logger.Debug().Str("table_kind", s.ID).Err(err).Msg("Repair output rejected")
		return nil, err
	}
	return rec, nil
}

// modelOutput is the expected shape of the model's JSON reply.
type modelOutput struct {
	Error     string                   `json:"error"`
	Vintage   string                   `json:"vintage"`
	TableKind string                   `json:"table_kind"`
	Rows      []map[string]interface{} `json:"rows"`
}

// decode parses, validates, and grounds the model output.
func (e *Engine) decode(raw string, c domain.TableCandidate, s *schema.Schema, rctx Context) (*domain.NormalizedRecord, error) {
	cleaned := stripFences(raw)

	var out modelOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, rejectf("invalid JSON from model: %v", err)
	}
	if out.Error != "" {
		return nil, rejectf("model rejected input: %s", out.Error)
	}
	if out.Vintage != "" && out.Vintage != rctx.Vintage {
		return nil, rejectf("vintage mismatch: model returned %q, job is %q", out.Vintage, rctx.Vintage)
	}
	if len(out.Rows) == 0 {
		return nil, rejectf("model returned no rows")
	}

	g := newGrounding(c.Markdown)

	rec := &domain.NormalizedRecord{
		TableKind: s.ID,
		Vintage:   rctx.Vintage,
	}
	for i, rawRow := range out.Rows {
		row, err := e.decodeRow(i, rawRow, s, g)
		if err != nil {
			return nil, err
		}
		rec.Rows = append(rec.Rows, row)
	}

	if err := s.ValidateRecord(rec); err != nil {
		return nil, &RejectedError{Reason: err.Error()}
	}
	return rec, nil
}

// decodeRow types, bounds-checks, canonicalizes, and grounds one row. Fields
// are emitted in schema order.
func (e *Engine) decodeRow(idx int, raw map[string]interface{}, s *schema.Schema, g *grounding) (domain.RecordRow, error) {
	var row domain.RecordRow
	for _, f := range s.Fields {
		v, present := raw[f.Name]
		if !present || v == nil {
			if f.Optional {
				continue
			}
			return row, rejectf("row %d: required field %s missing from source", idx, f.Name)
		}

		switch f.Type {
		case schema.FieldNumber, schema.FieldInteger:
			num, ok := toNumber(v)
			if !ok {
				return row, rejectf("row %d: field %s value %v is not numeric", idx, f.Name, v)
			}
			if err := s.CheckNumber(f, num); err != nil {
				return row, rejectf("row %d: %v", idx, err)
			}
			if !g.hasNumber(num) {
				return row, rejectf("row %d: value %g for field %s not present in source table", idx, num, f.Name)
			}
			row.Values = append(row.Values, domain.FieldValue{Field: f.Name, Number: num, IsNumber: true})

		case schema.FieldCategory:
			str, ok := toString(v)
			if !ok {
				return row, rejectf("row %d: field %s value %v is not text", idx, f.Name, v)
			}
			canonical, err := s.CanonicalCategory(f, str)
			if err != nil {
				return row, rejectf("row %d: %v", idx, err)
			}
			if !g.hasText(canonical) {
				return row, rejectf("row %d: category %q for field %s not present in source table", idx, canonical, f.Name)
			}
			row.Values = append(row.Values, domain.FieldValue{Field: f.Name, Text: canonical})

		case schema.FieldText:
			str, ok := toString(v)
			if !ok || strings.TrimSpace(str) == "" {
				if f.Optional {
					continue
				}
				return row, rejectf("row %d: required field %s is empty", idx, f.Name)
			}
			str = strings.TrimSpace(str)
			if !g.hasText(str) {
				return row, rejectf("row %d: value %q for field %s not present in source table", idx, str, f.Name)
			}
			row.Values = append(row.Values, domain.FieldValue{Field: f.Name, Text: str})
		}
	}
	return row, nil
}

// toNumber accepts JSON numbers and numeric strings ("0.315", "3,000").
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// stripFences removes markdown code fences the model may wrap its JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	start := strings.Index(text, "\n")
	if start == -1 {
		start = 3
	}
	end := strings.LastIndex(text, "```")
	if end <= start {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
