// Package validate scores table candidates against a schema's structural
// expectations. Scoring is pure and deterministic; identical inputs always
// produce identical scores. No generative calls.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/schema"
)

// Result is the verdict for one (candidate, schema) pair.
type Result struct {
	Passed     bool
	Confidence float64
	Errors     []string
	Warnings   []string
}

// Validator computes weighted confidence scores and the pass/fail gate.
type Validator struct {
	passThreshold  float64
	emptyCeiling   float64
	weights        struct {
		consistency float64
		header      float64
		fill        float64
	}
}

// Config holds validator thresholds. Zero values fall back to defaults.
type Config struct {
	// PassThreshold is the minimum confidence for a pass verdict.
	PassThreshold float64
	// EmptyCellCeiling rejects candidates whose data-row empty-cell ratio
	// exceeds it regardless of score.
	EmptyCellCeiling float64
}

// DefaultConfig returns the default thresholds. Tunable, not load-bearing.
func DefaultConfig() Config {
	return Config{
		PassThreshold:    0.8,
		EmptyCellCeiling: 0.2,
	}
}

// New creates a validator. Weights follow the reliability ordering: column
// consistency is the strongest structure signal, header and data fill split
// the remainder.
func New(cfg Config) *Validator {
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 0.8
	}
	if cfg.EmptyCellCeiling <= 0 {
		cfg.EmptyCellCeiling = 0.2
	}
	v := &Validator{
		passThreshold: cfg.PassThreshold,
		emptyCeiling:  cfg.EmptyCellCeiling,
	}
	v.weights.consistency = 0.4
	v.weights.header = 0.3
	v.weights.fill = 0.3
	return v
}

// Score computes the confidence for a candidate given the schema's expected
// column count. The score is a weighted combination of column-count
// consistency, header fill, and data-cell fill, clamped to [0, 1]. Adding
// empty cells can only lower it.
func (v *Validator) Score(c domain.TableCandidate, s *schema.Schema) float64 {
	if len(c.Rows) == 0 {
		// Header-only candidates carry no data signal.
		return clamp(v.weights.header * headerFill(c.Header))
	}

	consistent := 0
	for _, row := range c.Rows {
		if len(row) == c.EstimatedCols {
			consistent++
		}
	}
	consistency := float64(consistent) / float64(len(c.Rows))

	fill := 1.0 - emptyRatio(c.Rows)

	score := v.weights.consistency*consistency +
		v.weights.header*headerFill(c.Header) +
		v.weights.fill*fill

	// A candidate narrower than the schema can never carry every field.
	if c.EstimatedCols < len(s.Fields) {
		score *= float64(c.EstimatedCols) / float64(len(s.Fields))
	}

	return clamp(score)
}

// Validate scores the candidate and applies the gate.
func (v *Validator) Validate(c domain.TableCandidate, s *schema.Schema) Result {
	res := Result{Confidence: v.Score(c, s)}

	if len(c.Rows) == 0 {
		res.Errors = append(res.Errors, "no data rows")
	}
	if c.EstimatedCols < len(s.Fields) {
		res.Errors = append(res.Errors, fmt.Sprintf("too few columns: %d < %d", c.EstimatedCols, len(s.Fields)))
	}
	if ratio := emptyRatio(c.Rows); ratio > v.emptyCeiling {
		res.Errors = append(res.Errors, fmt.Sprintf("empty cell ratio %.0f%% exceeds ceiling %.0f%%", ratio*100, v.emptyCeiling*100))
	}
	if res.Confidence < v.passThreshold {
		res.Errors = append(res.Errors, fmt.Sprintf("confidence %.2f below threshold %.2f", res.Confidence, v.passThreshold))
	}
	if len(c.Rows) < s.MinRows {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d data rows, schema expects at least %d", len(c.Rows), s.MinRows))
	}

	res.Passed = len(res.Errors) == 0
	return res
}

// emptyRatio is the fraction of empty cells across data rows.
func emptyRatio(rows [][]string) float64 {
	total := 0
	empty := 0
	for _, row := range rows {
		for _, cell := range row {
			total++
			if strings.TrimSpace(cell) == "" {
				empty++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(empty) / float64(total)
}

func headerFill(header []string) float64 {
	if len(header) == 0 {
		return 0
	}
	filled := 0
	for _, cell := range header {
		if strings.TrimSpace(cell) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(header))
}

func clamp(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
