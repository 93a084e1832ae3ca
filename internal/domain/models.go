// Package domain defines the core data model shared by every pipeline stage.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supported document vintages. Table values evolve across vintages while the
// table shape stays fixed.
var SupportedVintages = []string{"2011", "2015", "2017", "2020"}

// ValidVintage reports whether v is a recognized document vintage.
func ValidVintage(v string) bool {
	for _, s := range SupportedVintages {
		if s == v {
			return true
		}
	}
	return false
}

// Document identifies a versioned source PDF. Immutable once ingested.
type Document struct {
	Path       string
	Vintage    string
	TotalPages int
}

// TableCandidate is a raw, unvalidated structural guess at a table on one
// page. Candidates are created per extraction attempt and discarded once the
// job that produced them completes.
type TableCandidate struct {
	// Markdown is the candidate text exactly as extracted; grounding checks
	// run against this string.
	Markdown string
	// Header holds the header row cells, Rows the data rows.
	Header []string
	Rows   [][]string
	// EstimatedRows counts data rows, EstimatedCols the header width.
	EstimatedRows int
	EstimatedCols int
	Page          int
	// Source tags which extractor configuration produced the candidate,
	// e.g. "layout" or "layout-relaxed".
	Source string
}

// FieldValue is a single normalized cell value.
type FieldValue struct {
	Field  string
	Text   string
	Number float64
	// IsNumber distinguishes numeric fields from text/categorical ones.
	IsNumber bool
}

// RecordRow is one row of a normalized record. Values are ordered by the
// schema's field list so serialization is deterministic.
type RecordRow struct {
	Values []FieldValue
}

// Get returns the value for a field name.
func (r RecordRow) Get(field string) (FieldValue, bool) {
	for _, v := range r.Values {
		if v.Field == field {
			return v, true
		}
	}
	return FieldValue{}, false
}

// NormalizedRecord is a schema-valid structured table. Immutable once
// produced; every value traces to content present in its source candidate.
type NormalizedRecord struct {
	TableKind string
	Vintage   string
	Rows      []RecordRow
}

// CanonicalJSON serializes the record with fields in schema order and numbers
// in their shortest round-trip form. Identical records always serialize to
// identical bytes, which is what the repair determinism contract is tested
// against.
func (n *NormalizedRecord) CanonicalJSON() []byte {
	var b strings.Builder
	b.WriteString(`{"table_kind":`)
	b.WriteString(strconv.Quote(n.TableKind))
	b.WriteString(`,"vintage":`)
	b.WriteString(strconv.Quote(n.Vintage))
	b.WriteString(`,"rows":[`)
	for i, row := range n.Rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		for j, v := range row.Values {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(v.Field))
			b.WriteByte(':')
			if v.IsNumber {
				b.WriteString(strconv.FormatFloat(v.Number, 'g', -1, 64))
			} else {
				b.WriteString(strconv.Quote(v.Text))
			}
		}
		b.WriteByte('}')
	}
	b.WriteString("]}")
	return []byte(b.String())
}

// JobStatus is the terminal outcome of a page/table job.
type JobStatus string

const (
	StatusSuccess        JobStatus = "Success"
	StatusPartialFailure JobStatus = "PartialFailure"
	StatusHardFailure    JobStatus = "HardFailure"
)

// FailureKind codes the error taxonomy recorded on non-success results.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureExtractionEmpty  FailureKind = "ExtractionEmpty"
	FailureValidationFailed FailureKind = "ValidationFailed"
	FailureRepairRejected   FailureKind = "RepairRejected"
	FailureRepairTimeout    FailureKind = "RepairTimeout"
	FailureSchemaNotFound   FailureKind = "SchemaNotFound"
)

// StageTimings records per-stage durations for one attempt or job.
type StageTimings struct {
	Extract  time.Duration `json:"extract_ms"`
	Validate time.Duration `json:"validate_ms"`
	Repair   time.Duration `json:"repair_ms"`
	Total    time.Duration `json:"total_ms"`
}

// ExtractionResult is the outcome of one page/table job. Append-only once
// written to the result store.
type ExtractionResult struct {
	JobID           uuid.UUID         `json:"job_id"`
	DocPath         string            `json:"doc_path,omitempty"`
	Vintage         string            `json:"vintage"`
	TableKind       string            `json:"table_kind"`
	Page            int               `json:"page"`
	Status          JobStatus         `json:"status"`
	Method          string            `json:"method"`
	Confidence      float64           `json:"confidence"`
	Record          *NormalizedRecord `json:"normalized_record,omitempty"`
	FailureKind     FailureKind       `json:"failure_kind,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	Attempts        int               `json:"attempts"`
	Timings         StageTimings      `json:"timings"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// Succeeded reports whether the job produced a validated record.
func (r *ExtractionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
