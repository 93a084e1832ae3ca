// Package schema defines the versioned table-kind contracts that extracted
// candidates are normalized against. Schemas are looked up by table-kind
// identifier independent of document vintage: a table's values evolve across
// vintages, its shape does not.
package schema

import (
	"fmt"
	"strings"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// Kind is the closed set of supported table kinds. Validation switches
// exhaustively over it.
type Kind string

const (
	KindEnvelope     Kind = "envelope"
	KindFenestration Kind = "fenestration"
	KindFDWR         Kind = "fdwr"
	KindLighting     Kind = "lighting"
	KindHVAC         Kind = "hvac"
	KindPiping       Kind = "piping_insulation"
)

// FieldType describes how a field's values are typed and checked.
type FieldType string

const (
	FieldNumber   FieldType = "number"
	FieldInteger  FieldType = "integer"
	FieldText     FieldType = "text"
	FieldCategory FieldType = "category"
)

// Field is one column contract: type, physical bounds or fixed vocabulary.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
	// Min/Max bound numeric fields inclusively. Nil means unbounded.
	Min *float64
	Max *float64
	// Vocabulary fixes the allowed values of a category field. Matching is
	// case-insensitive; output is canonicalized to the listed spelling.
	Vocabulary []string
	Desc       string
}

// Bounded reports whether the field carries numeric bounds.
func (f Field) Bounded() bool {
	return f.Min != nil || f.Max != nil
}

// Schema is a versioned contract for one table kind.
type Schema struct {
	ID      string // table-kind identifier, e.g. "3.2.2.2"
	Kind    Kind
	Name    string
	Version string
	Fields  []Field
	// MinRows/MaxRows bound the data row count. MaxRows 0 means unbounded.
	MinRows int
	MaxRows int
	// CategoryField names the field whose values must cover
	// RequiredCategories, when set. A record missing one of them is invalid.
	CategoryField      string
	RequiredCategories []string
}

// Field returns the field contract by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// CheckNumber validates v against the field's declared bounds. Boundary
// values are accepted; anything outside is an error, never clamped.
func (s *Schema) CheckNumber(f Field, v float64) error {
	if f.Min != nil && v < *f.Min {
		return fmt.Errorf("field %s: value %g below minimum %g", f.Name, v, *f.Min)
	}
	if f.Max != nil && v > *f.Max {
		return fmt.Errorf("field %s: value %g above maximum %g", f.Name, v, *f.Max)
	}
	if f.Type == FieldInteger && v != float64(int64(v)) {
		return fmt.Errorf("field %s: value %g is not an integer", f.Name, v)
	}
	return nil
}

// CanonicalCategory resolves raw against the field's vocabulary. Matching is
// case-insensitive but exact; partial or ambiguous matches are rejected.
func (s *Schema) CanonicalCategory(f Field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	for _, v := range f.Vocabulary {
		if strings.EqualFold(v, trimmed) {
			return v, nil
		}
	}
	return "", fmt.Errorf("field %s: %q is not in vocabulary %v", f.Name, trimmed, f.Vocabulary)
}

// ValidateRecord checks a normalized record against the full contract:
// row counts, per-field types and bounds, vocabulary membership, and the
// kind-specific row constraints.
func (s *Schema) ValidateRecord(rec *domain.NormalizedRecord) error {
	if rec == nil {
		return fmt.Errorf("schema %s: nil record", s.ID)
	}
	if len(rec.Rows) < s.MinRows {
		return fmt.Errorf("schema %s: %d rows, need at least %d", s.ID, len(rec.Rows), s.MinRows)
	}
	if s.MaxRows > 0 && len(rec.Rows) > s.MaxRows {
		return fmt.Errorf("schema %s: %d rows, allow at most %d", s.ID, len(rec.Rows), s.MaxRows)
	}

	for i, row := range rec.Rows {
		for _, f := range s.Fields {
			v, ok := row.Get(f.Name)
			if !ok {
				if f.Optional {
					continue
				}
				return fmt.Errorf("schema %s row %d: missing required field %s", s.ID, i, f.Name)
			}
			switch f.Type {
			case FieldNumber, FieldInteger:
				if !v.IsNumber {
					return fmt.Errorf("schema %s row %d: field %s is not numeric", s.ID, i, f.Name)
				}
				if err := s.CheckNumber(f, v.Number); err != nil {
					return fmt.Errorf("schema %s row %d: %w", s.ID, i, err)
				}
			case FieldCategory:
				if v.IsNumber {
					return fmt.Errorf("schema %s row %d: field %s is numeric, want category", s.ID, i, f.Name)
				}
				canonical, err := s.CanonicalCategory(f, v.Text)
				if err != nil {
					return fmt.Errorf("schema %s row %d: %w", s.ID, i, err)
				}
				if canonical != v.Text {
					return fmt.Errorf("schema %s row %d: field %s value %q not canonicalized", s.ID, i, f.Name, v.Text)
				}
			case FieldText:
				if !v.IsNumber && strings.TrimSpace(v.Text) == "" && !f.Optional {
					return fmt.Errorf("schema %s row %d: field %s is empty", s.ID, i, f.Name)
				}
			}
		}
	}

	return s.validateKindConstraints(rec)
}

// validateKindConstraints applies the per-kind row rules. The switch is
// exhaustive over Kind.
func (s *Schema) validateKindConstraints(rec *domain.NormalizedRecord) error {
	switch s.Kind {
	case KindEnvelope, KindFenestration:
		return s.checkRequiredCategories(rec)
	case KindFDWR:
		// Open-ended HDD ranges omit hdd_max; when present the range must
		// be ordered.
		for i, row := range rec.Rows {
			lo, _ := row.Get("hdd_min")
			if hi, ok := row.Get("hdd_max"); ok && hi.IsNumber && lo.IsNumber && hi.Number < lo.Number {
				return fmt.Errorf("schema %s row %d: hdd_max %g below hdd_min %g", s.ID, i, hi.Number, lo.Number)
			}
		}
		return nil
	case KindLighting, KindHVAC:
		return nil
	case KindPiping:
		for i, row := range rec.Rows {
			lo, okLo := row.Get("temp_range_min")
			hi, okHi := row.Get("temp_range_max")
			if okLo && okHi && lo.IsNumber && hi.IsNumber && hi.Number < lo.Number {
				return fmt.Errorf("schema %s row %d: temperature range inverted", s.ID, i)
			}
		}
		return nil
	default:
		return fmt.Errorf("schema %s: unknown kind %q", s.ID, s.Kind)
	}
}

func (s *Schema) checkRequiredCategories(rec *domain.NormalizedRecord) error {
	if s.CategoryField == "" || len(s.RequiredCategories) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(rec.Rows))
	for _, row := range rec.Rows {
		if v, ok := row.Get(s.CategoryField); ok {
			seen[v.Text] = true
		}
	}
	var missing []string
	for _, want := range s.RequiredCategories {
		if !seen[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema %s: missing required %s rows: %s", s.ID, s.CategoryField, strings.Join(missing, ", "))
	}
	return nil
}

func ptr(v float64) *float64 { return &v }
