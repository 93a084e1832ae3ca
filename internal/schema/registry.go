package schema

import (
	"fmt"
	"strings"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// Registry maps table-kind identifiers to their schemas. Read-only after
// construction, safe for concurrent lookups.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry builds the registry with the built-in building-code schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]*Schema)}
	for _, s := range builtinSchemas() {
		r.schemas[s.ID] = s
	}
	return r
}

// NewRegistryWith builds a registry from an explicit schema list. Used by
// tests and callers with an external schema source.
func NewRegistryWith(schemas ...*Schema) *Registry {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.ID] = s
	}
	return r
}

// Lookup returns the schema for a table-kind identifier. The identifier is
// normalized first: "Table 3.2.2.2" and "A-3.2.2.2" both resolve to
// "3.2.2.2". Unknown kinds return domain.ErrSchemaNotFound.
func (r *Registry) Lookup(tableKind string) (*Schema, error) {
	id := NormalizeTableID(tableKind)
	s, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("table kind %q: %w", tableKind, domain.ErrSchemaNotFound)
	}
	return s, nil
}

// IDs returns the registered table-kind identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	return ids
}

// NormalizeTableID strips the label variations seen in source documents.
func NormalizeTableID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "Table ")
	id = strings.TrimPrefix(id, "A-")
	return strings.TrimSpace(id)
}

// builtinSchemas returns the schema set for the supported compliance tables.
// Bounds and vocabularies follow the published table definitions.
func builtinSchemas() []*Schema {
	uValue := func(name, zone string) Field {
		return Field{
			Name: name,
			Type: FieldNumber,
			Min:  ptr(0.05),
			Max:  ptr(2.0),
			Desc: "Zone " + zone + " max U-value (W/m²·K)",
		}
	}

	envelope := &Schema{
		ID:      "3.2.2.2",
		Kind:    KindEnvelope,
		Name:    "Above-ground opaque assembly thermal transmittance",
		Version: "1",
		Fields: []Field{
			{Name: "assembly_type", Type: FieldCategory, Vocabulary: []string{"Walls", "Roofs", "Floors"}, Desc: "Type of building assembly"},
			uValue("zone_4_max_u", "4"),
			uValue("zone_5_max_u", "5"),
			uValue("zone_6_max_u", "6"),
			uValue("zone_7a_max_u", "7A"),
			uValue("zone_7b_max_u", "7B"),
			uValue("zone_8_max_u", "8"),
		},
		MinRows:            3,
		MaxRows:            6,
		CategoryField:      "assembly_type",
		RequiredCategories: []string{"Walls", "Roofs", "Floors"},
	}

	fenestration := &Schema{
		ID:      "3.2.2.3",
		Kind:    KindFenestration,
		Name:    "Fenestration and door thermal transmittance",
		Version: "1",
		Fields: []Field{
			{Name: "assembly_type", Type: FieldCategory, Vocabulary: []string{"Windows", "Doors", "Skylights"}, Desc: "Type of fenestration assembly"},
			uValue("zone_4_max_u", "4"),
			uValue("zone_5_max_u", "5"),
			uValue("zone_6_max_u", "6"),
			uValue("zone_7a_max_u", "7A"),
			uValue("zone_7b_max_u", "7B"),
			uValue("zone_8_max_u", "8"),
		},
		MinRows:       2,
		MaxRows:       6,
		CategoryField: "assembly_type",
	}

	fdwr := &Schema{
		ID:      "3.2.1.4",
		Kind:    KindFDWR,
		Name:    "Maximum allowable fenestration-and-door-to-wall ratio",
		Version: "1",
		Fields: []Field{
			{Name: "hdd_min", Type: FieldInteger, Min: ptr(0), Max: ptr(10000), Desc: "Minimum heating degree-days"},
			{Name: "hdd_max", Type: FieldInteger, Optional: true, Min: ptr(0), Max: ptr(10000), Desc: "Maximum heating degree-days (absent for open-ended ranges)"},
			{Name: "max_fdwr", Type: FieldNumber, Min: ptr(0.0), Max: ptr(1.0), Desc: "Maximum FDWR ratio"},
		},
		MinRows: 1,
	}

	lighting := &Schema{
		ID:      "4.2.1.3",
		Kind:    KindLighting,
		Name:    "Lighting power density limits",
		Version: "1",
		Fields: []Field{
			{Name: "building_type", Type: FieldText, Desc: "Building or space type"},
			{Name: "space_type", Type: FieldText, Optional: true, Desc: "Specific space type within building"},
			{Name: "max_lpd", Type: FieldNumber, Min: ptr(0.0), Max: ptr(50.0), Desc: "Maximum LPD (W/m²)"},
		},
		MinRows: 1,
	}

	piping := &Schema{
		ID:      "5.2.5.3",
		Kind:    KindPiping,
		Name:    "Minimum thickness of piping insulation",
		Version: "1",
		Fields: []Field{
			{Name: "system_type", Type: FieldText, Desc: "Heating or cooling system"},
			{Name: "temp_range_min", Type: FieldNumber, Desc: "Min operating temperature (°C)"},
			{Name: "temp_range_max", Type: FieldNumber, Desc: "Max operating temperature (°C)"},
			{Name: "pipe_diameter_mm", Type: FieldText, Desc: "Pipe diameter range (mm)"},
			{Name: "min_insulation_thickness_mm", Type: FieldNumber, Min: ptr(0.0), Desc: "Minimum insulation thickness (mm)"},
		},
		MinRows: 1,
	}

	hvacFields := []Field{
		{Name: "equipment_type", Type: FieldText, Desc: "Type of HVAC equipment"},
		{Name: "capacity_min", Type: FieldNumber, Optional: true, Desc: "Minimum capacity"},
		{Name: "capacity_max", Type: FieldNumber, Optional: true, Desc: "Maximum capacity"},
		{Name: "performance_metric", Type: FieldText, Desc: "Performance metric (COP, EER, IEER, ...)"},
		{Name: "minimum_value", Type: FieldNumber, Min: ptr(0.0), Desc: "Minimum required performance"},
	}
	hvacA := &Schema{
		ID:      "8.4.4.8.A",
		Kind:    KindHVAC,
		Name:    "HVAC equipment performance (part A)",
		Version: "1",
		Fields:  hvacFields,
		MinRows: 1,
	}
	hvacB := &Schema{
		ID:      "8.4.4.8.B",
		Kind:    KindHVAC,
		Name:    "HVAC equipment performance (part B)",
		Version: "1",
		Fields:  hvacFields,
		MinRows: 1,
	}

	return []*Schema{envelope, fenestration, fdwr, lighting, piping, hvacA, hvacB}
}
