package repair

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spherical-ai/table-engine/internal/schema"
)

// buildPrompt renders the repair prompt for one candidate. The prompt is a
// pure function of its inputs; together with greedy decoding that makes the
// whole repair call deterministic.
func buildPrompt(raw string, s *schema.Schema, rctx Context) string {
	var b strings.Builder

	b.WriteString("You are a building code data extraction assistant.\n\n")
	fmt.Fprintf(&b, "**Task**: Extract data from the %s edition, Table %s (%s).\n\n", rctx.Vintage, s.ID, s.Name)

	b.WriteString("**Input Table** (Markdown with potential issues):\n```markdown\n")
	b.WriteString(raw)
	b.WriteString("\n```\n\n")

	b.WriteString("**Target Row Fields**:\n")
	for _, f := range s.Fields {
		b.WriteString("- ")
		b.WriteString(fieldDescription(s, f))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if inst := kindInstructions(s); inst != "" {
		b.WriteString(inst)
		b.WriteByte('\n')
	}

	b.WriteString(`**Strict Rules**:
1. Extract ONLY the data rows specified in the instructions
2. Ignore merged description cells, captions, footnotes, and empty rows
3. All numeric values must be valid numbers within the declared ranges
4. If any data is ambiguous, missing, or unclear, return {"error": "reason"}
5. Output ONLY valid JSON matching the format EXACTLY (no explanation, no markdown)
6. Do NOT invent values - every value must come from the input table

**Output Format**:
`)
	fmt.Fprintf(&b, "{\"vintage\": %q, \"table_kind\": %q, \"rows\": [{", rctx.Vintage, s.ID)
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: ...", f.Name)
	}
	b.WriteString("}]}\n")
	b.WriteString("Return ONLY the JSON object, nothing else. Start with { and end with }.\n")

	return b.String()
}

// fieldDescription renders one field contract for the prompt.
func fieldDescription(s *schema.Schema, f schema.Field) string {
	var parts []string
	switch f.Type {
	case schema.FieldCategory:
		parts = append(parts, fmt.Sprintf("%s: one of %s", f.Name, strings.Join(f.Vocabulary, ", ")))
	case schema.FieldNumber:
		parts = append(parts, f.Name+": number")
	case schema.FieldInteger:
		parts = append(parts, f.Name+": integer")
	default:
		parts = append(parts, f.Name+": text")
	}
	if f.Bounded() {
		lo, hi := "-inf", "+inf"
		if f.Min != nil {
			lo = strconv.FormatFloat(*f.Min, 'g', -1, 64)
		}
		if f.Max != nil {
			hi = strconv.FormatFloat(*f.Max, 'g', -1, 64)
		}
		parts = append(parts, fmt.Sprintf("range [%s, %s]", lo, hi))
	}
	if f.Optional {
		parts = append(parts, "optional (omit when absent)")
	}
	if f.Desc != "" {
		parts = append(parts, f.Desc)
	}
	return strings.Join(parts, "; ")
}

// kindInstructions returns the table-kind specific extraction guidance.
func kindInstructions(s *schema.Schema) string {
	switch s.Kind {
	case schema.KindEnvelope:
		return `**Table-Specific Instructions**:
- Extract ONLY rows for "Walls", "Roofs", and "Floors" (case-insensitive)
- Normalize zone column headers such as "Zone 4:(2)" to zone_4_max_u, "Zone 5:(2)" to zone_5_max_u, and so on
- U-values are in W/(m²·K); each zone column holds a single value
- Expected output: one row per assembly with 6 U-values each`
	case schema.KindFenestration:
		return `**Table-Specific Instructions**:
- Extract ONLY rows for fenestration assemblies: "Windows", "Doors", "Skylights"
- Normalize zone column headers to zone_4_max_u through zone_8_max_u
- U-values are in W/(m²·K)`
	case schema.KindFDWR:
		return `**Table-Specific Instructions**:
- Extract HDD ranges and the corresponding FDWR ratio for each
- Convert ranges such as "< 3000" or "4000 to 4999" into hdd_min/hdd_max integers
- Omit hdd_max for open-ended ranges such as ">= 7000"
- FDWR values are ratios between 0 and 1`
	case schema.KindLighting:
		return `**Table-Specific Instructions**:
- Extract building/space types and maximum LPD values in W/m²
- Some rows carry building_type only; others carry both building_type and space_type`
	case schema.KindPiping:
		return `**Table-Specific Instructions**:
- Extract piping insulation requirements
- Temperature ranges in °C, diameters in mm (may be ranges such as "<= 25"), thickness in mm`
	case schema.KindHVAC:
		return `**Table-Specific Instructions**:
- Extract HVAC equipment performance requirements
- Equipment types, capacity ranges, performance metrics (COP, EER, IEER, ...)
- Empty cells indicate continuation of the previous row`
	default:
		return ""
	}
}
