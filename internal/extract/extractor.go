// Package extract converts page text into table candidates using fast,
// deterministic layout parsing. No generative calls, no I/O.
package extract

import (
	"strings"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// Options tune parsing tolerance. The orchestrator retries failed validations
// with Relaxed() options.
type Options struct {
	// FillMergedCells carries the previous row's value into empty leading
	// cells, recovering rows broken by merged-cell rendering.
	FillMergedCells bool
	// AllowRaggedRows pads or truncates data rows to the header width
	// instead of keeping the raw cell count.
	AllowRaggedRows bool
	// LooseRowMatch also accepts rows that contain pipe separators without
	// starting with one (broken column alignment).
	LooseRowMatch bool
}

// DefaultOptions is the strict first-attempt configuration.
func DefaultOptions() Options {
	return Options{}
}

// Relaxed returns the tolerant configuration used on retry.
func Relaxed() Options {
	return Options{
		FillMergedCells: true,
		AllowRaggedRows: true,
		LooseRowMatch:   true,
	}
}

func (o Options) relaxed() bool {
	return o.FillMergedCells || o.AllowRaggedRows || o.LooseRowMatch
}

// Extractor splits page markdown into table candidates.
type Extractor struct {
	opts Options
}

// New creates an extractor with the given tolerance options.
func New(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// ExtractPage converts one page's text into zero or more candidates. It is a
// pure function of its input: malformed syntax is tolerated and unparsable
// content yields an empty slice, never an error.
func (e *Extractor) ExtractPage(text string, page int) []domain.TableCandidate {
	var candidates []domain.TableCandidate
	var block []string

	flush := func() {
		if len(block) > 0 {
			if c, ok := e.parseBlock(block, page); ok {
				candidates = append(candidates, c)
			}
			block = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case e.isTableRow(stripped):
			block = append(block, line)
		case len(block) > 0 && stripped == "":
			// Blank line ends the current table.
			flush()
		case len(block) > 0 && isRuleLine(stripped):
			// Ruled separator inside a table block.
			block = append(block, line)
		case len(block) > 0:
			// Non-table content splits multi-table pages.
			flush()
		}
	}
	flush()

	return candidates
}

// isTableRow reports whether a stripped line belongs to a table block.
func (e *Extractor) isTableRow(stripped string) bool {
	if strings.HasPrefix(stripped, "|") {
		return true
	}
	if e.opts.LooseRowMatch && strings.Count(stripped, "|") >= 2 {
		return true
	}
	return false
}

// parseBlock turns accumulated table lines into a candidate. Blocks with no
// data content are dropped.
func (e *Extractor) parseBlock(lines []string, page int) (domain.TableCandidate, bool) {
	var rows [][]string
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || isSeparatorRow(stripped) || isRuleLine(stripped) {
			continue
		}
		rows = append(rows, splitCells(stripped))
	}
	if len(rows) == 0 {
		return domain.TableCandidate{}, false
	}

	header := rows[0]
	data := rows[1:]

	if e.opts.AllowRaggedRows {
		data = padRows(data, len(header))
	}
	if e.opts.FillMergedCells {
		data = fillMerged(data)
	}

	source := "layout"
	if e.opts.relaxed() {
		source = "layout-relaxed"
	}

	return domain.TableCandidate{
		Markdown:      strings.Join(lines, "\n"),
		Header:        header,
		Rows:          data,
		EstimatedRows: len(data),
		EstimatedCols: len(header),
		Page:          page,
		Source:        source,
	}, true
}

// splitCells splits a pipe row into trimmed cell values, dropping the empty
// fragments produced by leading/trailing pipes.
func splitCells(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	parts := strings.Split(row, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// isSeparatorRow matches markdown alignment rows such as |---|:--:|.
func isSeparatorRow(stripped string) bool {
	if !strings.HasPrefix(stripped, "|") {
		return false
	}
	content := strings.Trim(stripped, "|")
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	for _, c := range content {
		switch c {
		case '-', ':', ' ', '|':
		default:
			return false
		}
	}
	return true
}

// isRuleLine matches horizontal rules between table sections.
func isRuleLine(stripped string) bool {
	if stripped == "" {
		return false
	}
	return strings.HasPrefix(stripped, "---") ||
		strings.HasPrefix(stripped, "===") ||
		strings.HasPrefix(stripped, "***")
}

// padRows normalizes every row to width cells.
func padRows(rows [][]string, width int) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		copy(row, r)
		out[i] = row
	}
	return out
}

// fillMerged carries non-empty values forward into empty cells of following
// rows, undoing merged-cell rendering. Only the leading cell is filled: data
// cells legitimately go empty, row labels do not.
func fillMerged(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	var carry string
	for i, r := range rows {
		row := append([]string(nil), r...)
		if len(row) > 0 {
			if row[0] == "" {
				row[0] = carry
			} else {
				carry = row[0]
			}
		}
		out[i] = row
	}
	return out
}
