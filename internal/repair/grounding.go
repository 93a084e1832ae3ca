package repair

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberTokenRe = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// grounding indexes a candidate's raw text so repaired values can be traced
// back to it. Matching tolerates whitespace and decimal formatting
// differences ("0.10" grounds 0.1) but nothing else: a value the index cannot
// find was not in the source.
type grounding struct {
	numbers map[float64]struct{}
	text    string
}

// newGrounding builds the index from the candidate's markdown.
func newGrounding(raw string) *grounding {
	g := &grounding{
		numbers: make(map[float64]struct{}),
		text:    strings.ToLower(whitespaceRe.ReplaceAllString(raw, " ")),
	}
	for _, tok := range numberTokenRe.FindAllString(raw, -1) {
		cleaned := strings.ReplaceAll(tok, ",", "")
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
			g.numbers[v] = struct{}{}
		}
	}
	return g
}

// hasNumber reports whether v appears as a number token in the source.
func (g *grounding) hasNumber(v float64) bool {
	_, ok := g.numbers[v]
	return ok
}

// hasText reports whether s appears in the source, case-insensitively and
// ignoring whitespace runs.
func (g *grounding) hasText(s string) bool {
	needle := strings.ToLower(whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " "))
	if needle == "" {
		return false
	}
	return strings.Contains(g.text, needle)
}
