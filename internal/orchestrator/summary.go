package orchestrator

import (
	"time"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// FailureDetail identifies one non-success job for the run report.
type FailureDetail struct {
	JobID     string
	TableKind string
	Page      int
	Kind      domain.FailureKind
	Reason    string
}

// RunSummary aggregates a document run. Every non-success job is enumerated;
// a summary that hides failures is worse than no summary.
type RunSummary struct {
	DocPath     string
	Vintage     string
	Total       int
	Succeeded   int
	SuccessRate float64
	ByFailure   map[domain.FailureKind]int
	ByMethod    map[string]int
	Failures    []FailureDetail
	Elapsed     time.Duration
}

// Summarize builds the run summary from completed results.
func Summarize(docPath, vintage string, results []*domain.ExtractionResult, elapsed time.Duration) *RunSummary {
	s := &RunSummary{
		DocPath:   docPath,
		Vintage:   vintage,
		Total:     len(results),
		ByFailure: make(map[domain.FailureKind]int),
		ByMethod:  make(map[string]int),
		Elapsed:   elapsed,
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Succeeded() {
			s.Succeeded++
			s.ByMethod[r.Method]++
			continue
		}
		s.ByFailure[r.FailureKind]++
		s.Failures = append(s.Failures, FailureDetail{
			JobID:     r.JobID.String(),
			TableKind: r.TableKind,
			Page:      r.Page,
			Kind:      r.FailureKind,
			Reason:    r.RejectionReason,
		})
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total)
	}
	return s
}
