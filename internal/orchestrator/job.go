// Package orchestrator drives page/table jobs through the extract, validate,
// and repair stages. Every job is an explicit state machine with an immutable
// attempt history, so a stored result can always be explained.
package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// State is a job's position in the pipeline.
type State string

const (
	StatePending          State = "Pending"
	StateExtracting       State = "Extracting"
	StateExtracted        State = "Extracted"
	StateExtractFailed    State = "ExtractFailed"
	StateValidating       State = "Validating"
	StateValidated        State = "Validated"
	StateValidationFailed State = "ValidationFailed"
	StateRepairing        State = "Repairing"
	StateRepaired         State = "Repaired"
	StateRepairRejected   State = "RepairRejected"
	StateRepairTimeout    State = "RepairTimeout"
	StateDone             State = "Done"
)

// transitions lists the legal successor states. ValidationFailed may loop
// back to Extracting: that is the bounded retry path and the only cycle.
var transitions = map[State][]State{
	StatePending:          {StateExtracting, StateDone},
	StateExtracting:       {StateExtracted, StateExtractFailed},
	StateExtracted:        {StateValidating},
	StateExtractFailed:    {StateDone},
	StateValidating:       {StateValidated, StateValidationFailed},
	StateValidated:        {StateRepairing},
	StateValidationFailed: {StateExtracting, StateDone},
	StateRepairing:        {StateRepaired, StateRepairRejected, StateRepairTimeout},
	StateRepaired:         {StateDone},
	StateRepairRejected:   {StateDone},
	StateRepairTimeout:    {StateDone},
}

// Attempt is one pass through the pipeline for a job. Attempts are appended,
// never rewritten.
type Attempt struct {
	Number     int
	Source     string
	Candidates int
	Confidence float64
	Failure    domain.FailureKind
	Reason     string
	Timings    domain.StageTimings
}

// Job is one page/table extraction unit.
type Job struct {
	ID       uuid.UUID
	DocPath  string
	Vintage  string
	TableID  string
	Page     int
	PageText string

	State    State
	Attempts []Attempt
}

// NewJob creates a pending job with a fresh id.
func NewJob(docPath, vintage, tableID string, page int, pageText string) *Job {
	return &Job{
		ID:       uuid.New(),
		DocPath:  docPath,
		Vintage:  vintage,
		TableID:  tableID,
		Page:     page,
		PageText: pageText,
		State:    StatePending,
	}
}

// transition advances the job state, rejecting moves the machine does not
// allow. A transition error is a bug in the orchestrator, not job data.
func (j *Job) transition(to State) error {
	for _, next := range transitions[j.State] {
		if next == to {
			j.State = to
			return nil
		}
	}
	return fmt.Errorf("illegal job transition %s -> %s", j.State, to)
}

// lastAttempt returns the most recent attempt, or nil before the first.
func (j *Job) lastAttempt() *Attempt {
	if len(j.Attempts) == 0 {
		return nil
	}
	return &j.Attempts[len(j.Attempts)-1]
}
