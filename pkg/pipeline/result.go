package pipeline

import (
	"sort"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// Failure records why one item of a run did not complete
type Failure struct {
	SequenceNo int
	Err        error
}

// ProcessingResult is the outcome of one run
type ProcessingResult[P any] struct {
	// Run identifies the run
	Run types.RunInfo

	// Status is the aggregate outcome
	Status types.Status

	// Succeeded holds the completed payloads ordered by sequence number
	Succeeded []P

	// Failed holds one entry per failed item ordered by sequence number
	Failed []Failure

	// ExpectedTotal is the number of payloads submitted
	ExpectedTotal int

	// Err is the run-level cause when the run could not be driven to completion
	// (no payloads, cancellation, early termination)
	Err error

	// Stages holds per-stage statistics taken after the run's stages stopped
	Stages []types.StageStats

	// Duration is the wall time of the run
	Duration time.Duration
}

// SuccessCount returns the number of completed items
func (r *ProcessingResult[P]) SuccessCount() int {
	return len(r.Succeeded)
}

// FailureCount returns the number of failed items
func (r *ProcessingResult[P]) FailureCount() int {
	return len(r.Failed)
}

// IsPartialSuccess reports whether some but not all items completed
func (r *ProcessingResult[P]) IsPartialSuccess() bool {
	return r.SuccessCount() > 0 && r.SuccessCount() < r.ExpectedTotal
}

// IsCompleteFailure reports whether no item completed and at least one failed
func (r *ProcessingResult[P]) IsCompleteFailure() bool {
	return r.SuccessCount() == 0 && r.FailureCount() > 0
}

// Aggregate classifies the collected items of a run.
//
// Items are de-duplicated by sequence number; a sequence number reported both
// as succeeded and failed counts as succeeded. The status is Success when
// nothing failed, Failure when nothing succeeded and PartialSuccess otherwise.
// A run with no payloads at all is a Failure.
func Aggregate[P any](expectedTotal int, succeeded []types.WorkItem[P], failed []Failure) *ProcessingResult[P] {
	done := make(map[int]bool, len(succeeded))
	ok := make([]types.WorkItem[P], 0, len(succeeded))
	for _, item := range succeeded {
		if done[item.SequenceNo] {
			continue
		}
		done[item.SequenceNo] = true
		ok = append(ok, item)
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].SequenceNo < ok[j].SequenceNo })

	bad := make([]Failure, 0, len(failed))
	for _, f := range failed {
		if done[f.SequenceNo] {
			continue
		}
		done[f.SequenceNo] = true
		bad = append(bad, f)
	}
	sort.SliceStable(bad, func(i, j int) bool { return bad[i].SequenceNo < bad[j].SequenceNo })

	result := &ProcessingResult[P]{
		Succeeded:     make([]P, len(ok)),
		Failed:        bad,
		ExpectedTotal: expectedTotal,
	}
	for i, item := range ok {
		result.Succeeded[i] = item.Payload
	}

	switch {
	case len(bad) == 0 && expectedTotal > 0:
		result.Status = types.StatusSuccess
	case len(ok) == 0:
		result.Status = types.StatusFailure
	default:
		result.Status = types.StatusPartialSuccess
	}
	return result
}
