package models

import (
	"sort"
	"time"
)

// RecordStatus is the outcome of turning one source record into a vector.
type RecordStatus int

const (
	RecordOK RecordStatus = iota
	RecordDegraded
	RecordSkipped
)

func (s RecordStatus) String() string {
	switch s {
	case RecordOK:
		return "ok"
	case RecordDegraded:
		return "degraded"
	case RecordSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// RecordOutcome records what happened to a single record in a batch.
type RecordOutcome struct {
	ID        int64        `json:"id"`
	Status    RecordStatus `json:"status"`
	Defaulted []string     `json:"defaulted,omitempty"`
	Err       error        `json:"-"`
}

// BatchReport aggregates record outcomes and write counters of one pass.
type BatchReport struct {
	Pass         string        `json:"pass"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Degraded     int           `json:"degraded"`
	DegradedIDs  []int64       `json:"degraded_ids,omitempty"`
	Skipped      []int64       `json:"skipped,omitempty"`
	PairsScored  int           `json:"pairs_scored"`
	EdgesWritten int           `json:"edges_written"`
	EdgesDeleted int64         `json:"edges_deleted"`
	Chunks       int           `json:"chunks"`
	Note         string        `json:"note,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// NewBatchReport starts a report for the named pass.
func NewBatchReport(pass string) *BatchReport {
	return &BatchReport{Pass: pass, StartedAt: time.Now()}
}

// Record folds one outcome into the report.
func (r *BatchReport) Record(o RecordOutcome) {
	r.Total++
	switch o.Status {
	case RecordOK:
		r.Succeeded++
	case RecordDegraded:
		r.Degraded++
		r.DegradedIDs = append(r.DegradedIDs, o.ID)
	case RecordSkipped:
		r.Skipped = append(r.Skipped, o.ID)
	}
}

// Absorb adds the record counters of another report, typically the
// extraction step of a pass.
func (r *BatchReport) Absorb(o *BatchReport) {
	if o == nil {
		return
	}
	r.Total += o.Total
	r.Succeeded += o.Succeeded
	r.Degraded += o.Degraded
	r.DegradedIDs = append(r.DegradedIDs, o.DegradedIDs...)
	r.Skipped = append(r.Skipped, o.Skipped...)
}

// Usable is the number of records that produced a vector.
func (r *BatchReport) Usable() int {
	return r.Succeeded + r.Degraded
}

// Finish stamps the duration and sorts id lists for stable output.
func (r *BatchReport) Finish() *BatchReport {
	r.Duration = time.Since(r.StartedAt)
	sort.Slice(r.DegradedIDs, func(i, j int) bool { return r.DegradedIDs[i] < r.DegradedIDs[j] })
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i] < r.Skipped[j] })
	return r
}
