package recorder

import (
	"context"
	"time"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/engine"
)

// RunRecord is the persisted header of one allocation run.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	Mode        string
	Path        string
	Method      string
	Status      string
	Termination string
	Rounds      int

	Demand   float64
	Assigned float64
	Deficit  float64
	Cost     float64
	AvgPrice float64

	Duration time.Duration
	Error    string

	Offers  []analysis.OfferSummary
	Monthly []analysis.MonthlySummary
}

// FromOutcome flattens an outcome and its summary. runErr is kept as text on
// failed runs.
func FromOutcome(out *engine.Outcome, s *analysis.Summary, runErr error) *RunRecord {
	rec := &RunRecord{
		ID:        out.ID,
		StartedAt: out.StartedAt,
		Mode:      string(out.Mode),
		Path:      string(out.Path),
		Duration:  out.Duration,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if r := out.Result; r != nil {
		rec.Method = string(r.Method)
		rec.Status = r.Status
		rec.Termination = string(r.Termination)
		rec.Rounds = len(r.Rounds)
	}
	if s != nil {
		rec.Demand = s.Totals.Demand
		rec.Assigned = s.Totals.Assigned
		rec.Deficit = s.Totals.Deficit
		rec.Cost = s.Totals.Cost
		rec.AvgPrice = s.Totals.AvgPrice
		rec.Offers = s.ByOffer
		rec.Monthly = s.Monthly
	}
	return rec
}

// Recorder persists run history.
type Recorder interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
	// RecentRuns returns run headers, newest first. Offers and Monthly are
	// not populated.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
