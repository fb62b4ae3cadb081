package optimize

import (
	"errors"
	"fmt"
	"math"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// Linkage selects how the optional accepted[offer,slot] binaries are tied to
// the assigned quantities.
type Linkage string

const (
	// LinkageNone builds the pure LP: no binaries.
	LinkageNone Linkage = "none"
	// LinkageIndicator adds assigned <= capacity*accepted. With no fixed cost on
	// accepted the relaxation is always tight, so accepted is read off the
	// assigned values.
	LinkageIndicator Linkage = "indicator"
	// LinkageAllOrNothing requires assigned = capacity*accepted: an offer either
	// delivers its whole quote at a slot or nothing.
	LinkageAllOrNothing Linkage = "all-or-nothing"
)

const (
	DefaultSafetyFactor = 10.0
	minSafetyFactor     = 10.0
	tieBreakNumerator   = 1e-3
)

var (
	ErrTieBreakTooLarge = errors.New("tie-break weight can override a price difference")
	ErrBigMTooSmall     = errors.New("big-M does not dominate the highest quote cost")
	ErrSafetyFactor     = errors.New("safety factor must be at least 10")
)

// ModelConfig parameterises Build. Zero BigM and TieBreakWeight mean "derive
// from the data".
type ModelConfig struct {
	BigM           float64
	SafetyFactor   float64
	TieBreakWeight float64
	Linkage        Linkage
}

// Var is one assigned[offer,slot] column.
type Var struct {
	Offer    int
	Quote    int // index into the slot's Quotes
	Price    float64
	Capacity float64
	// Cost is the objective coefficient price + ε·priority.
	Cost float64
}

// Block holds the columns and the balance row of one slot. Capacity pools
// are per slot, so the model is block diagonal and blocks solve
// independently.
type Block struct {
	Slot   int // index into Snapshot.Slots
	Demand float64
	Vars   []Var
}

// Model is the allocation program built from a snapshot:
//
//	min Σ cost·assigned + BigM·Σ deficit
//	s.t. Σ_offer assigned[o,s] + deficit[s] = demand[s]
//	     0 <= assigned[o,s] <= capacity[o,s]
//	     deficit[s] >= 0
type Model struct {
	Snapshot *model.Snapshot
	BigM     float64
	TieBreak float64
	Linkage  Linkage
	Blocks   []Block
}

// Build derives BigM and the tie-break weight and lays out one block per
// slot. Quotes with capacity at or below model.Epsilon get no column.
func Build(s *model.Snapshot, cfg ModelConfig, log logrus.FieldLogger) (*Model, error) {
	if s == nil {
		return nil, errors.New("snapshot is nil")
	}
	log = logging.OrDiscard(log).WithField("component", "model")

	linkage := cfg.Linkage
	if linkage == "" {
		linkage = LinkageNone
	}
	switch linkage {
	case LinkageNone, LinkageIndicator, LinkageAllOrNothing:
	default:
		return nil, fmt.Errorf("unknown linkage %q", linkage)
	}

	eps, err := tieBreakWeight(s, cfg.TieBreakWeight, log)
	if err != nil {
		return nil, err
	}
	bigM, err := bigM(s, cfg, eps)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Snapshot: s,
		BigM:     bigM,
		TieBreak: eps,
		Linkage:  linkage,
		Blocks:   make([]Block, 0, len(s.Slots)),
	}
	for si, sd := range s.Slots {
		b := Block{Slot: si, Demand: sd.Demand}
		for qi, q := range sd.Quotes {
			if q.Capacity <= model.Epsilon {
				continue
			}
			prio := float64(s.Offers[q.Offer].Priority)
			b.Vars = append(b.Vars, Var{
				Offer:    q.Offer,
				Quote:    qi,
				Price:    q.Price,
				Capacity: q.Capacity,
				Cost:     q.Price + eps*prio,
			})
		}
		m.Blocks = append(m.Blocks, b)
	}

	log.WithFields(logrus.Fields{
		"big_m":     bigM,
		"tie_break": eps,
		"linkage":   linkage,
		"blocks":    len(m.Blocks),
	}).Debug("model built")
	return m, nil
}

// tieBreakWeight returns ε such that ε·max|priority| stays below the
// smallest competing price gap. A derived ε that is too large is shrunk; an
// explicit one is rejected.
func tieBreakWeight(s *model.Snapshot, explicit float64, log logrus.FieldLogger) (float64, error) {
	if explicit < 0 {
		return 0, fmt.Errorf("tie-break weight must be >= 0, got %g", explicit)
	}
	maxPri := float64(s.MaxAbsPriority())
	if maxPri == 0 {
		return 0, nil
	}
	gap, hasGap := s.MinPriceGap()

	if explicit > 0 {
		if hasGap && explicit*maxPri >= gap {
			return 0, fmt.Errorf("%w: %g*%g >= min price gap %g", ErrTieBreakTooLarge, explicit, maxPri, gap)
		}
		return explicit, nil
	}

	eps := tieBreakNumerator / maxPri
	if hasGap && eps*maxPri >= gap {
		shrunk := gap / (2 * maxPri)
		log.WithFields(logrus.Fields{
			"default": eps,
			"shrunk":  shrunk,
			"min_gap": gap,
		}).Warn("default tie-break weight too large for quoted prices, shrinking")
		eps = shrunk
	}
	return eps, nil
}

func bigM(s *model.Snapshot, cfg ModelConfig, eps float64) (float64, error) {
	maxPrice := s.MaxPrice()
	floor := maxPrice + eps*float64(s.MaxAbsPriority())

	if cfg.BigM > 0 {
		if cfg.BigM <= floor {
			return 0, fmt.Errorf("%w: %g <= %g", ErrBigMTooSmall, cfg.BigM, floor)
		}
		return cfg.BigM, nil
	}

	safety := cfg.SafetyFactor
	if safety == 0 {
		safety = DefaultSafetyFactor
	}
	if safety < minSafetyFactor {
		return 0, fmt.Errorf("%w: got %g", ErrSafetyFactor, safety)
	}
	m := math.Max(maxPrice, 1) * math.Max(s.TotalDemand(), 1) * safety
	if m <= floor {
		m = floor * safety
	}
	return m, nil
}

// Objective evaluates a result under this model's objective, whichever
// component produced it.
func (m *Model) Objective(r *model.Result) float64 {
	total := 0.0
	for _, a := range r.Allocations {
		prio := 0.0
		if oi, ok := m.Snapshot.OfferIndex(a.OfferID); ok {
			prio = float64(m.Snapshot.Offers[oi].Priority)
		}
		total += (a.Price + m.TieBreak*prio) * a.Quantity
	}
	for _, d := range r.Deficits {
		total += m.BigM * d.Unmet
	}
	return total
}

// NumVars is the column count of the full model, binaries included.
func (m *Model) NumVars() int {
	n := 0
	for _, b := range m.Blocks {
		n += len(b.Vars) + 1
		if m.Linkage != LinkageNone {
			n += len(b.Vars)
		}
	}
	return n
}

// Extract turns a solution into a Result. Every allocation is recorded in
// round 1; values at or below model.Epsilon are dropped and their quantity is
// folded back into the slot's deficit.
func (m *Model) Extract(sol *Solution) (*model.Result, error) {
	if sol == nil {
		return nil, errors.New("solution is nil")
	}
	if len(sol.Assigned) != len(m.Blocks) || len(sol.Deficit) != len(m.Blocks) {
		return nil, fmt.Errorf("solution has no values for status %s", sol.Status)
	}

	r := &model.Result{
		Method:    model.MethodOptimizer,
		Status:    string(sol.Status),
		Objective: sol.Objective,
		Deficits:  make([]model.DeficitRecord, 0, len(m.Blocks)),
	}
	for bi, blk := range m.Blocks {
		sd := m.Snapshot.Slots[blk.Slot]
		covered := 0.0
		for vi, v := range blk.Vars {
			qty := sol.Assigned[bi][vi]
			if qty <= model.Epsilon {
				continue
			}
			q := sd.Quotes[v.Quote]
			r.Allocations = append(r.Allocations, model.Allocation{
				OfferID:      m.Snapshot.Offers[v.Offer].ID,
				Slot:         sd.Slot,
				Round:        1,
				Quantity:     qty,
				Price:        q.Price,
				BasePrice:    q.BasePrice,
				HasBasePrice: q.HasBasePrice,
			})
			covered += qty
		}
		r.Deficits = append(r.Deficits, model.DeficitRecord{
			Slot:   sd.Slot,
			Demand: sd.Demand,
			Unmet:  math.Max(sd.Demand-covered, 0),
		})
	}
	return r, nil
}
