package model

// Method names the component that produced a Result.
// Keep these values stable; they are written to CSV output and run history.
type Method string

const (
	MethodOptimizer Method = "OPTIMIZER"
	MethodIterative Method = "ITERATIVE"
)

// Termination is why the iterative allocator stopped.
type Termination string

const (
	TerminationDemandMet  Termination = "DEMAND_MET"
	TerminationNoProgress Termination = "NO_PROGRESS"
	TerminationRoundBound Termination = "ROUND_BOUND"
)

// Allocation is one assignment of an offer's capacity to a slot in a round.
// Rows are append-only; nothing edits them after the run.
type Allocation struct {
	OfferID  string   `json:"offer_id"`
	Slot     TimeSlot `json:"slot"`
	Round    int      `json:"round"`
	Quantity float64  `json:"quantity"`

	// Resolved from the snapshot when the row is created.
	Price        float64 `json:"price"`
	BasePrice    float64 `json:"base_price,omitempty"`
	HasBasePrice bool    `json:"has_base_price,omitempty"`
}

// DeficitRecord is the unmet demand of one slot.
type DeficitRecord struct {
	Slot   TimeSlot `json:"slot"`
	Demand float64  `json:"demand"`
	Unmet  float64  `json:"unmet"`
}

// LeftoverEntry is the capacity an offer still holds at a slot after a round.
type LeftoverEntry struct {
	OfferID   string   `json:"offer_id"`
	Slot      TimeSlot `json:"slot"`
	Remaining float64  `json:"remaining"`
}

// RoundSummary is the audit record of one iterative round. Leftover lists
// only entries with remaining capacity above Epsilon.
type RoundSummary struct {
	Round    int             `json:"round"`
	Assigned float64         `json:"assigned"`
	Leftover []LeftoverEntry `json:"leftover,omitempty"`
}

// Result is the output of one allocator run.
type Result struct {
	Method      Method          `json:"method"`
	Allocations []Allocation    `json:"allocations"`
	Deficits    []DeficitRecord `json:"deficits"`

	// Iterative only.
	Rounds      []RoundSummary `json:"rounds,omitempty"`
	Termination Termination    `json:"termination,omitempty"`

	// Optimizer only.
	Status    string  `json:"status,omitempty"`
	Objective float64 `json:"objective,omitempty"`
}

func (r *Result) TotalAssigned() float64 {
	total := 0.0
	for _, a := range r.Allocations {
		total += a.Quantity
	}
	return total
}

func (r *Result) TotalDeficit() float64 {
	total := 0.0
	for _, d := range r.Deficits {
		total += d.Unmet
	}
	return total
}

// Cost is the procurement cost Σ price × quantity.
func (r *Result) Cost() float64 {
	total := 0.0
	for _, a := range r.Allocations {
		total += a.Price * a.Quantity
	}
	return total
}
