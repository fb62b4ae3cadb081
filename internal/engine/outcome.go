package engine

import (
	"time"

	"offer-allocation/internal/model"
)

// Mode selects which allocators a run uses.
type Mode string

const (
	// ModeAuto runs the optimizer and falls back to the iterative allocator when
	// the solver is unavailable or times out without an incumbent.
	ModeAuto Mode = "auto"
	// ModeHeuristic runs only the iterative allocator.
	ModeHeuristic Mode = "heuristic"
	// ModeCompare runs both allocators concurrently on the same snapshot.
	ModeCompare Mode = "compare"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeAuto, ModeHeuristic, ModeCompare:
		return Mode(s), true
	case "":
		return ModeAuto, true
	}
	return "", false
}

// Path records how the primary result was produced.
// Keep these values stable; they are intended for CSV output and run history.
type Path string

const (
	PathSolved              Path = "SOLVED"
	PathSolvedIncumbent     Path = "SOLVED_INCUMBENT"
	PathTimeoutFallback     Path = "TIMEOUT_FALLBACK"
	PathUnavailableFallback Path = "SOLVER_UNAVAILABLE_FALLBACK"
	PathHeuristicOnly       Path = "HEURISTIC_ONLY"
	PathFailed              Path = "FAILED"
)

// Degraded reports whether the run fell back from the optimizer.
func (p Path) Degraded() bool {
	return p == PathTimeoutFallback || p == PathUnavailableFallback
}

// Comparison sets the two allocators side by side in compare mode.
// Objectives are both evaluated under the optimizer's model.
type Comparison struct {
	OptimizerCost      float64 `json:"optimizer_cost"`
	IterativeCost      float64 `json:"iterative_cost"`
	CostDifference     float64 `json:"cost_difference"`
	OptimizerObjective float64 `json:"optimizer_objective"`
	IterativeObjective float64 `json:"iterative_objective"`
	OptimizerDeficit   float64 `json:"optimizer_deficit"`
	IterativeDeficit   float64 `json:"iterative_deficit"`
}

// Outcome is everything one run produced.
type Outcome struct {
	ID   string
	Mode Mode
	Path Path

	Snapshot *model.Snapshot
	// Result is the primary allocation. On PathFailed it is the iterative
	// result kept for its deficit records.
	Result *model.Result
	// Alternate is the iterative result in compare mode, when the optimizer
	// produced the primary one.
	Alternate  *model.Result
	Comparison *Comparison

	StartedAt time.Time
	Duration  time.Duration
}
