package optimize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Status is the outcome reported by a Solver.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusTimeout    Status = "timeout"
)

var (
	// ErrSolverUnavailable means the solver could not run at all. Callers fall
	// back to the iterative allocator.
	ErrSolverUnavailable = errors.New("solver unavailable")
	// ErrUnbounded cannot happen for a well formed model and is treated as a
	// structural failure.
	ErrUnbounded = errors.New("allocation model is unbounded")
	// ErrTimedOut is returned by allocators when the solver hit its time limit
	// without an incumbent.
	ErrTimedOut = errors.New("solver time limit reached without incumbent")
)

// SolveParams bounds one Solve call.
type SolveParams struct {
	TimeLimit   time.Duration
	RelativeGap float64
	// MaxNodes bounds branch and bound per block; 0 means no bound.
	MaxNodes int
}

// SlotDiagnostic describes a slot the solver could not satisfy.
type SlotDiagnostic struct {
	Slot     model.TimeSlot `json:"slot"`
	Demand   float64        `json:"demand"`
	Quotes   int            `json:"quotes"`
	Capacity float64        `json:"capacity"`
	Reason   string         `json:"reason"`
}

// InfeasibleError is returned when the solver declares the model
// infeasible. The deficit columns make every block feasible, so this always
// points at a construction bug or corrupt input.
type InfeasibleError struct {
	Slots []SlotDiagnostic
}

func (e *InfeasibleError) Error() string {
	parts := make([]string, 0, len(e.Slots))
	for _, d := range e.Slots {
		parts = append(parts, fmt.Sprintf("%s (%s)", d.Slot, d.Reason))
	}
	return "allocation model infeasible at " + strings.Join(parts, ", ")
}

// Solution holds the solver output, indexed like Model.Blocks and
// Block.Vars.
type Solution struct {
	Status    Status
	Assigned  [][]float64
	Accepted  [][]bool // nil unless the model has a linkage
	Deficit   []float64
	Objective float64
	// Nodes is the number of relaxations solved.
	Nodes      int
	Infeasible []SlotDiagnostic
}

// Solver is the adapter around an LP/MILP backend.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *Model, p SolveParams) (*Solution, error)
}

// lpSimplex points to the LP routine. Tests override it to simulate backend
// failures.
var lpSimplex = lp.Simplex

// SimplexSolver solves each block with gonum's simplex and handles the
// all-or-nothing linkage with branch and bound.
type SimplexSolver struct {
	Tol float64
	log logrus.FieldLogger
}

func NewSimplexSolver(log logrus.FieldLogger) *SimplexSolver {
	return &SimplexSolver{
		Tol: 1e-9,
		log: logging.OrDiscard(log).WithField("component", "simplex"),
	}
}

func (s *SimplexSolver) Name() string { return "gonum-simplex" }

// Solve runs every block in slot order. The time limit applies to the whole
// call: if it expires before every block has an incumbent the status is
// StatusTimeout and the partial values are discarded.
func (s *SimplexSolver) Solve(ctx context.Context, m *Model, p SolveParams) (sol *Solution, err error) {
	if m == nil {
		return nil, errors.New("model is nil")
	}
	defer func() {
		if r := recover(); r != nil {
			sol = nil
			err = fmt.Errorf("%w: backend panic: %v", ErrSolverUnavailable, r)
		}
	}()

	parent := ctx
	if p.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TimeLimit)
		defer cancel()
	}

	out := &Solution{
		Status:   StatusOptimal,
		Assigned: make([][]float64, len(m.Blocks)),
		Deficit:  make([]float64, len(m.Blocks)),
	}
	if m.Linkage != LinkageNone {
		out.Accepted = make([][]bool, len(m.Blocks))
	}

	for bi := range m.Blocks {
		if err := parent.Err(); err != nil {
			return nil, err
		}
		// Branch and bound always carries an incumbent, so only the pure LP
		// can run out of time without one.
		if ctx.Err() != nil && m.Linkage != LinkageAllOrNothing {
			s.log.WithField("solved_blocks", bi).Warn("time limit reached before all slots were solved")
			return &Solution{Status: StatusTimeout, Nodes: out.Nodes}, nil
		}

		blk := &m.Blocks[bi]
		var (
			res   blockResult
			exact bool
		)
		if m.Linkage == LinkageAllOrNothing {
			res, exact, err = s.branchAndBound(ctx, m, blk, p)
		} else {
			res, err = s.solveRelaxation(m, blk, nil)
			exact = true
		}
		out.Nodes += res.nodes
		switch {
		case errors.Is(err, errNodeInfeasible):
			out.Status = StatusInfeasible
			out.Infeasible = append(out.Infeasible, diagnose(m, blk, "balance row cannot be satisfied"))
			continue
		case err != nil:
			return nil, err
		}
		if !exact && out.Status == StatusOptimal {
			out.Status = StatusFeasible
		}

		out.Assigned[bi] = res.assigned
		out.Deficit[bi] = res.deficit
		out.Objective += res.objective
		if out.Accepted != nil {
			out.Accepted[bi] = res.accepted(blk)
		}
	}

	if out.Status == StatusInfeasible {
		out.Assigned, out.Deficit, out.Accepted = nil, nil, nil
	}
	return out, nil
}

var errNodeInfeasible = errors.New("node infeasible")

type blockResult struct {
	assigned  []float64
	deficit   float64
	objective float64
	nodes     int
}

func (r blockResult) accepted(blk *Block) []bool {
	out := make([]bool, len(blk.Vars))
	for i, v := range r.assigned {
		out[i] = v > model.Epsilon
	}
	return out
}

// nodeFix pins binaries during branch and bound: +1 forces the whole
// capacity in, -1 forces the column out, 0 leaves it continuous.
type nodeFix []int8

// solveRelaxation solves one block in standard form. With columns
// a_1..a_k (free offers), d (deficit), s_1..s_k (capacity slacks):
//
//	row 0:   Σ a_i + d       = demand - Σ fixed-in capacity
//	row i:   a_i + s_i       = capacity_i
//
// {d, s_1..s_k} is a feasible starting basis, so phase one is skipped.
func (s *SimplexSolver) solveRelaxation(m *Model, blk *Block, fix nodeFix) (blockResult, error) {
	res := blockResult{assigned: make([]float64, len(blk.Vars)), nodes: 1}

	demand := blk.Demand
	fixedCost := 0.0
	free := make([]int, 0, len(blk.Vars))
	for i, v := range blk.Vars {
		switch {
		case fix != nil && fix[i] > 0:
			demand -= v.Capacity
			fixedCost += v.Cost * v.Capacity
			res.assigned[i] = v.Capacity
		case fix != nil && fix[i] < 0:
		default:
			free = append(free, i)
		}
	}
	if demand < -model.Epsilon {
		return res, errNodeInfeasible
	}
	if demand < 0 {
		demand = 0
	}

	k := len(free)
	if k == 0 {
		res.deficit = demand
		res.objective = fixedCost + m.BigM*demand
		return res, nil
	}

	rows, cols := k+1, 2*k+1
	A := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)
	basis := make([]int, 0, rows)

	b[0] = demand
	A.Set(0, k, 1)
	c[k] = m.BigM
	basis = append(basis, k)
	for j, vi := range free {
		v := blk.Vars[vi]
		A.Set(0, j, 1)
		A.Set(j+1, j, 1)
		A.Set(j+1, k+1+j, 1)
		b[j+1] = v.Capacity
		c[j] = v.Cost
		basis = append(basis, k+1+j)
	}

	opt, x, err := lpSimplex(c, A, b, s.Tol, basis)
	switch {
	case err == nil:
	case errors.Is(err, lp.ErrInfeasible):
		return res, errNodeInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return res, fmt.Errorf("slot %s: %w", m.Snapshot.Slots[blk.Slot].Slot, ErrUnbounded)
	default:
		return res, fmt.Errorf("%w: slot %s: %v", ErrSolverUnavailable, m.Snapshot.Slots[blk.Slot].Slot, err)
	}

	// Recompute the deficit from the clamped columns so the balance row holds
	// exactly.
	covered := 0.0
	for j, vi := range free {
		res.assigned[vi] = clamp(x[j], 0, blk.Vars[vi].Capacity)
		covered += res.assigned[vi]
	}
	if covered > demand {
		trimOverCover(res.assigned, free, covered-demand)
		covered = demand
	}
	res.deficit = demand - covered
	res.objective = fixedCost + opt
	return res, nil
}

// trimOverCover removes floating excess from the free columns, last first.
func trimOverCover(assigned []float64, free []int, excess float64) {
	for j := len(free) - 1; j >= 0 && excess > 0; j-- {
		vi := free[j]
		cut := assigned[vi]
		if cut > excess {
			cut = excess
		}
		assigned[vi] -= cut
		excess -= cut
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func diagnose(m *Model, blk *Block, reason string) SlotDiagnostic {
	sd := m.Snapshot.Slots[blk.Slot]
	d := SlotDiagnostic{
		Slot:   sd.Slot,
		Demand: sd.Demand,
		Quotes: len(blk.Vars),
		Reason: reason,
	}
	for _, v := range blk.Vars {
		d.Capacity += v.Capacity
	}
	return d
}
