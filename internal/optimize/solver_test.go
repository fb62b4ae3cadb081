package optimize

import (
	"context"
	"errors"
	"testing"
	"time"

	"offer-allocation/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

func solve(t *testing.T, s *model.Snapshot, cfg ModelConfig, p SolveParams) (*Model, *Solution, *model.Result) {
	t.Helper()
	m, err := Build(s, cfg, nil)
	require.NoError(t, err)
	sol, err := NewSimplexSolver(nil).Solve(context.Background(), m, p)
	require.NoError(t, err)
	r, err := m.Extract(sol)
	require.NoError(t, err)
	require.NoError(t, model.CheckInvariants(s, r, model.Epsilon))
	return m, sol, r
}

func qty(r *model.Result, offer string, s model.TimeSlot) float64 {
	total := 0.0
	for _, a := range r.Allocations {
		if a.OfferID == offer && a.Slot == s {
			total += a.Quantity
		}
	}
	return total
}

func unmet(r *model.Result, s model.TimeSlot) float64 {
	for _, d := range r.Deficits {
		if d.Slot == s {
			return d.Unmet
		}
	}
	return -1
}

func withSimplex(t *testing.T, fn func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error)) {
	t.Helper()
	orig := lpSimplex
	lpSimplex = fn
	t.Cleanup(func() { lpSimplex = orig })
}

func TestSimplex_CheapestFirst(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}, {ID: "B"}},
		map[model.TimeSlot]float64{slot(1, 1): 100},
		quote{"A", slot(1, 1), 10, 60},
		quote{"B", slot(1, 1), 12, 60},
	)
	_, sol, r := solve(t, s, ModelConfig{}, SolveParams{})

	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 60, qty(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 40, qty(r, "B", slot(1, 1)), 1e-6)
	assert.InDelta(t, 0, unmet(r, slot(1, 1)), 1e-6)
	assert.InDelta(t, 1080, r.Cost(), 1e-6)
	assert.InDelta(t, 1080, sol.Objective, 1e-6)
}

func TestSimplex_ShortfallBecomesDeficit(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 150},
		quote{"A", slot(1, 1), 5, 100},
	)
	m, _, r := solve(t, s, ModelConfig{}, SolveParams{})

	assert.InDelta(t, 100, qty(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 50, unmet(r, slot(1, 1)), 1e-6)
	assert.InDelta(t, 500+50*m.BigM, r.Objective, 1e-3)
}

func TestSimplex_CapacityIsPerSlot(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 80, slot(1, 2): 30},
		quote{"A", slot(1, 1), 7, 50},
		quote{"A", slot(1, 2), 7, 50},
	)
	_, _, r := solve(t, s, ModelConfig{}, SolveParams{})

	assert.InDelta(t, 50, qty(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 30, unmet(r, slot(1, 1)), 1e-6)
	assert.InDelta(t, 30, qty(r, "A", slot(1, 2)), 1e-6)
	assert.InDelta(t, 0, unmet(r, slot(1, 2)), 1e-6)
}

func TestSimplex_PriorityBreaksPriceTies(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "B", Priority: 2}, {ID: "A", Priority: 1}},
		map[model.TimeSlot]float64{slot(1, 1): 40},
		quote{"A", slot(1, 1), 8, 25},
		quote{"B", slot(1, 1), 8, 25},
	)
	_, _, r := solve(t, s, ModelConfig{}, SolveParams{})

	assert.InDelta(t, 25, qty(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 15, qty(r, "B", slot(1, 1)), 1e-6)
	assert.InDelta(t, 320, r.Cost(), 1e-6)
}

func TestSimplex_ZeroPrice(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 10, slot(1, 2): 0},
		quote{"A", slot(1, 1), 0, 10},
	)
	_, _, r := solve(t, s, ModelConfig{}, SolveParams{})

	assert.InDelta(t, 10, qty(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 0, unmet(r, slot(1, 1)), 1e-6)
	assert.InDelta(t, 0, unmet(r, slot(1, 2)), 1e-6)
	assert.Zero(t, r.Cost())
}

func TestSimplex_IndicatorLinkageReportsAccepted(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		map[model.TimeSlot]float64{slot(1, 1): 100},
		quote{"A", slot(1, 1), 10, 60},
		quote{"B", slot(1, 1), 12, 60},
		quote{"C", slot(1, 1), 15, 60},
	)
	_, sol, _ := solve(t, s, ModelConfig{Linkage: LinkageIndicator}, SolveParams{})

	require.Len(t, sol.Accepted, 1)
	assert.Equal(t, []bool{true, true, false}, sol.Accepted[0])
}

func TestSimplex_AllOrNothing(t *testing.T) {
	// Greedy by cost takes A and leaves 30 unmet; B+C covers demand exactly.
	s := snapshot(t,
		[]model.Offer{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		map[model.TimeSlot]float64{slot(1, 1): 100},
		quote{"A", slot(1, 1), 10, 70},
		quote{"B", slot(1, 1), 11, 50},
		quote{"C", slot(1, 1), 12, 50},
	)
	_, sol, r := solve(t, s, ModelConfig{Linkage: LinkageAllOrNothing}, SolveParams{RelativeGap: 1e-6})

	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, []bool{false, true, true}, sol.Accepted[0])
	assert.InDelta(t, 0, qty(r, "A", slot(1, 1)), 1e-9)
	assert.InDelta(t, 50, qty(r, "B", slot(1, 1)), 1e-9)
	assert.InDelta(t, 50, qty(r, "C", slot(1, 1)), 1e-9)
	assert.InDelta(t, 0, unmet(r, slot(1, 1)), 1e-9)
	assert.Greater(t, sol.Nodes, 1)
}

func TestSimplex_AllOrNothingNodeLimitKeepsIncumbent(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		map[model.TimeSlot]float64{slot(1, 1): 100},
		quote{"A", slot(1, 1), 10, 70},
		quote{"B", slot(1, 1), 11, 50},
		quote{"C", slot(1, 1), 12, 50},
	)
	_, sol, r := solve(t, s, ModelConfig{Linkage: LinkageAllOrNothing}, SolveParams{MaxNodes: 1})

	assert.Equal(t, StatusFeasible, sol.Status)
	assert.InDelta(t, 70, qty(r, "A", slot(1, 1)), 1e-9)
	assert.InDelta(t, 30, unmet(r, slot(1, 1)), 1e-9)
}

func TestSimplex_InfeasibleReportsSlots(t *testing.T) {
	withSimplex(t, func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error) {
		return 0, nil, lp.ErrInfeasible
	})
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 10, slot(1, 2): 20},
		quote{"A", slot(1, 1), 1, 5},
		quote{"A", slot(1, 2), 1, 5},
	)
	m, err := Build(s, ModelConfig{}, nil)
	require.NoError(t, err)

	sol, err := NewSimplexSolver(nil).Solve(context.Background(), m, SolveParams{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, sol.Status)
	require.Len(t, sol.Infeasible, 2)
	assert.Equal(t, slot(1, 2), sol.Infeasible[1].Slot)
	assert.Equal(t, 20.0, sol.Infeasible[1].Demand)
	assert.Equal(t, 5.0, sol.Infeasible[1].Capacity)
	assert.Nil(t, sol.Assigned)

	ierr := &InfeasibleError{Slots: sol.Infeasible}
	assert.Contains(t, ierr.Error(), "2025-01-01 H02")
}

func TestSimplex_BackendFailures(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 10},
		quote{"A", slot(1, 1), 1, 5},
	)
	m, err := Build(s, ModelConfig{}, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		fn   func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error)
		want error
	}{
		{
			name: "panic",
			fn: func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error) {
				panic("singular basis")
			},
			want: ErrSolverUnavailable,
		},
		{
			name: "backend error",
			fn: func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error) {
				return 0, nil, errors.New("lu factorization failed")
			},
			want: ErrSolverUnavailable,
		},
		{
			name: "unbounded",
			fn: func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error) {
				return 0, nil, lp.ErrUnbounded
			},
			want: ErrUnbounded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withSimplex(t, tt.fn)
			sol, err := NewSimplexSolver(nil).Solve(context.Background(), m, SolveParams{})
			assert.Nil(t, sol)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSimplex_TimeLimit(t *testing.T) {
	orig := lpSimplex
	withSimplex(t, func(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (float64, []float64, error) {
		time.Sleep(30 * time.Millisecond)
		return orig(c, A, b, tol, basis)
	})
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 10, slot(1, 2): 10},
		quote{"A", slot(1, 1), 1, 5},
		quote{"A", slot(1, 2), 1, 5},
	)
	m, err := Build(s, ModelConfig{}, nil)
	require.NoError(t, err)

	sol, err := NewSimplexSolver(nil).Solve(context.Background(), m, SolveParams{TimeLimit: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, sol.Status)
	assert.Nil(t, sol.Assigned)
}

func TestSimplex_CancelledContext(t *testing.T) {
	s := snapshot(t,
		[]model.Offer{{ID: "A"}},
		map[model.TimeSlot]float64{slot(1, 1): 10},
		quote{"A", slot(1, 1), 1, 5},
	)
	m, err := Build(s, ModelConfig{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSimplexSolver(nil).Solve(ctx, m, SolveParams{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTrimOverCover(t *testing.T) {
	assigned := []float64{10, 5, 3}
	trimOverCover(assigned, []int{0, 2}, 4)
	assert.Equal(t, []float64{9, 5, 0}, assigned)
}
