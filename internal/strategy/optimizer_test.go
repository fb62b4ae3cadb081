package strategy

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"offer-allocation/internal/model"
	"offer-allocation/internal/optimize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSolver struct {
	sol *optimize.Solution
	err error
}

func (s *stubSolver) Name() string { return "stub" }

func (s *stubSolver) Solve(ctx context.Context, m *optimize.Model, p optimize.SolveParams) (*optimize.Solution, error) {
	return s.sol, s.err
}

func scenarioA(t *testing.T) *model.Snapshot {
	return snapshot(t,
		[]model.Offer{{ID: "A"}, {ID: "B"}},
		map[model.TimeSlot]float64{slot(1, 1): 100},
		quote{"A", slot(1, 1), 10, 60},
		quote{"B", slot(1, 1), 12, 60},
	)
}

func TestOptimizerAllocator_Solves(t *testing.T) {
	s := scenarioA(t)
	a := NewOptimizerAllocator(optimize.ModelConfig{}, optimize.SolveParams{}, optimize.NewSimplexSolver(nil), nil)

	r, err := a.Allocate(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, model.CheckInvariants(s, r, model.Epsilon))
	assert.Equal(t, model.MethodOptimizer, r.Method)
	assert.Equal(t, "optimal", r.Status)
	assert.InDelta(t, 60, allocated(r, "A", slot(1, 1)), 1e-6)
	assert.InDelta(t, 40, allocated(r, "B", slot(1, 1)), 1e-6)
	assert.Equal(t, "optimizer", a.Name())
}

func TestOptimizerAllocator_Errors(t *testing.T) {
	s := scenarioA(t)

	tests := []struct {
		name     string
		solver   optimize.Solver
		cfg      optimize.ModelConfig
		want     error
		fallback bool
	}{
		{
			name:     "no solver",
			want:     optimize.ErrSolverUnavailable,
			fallback: true,
		},
		{
			name:     "backend failure",
			solver:   &stubSolver{err: optimize.ErrSolverUnavailable},
			want:     optimize.ErrSolverUnavailable,
			fallback: true,
		},
		{
			name:     "timeout",
			solver:   &stubSolver{sol: &optimize.Solution{Status: optimize.StatusTimeout}},
			want:     optimize.ErrTimedOut,
			fallback: true,
		},
		{
			name:   "unbounded",
			solver: &stubSolver{err: optimize.ErrUnbounded},
			want:   optimize.ErrUnbounded,
		},
		{
			name:   "big-M too small",
			solver: optimize.NewSimplexSolver(nil),
			cfg:    optimize.ModelConfig{BigM: 1},
			want:   optimize.ErrBigMTooSmall,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewOptimizerAllocator(tt.cfg, optimize.SolveParams{}, tt.solver, nil).Allocate(context.Background(), s)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.fallback, IsFallbackError(err))
		})
	}
}

func TestOptimizerAllocator_Infeasible(t *testing.T) {
	s := scenarioA(t)
	diag := []optimize.SlotDiagnostic{{Slot: slot(1, 1), Demand: 100, Reason: "balance row cannot be satisfied"}}
	solver := &stubSolver{sol: &optimize.Solution{Status: optimize.StatusInfeasible, Infeasible: diag}}

	_, err := NewOptimizerAllocator(optimize.ModelConfig{}, optimize.SolveParams{}, solver, nil).Allocate(context.Background(), s)
	var ierr *optimize.InfeasibleError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, diag, ierr.Slots)
	assert.False(t, IsFallbackError(err))
}

func TestOptimizerAllocator_NeverCostsMoreThanIterative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	opt := NewOptimizerAllocator(optimize.ModelConfig{}, optimize.SolveParams{}, optimize.NewSimplexSolver(nil), nil)

	for i := 0; i < 15; i++ {
		s := randomSnapshot(t, rng, 1+rng.Intn(5), 1)

		ir := runIterative(t, s, IterativeParams{})
		or, err := opt.Allocate(context.Background(), s)
		require.NoError(t, err)
		require.NoError(t, model.CheckInvariants(s, or, model.Epsilon))

		// Both cover as much demand as capacity allows, cheapest first.
		assert.InDelta(t, ir.TotalDeficit(), or.TotalDeficit(), 1e-6)
		assert.InDelta(t, ir.Cost(), or.Cost(), 1e-6*(1+ir.Cost()))
	}
}
