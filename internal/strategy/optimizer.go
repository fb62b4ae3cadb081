package strategy

import (
	"context"
	"errors"
	"fmt"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"
	"offer-allocation/internal/optimize"

	"github.com/sirupsen/logrus"
)

// OptimizerAllocator builds the allocation model and hands it to a Solver.
type OptimizerAllocator struct {
	Model  optimize.ModelConfig
	Params optimize.SolveParams
	Solver optimize.Solver
	log    logrus.FieldLogger
}

func NewOptimizerAllocator(cfg optimize.ModelConfig, params optimize.SolveParams, solver optimize.Solver, log logrus.FieldLogger) *OptimizerAllocator {
	return &OptimizerAllocator{
		Model:  cfg,
		Params: params,
		Solver: solver,
		log:    logging.OrDiscard(log).WithField("component", "optimizer"),
	}
}

func (a *OptimizerAllocator) Name() string { return "optimizer" }

// Allocate returns optimize.ErrSolverUnavailable when no solver is set or
// the backend fails, optimize.ErrTimedOut when the time limit leaves no
// incumbent, and *optimize.InfeasibleError when the solver rejects the model.
func (a *OptimizerAllocator) Allocate(ctx context.Context, s *model.Snapshot) (*model.Result, error) {
	m, err := optimize.Build(s, a.Model, a.log)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	if a.Solver == nil {
		return nil, fmt.Errorf("%w: no solver configured", optimize.ErrSolverUnavailable)
	}

	sol, err := a.Solver.Solve(ctx, m, a.Params)
	if err != nil {
		return nil, err
	}

	log := a.log.WithFields(logrus.Fields{
		"solver": a.Solver.Name(),
		"status": sol.Status,
		"nodes":  sol.Nodes,
	})
	switch sol.Status {
	case optimize.StatusOptimal, optimize.StatusFeasible:
	case optimize.StatusInfeasible:
		log.WithField("slots", len(sol.Infeasible)).Error("solver declared the model infeasible")
		return nil, &optimize.InfeasibleError{Slots: sol.Infeasible}
	case optimize.StatusTimeout:
		log.Warn("solver timed out without incumbent")
		return nil, optimize.ErrTimedOut
	default:
		return nil, fmt.Errorf("%w: unknown status %q", optimize.ErrSolverUnavailable, sol.Status)
	}

	res, err := m.Extract(sol)
	if err != nil {
		return nil, err
	}
	log.WithField("objective", sol.Objective).Info("optimizer allocation finished")
	return res, nil
}

// IsFallbackError reports whether err should send the caller to the iterative
// allocator instead of failing the run.
func IsFallbackError(err error) bool {
	return errors.Is(err, optimize.ErrSolverUnavailable) || errors.Is(err, optimize.ErrTimedOut)
}
