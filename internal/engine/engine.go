package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"
	"offer-allocation/internal/optimize"
	"offer-allocation/internal/strategy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNoSlots = errors.New("price feed lists no slots")

// Config carries every knob of a run. The engine copies it at construction.
type Config struct {
	Mode      Mode
	Model     optimize.ModelConfig
	Solve     optimize.SolveParams
	Iterative strategy.IterativeParams
	// Tolerance for the balance and capacity checks. Default model.Epsilon.
	Tolerance float64
}

// Engine runs one allocation over one price feed. Build a new Engine per run;
// it holds no state beyond its configuration.
type Engine struct {
	feed      model.PriceFeed
	cfg       Config
	optimizer *strategy.OptimizerAllocator
	iterative *strategy.IterativeAllocator
	log       logrus.FieldLogger
}

// New wires the allocators. solver may be nil, in which case ModeAuto always
// takes the unavailable-solver fallback.
func New(feed model.PriceFeed, cfg Config, solver optimize.Solver, log logrus.FieldLogger) *Engine {
	log = logging.OrDiscard(log)
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = model.Epsilon
	}
	return &Engine{
		feed:      feed,
		cfg:       cfg,
		optimizer: strategy.NewOptimizerAllocator(cfg.Model, cfg.Solve, solver, log),
		iterative: strategy.NewIterativeAllocator(cfg.Iterative, log),
		log:       log,
	}
}

// Run snapshots the feed and executes the configured mode.
//
// Structural solver failures (declared infeasibility, unboundedness) return
// both an error and a PathFailed outcome whose Result holds the iterative
// allocator's deficit records.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	if e.feed == nil {
		return nil, fmt.Errorf("price feed is nil")
	}
	started := time.Now()
	id := uuid.NewString()
	log := e.log.WithFields(logrus.Fields{"run_id": id, "mode": e.cfg.Mode})

	snap, err := model.NewSnapshot(e.feed, log)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if len(snap.Slots) == 0 {
		return nil, ErrNoSlots
	}

	out := &Outcome{ID: id, Mode: e.cfg.Mode, Snapshot: snap, StartedAt: started}

	var runErr error
	switch e.cfg.Mode {
	case ModeHeuristic:
		out.Result, runErr = e.iterative.Allocate(ctx, snap)
		out.Path = PathHeuristicOnly
	case ModeAuto:
		runErr = e.runAuto(ctx, snap, out, log)
	case ModeCompare:
		runErr = e.runCompare(ctx, snap, out, log)
	default:
		return nil, fmt.Errorf("unknown mode %q", e.cfg.Mode)
	}
	out.Duration = time.Since(started)

	if runErr != nil {
		if out.Path == PathFailed && out.Result != nil {
			log.WithError(runErr).WithField("deficit", out.Result.TotalDeficit()).Error("allocation failed")
			return out, runErr
		}
		return nil, runErr
	}

	for _, r := range []*model.Result{out.Result, out.Alternate} {
		if r == nil {
			continue
		}
		if err := model.CheckInvariants(snap, r, e.cfg.Tolerance); err != nil {
			return nil, fmt.Errorf("%s result: %w", r.Method, err)
		}
	}

	log.WithFields(logrus.Fields{
		"path":     out.Path,
		"assigned": out.Result.TotalAssigned(),
		"deficit":  out.Result.TotalDeficit(),
		"cost":     out.Result.Cost(),
		"duration": out.Duration,
	}).Info("allocation run finished")
	return out, nil
}

func (e *Engine) runAuto(ctx context.Context, snap *model.Snapshot, out *Outcome, log logrus.FieldLogger) error {
	res, err := e.optimizer.Allocate(ctx, snap)
	path, err := e.classify(res, err, log)
	out.Path = path
	switch {
	case err == nil:
		out.Result = res
		return nil
	case path.Degraded():
		out.Result, err = e.iterative.Allocate(ctx, snap)
		return err
	case path == PathFailed:
		return e.fail(ctx, snap, out, err)
	default:
		return err
	}
}

func (e *Engine) runCompare(ctx context.Context, snap *model.Snapshot, out *Outcome, log logrus.FieldLogger) error {
	var (
		optRes, iterRes *model.Result
		optErr          error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		optRes, optErr = e.optimizer.Allocate(gctx, snap)
		// Solver failures are classified below; only a cancelled context
		// should stop the other allocator.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
	g.Go(func() error {
		var err error
		iterRes, err = e.iterative.Allocate(gctx, snap)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	path, err := e.classify(optRes, optErr, log)
	out.Path = path
	switch {
	case err == nil:
		out.Result = optRes
		out.Alternate = iterRes
		out.Comparison = e.compare(snap, optRes, iterRes)
		return nil
	case path.Degraded():
		out.Result = iterRes
		return nil
	case path == PathFailed:
		out.Result = iterRes
		return err
	default:
		return err
	}
}

// classify maps an optimizer outcome onto a run path. A nil error in the
// return means res is usable.
func (e *Engine) classify(res *model.Result, err error, log logrus.FieldLogger) (Path, error) {
	var infeasible *optimize.InfeasibleError
	switch {
	case err == nil && res.Status == string(optimize.StatusFeasible):
		log.Info("solver stopped early, accepting incumbent")
		return PathSolvedIncumbent, nil
	case err == nil:
		return PathSolved, nil
	case errors.Is(err, optimize.ErrTimedOut):
		log.Warn("degraded mode: solver timed out, falling back to iterative allocation")
		return PathTimeoutFallback, err
	case errors.Is(err, optimize.ErrSolverUnavailable):
		log.WithError(err).Warn("degraded mode: solver unavailable, falling back to iterative allocation")
		return PathUnavailableFallback, err
	case errors.As(err, &infeasible), errors.Is(err, optimize.ErrUnbounded):
		return PathFailed, err
	default:
		return "", err
	}
}

// fail keeps the iterative deficits next to a structural solver error.
func (e *Engine) fail(ctx context.Context, snap *model.Snapshot, out *Outcome, cause error) error {
	res, err := e.iterative.Allocate(ctx, snap)
	if err != nil {
		return errors.Join(cause, err)
	}
	out.Result = res
	return cause
}

func (e *Engine) compare(snap *model.Snapshot, opt, iter *model.Result) *Comparison {
	c := &Comparison{
		OptimizerCost:      opt.Cost(),
		IterativeCost:      iter.Cost(),
		OptimizerObjective: opt.Objective,
		OptimizerDeficit:   opt.TotalDeficit(),
		IterativeDeficit:   iter.TotalDeficit(),
	}
	c.CostDifference = c.IterativeCost - c.OptimizerCost
	if m, err := optimize.Build(snap, e.cfg.Model, nil); err == nil {
		c.IterativeObjective = m.Objective(iter)
	}
	return c
}
