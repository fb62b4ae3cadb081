package scheduler

import (
	"context"
	"fmt"
	"sync"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/logging"
	"offer-allocation/internal/recorder"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RunFunc performs one allocation run. It may return a non-nil outcome
// together with an error for failed runs that still carry deficits.
type RunFunc func(ctx context.Context) (*engine.Outcome, error)

// Scheduler re-runs the allocation on a cron schedule and records each run.
type Scheduler struct {
	Cron     *cron.Cron
	Run      RunFunc
	Recorder recorder.Recorder
	Ctx      context.Context

	// running guards against overlapping runs when one outlasts the interval.
	running sync.Mutex
	log     logrus.FieldLogger
}

func NewScheduler(ctx context.Context, run RunFunc, rec recorder.Recorder, log logrus.FieldLogger) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Run:      run,
		Recorder: rec,
		Ctx:      ctx,
		log:      logging.OrDiscard(log).WithField("component", "scheduler"),
	}
}

// Register adds the allocation task under spec (six fields, with seconds).
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.task); err != nil {
		return fmt.Errorf("register allocation task: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow executes the task immediately and reports whether it ran.
func (s *Scheduler) RunNow() bool {
	return s.runOnce()
}

func (s *Scheduler) task() { s.runOnce() }

func (s *Scheduler) runOnce() bool {
	if !s.running.TryLock() {
		s.log.Warn("previous allocation still running, skipping")
		return false
	}
	defer s.running.Unlock()

	out, err := s.Run(s.Ctx)
	if out == nil {
		s.log.WithError(err).Error("scheduled allocation failed")
		return true
	}

	sum := analysis.Summarize(out.Result)
	if recErr := s.Recorder.RecordRun(s.Ctx, recorder.FromOutcome(out, sum, err)); recErr != nil {
		s.log.WithError(recErr).Error("record run")
	}

	entry := s.log.WithFields(logrus.Fields{
		"run_id":  out.ID,
		"path":    out.Path,
		"cost":    sum.Totals.Cost,
		"deficit": sum.Totals.Deficit,
	})
	if err != nil {
		entry.WithError(err).Error("scheduled allocation failed")
		return true
	}
	entry.Info("scheduled allocation recorded")
	return true
}
