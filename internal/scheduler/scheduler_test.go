package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"offer-allocation/internal/engine"
	"offer-allocation/internal/model"
	"offer-allocation/internal/recorder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu   sync.Mutex
	runs []recorder.RunRecord
}

func (m *memRecorder) RecordRun(_ context.Context, rec *recorder.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *rec)
	return nil
}

func (m *memRecorder) RecentRuns(_ context.Context, _ int) ([]recorder.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recorder.RunRecord(nil), m.runs...), nil
}

func (m *memRecorder) Close() error { return nil }

func failedOutcome() *engine.Outcome {
	return &engine.Outcome{
		ID:   "run-1",
		Path: engine.PathFailed,
		Result: &model.Result{
			Method: model.MethodIterative,
			Deficits: []model.DeficitRecord{
				{Slot: model.TimeSlot{Date: model.NewDate(2025, time.January, 1), Hour: 1}, Demand: 10, Unmet: 10},
			},
		},
	}
}

func TestScheduler_RunNowRecords(t *testing.T) {
	rec := &memRecorder{}
	s := NewScheduler(context.Background(), func(ctx context.Context) (*engine.Outcome, error) {
		return failedOutcome(), errors.New("allocation model is unbounded")
	}, rec, nil)

	assert.True(t, s.RunNow())
	runs, _ := rec.RecentRuns(context.Background(), 0)
	require.Len(t, runs, 1)
	assert.Equal(t, "FAILED", runs[0].Path)
	assert.Equal(t, 10.0, runs[0].Deficit)
	assert.Equal(t, "allocation model is unbounded", runs[0].Error)
}

func TestScheduler_NothingToRecord(t *testing.T) {
	rec := &memRecorder{}
	s := NewScheduler(context.Background(), func(ctx context.Context) (*engine.Outcome, error) {
		return nil, errors.New("feed unavailable")
	}, rec, nil)

	assert.True(t, s.RunNow())
	runs, _ := rec.RecentRuns(context.Background(), 0)
	assert.Empty(t, runs)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := NewScheduler(context.Background(), func(ctx context.Context) (*engine.Outcome, error) {
		close(started)
		<-release
		return nil, nil
	}, nil, nil)

	done := make(chan bool)
	go func() { done <- s.RunNow() }()
	<-started

	assert.False(t, s.RunNow())
	close(release)
	assert.True(t, <-done)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(context.Background(), func(ctx context.Context) (*engine.Outcome, error) {
		return nil, nil
	}, nil, nil)

	assert.Error(t, s.Register("every tuesday"))
	assert.Error(t, s.Register("0 * * * *"), "five-field specs are rejected")
	require.NoError(t, s.Register("0 0 6 * * *"))
	assert.Len(t, s.Cron.Entries(), 1)

	s.Start()
	s.Stop()
}
