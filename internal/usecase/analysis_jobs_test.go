package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/pkg/cache"
)

type fakeEnqueuer struct {
	err      error
	payloads []json.RawMessage
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.payloads = append(q.payloads, raw)
	return nil
}

type fakeBatchAnalyzer struct {
	err    error
	points int
}

func (a *fakeBatchAnalyzer) Analyze(_ context.Context, pts []models.MarketDataPoint) ([]*models.MarketPrediction, error) {
	a.points = len(pts)
	if a.err != nil {
		return nil, a.err
	}
	return []*models.MarketPrediction{{Symbol: pts[0].Symbol, CurrentPrice: pts[len(pts)-1].Price}}, nil
}

func newJobs(q *fakeEnqueuer, a *fakeBatchAnalyzer) (*AnalysisJobs, *fakeMetrics) {
	m := newFakeMetrics()
	store := cache.NewMemoryCache()
	return NewAnalysisJobs(q, a, store, m, nil, time.Minute), m
}

func TestAnalysisJobLifecycle(t *testing.T) {
	q := &fakeEnqueuer{}
	a := &fakeBatchAnalyzer{}
	jobs, _ := newJobs(q, a)
	ctx := context.Background()

	pts := []models.MarketDataPoint{point("AAPL", 100), point("AAPL", 101)}
	job, err := jobs.Submit(ctx, pts)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, 2, job.Points)
	require.Len(t, q.payloads, 1)

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, stored.Status)

	require.NoError(t, jobs.Handle(ctx, q.payloads[0]))
	assert.Equal(t, 2, a.points)

	done, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, done.Status)
	assert.Equal(t, 1, done.Attempts)
	require.Len(t, done.Predictions, 1)
	assert.Equal(t, "AAPL", done.Predictions[0].Symbol)
	assert.Equal(t, 101.0, done.Predictions[0].CurrentPrice)
}

func TestAnalysisJobFailureIsRecorded(t *testing.T) {
	q := &fakeEnqueuer{}
	a := &fakeBatchAnalyzer{err: errors.New("boom")}
	jobs, m := newJobs(q, a)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, []models.MarketDataPoint{point("MSFT", 10)})
	require.NoError(t, err)

	require.NoError(t, jobs.Handle(ctx, q.payloads[0]))
	assert.Equal(t, 1, m.errorCount("analyze_job"))

	failed, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

// failingSetStore fails the n-th Set call.
type failingSetStore struct {
	cache.Service
	sets   int
	failAt int
}

func (s *failingSetStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.sets++
	if s.sets == s.failAt {
		return errors.New("redis blip")
	}
	return s.Service.Set(ctx, key, value, ttl)
}

func TestAnalysisJobFinalSaveFailureIsNotRetried(t *testing.T) {
	q := &fakeEnqueuer{}
	a := &fakeBatchAnalyzer{}
	m := newFakeMetrics()
	// submit, running, done
	store := &failingSetStore{Service: cache.NewMemoryCache(), failAt: 3}
	jobs := NewAnalysisJobs(q, a, store, m, nil, time.Minute)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, []models.MarketDataPoint{point("AAPL", 100)})
	require.NoError(t, err)

	require.NoError(t, jobs.Handle(ctx, q.payloads[0]))
	assert.Equal(t, 1, a.points)
	assert.Equal(t, 1, m.errorCount("job_state_save"))

	running, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, running.Status)
}

func TestAnalysisJobRedeliveryDoesNotReapplyPoints(t *testing.T) {
	q := &fakeEnqueuer{}
	a := &fakeBatchAnalyzer{}
	jobs, m := newJobs(q, a)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, []models.MarketDataPoint{point("AAPL", 100), point("AAPL", 101)})
	require.NoError(t, err)
	require.NoError(t, jobs.Handle(ctx, q.payloads[0]))
	require.Equal(t, 2, a.points)

	// delivered again after completion
	a.points = 0
	require.NoError(t, jobs.Handle(ctx, q.payloads[0]))
	assert.Zero(t, a.points)
	done, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, done.Status)

	// delivered again while an earlier attempt left it running
	job2, err := jobs.Submit(ctx, []models.MarketDataPoint{point("MSFT", 10)})
	require.NoError(t, err)
	stale := *job2
	stale.Status = JobRunning
	stale.Attempts = 1
	require.NoError(t, jobs.save(ctx, &stale))

	require.NoError(t, jobs.Handle(ctx, q.payloads[1]))
	assert.Zero(t, a.points)
	assert.Equal(t, 1, m.errorCount("analyze_job_interrupted"))
	failed, err := jobs.Get(ctx, job2.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, failed.Status)
}

func TestAnalysisJobEnqueueFailure(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("queue not running")}
	jobs, m := newJobs(q, &fakeBatchAnalyzer{})

	_, err := jobs.Submit(context.Background(), []models.MarketDataPoint{point("MSFT", 10)})
	require.Error(t, err)
	assert.Equal(t, 1, m.errorCount("job_enqueue"))
}

func TestAnalysisJobGetUnknown(t *testing.T) {
	jobs, _ := newJobs(&fakeEnqueuer{}, &fakeBatchAnalyzer{})
	_, err := jobs.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, drepo.ErrNotFound)

	assert.Error(t, jobs.Handle(context.Background(), json.RawMessage(`not json`)))
}
