package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/pkg/cache"
	"BasalGCT/pkg/logger"
	"BasalGCT/pkg/queue"
)

const AnalyzeJobType = "analyze_batch"

type BatchAnalyzer interface {
	Analyze(ctx context.Context, points []models.MarketDataPoint) ([]*models.MarketPrediction, error)
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// AnalysisJob is the stored state of one asynchronous batch analysis.
type AnalysisJob struct {
	ID          string                     `json:"job_id"`
	Status      JobStatus                  `json:"status"`
	Points      int                        `json:"points"`
	Attempts    int                        `json:"attempts"`
	Predictions []*models.MarketPrediction `json:"predictions,omitempty"`
	Error       string                     `json:"error,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

type analyzePayload struct {
	JobID  string                   `json:"job_id"`
	Points []models.MarketDataPoint `json:"points"`
}

// AnalysisJobs runs batch analyses off the request path through the job queue
// and keeps their state in the cache.
type AnalysisJobs struct {
	q        queue.Enqueuer
	analyzer BatchAnalyzer
	store    cache.Service
	metrics  drepo.Metrics
	log      *logger.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewAnalysisJobs(q queue.Enqueuer, a BatchAnalyzer, store cache.Service, metrics drepo.Metrics, log *logger.Logger, ttl time.Duration) *AnalysisJobs {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnalysisJobs{
		q:        q,
		analyzer: a,
		store:    store,
		metrics:  metrics,
		log:      log.Component("analysis_jobs"),
		ttl:      ttl,
		now:      time.Now,
	}
}

func jobKey(id string) string { return cache.Key("job", "analyze", id) }

// Submit records a queued job and enqueues it.
func (j *AnalysisJobs) Submit(ctx context.Context, points []models.MarketDataPoint) (*AnalysisJob, error) {
	now := j.now().UTC()
	job := &AnalysisJob{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		Points:    len(points),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := j.save(ctx, job); err != nil {
		return nil, err
	}

	if err := j.q.Enqueue(ctx, AnalyzeJobType, analyzePayload{JobID: job.ID, Points: points}); err != nil {
		j.metrics.RecordError("job_enqueue")
		job.Status = JobFailed
		job.Error = err.Error()
		if serr := j.save(ctx, job); serr != nil {
			j.log.Warn("job state save failed", logger.String("job_id", job.ID), logger.Error(serr))
		}
		return nil, fmt.Errorf("enqueue analysis: %w", err)
	}
	return job, nil
}

// Get returns the job state or drepo.ErrNotFound.
func (j *AnalysisJobs) Get(ctx context.Context, id string) (*AnalysisJob, error) {
	var job AnalysisJob
	if err := j.store.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, drepo.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (j *AnalysisJobs) Name() string { return "batch_analysis" }

func (j *AnalysisJobs) Type() string { return AnalyzeJobType }

// Handle runs the analysis for a dequeued job. Points reach the integrators at most once:
// once Analyze has been called the job is settled and Handle returns nil, so the queue
// never redelivers it. Only failures before that point are returned for retry.
func (j *AnalysisJobs) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[analyzePayload](payload)
	if err != nil {
		return err
	}

	job, err := j.Get(ctx, p.JobID)
	if err != nil {
		if !errors.Is(err, drepo.ErrNotFound) {
			return err
		}
		// state expired; recreate it so the result is still visible
		job = &AnalysisJob{ID: p.JobID, Points: len(p.Points), CreatedAt: j.now().UTC()}
	}

	switch {
	case job.Status == JobDone || job.Status == JobFailed:
		j.log.Warn("analysis job already settled", logger.String("job_id", job.ID), logger.String("status", string(job.Status)))
		return nil
	case job.Attempts > 0:
		// a previous attempt may have applied part of the batch
		j.metrics.RecordError("analyze_job_interrupted")
		j.settle(ctx, job, JobFailed, nil, "analysis interrupted by an earlier attempt")
		return nil
	}

	job.Status = JobRunning
	job.Attempts++
	job.UpdatedAt = j.now().UTC()
	if err := j.save(ctx, job); err != nil {
		return err
	}

	start := time.Now()
	preds, err := j.analyzer.Analyze(ctx, p.Points)
	j.metrics.RecordLatency("analyze_job", time.Since(start).Seconds())
	if err != nil {
		j.metrics.RecordError("analyze_job")
		j.log.Error("analysis job failed", logger.String("job_id", job.ID), logger.Error(err))
		j.settle(ctx, job, JobFailed, nil, err.Error())
		return nil
	}

	j.log.Info("analysis job done", logger.String("job_id", job.ID), logger.Int("predictions", len(preds)))
	j.settle(ctx, job, JobDone, preds, "")
	return nil
}

// settle stores the final state. A failed save is logged only.
func (j *AnalysisJobs) settle(ctx context.Context, job *AnalysisJob, status JobStatus, preds []*models.MarketPrediction, msg string) {
	job.Status = status
	job.Predictions = preds
	job.Error = msg
	job.UpdatedAt = j.now().UTC()
	if err := j.save(ctx, job); err != nil {
		j.metrics.RecordError("job_state_save")
		j.log.Warn("job state save failed", logger.String("job_id", job.ID), logger.Error(err))
	}
}

func (j *AnalysisJobs) save(ctx context.Context, job *AnalysisJob) error {
	if err := j.store.Set(ctx, jobKey(job.ID), job, j.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
