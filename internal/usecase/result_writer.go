package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/pkg/logger"
)

// ResultWriter batches results and alerts for the result store. A batch is flushed when
// it reaches batchSize or every interval, whichever comes first.
type ResultWriter struct {
	store     drepo.ResultStore
	metrics   drepo.Metrics
	log       *logger.Logger
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	results []*models.EnhancedCoherenceResult
	alerts  []models.Alert

	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func NewResultWriter(store drepo.ResultStore, metrics drepo.Metrics, log *logger.Logger, batchSize int, interval time.Duration) *ResultWriter {
	if log == nil {
		log = logger.Nop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ResultWriter{
		store:     store,
		metrics:   metrics,
		log:       log.Component("result_writer"),
		batchSize: batchSize,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *ResultWriter) AddResult(r *models.EnhancedCoherenceResult) {
	w.mu.Lock()
	w.results = append(w.results, r)
	full := len(w.results) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.signal()
	}
}

func (w *ResultWriter) AddAlert(a models.Alert) {
	w.mu.Lock()
	w.alerts = append(w.alerts, a)
	w.mu.Unlock()
}

func (w *ResultWriter) Pending() (results, alerts int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.results), len(w.alerts)
}

func (w *ResultWriter) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start runs the flush loop until Close.
func (w *ResultWriter) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.done)
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-t.C:
			case <-w.kick:
			}
			w.Flush(context.Background())
		}
	}()
}

// Flush writes everything buffered so far. Failed batches are retried a few times and
// then dropped.
func (w *ResultWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	results, alerts := w.results, w.alerts
	w.results, w.alerts = nil, nil
	w.mu.Unlock()

	if len(results) > 0 {
		start := time.Now()
		if err := w.retry(ctx, func(ctx context.Context) error { return w.store.StoreResults(ctx, results) }); err != nil {
			w.metrics.RecordError("store_results")
			w.log.Error("dropping result batch", logger.Int("rows", len(results)), logger.Error(err))
		} else {
			w.metrics.RecordLatency("store_results", time.Since(start).Seconds())
		}
	}
	if len(alerts) > 0 {
		if err := w.retry(ctx, func(ctx context.Context) error { return w.store.StoreAlerts(ctx, alerts) }); err != nil {
			w.metrics.RecordError("store_alerts")
			w.log.Error("dropping alert batch", logger.Int("rows", len(alerts)), logger.Error(err))
		}
	}
}

func (w *ResultWriter) retry(ctx context.Context, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(func() error {
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return op(octx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

// Close stops the loop and writes what is left.
func (w *ResultWriter) Close(ctx context.Context) {
	w.once.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		select {
		case <-w.done:
		case <-ctx.Done():
		}
	}
	w.Flush(ctx)
}
