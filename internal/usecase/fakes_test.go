package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/internal/reservoir"
)

type fakeMetrics struct {
	mu      sync.Mutex
	errors  map[string]int
	sent    int
	results int
	alerts  int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{errors: map[string]int{}} }

func (m *fakeMetrics) RecordMessageSent(string, string) { m.mu.Lock(); m.sent++; m.mu.Unlock() }
func (m *fakeMetrics) RecordError(kind string)          { m.mu.Lock(); m.errors[kind]++; m.mu.Unlock() }
func (m *fakeMetrics) RecordLastPrice(string, float64)  {}
func (m *fakeMetrics) RecordLatency(string, float64)    {}
func (m *fakeMetrics) RecordResult(*models.EnhancedCoherenceResult) {
	m.mu.Lock()
	m.results++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordAlert(models.Alert) { m.mu.Lock(); m.alerts++; m.mu.Unlock() }

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeScorer struct {
	err      error
	fallback bool
	calls    int
}

func (s *fakeScorer) Process(p models.MarketDataPoint) (*models.EnhancedCoherenceResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.fallback {
		return models.FallbackResult(p), nil
	}
	return &models.EnhancedCoherenceResult{
		Symbol:    p.Symbol,
		Timestamp: p.Timestamp,
		Price:     p.Price,
		Enhanced:  coherence.Vector{Psi: 0.6, Rho: 0.5, Q: 0.5, F: 0.5},
	}, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	results []*models.EnhancedCoherenceResult
	alerts  []models.Alert
}

func (p *fakePublisher) PublishResult(_ context.Context, r *models.EnhancedCoherenceResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, r)
	return nil
}

func (p *fakePublisher) PublishAlert(_ context.Context, a models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeLatest struct {
	mu     sync.Mutex
	latest map[string]*models.EnhancedCoherenceResult
}

func (l *fakeLatest) SetLatest(_ context.Context, r *models.EnhancedCoherenceResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		l.latest = map[string]*models.EnhancedCoherenceResult{}
	}
	l.latest[r.Symbol] = r
	return nil
}

func (l *fakeLatest) GetLatest(_ context.Context, symbol string) (*models.EnhancedCoherenceResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.latest[symbol]
	if !ok {
		return nil, drepo.ErrNotFound
	}
	return r, nil
}

type fakeStore struct {
	mu       sync.Mutex
	failures int
	batches  [][]*models.EnhancedCoherenceResult
	alerts   []models.Alert
}

func (s *fakeStore) Init(context.Context) error { return nil }

func (s *fakeStore) StoreResults(_ context.Context, rs []*models.EnhancedCoherenceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("clickhouse unavailable")
	}
	s.batches = append(s.batches, rs)
	return nil
}

func (s *fakeStore) StoreAlerts(_ context.Context, as []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, as...)
	return nil
}

func (s *fakeStore) QueryResults(context.Context, string, time.Time, time.Time, int) ([]*models.EnhancedCoherenceResult, error) {
	return nil, nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

func (s *fakeStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type fakeSnapshots struct {
	mu    sync.Mutex
	fail  int
	saved map[string]*reservoir.Snapshot
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, symbol string, s *reservoir.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("redis down")
	}
	if f.saved == nil {
		f.saved = map[string]*reservoir.Snapshot{}
	}
	f.saved[symbol] = s
	return nil
}

func (f *fakeSnapshots) LoadSnapshot(_ context.Context, symbol string) (*reservoir.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[symbol]
	if !ok {
		return nil, drepo.ErrNotFound
	}
	return s, nil
}

var (
	_ drepo.Metrics       = (*fakeMetrics)(nil)
	_ drepo.Publisher     = (*fakePublisher)(nil)
	_ drepo.LatestCache   = (*fakeLatest)(nil)
	_ drepo.ResultStore   = (*fakeStore)(nil)
	_ drepo.SnapshotStore = (*fakeSnapshots)(nil)
)
