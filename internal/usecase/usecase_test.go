package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/internal/analyzer"
	"BasalGCT/internal/domain/models"
	mid "BasalGCT/internal/middleware"
	"BasalGCT/internal/reservoir"
)

func point(symbol string, price float64) models.MarketDataPoint {
	return models.MarketDataPoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    100,
		Timestamp: time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC),
	}
}

func TestProcessorFansOut(t *testing.T) {
	m := newFakeMetrics()
	pub := &fakePublisher{}
	latest := &fakeLatest{}
	store := &fakeStore{}
	w := NewResultWriter(store, m, nil, 10, time.Hour)

	p := NewCoherenceProcessor(&fakeScorer{}, m, nil,
		WithPublisher(pub, true),
		WithLatestCache(latest),
		WithResultWriter(w),
	)
	res, err := p.Process(context.Background(), point("AAPL", 101))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)

	assert.Len(t, pub.results, 1)
	got, err := latest.GetLatest(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Same(t, res, got)
	r, _ := w.Pending()
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, m.results)
}

func TestProcessorSkipsCacheForFallback(t *testing.T) {
	latest := &fakeLatest{}
	p := NewCoherenceProcessor(&fakeScorer{fallback: true}, newFakeMetrics(), nil, WithLatestCache(latest))

	res, err := p.Process(context.Background(), point("AAPL", 101))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Empty(t, latest.latest)
}

func TestProcessorSinkErrorKeepsResult(t *testing.T) {
	m := newFakeMetrics()
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewCoherenceProcessor(&fakeScorer{}, m, nil, WithPublisher(pub, true))

	res, err := p.Process(context.Background(), point("MSFT", 300))
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, m.errorCount("publish_result"))
}

func TestProcessTradeSwallowsSinkErrors(t *testing.T) {
	m := newFakeMetrics()
	sc := &fakeScorer{}
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewCoherenceProcessor(sc, m, nil, WithPublisher(pub, true))

	tr := &models.Trade{Symbol: "MSFT", Price: 300, Volume: 10, Timestamp: time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)}
	require.NoError(t, p.ProcessTrade(context.Background(), tr))
	assert.Equal(t, 1, sc.calls)
	assert.Equal(t, 1, m.errorCount("publish_result"))

	sc.err = analyzer.ErrUnknownSymbol
	assert.ErrorIs(t, p.ProcessTrade(context.Background(), tr), analyzer.ErrUnknownSymbol)
}

func TestPipelineDoesNotReplayScoredTrades(t *testing.T) {
	cfg := analyzer.DefaultConfig()
	cfg.Integrator.Reservoir = reservoir.NewConfig(reservoir.WithNodes(16), reservoir.WithSeed(5))
	a := analyzer.New(cfg, nil)

	m := newFakeMetrics()
	proc := NewCoherenceProcessor(a, m, nil, WithPublisher(&fakePublisher{err: errors.New("broker down")}, true))
	pipe := mid.NewRealtimePipeline(proc, m, mid.WithMaxRPS(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe.Start(ctx)
	defer pipe.Stop()

	tr := &models.Trade{Symbol: "AAPL", Price: 190, Volume: 10, Timestamp: time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)}
	require.NoError(t, pipe.Process(ctx, tr))
	assert.Zero(t, pipe.Buffered())

	time.Sleep(200 * time.Millisecond)
	integ, err := a.Integrator("AAPL")
	require.NoError(t, err)
	assert.Len(t, integ.History(100), 1)
	assert.GreaterOrEqual(t, m.errorCount("publish_result"), 1)
	assert.Zero(t, m.errorCount("pipeline_process"))
}

func TestProcessorScoringError(t *testing.T) {
	m := newFakeMetrics()
	p := NewCoherenceProcessor(&fakeScorer{err: analyzer.ErrUnknownSymbol}, m, nil)

	res, err := p.Process(context.Background(), point("ZZZ", 1))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, analyzer.ErrUnknownSymbol)
	assert.Equal(t, 1, m.errorCount("process"))
}

func TestProcessorCancelledContext(t *testing.T) {
	sc := &fakeScorer{}
	p := NewCoherenceProcessor(sc, newFakeMetrics(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, point("AAPL", 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sc.calls)
}

func TestHandleAlertPublishesAndBuffers(t *testing.T) {
	m := newFakeMetrics()
	pub := &fakePublisher{}
	w := NewResultWriter(&fakeStore{}, m, nil, 10, time.Hour)
	p := NewCoherenceProcessor(&fakeScorer{}, m, nil, WithPublisher(pub, false), WithResultWriter(w))

	p.HandleAlert(models.Alert{ID: "x", Symbol: "BTC", Type: models.AlertCoherenceSpike, Severity: models.SeverityHigh})

	assert.Len(t, pub.alerts, 1)
	_, alerts := w.Pending()
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, m.alerts)
}

func TestProcessorWithAnalyzerRaisesAlerts(t *testing.T) {
	cfg := analyzer.DefaultConfig()
	cfg.Integrator.Reservoir = reservoir.NewConfig(reservoir.WithNodes(16), reservoir.WithSeed(11))
	a := analyzer.New(cfg, nil)

	pub := &fakePublisher{}
	p := NewCoherenceProcessor(a, newFakeMetrics(), nil, WithPublisher(pub, true))
	a.OnAlert(p.HandleAlert)

	for i := 0; i < 30; i++ {
		_, err := p.Process(context.Background(), point("ETH", 3000+float64(i)))
		require.NoError(t, err)
	}
	assert.Len(t, pub.results, 30)
	assert.Len(t, pub.alerts, len(a.Alerts("ETH", 0)))
}

func TestResultWriterFlushRetries(t *testing.T) {
	m := newFakeMetrics()
	store := &fakeStore{failures: 1}
	w := NewResultWriter(store, m, nil, 100, time.Hour)

	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "A"})
	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "B"})
	w.AddAlert(models.Alert{ID: "1"})
	w.Flush(context.Background())

	assert.Equal(t, 2, store.stored())
	assert.Len(t, store.alerts, 1)
	assert.Zero(t, m.errorCount("store_results"))
	r, a := w.Pending()
	assert.Zero(t, r)
	assert.Zero(t, a)
}

func TestResultWriterDropsAfterRetries(t *testing.T) {
	m := newFakeMetrics()
	store := &fakeStore{failures: 10}
	w := NewResultWriter(store, m, nil, 100, time.Hour)

	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "A"})
	w.Flush(context.Background())

	assert.Zero(t, store.stored())
	assert.Equal(t, 1, m.errorCount("store_results"))
}

func TestResultWriterFlushesFullBatch(t *testing.T) {
	store := &fakeStore{}
	w := NewResultWriter(store, newFakeMetrics(), nil, 2, time.Hour)
	w.Start()

	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "A"})
	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "B"})
	assert.Eventually(t, func() bool { return store.stored() == 2 }, time.Second, 5*time.Millisecond)

	w.AddResult(&models.EnhancedCoherenceResult{Symbol: "C"})
	w.Close(context.Background())
	assert.Equal(t, 3, store.stored())
}

type recordingProcessor struct {
	points []models.MarketDataPoint
	err    error
}

func (r *recordingProcessor) Process(_ context.Context, p models.MarketDataPoint) (*models.EnhancedCoherenceResult, error) {
	r.points = append(r.points, p)
	if r.err != nil {
		return nil, r.err
	}
	return &models.EnhancedCoherenceResult{Symbol: p.Symbol}, nil
}

func TestTicksHandlerDecodesBothShapes(t *testing.T) {
	rp := &recordingProcessor{}
	h := NewKafkaTicksHandler("market.ticks", rp, newFakeMetrics())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"AAPL","price":190.5,"volume":1200,"timestamp":"2026-01-05T14:30:00Z","sentiment":0.4}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"s":"BINANCE:BTCUSDT","p":64000.1,"v":0.6,"t":1767623400000}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"MSFT","price":410,"volume":5,"timestamp":1767623400}`)))

	require.Len(t, rp.points, 3)
	assert.Equal(t, "AAPL", rp.points[0].Symbol)
	assert.Equal(t, int64(1200), rp.points[0].Volume)
	require.NotNil(t, rp.points[0].Sentiment)
	assert.Equal(t, 0.4, *rp.points[0].Sentiment)
	assert.Equal(t, time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC), rp.points[0].Timestamp)

	assert.Equal(t, "BINANCE:BTCUSDT", rp.points[1].Symbol)
	assert.Equal(t, int64(1), rp.points[1].Volume)
	assert.Equal(t, time.UnixMilli(1767623400000).UTC(), rp.points[1].Timestamp)

	assert.Equal(t, time.Unix(1767623400, 0).UTC(), rp.points[2].Timestamp)
	assert.Equal(t, "market.ticks", h.Topic())
}

func TestTicksHandlerPermanentErrors(t *testing.T) {
	m := newFakeMetrics()
	rp := &recordingProcessor{}
	h := NewKafkaTicksHandler("t", rp, m)

	err := h.Handle(context.Background(), []byte(`not json`))
	var perm *backoff.PermanentError
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, m.errorCount("consumer_unmarshal"))

	err = h.Handle(context.Background(), []byte(`{"price":1}`))
	assert.ErrorAs(t, err, &perm)

	rp.err = analyzer.ErrUnknownSymbol
	err = h.Handle(context.Background(), []byte(`{"symbol":"X","price":1}`))
	assert.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, analyzer.ErrUnknownSymbol)
}

type fakeRegistry struct {
	symbols  []string
	restored map[string]*reservoir.Snapshot
}

func (f *fakeRegistry) Symbols() []string { return f.symbols }

func (f *fakeRegistry) Snapshot(symbol string) (*reservoir.Snapshot, error) {
	return &reservoir.Snapshot{Config: reservoir.NewConfig(reservoir.WithSeed(uint64(len(symbol))))}, nil
}

func (f *fakeRegistry) Restore(symbol string, s *reservoir.Snapshot) error {
	if f.restored == nil {
		f.restored = map[string]*reservoir.Snapshot{}
	}
	f.restored[symbol] = s
	return nil
}

type fakeLocker struct{ held map[string]bool }

func (l *fakeLocker) Lock(_ context.Context, symbol string, _ time.Duration) (bool, error) {
	if l.held[symbol] {
		return false, nil
	}
	return true, nil
}

func (l *fakeLocker) Unlock(context.Context, string) error { return nil }

func TestSnapshotPersisterSaveAndRestore(t *testing.T) {
	reg := &fakeRegistry{symbols: []string{"AAPL", "MSFT", "TSLA"}}
	store := &fakeSnapshots{fail: 1}
	locker := &fakeLocker{held: map[string]bool{"TSLA": true}}
	p := NewSnapshotPersister(reg, store, locker, newFakeMetrics(), nil, time.Minute, 5*time.Second)

	require.NoError(t, p.SaveAll(context.Background()))
	assert.Len(t, store.saved, 2)
	assert.NotContains(t, store.saved, "TSLA")

	fresh := &fakeRegistry{}
	p2 := NewSnapshotPersister(fresh, store, nil, newFakeMetrics(), nil, time.Minute, time.Second)
	n, err := p2.RestoreAll(context.Background(), []string{"AAPL", "MSFT", "NVDA"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, fresh.restored, "AAPL")
	assert.NotContains(t, fresh.restored, "NVDA")
}
