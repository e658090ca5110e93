package analyzer

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/logger"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Integrator.Reservoir = reservoir.NewConfig(reservoir.WithNodes(20), reservoir.WithSeed(5))
	return cfg
}

func series(symbol string, n int, start float64) []models.MarketDataPoint {
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]models.MarketDataPoint, n)
	for i := range out {
		out[i] = models.MarketDataPoint{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Symbol:    symbol,
			Price:     start + math.Sin(float64(i)/3)*2 + float64(i)*0.1,
			Volume:    int64(1000 + 37*(i%7)),
		}
	}
	return out
}

func TestAnalyzeBatch(t *testing.T) {
	a := New(testConfig(), logger.Nop())

	var pts []models.MarketDataPoint
	pts = append(pts, series("MSFT", 30, 300)...)
	pts = append(pts, series("AAPL", 25, 150)...)
	pts = append(pts, series("TINY", 5, 10)...)

	preds, err := a.Analyze(context.Background(), pts)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "AAPL", preds[0].Symbol)
	assert.Equal(t, "MSFT", preds[1].Symbol)

	for _, p := range preds {
		assert.Len(t, p.PredictedValues, 5)
		require.Len(t, p.ConfidenceScores, 5)
		for i := 1; i < len(p.ConfidenceScores); i++ {
			assert.LessOrEqual(t, p.ConfidenceScores[i], p.ConfidenceScores[i-1])
		}
		assert.Contains(t, []models.SignalAction{models.ActionBuy, models.ActionSell, models.ActionHold}, p.Signal.Action)
		assert.GreaterOrEqual(t, p.Risk.Overall, 0.0)
		assert.LessOrEqual(t, p.Risk.Overall, 1.0)
		require.NotNil(t, p.Coherence)
		assert.False(t, p.Coherence.Fallback)

		latest, ok := a.Latest(p.Symbol)
		require.True(t, ok)
		assert.Same(t, p, latest)
	}

	assert.Equal(t, []string{"AAPL", "MSFT"}, a.Symbols())
	sum := a.Summary()
	assert.Equal(t, int64(60), sum.ProcessedDataPoints)
	assert.Equal(t, 2, sum.TotalPredictions)
	assert.Equal(t, 2, sum.SymbolsAnalyzed)
	assert.Contains(t, sum.Integrators, "MSFT")
}

func TestAnalyzeEmptyBatch(t *testing.T) {
	a := New(testConfig(), nil)
	preds, err := a.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestAnalyzeCancelled(t *testing.T) {
	a := New(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, series("MSFT", 30, 300))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionsArePerSymbol(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = []string{"A", "B"}
	a := New(cfg, nil)

	ia, err := a.Integrator("A")
	require.NoError(t, err)
	ib, err := a.Integrator("B")
	require.NoError(t, err)
	again, err := a.Integrator("A")
	require.NoError(t, err)

	assert.NotSame(t, ia, ib)
	assert.Same(t, ia, again)
	assert.NotEqual(t, ia.Config().Reservoir.Seed, ib.Config().Reservoir.Seed)

	_, err = a.Integrator("C")
	require.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = a.Process(models.MarketDataPoint{Symbol: "C", Price: 1})
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestProcessStreamsThroughSession(t *testing.T) {
	a := New(testConfig(), nil)

	for _, p := range series("ETH", 12, 2000) {
		res, err := a.Process(p)
		require.NoError(t, err)
		assert.Equal(t, "ETH", res.Symbol)
	}
	integ, err := a.Integrator("ETH")
	require.NoError(t, err)
	assert.Len(t, integ.History(100), 12)
}

func TestAlertCallbacks(t *testing.T) {
	a := New(testConfig(), nil)

	var mu sync.Mutex
	var got []models.Alert
	a.OnAlert(func(models.Alert) { panic("broken subscriber") })
	a.OnAlert(func(al models.Alert) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, al)
	})

	r := &models.EnhancedCoherenceResult{
		Enhanced:     coherence.Vector{Psi: 0.95, Rho: 0.5, Q: 0.5, F: 0.5},
		Anticipation: -0.6,
		Resonance:    0.5,
	}
	require.NotPanics(t, func() { a.raise(DetectAlerts("SPY", r, time.Now())) })

	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()
	assert.Len(t, a.Alerts("SPY", 10), 2)
	assert.Empty(t, a.Alerts("QQQ", 10))
	assert.Len(t, a.Alerts("", 1), 1)
	assert.Equal(t, 2, a.Summary().TotalAlerts)
}

func TestFallbackResultsDoNotAlert(t *testing.T) {
	a := New(testConfig(), nil)
	_, err := a.Process(models.MarketDataPoint{Symbol: "BAD", Price: -5})
	require.NoError(t, err)
	assert.Empty(t, a.Alerts("", 0))
}
