package integrator

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/logger"
)

var t0 = time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

func newTestIntegrator(t *testing.T, opts ...reservoir.Option) *Integrator {
	t.Helper()
	rc := reservoir.NewConfig(append([]reservoir.Option{reservoir.WithSeed(11), reservoir.WithNodes(40)}, opts...)...)
	in, err := New(logger.Nop(), WithReservoir(rc))
	require.NoError(t, err)
	return in
}

func randomWalk(seed uint64, n int) []models.MarketDataPoint {
	rng := rand.New(rand.NewPCG(seed, seed))
	price := 100.0
	out := make([]models.MarketDataPoint, n)
	for i := range out {
		price *= 1 + 0.05*(rng.Float64()*2-1)
		p := models.MarketDataPoint{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Symbol:    "AAPL",
			Price:     price,
			Volume:    rng.Int64N(5000),
		}
		if i%3 == 0 {
			p.Sentiment = models.Sentiment(rng.Float64()*2 - 1)
		}
		if i%17 == 0 {
			p.Volume = 0
		}
		out[i] = p
	}
	return out
}

func inUnit(t *testing.T, name string, v float64) {
	t.Helper()
	assert.GreaterOrEqual(t, v, 0.0, name)
	assert.LessOrEqual(t, v, 1.0, name)
}

func TestProcessOutputsStayInUnitInterval(t *testing.T) {
	in := newTestIntegrator(t)

	for _, p := range randomWalk(3, 250) {
		r := in.Process(p)
		require.False(t, r.Fallback)
		for _, v := range []coherence.Vector{r.Traditional, r.Enhanced} {
			inUnit(t, "psi", v.Psi)
			inUnit(t, "rho", v.Rho)
			inUnit(t, "q", v.Q)
			inUnit(t, "f", v.F)
		}
		inUnit(t, "confidence", r.Confidence)
		inUnit(t, "resonance", r.Resonance)
		inUnit(t, "efficiency", r.Efficiency)
		require.NotNil(t, r.ReservoirState)
		assert.Equal(t, p.Timestamp, r.Timestamp)
	}
}

func TestProcessReplayIsDeterministic(t *testing.T) {
	a := newTestIntegrator(t)
	b := newTestIntegrator(t)

	for _, p := range randomWalk(9, 60) {
		assert.Equal(t, a.Process(p), b.Process(p))
	}
	assert.Equal(t, a.Summary(), b.Summary())
}

func TestZeroIntegrationStrengthKeepsTraditionalVector(t *testing.T) {
	in := newTestIntegrator(t, reservoir.WithIntegrationStrength(0))

	for _, p := range randomWalk(5, 40) {
		r := in.Process(p)
		assert.Equal(t, r.Traditional.Psi, r.Enhanced.Psi)
		assert.Equal(t, r.Traditional.Q, r.Enhanced.Q)
		assert.Equal(t, r.Traditional.F, r.Enhanced.F)
	}
}

func TestIncreasingPricesDetectTrend(t *testing.T) {
	in := newTestIntegrator(t)

	var r *models.EnhancedCoherenceResult
	for i := 0; i < 5; i++ {
		r = in.Process(models.MarketDataPoint{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Symbol:    "MSFT",
			Price:     100 + float64(i),
			Volume:    1000,
		})
	}
	assert.Greater(t, r.Traditional.Rho, 0.0)
	assert.Greater(t, r.Traditional.Psi, 0.5)
}

func TestZeroVolumeDoesNotFail(t *testing.T) {
	in := newTestIntegrator(t)

	for i := 0; i < 8; i++ {
		r := in.Process(models.MarketDataPoint{Timestamp: t0, Symbol: "X", Price: 10, Volume: 0})
		require.False(t, r.Fallback)
		assert.False(t, math.IsNaN(r.Traditional.Q))
		assert.False(t, math.IsNaN(r.Enhanced.Q))
	}
}

func TestInvalidPointYieldsFallback(t *testing.T) {
	in := newTestIntegrator(t)
	in.Process(models.MarketDataPoint{Timestamp: t0, Symbol: "X", Price: 10, Volume: 5})

	bad := []models.MarketDataPoint{
		{Timestamp: t0, Symbol: "X", Price: 0, Volume: 5},
		{Timestamp: t0, Symbol: "X", Price: math.NaN(), Volume: 5},
		{Timestamp: t0, Symbol: "X", Price: 10, Volume: -1},
		{Timestamp: t0, Symbol: "X", Price: 10, Volume: 1, Sentiment: models.Sentiment(3)},
		{Timestamp: t0, Symbol: "", Price: 10, Volume: 1},
	}
	for _, p := range bad {
		r := in.Process(p)
		assert.True(t, r.Fallback)
		assert.Equal(t, coherence.Neutral(), r.Enhanced)
		assert.Equal(t, coherence.Neutral(), r.Traditional)
		assert.Zero(t, r.Anticipation)
		assert.Zero(t, r.Confidence)
		assert.Zero(t, r.Resonance)
		assert.Zero(t, r.Efficiency)
		assert.Nil(t, r.ReservoirState)
	}

	assert.Len(t, in.History(100), 1)
	assert.Len(t, in.Results(100), 1)
	assert.Equal(t, int64(len(bad)), in.Summary().FallbackResults)
}

func TestPredictionDisabledLeavesConfidenceZero(t *testing.T) {
	rc := reservoir.NewConfig(reservoir.WithSeed(1), reservoir.WithNodes(20))
	in, err := New(nil, WithReservoir(rc), WithPrediction(false))
	require.NoError(t, err)

	for _, p := range randomWalk(2, 15) {
		assert.Zero(t, in.Process(p).Confidence)
	}
}

func TestHistoryAndResultsAreBounded(t *testing.T) {
	rc := reservoir.NewConfig(reservoir.WithSeed(1), reservoir.WithNodes(10))
	in, err := New(logger.Nop(), WithReservoir(rc), WithCapacity(30, 20), WithPrediction(false))
	require.NoError(t, err)

	for _, p := range randomWalk(4, 50) {
		in.Process(p)
	}
	assert.Len(t, in.History(1000), 30)
	assert.Len(t, in.Results(1000), 20)

	latest, ok := in.Latest()
	require.True(t, ok)
	assert.Equal(t, in.Results(1)[0], latest)
	assert.Equal(t, int64(50), in.Summary().ProcessedDataPoints)
}

func TestSummaryAndExport(t *testing.T) {
	in := newTestIntegrator(t)

	s := in.Summary()
	assert.Zero(t, s.PredictionAccuracy)
	assert.Zero(t, s.AverageConfidence)

	for _, p := range randomWalk(8, 70) {
		in.Process(p)
	}

	s = in.Summary()
	inUnit(t, "accuracy", s.PredictionAccuracy)
	inUnit(t, "stability", s.CoherenceStability)
	inUnit(t, "confidence", s.AverageConfidence)
	inUnit(t, "resonance", s.AverageResonance)
	assert.Equal(t, 40, s.ReservoirHealth.NodeCount)

	st := in.ExportState()
	assert.Len(t, st.RecentResults, 50)
	assert.Equal(t, 0.3, st.IntegrationStrength)
	require.NotNil(t, st.Engine)
	assert.Len(t, st.Engine.NodeStates, 40)
}

func TestLoadSnapshotRestoresEngine(t *testing.T) {
	src := newTestIntegrator(t)
	for _, p := range randomWalk(6, 20) {
		src.Process(p)
	}

	dst := newTestIntegrator(t, reservoir.WithSeed(999))
	require.NoError(t, dst.LoadSnapshot(src.Snapshot()))
	assert.Equal(t, src.ReservoirState(), dst.ReservoirState())
	assert.Equal(t, uint64(11), dst.Config().Reservoir.Seed)

	series := []float64{1, 2, 3, 2, 1, 2, 3, 2, 1, 2}
	assert.Equal(t, src.Predict(series, 3), dst.Predict(series, 3))

	bad := src.Snapshot()
	bad.NodeStates = nil
	require.Error(t, dst.LoadSnapshot(bad))
}
