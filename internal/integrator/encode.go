package integrator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
)

const (
	marketWindow = 20
	marketHalf   = 10
	eps          = 1e-8
)

// marketArray builds the fixed 20-value window fed to the forecast: the last 10
// z-scored prices followed by the last 10 z-scored volumes, zero padded.
func marketArray(hist []models.MarketDataPoint) []float64 {
	if len(hist) < 5 {
		return make([]float64, marketHalf)
	}
	if len(hist) > marketWindow {
		hist = hist[len(hist)-marketWindow:]
	}

	prices := make([]float64, len(hist))
	volumes := make([]float64, len(hist))
	for i, p := range hist {
		prices[i] = p.Price
		volumes[i] = float64(p.Volume)
	}
	zscore(prices)
	zscore(volumes)

	out := make([]float64, 0, marketWindow)
	out = append(out, lastN(prices, marketHalf)...)
	out = append(out, lastN(volumes, marketHalf)...)
	for len(out) < marketWindow {
		out = append(out, 0)
	}
	return out[:marketWindow]
}

// encodeSignals maps the newest point onto three input regions: price change on node 0,
// volume surprise on node n/4 and sentiment on node n/2. hist already contains current.
func encodeSignals(hist []models.MarketDataPoint, current models.MarketDataPoint, n int) map[int]float64 {
	signals := make(map[int]float64, 3)

	if len(hist) >= 2 {
		prev := hist[len(hist)-2].Price
		signals[0] = math.Tanh(100 * (current.Price - prev) / prev)
	}

	if len(hist) >= 5 {
		var sum float64
		for _, p := range hist[len(hist)-5:] {
			sum += float64(p.Volume)
		}
		ratio := float64(current.Volume) / (sum/5 + eps)
		signals[n/4] = math.Tanh(ratio - 1)
	}

	if current.Sentiment != nil {
		signals[n/2] = *current.Sentiment
	}
	return signals
}

func observations(hist []models.MarketDataPoint) []coherence.Observation {
	if len(hist) > coherence.Window {
		hist = hist[len(hist)-coherence.Window:]
	}
	out := make([]coherence.Observation, len(hist))
	for i, p := range hist {
		out[i] = observation(p)
	}
	return out
}

func observation(p models.MarketDataPoint) coherence.Observation {
	return coherence.Observation{Price: p.Price, Volume: float64(p.Volume), Sentiment: p.Sentiment}
}

func zscore(xs []float64) {
	mean := stat.Mean(xs, nil)
	std := stat.PopStdDev(xs, nil)
	for i := range xs {
		z := (xs[i] - mean) / (std + eps)
		if math.IsNaN(z) || math.IsInf(z, 0) {
			z = 0
		}
		xs[i] = z
	}
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
