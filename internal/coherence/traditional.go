package coherence

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// Window is how many trailing observations the model looks at.
	Window = 20

	minSamples   = 5
	priceSamples = 10
	eps          = 1e-8
)

// Observation is the subset of a market data point the model reads.
type Observation struct {
	Price     float64
	Volume    float64
	Sentiment *float64
}

// TraditionalModel scores a window of observations with closed-form statistics.
type TraditionalModel struct{}

func NewTraditionalModel() *TraditionalModel {
	return &TraditionalModel{}
}

// Compute scores the trailing Window of history. current supplies the sentiment;
// it is normally the last element of history.
func (m *TraditionalModel) Compute(history []Observation, current Observation) Vector {
	if len(history) > Window {
		history = history[len(history)-Window:]
	}
	if len(history) < minSamples {
		return Neutral()
	}

	prices := make([]float64, len(history))
	volumes := make([]float64, len(history))
	for i, o := range history {
		prices[i] = o.Price
		volumes[i] = o.Volume
	}

	return Vector{
		Psi: consistency(prices),
		Rho: trendStrength(prices),
		Q:   activation(volumes),
		F:   frequency(prices, current.Sentiment),
	}.Clamped()
}

func consistency(prices []float64) float64 {
	recent := tail(prices, priceSamples)
	mean := stat.Mean(recent, nil)
	std := stat.PopStdDev(recent, nil)
	return math.Exp(-2 * std / (mean + eps))
}

func trendStrength(prices []float64) float64 {
	if len(prices) < priceSamples {
		return 0.5
	}
	recent := tail(prices, priceSamples)
	xs := make([]float64, len(recent))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, recent, nil, false)
	mean := stat.Mean(recent, nil)
	return math.Min(1, 10*math.Abs(slope)/(mean+eps))
}

func activation(volumes []float64) float64 {
	if len(volumes) < minSamples {
		return 0.5
	}
	ratio := volumes[len(volumes)-1] / (stat.Mean(tail(volumes, 5), nil) + eps)
	return Clamp01((ratio - 0.5) * 2)
}

func frequency(prices []float64, sentiment *float64) float64 {
	if sentiment != nil {
		return (*sentiment + 1) / 2
	}
	if len(prices) < 3 {
		return 0.5
	}
	base := prices[len(prices)-3]
	momentum := (prices[len(prices)-1] - base) / base
	return (math.Tanh(10*momentum) + 1) / 2
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
