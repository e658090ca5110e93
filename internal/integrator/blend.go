package integrator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
)

const (
	momentumFloor = 1e-6
	forecastSteps = 3
)

// blend mixes the traditional vector with the reservoir's view using alpha. rho is offset
// by the anticipation term rather than blended.
func blend(trad coherence.Vector, basal, anticipation float64, state reservoir.State, alpha float64) coherence.Vector {
	return coherence.Vector{
		Psi: (1-alpha)*trad.Psi + alpha*basal,
		Rho: trad.Rho + alpha*coherence.Clamp(anticipation, -0.5, 0.5),
		Q:   (1-alpha)*trad.Q + alpha*state.AverageEnergy,
		F:   (1-alpha)*trad.F + alpha*(math.Tanh(state.AverageActivation)+1)/2,
	}.Clamped()
}

// resonance compares the 3-sample price momentum with the reservoir's activation momentum.
func resonance(hist []models.MarketDataPoint, current models.MarketDataPoint, reservoirMomentum float64) float64 {
	var priceMomentum float64
	if len(hist) >= 3 {
		base := hist[len(hist)-3].Price
		priceMomentum = (current.Price - base) / base
	}

	term := 0.0
	if math.Abs(priceMomentum) > momentumFloor && math.Abs(reservoirMomentum) > momentumFloor {
		term = math.Tanh(priceMomentum * reservoirMomentum * 1000)
	}
	return coherence.Clamp01((term + 1) / 2)
}

// confidence runs a short forecast and scores how tight it is, discounted by the
// spread of node energies afterwards.
func confidence(e *reservoir.Engine, market []float64) float64 {
	preds := e.Predict(market, forecastSteps)

	c := 0.5
	if len(preds) >= 2 {
		c = math.Exp(-10 * stat.PopVariance(preds, nil))
	}
	stability := math.Exp(-5 * e.State().EnergyVariance)
	return coherence.Clamp01(c * stability)
}

// efficiency compares mean enhanced psi of the last 10 results with the 10 before.
func efficiency(results []*models.EnhancedCoherenceResult) float64 {
	if len(results) < 10 {
		return 0.5
	}
	recent := psiOf(results[len(results)-10:])
	earlier := recent
	if len(results) >= 20 {
		earlier = psiOf(results[len(results)-20 : len(results)-10])
	}
	improvement := stat.Mean(recent, nil) - stat.Mean(earlier, nil)
	return coherence.Clamp01((math.Tanh(5*improvement) + 1) / 2)
}

func psiOf(results []*models.EnhancedCoherenceResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Enhanced.Psi
	}
	return out
}
