package analyzer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
)

const eps = 1e-8

// ConfidenceScores blends the integrator's confidence with forecast consistency,
// coherence and resonance, then decays the result along the horizon.
func ConfidenceScores(predicted []float64, latest *models.EnhancedCoherenceResult, prices []float64) []float64 {
	consistency := 1.0
	if len(predicted) >= 2 {
		scale := stat.Mean(prices, nil)
		normalized := stat.PopVariance(predicted, nil) / (scale*scale + eps)
		consistency = math.Exp(-10 * normalized)
	}
	stability := (latest.Enhanced.Psi + latest.Enhanced.Rho) / 2
	resonance := math.Min(1, 2*latest.Resonance)

	combined := 0.4*latest.Confidence + 0.3*consistency + 0.2*stability + 0.1*resonance

	scores := make([]float64, len(predicted))
	for i := range scores {
		scores[i] = coherence.Clamp01(combined * math.Exp(-0.2*float64(i)))
	}
	return scores
}

// AssessRisk scores the trailing points. Fewer than 5 points gives a neutral assessment.
func AssessRisk(recent []models.MarketDataPoint, latest *models.EnhancedCoherenceResult, predicted []float64) models.RiskAssessment {
	if len(recent) < 5 {
		return models.RiskAssessment{Overall: 0.5, Volatility: 0.5, Trend: 0.5, Uncertainty: 0.5, Volume: 0.5}
	}

	prices := make([]float64, len(recent))
	volumes := make([]float64, len(recent))
	for i, p := range recent {
		prices[i] = p.Price
		volumes[i] = float64(p.Volume)
	}

	r := models.RiskAssessment{
		Volatility:  math.Min(1, 10*stat.PopStdDev(prices, nil)/(stat.Mean(prices, nil)+eps)),
		Trend:       1 - latest.Enhanced.Psi,
		Uncertainty: 0.5,
		Volume:      math.Min(1, stat.PopVariance(volumes, nil)/(stat.Mean(volumes, nil)+eps)),
	}
	if len(predicted) >= 2 {
		spread := (floats.Max(predicted) - floats.Min(predicted)) / (math.Abs(stat.Mean(predicted, nil)) + eps)
		r.Uncertainty = coherence.Clamp01(2 * spread)
	}
	r.Trend = coherence.Clamp01(r.Trend)
	r.Overall = coherence.Clamp01(0.3*r.Volatility + 0.3*r.Trend + 0.25*r.Uncertainty + 0.15*r.Volume)
	return r
}

// GenerateSignal turns a forecast into an action. Strength is scaled by coherence and risk.
func GenerateSignal(latest *models.EnhancedCoherenceResult, predicted, scores []float64, risk models.RiskAssessment, threshold float64) models.TradingSignal {
	sig := models.TradingSignal{Action: models.ActionHold, RiskLevel: models.RiskMedium, Reasoning: []string{}}

	if len(predicted) >= 2 && len(scores) > 0 {
		avg := stat.Mean(scores, nil)
		direction := predicted[len(predicted)-1] - predicted[0]

		if avg > threshold {
			switch {
			case direction > 0:
				sig.Action = models.ActionBuy
				sig.Strength = math.Min(1, math.Abs(direction)*avg*2)
				sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("Upward price prediction with %.2f confidence", avg))
			case direction < 0:
				sig.Action = models.ActionSell
				sig.Strength = math.Min(1, math.Abs(direction)*avg*2)
				sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("Downward price prediction with %.2f confidence", avg))
			}
			sig.Confidence = avg
		} else {
			sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("Confidence too low: %.2f < %.2f", avg, threshold))
		}
	}

	strength := (latest.Enhanced.Psi + latest.Enhanced.Rho) / 2
	switch {
	case strength > 0.8:
		sig.Strength *= 1.2
		sig.Reasoning = append(sig.Reasoning, "High market coherence detected")
	case strength < 0.3:
		sig.Strength *= 0.5
		sig.Reasoning = append(sig.Reasoning, "Low market coherence - reduced confidence")
	}

	switch {
	case risk.Overall > 0.7:
		sig.RiskLevel = models.RiskHigh
		sig.Strength *= 0.6
		sig.Reasoning = append(sig.Reasoning, "High market risk detected")
	case risk.Overall < 0.3:
		sig.RiskLevel = models.RiskLow
		sig.Strength *= 1.1
		sig.Reasoning = append(sig.Reasoning, "Low market risk environment")
	}

	sig.Strength = coherence.Clamp01(sig.Strength)
	return sig
}
