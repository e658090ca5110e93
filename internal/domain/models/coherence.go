package models

import (
	"time"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/reservoir"
)

// EnhancedCoherenceResult is the blended output for one data point.
type EnhancedCoherenceResult struct {
	Symbol       string           `json:"symbol"`
	Timestamp    time.Time        `json:"timestamp"`
	Price        float64          `json:"price"`
	Traditional  coherence.Vector `json:"traditional_gct"`
	Enhanced     coherence.Vector `json:"basal_enhanced_gct"`
	Anticipation float64          `json:"anticipation_capacity"`
	Confidence   float64          `json:"prediction_confidence"`
	Resonance    float64          `json:"symbolic_resonance"`
	Efficiency   float64          `json:"adaptation_efficiency"`
	// ReservoirState is nil on fallback results.
	ReservoirState *reservoir.State `json:"reservoir_state,omitempty"`
	Fallback       bool             `json:"fallback"`
}

// FallbackResult is the neutral answer used when a point cannot be processed.
func FallbackResult(p MarketDataPoint) *EnhancedCoherenceResult {
	return &EnhancedCoherenceResult{
		Symbol:      p.Symbol,
		Timestamp:   p.Timestamp,
		Price:       p.Price,
		Traditional: coherence.Neutral(),
		Enhanced:    coherence.Neutral(),
		Fallback:    true,
	}
}
