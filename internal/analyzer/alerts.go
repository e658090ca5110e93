package analyzer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"BasalGCT/internal/domain/models"
)

const (
	spikeThreshold     = 0.9
	anomalyThreshold   = 0.5
	criticalThreshold  = 0.8
	breakdownThreshold = 0.2
)

// AlertCallback receives every alert raised. Callbacks run synchronously on the
// analysing goroutine and must not block.
type AlertCallback func(models.Alert)

// DetectAlerts checks a result against the spike, anomaly and breakdown thresholds.
func DetectAlerts(symbol string, r *models.EnhancedCoherenceResult, at time.Time) []models.Alert {
	var alerts []models.Alert

	if psi := r.Enhanced.Psi; psi > spikeThreshold {
		alerts = append(alerts, models.Alert{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			Type:       models.AlertCoherenceSpike,
			Severity:   models.SeverityHigh,
			Message:    fmt.Sprintf("Extremely high market coherence detected: %.3f", psi),
			Confidence: r.Confidence,
			Data: map[string]float64{
				"psi": psi,
				"rho": r.Enhanced.Rho,
				"q":   r.Enhanced.Q,
				"f":   r.Enhanced.F,
			},
			Timestamp:         at,
			RecommendedAction: "Monitor for potential breakout or reversal",
		})
	}

	if a := math.Abs(r.Anticipation); a > anomalyThreshold {
		sev := models.SeverityHigh
		if a > criticalThreshold {
			sev = models.SeverityCritical
		}
		alerts = append(alerts, models.Alert{
			ID:                uuid.NewString(),
			Symbol:            symbol,
			Type:              models.AlertAnticipationAnomaly,
			Severity:          sev,
			Message:           fmt.Sprintf("Strong anticipatory signal detected: %.3f", a),
			Confidence:        r.Confidence,
			Data:              map[string]float64{"anticipation": a},
			Timestamp:         at,
			RecommendedAction: "Prepare for significant price movement",
		})
	}

	if res := r.Resonance; res < breakdownThreshold {
		alerts = append(alerts, models.Alert{
			ID:                uuid.NewString(),
			Symbol:            symbol,
			Type:              models.AlertResonanceBreakdown,
			Severity:          models.SeverityMedium,
			Message:           fmt.Sprintf("Low symbolic resonance: %.3f - Market may be disconnected", res),
			Confidence:        r.Confidence,
			Data:              map[string]float64{"resonance": res},
			Timestamp:         at,
			RecommendedAction: "Exercise caution - market signals may be unreliable",
		})
	}
	return alerts
}
