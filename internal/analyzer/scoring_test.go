package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
)

func result(psi, rho, conf, res, ant float64) *models.EnhancedCoherenceResult {
	return &models.EnhancedCoherenceResult{
		Enhanced:     coherence.Vector{Psi: psi, Rho: rho, Q: 0.5, F: 0.5},
		Confidence:   conf,
		Resonance:    res,
		Anticipation: ant,
	}
}

func TestConfidenceScoresDecay(t *testing.T) {
	latest := result(0.4, 0.6, 0.5, 0.25, 0)
	scores := ConfidenceScores([]float64{0.2, 0.2, 0.2}, latest, []float64{100, 101, 99})

	require.Len(t, scores, 3)
	combined := 0.4*0.5 + 0.3*1 + 0.2*0.5 + 0.1*0.5
	for i, s := range scores {
		assert.InDelta(t, combined*math.Exp(-0.2*float64(i)), s, 1e-12)
	}
}

func TestAssessRisk(t *testing.T) {
	latest := result(0.6, 0.5, 0, 0.5, 0)

	neutral := AssessRisk(make([]models.MarketDataPoint, 4), latest, nil)
	assert.Equal(t, 0.5, neutral.Overall)
	assert.Equal(t, 0.5, neutral.Volume)

	flat := make([]models.MarketDataPoint, 10)
	for i := range flat {
		flat[i] = models.MarketDataPoint{Symbol: "X", Price: 100, Volume: 50}
	}
	r := AssessRisk(flat, latest, []float64{1, 1})
	assert.Zero(t, r.Volatility)
	assert.Zero(t, r.Volume)
	assert.Zero(t, r.Uncertainty)
	assert.InDelta(t, 0.4, r.Trend, 1e-12)
	assert.InDelta(t, 0.12, r.Overall, 1e-12)

	r = AssessRisk(flat, latest, []float64{0.001, -0.001})
	assert.Equal(t, 1.0, r.Uncertainty)
}

func TestGenerateSignal(t *testing.T) {
	mid := result(0.5, 0.5, 0, 0.5, 0)
	medium := models.RiskAssessment{Overall: 0.5}

	buy := GenerateSignal(mid, []float64{0, 0.2}, []float64{0.8, 0.8}, medium, 0.6)
	assert.Equal(t, models.ActionBuy, buy.Action)
	assert.InDelta(t, 0.32, buy.Strength, 1e-12)
	assert.InDelta(t, 0.8, buy.Confidence, 1e-12)
	assert.Equal(t, models.RiskMedium, buy.RiskLevel)

	sell := GenerateSignal(mid, []float64{0.3, 0.1}, []float64{0.8, 0.8}, models.RiskAssessment{Overall: 0.8}, 0.6)
	assert.Equal(t, models.ActionSell, sell.Action)
	assert.Equal(t, models.RiskHigh, sell.RiskLevel)
	assert.InDelta(t, 0.32*0.6, sell.Strength, 1e-12)

	hold := GenerateSignal(mid, []float64{0, 0.2}, []float64{0.5}, medium, 0.6)
	assert.Equal(t, models.ActionHold, hold.Action)
	assert.Zero(t, hold.Strength)
	require.NotEmpty(t, hold.Reasoning)
	assert.Contains(t, hold.Reasoning[0], "Confidence too low")

	strong := GenerateSignal(result(0.9, 0.9, 0, 0.5, 0), []float64{0, 1}, []float64{0.9}, models.RiskAssessment{Overall: 0.1}, 0.6)
	assert.Equal(t, models.RiskLow, strong.RiskLevel)
	assert.Equal(t, 1.0, strong.Strength)
	assert.Contains(t, strong.Reasoning, "High market coherence detected")
}

func TestDetectAlerts(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	alerts := DetectAlerts("BTC", result(0.95, 0.2, 0.4, 0.1, 0.9), at)
	require.Len(t, alerts, 3)
	assert.Equal(t, models.AlertCoherenceSpike, alerts[0].Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, 0.95, alerts[0].Data["psi"])
	assert.Equal(t, models.AlertAnticipationAnomaly, alerts[1].Type)
	assert.Equal(t, models.SeverityCritical, alerts[1].Severity)
	assert.Equal(t, models.AlertResonanceBreakdown, alerts[2].Type)
	assert.Equal(t, models.SeverityMedium, alerts[2].Severity)

	ids := map[string]bool{}
	for _, al := range alerts {
		assert.NotEmpty(t, al.ID)
		assert.Equal(t, at, al.Timestamp)
		assert.Equal(t, 0.4, al.Confidence)
		ids[al.ID] = true
	}
	assert.Len(t, ids, 3)

	alerts = DetectAlerts("BTC", result(0.5, 0.5, 0, 0.5, -0.6), at)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)

	assert.Empty(t, DetectAlerts("BTC", result(0.5, 0.5, 0, 0.5, 0.1), at))
}
