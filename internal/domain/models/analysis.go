package models

import "time"

type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskAssessment scores are in [0,1]; higher is riskier.
type RiskAssessment struct {
	Overall     float64 `json:"overall_risk"`
	Volatility  float64 `json:"volatility_risk"`
	Trend       float64 `json:"trend_risk"`
	Uncertainty float64 `json:"uncertainty_risk"`
	Volume      float64 `json:"volume_risk"`
}

type TradingSignal struct {
	Action     SignalAction `json:"action"`
	Strength   float64      `json:"strength"`
	Confidence float64      `json:"confidence"`
	RiskLevel  RiskLevel    `json:"risk_level"`
	Reasoning  []string     `json:"reasoning"`
}

// MarketPrediction is the outcome of analysing one symbol's batch.
type MarketPrediction struct {
	Symbol           string                   `json:"symbol"`
	CurrentPrice     float64                  `json:"current_price"`
	PredictedValues  []float64                `json:"predicted_prices"`
	ConfidenceScores []float64                `json:"confidence_scores"`
	Coherence        *EnhancedCoherenceResult `json:"coherence_analysis"`
	HorizonMinutes   int                      `json:"prediction_horizon_minutes"`
	AnalyzedAt       time.Time                `json:"analysis_timestamp"`
	Risk             RiskAssessment           `json:"risk_assessment"`
	Signal           TradingSignal            `json:"trading_signals"`
}

type AlertType string

const (
	AlertCoherenceSpike      AlertType = "coherence_spike"
	AlertAnticipationAnomaly AlertType = "anticipation_anomaly"
	AlertResonanceBreakdown  AlertType = "resonance_breakdown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID                string             `json:"alert_id"`
	Symbol            string             `json:"symbol"`
	Type              AlertType          `json:"alert_type"`
	Severity          Severity           `json:"severity"`
	Message           string             `json:"message"`
	Confidence        float64            `json:"confidence"`
	Data              map[string]float64 `json:"coherence_data"`
	Timestamp         time.Time          `json:"timestamp"`
	RecommendedAction string             `json:"recommended_action,omitempty"`
}
