package integrator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
)

const (
	summaryWindow = 10
	exportWindow  = 50
)

type PerformanceSummary struct {
	PredictionAccuracy   float64                      `json:"prediction_accuracy"`
	CoherenceStability   float64                      `json:"coherence_stability"`
	AverageConfidence    float64                      `json:"average_confidence"`
	AverageResonance     float64                      `json:"average_symbolic_resonance"`
	AverageAnticipation  float64                      `json:"average_anticipation_magnitude"`
	ProcessedDataPoints  int64                        `json:"processed_data_points"`
	FallbackResults      int64                        `json:"fallback_results"`
	ReservoirHealth      reservoir.State              `json:"reservoir_health"`
	ReservoirPerformance reservoir.PerformanceMetrics `json:"basal_engine_metrics"`
}

func (in *Integrator) Summary() PerformanceSummary {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.summary()
}

func (in *Integrator) summary() PerformanceSummary {
	s := PerformanceSummary{
		ProcessedDataPoints:  in.processed,
		FallbackResults:      in.fallbacks,
		ReservoirHealth:      in.engine.State(),
		ReservoirPerformance: in.engine.Metrics(),
	}

	if in.accuracy.Len() > 0 {
		s.PredictionAccuracy = stat.Mean(in.accuracy.Slice(), nil)
	}
	if in.stability.Len() > 0 {
		s.CoherenceStability = math.Max(0, 1-stat.PopStdDev(in.stability.Slice(), nil))
	}

	if in.results.Len() >= summaryWindow {
		recent := in.results.Tail(summaryWindow)
		for _, r := range recent {
			s.AverageConfidence += r.Confidence
			s.AverageResonance += r.Resonance
			s.AverageAnticipation += math.Abs(r.Anticipation)
		}
		n := float64(len(recent))
		s.AverageConfidence /= n
		s.AverageResonance /= n
		s.AverageAnticipation /= n
	}
	return s
}

// IntegrationState is the exported form of an integrator: settings, summary, the last
// 50 results and the engine snapshot.
type IntegrationState struct {
	IntegrationStrength float64                           `json:"integration_strength"`
	EnablePrediction    bool                              `json:"enable_prediction"`
	Summary             PerformanceSummary                `json:"performance_summary"`
	RecentResults       []*models.EnhancedCoherenceResult `json:"recent_results"`
	Engine              *reservoir.Snapshot               `json:"basal_engine"`
}

func (in *Integrator) ExportState() *IntegrationState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return &IntegrationState{
		IntegrationStrength: in.cfg.Reservoir.IntegrationStrength,
		EnablePrediction:    in.cfg.EnablePrediction,
		Summary:             in.summary(),
		RecentResults:       in.results.Tail(exportWindow),
		Engine:              in.engine.Snapshot(),
	}
}
