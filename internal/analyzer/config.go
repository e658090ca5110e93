package analyzer

import "BasalGCT/internal/integrator"

type Config struct {
	// Symbols restricts which symbols get a session. Empty accepts any symbol.
	Symbols             []string `yaml:"symbols"`
	AnalysisWindow      int      `yaml:"analysis_window" default:"100" validate:"gt=0"`
	PredictionHorizon   int      `yaml:"prediction_horizon" default:"5" validate:"gt=0"`
	MinDataPoints       int      `yaml:"min_data_points" default:"20" validate:"gt=0"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	EnableAlerts        bool     `yaml:"enable_alerts" default:"true"`
	AlertHistory        int      `yaml:"alert_history" default:"1000" validate:"gt=0"`
	PredictionHistory   int      `yaml:"prediction_history" default:"100" validate:"gt=0"`
	// Concurrency bounds how many symbols a batch analyses in parallel.
	Concurrency int `yaml:"concurrency" default:"4" validate:"gt=0"`

	Integrator integrator.Config `yaml:"-" validate:"-"`
}

func DefaultConfig() Config {
	return Config{
		AnalysisWindow:      100,
		PredictionHorizon:   5,
		MinDataPoints:       20,
		ConfidenceThreshold: 0.6,
		EnableAlerts:        true,
		AlertHistory:        1000,
		PredictionHistory:   100,
		Concurrency:         4,
		Integrator:          integrator.DefaultConfig(),
	}
}
