package integrator

import "BasalGCT/internal/reservoir"

// Option configures Config.
type Option func(*Config)

type Config struct {
	Reservoir reservoir.Config `yaml:"-" validate:"-"`
	// EnablePrediction runs the 3-step forecast that feeds the confidence score.
	EnablePrediction bool `yaml:"enable_prediction" default:"true"`
	HistorySize      int  `yaml:"history_size" default:"1000" validate:"gt=0"`
	ResultSize       int  `yaml:"result_size" default:"500" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Reservoir:        reservoir.DefaultConfig(),
		EnablePrediction: true,
		HistorySize:      1000,
		ResultSize:       500,
	}
}

func WithReservoir(cfg reservoir.Config) Option {
	return func(c *Config) {
		c.Reservoir = cfg
	}
}

func WithPrediction(enabled bool) Option {
	return func(c *Config) {
		c.EnablePrediction = enabled
	}
}

// WithCapacity sets the market history and result log sizes.
func WithCapacity(history, results int) Option {
	return func(c *Config) {
		c.HistorySize = history
		c.ResultSize = results
	}
}
