package reservoir

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Option configures Config.
type Option func(*Config)

// Config holds the reservoir parameters. It is fixed once an engine is built.
type Config struct {
	NumNodes            int     `yaml:"num_nodes" json:"num_nodes" default:"100" validate:"gt=0"`
	SpatialDimension    int     `yaml:"spatial_dimension" json:"spatial_dimension" default:"2" validate:"gt=0"`
	LearningRate        float64 `yaml:"learning_rate" json:"learning_rate" default:"0.01" validate:"gte=0"`
	EnergyDecay         float64 `yaml:"energy_decay" json:"energy_decay" default:"0.95" validate:"gte=0,lte=1"`
	ConnectionRadius    float64 `yaml:"connection_radius" json:"connection_radius" default:"0.3" validate:"gt=0"`
	CoherenceCoupling   float64 `yaml:"coherence_coupling" json:"coherence_coupling" default:"0.05"`
	AdaptationRate      float64 `yaml:"adaptation_rate" json:"adaptation_rate" default:"0.001" validate:"gte=0"`
	PredictionHorizon   int     `yaml:"prediction_horizon" json:"prediction_horizon" default:"10" validate:"gt=0"`
	IntegrationStrength float64 `yaml:"integration_strength" json:"integration_strength" default:"0.3" validate:"gte=0,lte=1"`
	// Seed drives topology and initial energies. Zero picks a random seed at build time.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the stock parameters.
func DefaultConfig() Config {
	return Config{
		NumNodes:            100,
		SpatialDimension:    2,
		LearningRate:        0.01,
		EnergyDecay:         0.95,
		ConnectionRadius:    0.3,
		CoherenceCoupling:   0.05,
		AdaptationRate:      0.001,
		PredictionHorizon:   10,
		IntegrationStrength: 0.3,
	}
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid reservoir config: %w", err)
	}
	return nil
}

// WithNodes sets the number of nodes.
func WithNodes(n int) Option {
	return func(c *Config) {
		c.NumNodes = n
	}
}

// WithDimension sets the spatial dimension nodes are scattered in.
func WithDimension(d int) Option {
	return func(c *Config) {
		c.SpatialDimension = d
	}
}

func WithLearningRate(rate float64) Option {
	return func(c *Config) {
		c.LearningRate = rate
	}
}

func WithEnergyDecay(decay float64) Option {
	return func(c *Config) {
		c.EnergyDecay = decay
	}
}

// WithRadius sets the connection radius.
func WithRadius(radius float64) Option {
	return func(c *Config) {
		c.ConnectionRadius = radius
	}
}

// WithCoupling sets the basal coupling constant (phi).
func WithCoupling(phi float64) Option {
	return func(c *Config) {
		c.CoherenceCoupling = phi
	}
}

func WithAdaptationRate(rate float64) Option {
	return func(c *Config) {
		c.AdaptationRate = rate
	}
}

func WithHorizon(steps int) Option {
	return func(c *Config) {
		c.PredictionHorizon = steps
	}
}

// WithIntegrationStrength sets alpha, the weight given to the reservoir when blending.
func WithIntegrationStrength(alpha float64) Option {
	return func(c *Config) {
		c.IntegrationStrength = alpha
	}
}

func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}
