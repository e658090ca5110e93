package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"BasalGCT/internal/analyzer"
	"BasalGCT/internal/integrator"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/logger"
	"BasalGCT/pkg/queue"
)

type Config struct {
	Environment string            `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logger      LoggerConfig      `yaml:"logger"`
	Reservoir   reservoir.Config  `yaml:"reservoir"`
	Integrator  integrator.Config `yaml:"integrator"`
	Analyzer    analyzer.Config   `yaml:"analyzer"`
	Processing  ProcessingConfig  `yaml:"processing"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Redis       RedisConfig       `yaml:"redis"`
	Feed        FeedConfig        `yaml:"feed"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Jobs        JobsConfig        `yaml:"jobs"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors" default:"true"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" default:"true"`
	Path      string `yaml:"path" default:"/metrics"`
	Namespace string `yaml:"namespace" default:"basalgct"`
}

type LoggerConfig struct {
	logger.Config `yaml:",inline"`
	Collect       struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval" default:"10s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"collect"`
}

// ProcessingConfig controls the streaming path in front of the analyzer.
type ProcessingConfig struct {
	Timeout        time.Duration `yaml:"timeout" default:"2s"`
	MaxRPS         float64       `yaml:"max_rps" default:"20" validate:"gte=0"`
	Burst          int           `yaml:"burst" default:"5" validate:"gte=0"`
	BufferSize     int           `yaml:"buffer_size" default:"1000" validate:"gt=0"`
	PublishResults bool          `yaml:"publish_results" default:"true"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Topics       struct {
		Ticks   string `yaml:"ticks" default:"market.ticks"`
		Results string `yaml:"results" default:"coherence.results"`
		Alerts  string `yaml:"alerts" default:"coherence.alerts"`
		Logs    string `yaml:"logs" default:"basalgct.logs"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"basalgct"`
		Workers    int           `yaml:"workers" default:"1" validate:"gt=0"`
		BufferSize int           `yaml:"buffer_size" default:"100"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"market.ticks.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"10000"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost" validate:"required_if=Enabled true"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"basalgct"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	BatchSize        int           `yaml:"batch_size" default:"500" validate:"gt=0"`
	FlushInterval    time.Duration `yaml:"flush_interval" default:"2s"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	Prefix       string        `yaml:"prefix" default:"basalgct"`
	LatestTTL    time.Duration `yaml:"latest_ttl" default:"10m"`
}

// FeedConfig describes the Finnhub trade stream.
type FeedConfig struct {
	Enabled      bool          `yaml:"enabled"`
	APIKey       string        `yaml:"api_key" validate:"required_if=Enabled true"`
	WebSocketURL string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	Symbols      []string      `yaml:"symbols"`
	ReconnectMin time.Duration `yaml:"reconnect_min" default:"1s"`
	ReconnectMax time.Duration `yaml:"reconnect_max" default:"30s"`
	PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
}

// PersistenceConfig schedules reservoir snapshots.
type PersistenceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval" default:"5m"`
	RestoreOnStart bool          `yaml:"restore_on_start" default:"true"`
	MaxElapsed     time.Duration `yaml:"max_elapsed" default:"1m"`
}

// JobsConfig enables asynchronous batch analysis on the Redis job queue.
type JobsConfig struct {
	Enabled      bool `yaml:"enabled"`
	queue.Config `yaml:",inline"`
	ResultTTL    time.Duration `yaml:"result_ttl" default:"1h"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file. Defaults are applied first
// so the file only needs to carry overrides.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = splitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("RESERVOIR_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("RESERVOIR_SEED: %w", err)
		}
		c.Reservoir.Seed = seed
	}
	return nil
}

// Validate checks struct rules and the reservoir parameters.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Reservoir.Validate(); err != nil {
		return err
	}
	if c.Feed.Enabled && len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols cannot be empty when the feed is enabled")
	}
	if c.Jobs.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("jobs require redis to be enabled")
	}
	return nil
}

// AnalyzerConfig returns the analyzer section with the integrator and reservoir sections folded in.
func (c *Config) AnalyzerConfig() analyzer.Config {
	ac := c.Analyzer
	ac.Integrator = c.Integrator
	ac.Integrator.Reservoir = c.Reservoir
	return ac
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
