package config

import (
	"fmt"
	"os"

	"fare-observer/src/models"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides (FARE_PORT, FARE_STORAGE_DB_PATH, ...).
const EnvPrefix = "FARE_"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads a YAML file, applies defaults and environment overrides, then validates
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}
	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a Config from YAML bytes
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := env.ParseWithOptions(config.MConfig, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills zero values with the production defaults
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "fare-observer"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = c.Host
	}
	if c.GrpcPort == 0 {
		c.GrpcPort = 50051
	}

	s := &c.Storage
	if s.DBType == "" {
		s.DBType = "sqlite"
	}
	if s.DBType == "sqlite" && s.DBPath == "" {
		s.DBPath = "fares.db"
	}
	if s.HistorySource == "" {
		s.HistorySource = "store"
	}
	if s.ModelDir == "" {
		s.ModelDir = "models"
	}

	f := &c.Features
	if f.ShortWindow == 0 {
		f.ShortWindow = 7
	}
	if f.LongWindow == 0 {
		f.LongWindow = 30
	}
	if f.CalendarMIC == "" {
		f.CalendarMIC = "XNYS"
	}
	if f.Currency == "" {
		f.Currency = "EUR"
	}

	t := &c.Training
	if t.ValidationStrategy == "" {
		t.ValidationStrategy = "holdout"
	}
	if t.HoldoutFraction == 0 {
		t.HoldoutFraction = 0.8
	}
	if t.TrainWindowDays == 0 {
		t.TrainWindowDays = 90
	}
	if t.TestWindowDays == 0 {
		t.TestWindowDays = 14
	}
	if t.MinTrainRows == 0 {
		t.MinTrainRows = 10
	}
	if t.MinTestRows == 0 {
		t.MinTestRows = 2
	}
	if t.MinRows == 0 {
		t.MinRows = 50
	}
	if t.NEstimators == 0 {
		t.NEstimators = 100
	}
	if t.LearningRate == 0 {
		t.LearningRate = 0.1
	}
	if t.MaxDepth == 0 {
		t.MaxDepth = 6
	}
	if t.MinSamplesLeaf == 0 {
		t.MinSamplesLeaf = 1
	}
	if t.PermutationSeed == 0 {
		t.PermutationSeed = 999
	}
	if t.LeakageThreshold == 0 {
		t.LeakageThreshold = 0.05
	}
	if t.ResidualMinRouteRows == 0 {
		t.ResidualMinRouteRows = 10
	}
	if t.CommitRetries == 0 {
		t.CommitRetries = 3
	}

	if c.Inference.SanityBound == 0 {
		c.Inference.SanityBound = 200000
	}
	if c.Inference.ConfidenceZ == 0 {
		c.Inference.ConfidenceZ = 1.96
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "fares:deployments"
	}
	if c.Redis.VersionKey == "" {
		c.Redis.VersionKey = "fares:deployed_version"
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort <= 1024 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d (must be between 1025 and 65535)", c.GrpcPort)
	}

	// Storage
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %q", c.Storage.DBType)
	}
	switch c.Storage.HistorySource {
	case "store":
	case "pgx":
		if c.Storage.HistoryDSN == "" && c.Storage.DBConnectionString == "" {
			return fmt.Errorf("pgx history source needs history_dsn or db_connection_string")
		}
	default:
		return fmt.Errorf("unsupported history source: %q", c.Storage.HistorySource)
	}

	// Features
	if c.Features.ShortWindow < 1 || c.Features.LongWindow <= c.Features.ShortWindow {
		return fmt.Errorf("windows must satisfy 1 <= short (%d) < long (%d)", c.Features.ShortWindow, c.Features.LongWindow)
	}

	// Training
	t := c.Training
	switch t.ValidationStrategy {
	case "holdout":
		if t.HoldoutFraction <= 0 || t.HoldoutFraction >= 1 {
			return fmt.Errorf("holdout fraction must be in (0, 1), got %v", t.HoldoutFraction)
		}
	case "walk_forward":
		if t.TrainWindowDays <= 0 || t.TestWindowDays <= 0 {
			return fmt.Errorf("walk-forward windows must be positive")
		}
	default:
		return fmt.Errorf("unsupported validation strategy: %q", t.ValidationStrategy)
	}
	if t.NEstimators <= 0 || t.MaxDepth <= 0 || t.MinSamplesLeaf <= 0 {
		return fmt.Errorf("n_estimators, max_depth and min_samples_leaf must be positive")
	}
	if t.LearningRate <= 0 || t.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in (0, 1], got %v", t.LearningRate)
	}
	if t.LeakageThreshold <= 0 || t.LeakageThreshold >= 1 {
		return fmt.Errorf("leakage threshold must be in (0, 1), got %v", t.LeakageThreshold)
	}
	if t.CommitRetries < 1 {
		return fmt.Errorf("commit retries must be at least 1")
	}

	if c.Inference.SanityBound <= 0 {
		return fmt.Errorf("sanity bound must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
