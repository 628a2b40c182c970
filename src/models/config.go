package models

// MConfig Structure
type MConfig struct {
	Name           string           `yaml:"name" env:"NAME"`
	Host           string           `yaml:"host" env:"HOST"`
	Port           int              `yaml:"port" env:"PORT"`
	LogLevel       string           `yaml:"log_level" env:"LOG_LEVEL"`
	GrpcHost       string           `yaml:"grpc_host" env:"GRPC_HOST"`
	GrpcPort       int              `yaml:"grpc_port" env:"GRPC_PORT"`
	MetricsEnabled bool             `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	Storage        MStorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Features       MFeatureConfig   `yaml:"features"`
	Training       MTrainingConfig  `yaml:"training"`
	Inference      MInferenceConfig `yaml:"inference"`
	Redis          MRedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type" env:"DB_TYPE"`
	DBPath             string `yaml:"db_path" env:"DB_PATH"`
	DBConnectionString string `yaml:"db_connection_string" env:"DB_CONNECTION_STRING"`
	HistorySource      string `yaml:"history_source" env:"HISTORY_SOURCE"`
	HistoryDSN         string `yaml:"history_dsn" env:"HISTORY_DSN"`
	ModelDir           string `yaml:"model_dir" env:"MODEL_DIR"`
}

type MFeatureConfig struct {
	ShortWindow int                 `yaml:"short_window"`
	LongWindow  int                 `yaml:"long_window"`
	CalendarMIC string              `yaml:"calendar_mic"`
	Currency    string              `yaml:"currency"`
	Airports    map[string]MAirport `yaml:"airports"`
}

type MAirport struct {
	Latitude  float64 `yaml:"lat" json:"lat"`
	Longitude float64 `yaml:"lon" json:"lon"`
}

type MTrainingConfig struct {
	ValidationStrategy   string  `yaml:"validation_strategy"`
	HoldoutFraction      float64 `yaml:"holdout_fraction"`
	TrainWindowDays      int     `yaml:"train_window_days"`
	TestWindowDays       int     `yaml:"test_window_days"`
	AdaptiveWindows      bool    `yaml:"adaptive_windows"`
	MinTrainRows         int     `yaml:"min_train_rows"`
	MinTestRows          int     `yaml:"min_test_rows"`
	MinRows              int     `yaml:"min_rows"`
	NEstimators          int     `yaml:"n_estimators"`
	LearningRate         float64 `yaml:"learning_rate"`
	MaxDepth             int     `yaml:"max_depth"`
	MinSamplesLeaf       int     `yaml:"min_samples_leaf"`
	PermutationSeed      uint64  `yaml:"permutation_seed"`
	LeakageThreshold     float64 `yaml:"leakage_threshold"`
	ResidualMinRouteRows int     `yaml:"residual_min_route_rows"`
	CommitRetries        int     `yaml:"commit_retries"`
	ParallelFolds        bool    `yaml:"parallel_folds"`
}

type MInferenceConfig struct {
	SanityBound float64 `yaml:"sanity_bound"`
	ConfidenceZ float64 `yaml:"confidence_z"`
}

type MRedisConfig struct {
	URL        string `yaml:"url" env:"URL"`
	Channel    string `yaml:"channel" env:"CHANNEL"`
	VersionKey string `yaml:"version_key" env:"VERSION_KEY"`
}
