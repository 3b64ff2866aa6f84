package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Model artifact and training report locations.
	ModelPath      string
	ReportPath     string
	XGBoostEnabled bool

	// Kafka batch scoring.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Score cache. Disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ScoreCacheTTL time.Duration

	// Run recorder. Disabled when PostgresURL is empty.
	PostgresURL string

	// NASA POWER climate overlay.
	PowerEnabled   bool
	PowerTimeout   time.Duration
	PowerCacheSize int
	PowerCachePath string
	PowerGridSize  int
	PowerStartDate string
	PowerEndDate   string

	// Bootstrap dataset generation.
	DatasetBBox       domain.BBox
	DatasetSamples    int
	DatasetSeed       uint64
	RasterMockEnabled bool
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parsePositiveDuration("SCORE_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}

	powerTimeout, err := parsePositiveDuration("POWER_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	redisDB, err := parseNonNegativeInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	gridSize, err := parsePositiveInt("POWER_GRID_SIZE", 4)
	if err != nil {
		return nil, err
	}

	samples, err := parsePositiveInt("DATASET_SAMPLES", 4000)
	if err != nil {
		return nil, err
	}

	seed, err := strconv.ParseUint(sharedcfg.EnvOrDefault("DATASET_SEED", "42"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid DATASET_SEED")
	}

	bbox := domain.DefaultBBox
	if s := os.Getenv("DATASET_BBOX"); s != "" {
		if bbox, err = domain.ParseBBox(s); err != nil {
			return nil, fmt.Errorf("invalid DATASET_BBOX: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ModelPath:      sharedcfg.EnvOrDefault("MODEL_PATH", "artifacts/risk_model.aqrm"),
		ReportPath:     sharedcfg.EnvOrDefault("REPORT_PATH", "artifacts/training_report.json"),
		XGBoostEnabled: parseBool("XGBOOST_ENABLED", true),

		KafkaEnabled:       parseBool("KAFKA_ENABLED", false),
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "risk-score-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "risk-scores"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "aqua-risk"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		ScoreCacheTTL: cacheTTL,

		PostgresURL: os.Getenv("POSTGRES_URL"),

		PowerEnabled:   parseBool("POWER_ENABLED", false),
		PowerTimeout:   powerTimeout,
		PowerCacheSize: parseCacheSize("POWER_CACHE_SIZE", 1000),
		PowerCachePath: sharedcfg.EnvOrDefault("POWER_CACHE_PATH", "data/nasa_power_cache.csv"),
		PowerGridSize:  gridSize,
		PowerStartDate: sharedcfg.EnvOrDefault("POWER_START_DATE", "2021-01-01"),
		PowerEndDate:   sharedcfg.EnvOrDefault("POWER_END_DATE", "2023-12-31"),

		DatasetBBox:       bbox,
		DatasetSamples:    samples,
		DatasetSeed:       seed,
		RasterMockEnabled: parseBool("RASTER_MOCK_ENABLED", false),
	}

	if cfg.ModelPath == "" {
		return nil, errors.New("MODEL_PATH is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}
	if cfg.PowerEnabled {
		start, err := domain.ParseDate(cfg.PowerStartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid POWER_START_DATE: %w", err)
		}
		end, err := domain.ParseDate(cfg.PowerEndDate)
		if err != nil {
			return nil, fmt.Errorf("invalid POWER_END_DATE: %w", err)
		}
		if end.Before(start) {
			return nil, errors.New("POWER_END_DATE is before POWER_START_DATE")
		}
	}

	return cfg, nil
}

func parseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

// parseCacheSize ignores unusable values and returns def.
func parseCacheSize(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
