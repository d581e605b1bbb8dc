package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Graph   GraphConfig
	Ledger  LedgerConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Scoring ScoringConfig
	Health  HealthConfig
	Jobs    JobsConfig
	Logging LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// GraphConfig describes connectivity to the graph database (Neo4j or any
// Bolt-compatible endpoint).
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// LedgerConfig describes the transactional store holding loans, repayments,
// memberships and score snapshots.
type LedgerConfig struct {
	DSN string
}

// RedisConfig covers the per-user recompute lock store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig covers the durable recompute job queue. Empty brokers fall back
// to the in-process queue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ScoringConfig holds the rule-based model constants. Weights must sum to 1.
type ScoringConfig struct {
	WeightRepayment          float64
	WeightTenure             float64
	WeightVouchCount         float64
	WeightVoucherReliability float64
	WeightLoanVolume         float64
	ColdStartScore           float64
}

// HealthConfig holds cluster classification thresholds and sweep scheduling.
type HealthConfig struct {
	StableThreshold  float64
	GrowingThreshold float64
	SweepHourUTC     int
	CommunityTimeout time.Duration
}

// JobsConfig controls the background recomputation workers.
type JobsConfig struct {
	Workers          int
	RecomputeTimeout time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10

	defaultColdStartScore   = 300
	defaultStableThreshold  = 700
	defaultGrowingThreshold = 500
	defaultSweepHourUTC     = 2
	defaultCommunityTimeout = 2 * time.Minute
	defaultWorkers          = 4
	defaultRecomputeTimeout = 5 * time.Minute
)

// Load reads configuration from environment variables, applying defaults. A
// .env file in the working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:       defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Ledger: LedgerConfig{
			DSN: os.Getenv("LEDGER_DSN"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   valueOrDefault("KAFKA_TOPIC", "trust-score-recompute"),
			GroupID: valueOrDefault("KAFKA_GROUP_ID", "trust-score-workers"),
		},
		Scoring: ScoringConfig{
			WeightRepayment:          parseFloatWithDefault("WEIGHT_REPAYMENT", 0.40),
			WeightTenure:             parseFloatWithDefault("WEIGHT_TENURE", 0.20),
			WeightVouchCount:         parseFloatWithDefault("WEIGHT_VOUCH_COUNT", 0.15),
			WeightVoucherReliability: parseFloatWithDefault("WEIGHT_VOUCHER_RELIABILITY", 0.15),
			WeightLoanVolume:         parseFloatWithDefault("WEIGHT_LOAN_VOLUME", 0.10),
			ColdStartScore:           parseFloatWithDefault("COLD_START_SCORE", defaultColdStartScore),
		},
		Health: HealthConfig{
			StableThreshold:  parseFloatWithDefault("STABLE_CLUSTER_THRESHOLD", defaultStableThreshold),
			GrowingThreshold: parseFloatWithDefault("GROWING_CLUSTER_THRESHOLD", defaultGrowingThreshold),
			SweepHourUTC:     parseIntWithDefault("HEALTH_SWEEP_HOUR_UTC", defaultSweepHourUTC),
			CommunityTimeout: parseDurationWithDefault("HEALTH_COMMUNITY_TIMEOUT", defaultCommunityTimeout),
		},
		Jobs: JobsConfig{
			Workers:          parseIntWithDefault("JOB_WORKERS", defaultWorkers),
			RecomputeTimeout: parseDurationWithDefault("RECOMPUTE_TIMEOUT", defaultRecomputeTimeout),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	for _, tc := range []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	} {
		if v := os.Getenv(tc.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", tc.key, err)
			}
			*tc.dst = d
		}
	}

	if err := cfg.Scoring.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Health.StableThreshold < cfg.Health.GrowingThreshold {
		return Config{}, fmt.Errorf("stable threshold %.0f below growing threshold %.0f",
			cfg.Health.StableThreshold, cfg.Health.GrowingThreshold)
	}
	if cfg.Health.SweepHourUTC < 0 || cfg.Health.SweepHourUTC > 23 {
		return Config{}, fmt.Errorf("sweep hour %d out of range", cfg.Health.SweepHourUTC)
	}

	return cfg, nil
}

// Validate checks that the component weights form a proper convex combination.
func (s ScoringConfig) Validate() error {
	sum := s.WeightRepayment + s.WeightTenure + s.WeightVouchCount +
		s.WeightVoucherReliability + s.WeightLoanVolume
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights sum to %.4f, want 1.0", sum)
	}
	for _, w := range []float64{s.WeightRepayment, s.WeightTenure, s.WeightVouchCount,
		s.WeightVoucherReliability, s.WeightLoanVolume} {
		if w < 0 {
			return fmt.Errorf("scoring weight %.4f is negative", w)
		}
	}
	if s.ColdStartScore < 0 || s.ColdStartScore > 1000 {
		return fmt.Errorf("cold start score %.2f out of [0,1000]", s.ColdStartScore)
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
