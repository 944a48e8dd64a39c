// Package config loads and validates the retrieval configuration from YAML
// files with environment-variable overrides. Every subsystem (retrieval,
// components, evaluation, Redis, Kafka, Postgres, logging, metrics) has its
// own typed section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Components ComponentsConfig `yaml:"components"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RetrievalConfig names the input files and the ranking depth R.
type RetrievalConfig struct {
	CorpusPath string `yaml:"corpusPath"`
	QueryPath  string `yaml:"queryPath"`
	OutputPath string `yaml:"outputPath"`
	RankDepth  int    `yaml:"rankDepth"`
	Workers    int    `yaml:"workers"`
}

// ComponentsConfig selects the concrete tokenizer, encoder, scorer and ranker
// bound at startup.
type ComponentsConfig struct {
	Tokenizer      string `yaml:"tokenizer"`
	QueryCacheSize int    `yaml:"queryCacheSize"`
	Encoder        string `yaml:"encoder"`
	Scorer         string `yaml:"scorer"`
	Ranker         string `yaml:"ranker"`
}

// EvaluationConfig enables recall evaluation when LabelsPath is set.
type EvaluationConfig struct {
	LabelsPath string `yaml:"labelsPath"`
	LogPath    string `yaml:"logPath"`
}

// Enabled reports whether evaluation should run.
func (e EvaluationConfig) Enabled() bool {
	return e.LabelsPath != ""
}

// PostgresConfig holds PostgreSQL connection parameters for the evaluation
// store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds broker and topic settings for the query stream and the
// ranking sink.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Queries  string `yaml:"queries"`
	Rankings string `yaml:"rankings"`
}

// RedisConfig holds Redis connection and ranking-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file %s: %v", apperrors.ErrConfig, path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config suitable for a local batch run.
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			RankDepth: 1000,
			Workers:   4,
		},
		Components: ComponentsConfig{
			Tokenizer:      "word",
			QueryCacheSize: 4096,
			Encoder:        "bow",
			Scorer:         "overlap",
			Ranker:         "heap",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "retrieval-workers",
			Topics: KafkaTopics{
				Queries:  "retrieval.queries",
				Rankings: "retrieval.rankings",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate checks the fields a batch run depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Retrieval.QueryPath == "" {
		problems = append(problems, "retrieval.queryPath is required")
	}
	return c.validate(problems)
}

// ValidateStream checks the fields the query worker depends on. Queries
// arrive over Kafka, so Kafka must be enabled and no query file is needed.
func (c *Config) ValidateStream() error {
	var problems []string
	if !c.Kafka.Enabled {
		problems = append(problems, "kafka.enabled must be true for the query worker")
	}
	if c.Kafka.Topics.Queries == "" {
		problems = append(problems, "kafka.topics.queries is required")
	}
	return c.validate(problems)
}

func (c *Config) validate(problems []string) error {
	if c.Retrieval.CorpusPath == "" {
		problems = append(problems, "retrieval.corpusPath is required")
	}
	if c.Retrieval.RankDepth < 0 {
		problems = append(problems, fmt.Sprintf("retrieval.rankDepth must be >= 0, got %d", c.Retrieval.RankDepth))
	}
	if c.Retrieval.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.workers must be > 0, got %d", c.Retrieval.Workers))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers must not be empty when kafka is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads BR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BR_CORPUS_PATH"); v != "" {
		cfg.Retrieval.CorpusPath = v
	}
	if v := os.Getenv("BR_QUERY_PATH"); v != "" {
		cfg.Retrieval.QueryPath = v
	}
	if v := os.Getenv("BR_OUTPUT_PATH"); v != "" {
		cfg.Retrieval.OutputPath = v
	}
	if v := os.Getenv("BR_RANK_DEPTH"); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.RankDepth = r
		}
	}
	if v := os.Getenv("BR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.Workers = n
		}
	}
	if v := os.Getenv("BR_TOKENIZER"); v != "" {
		cfg.Components.Tokenizer = v
	}
	if v := os.Getenv("BR_LABELS_PATH"); v != "" {
		cfg.Evaluation.LabelsPath = v
	}
	if v := os.Getenv("BR_EVAL_LOG_PATH"); v != "" {
		cfg.Evaluation.LogPath = v
	}
	if v := os.Getenv("BR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
