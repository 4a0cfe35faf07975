// Package config loads runtime configuration from defaults, an optional YAML
// file, an optional .env file and FAULTLINE_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FAULTLINE_"

// Config holds runtime configuration for the service.
type Config struct {
	LogLevel       string               `yaml:"log_level"`
	HTTP           HTTPConfig           `yaml:"http"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Redis          RedisConfig          `yaml:"redis"`
	Intake         IntakeConfig         `yaml:"intake"`
	Breaker        BreakerConfig        `yaml:"breaker"`
	Forensics      ForensicsConfig      `yaml:"forensics"`
	Workflow       WorkflowConfig       `yaml:"workflow"`
	Classification ClassificationConfig `yaml:"classification"`
	RetryDetection RetryDetectionConfig `yaml:"retry_detection"`
}

// HTTPConfig configures the admin API
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// KafkaConfig configures intake topics and the event bus.
type KafkaConfig struct {
	Brokers      []string       `yaml:"brokers"`
	GroupID      string         `yaml:"group_id"`
	AuditTopic   string         `yaml:"audit_topic"`
	ErrorTopic   string         `yaml:"error_topic"`
	EventsTopic  string         `yaml:"events_topic"`
	RetriesTopic string         `yaml:"retries_topic"`
	MinBytes     int            `yaml:"min_bytes"`
	MaxBytes     int            `yaml:"max_bytes"`
	MaxWait      time.Duration  `yaml:"max_wait"`
	Producer     ProducerConfig `yaml:"producer"`
}

// ProducerConfig holds Kafka writer settings
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RedisConfig configures the workflow and record stores. An empty Addr
// keeps both in memory.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// IntakeConfig sets the number of concurrent receive loops per path.
type IntakeConfig struct {
	AuditWorkers int `yaml:"audit_workers"`
	ErrorWorkers int `yaml:"error_workers"`
}

type BreakerConfig struct {
	Threshold int `yaml:"threshold"`
}

type ForensicsConfig struct {
	Dir string `yaml:"dir"`
}

type WorkflowConfig struct {
	MaxConflictRetries int `yaml:"max_conflict_retries"`
}

type ClassificationConfig struct {
	SystemTypePatterns []string `yaml:"system_type_patterns"`
}

// RetryDetectionConfig orders the alternative unique id sources:
// processing_endpoint, failed_queue, reply_to.
type RetryDetectionConfig struct {
	Order []string `yaml:"order"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			GroupID:      "faultline",
			AuditTopic:   "audit",
			ErrorTopic:   "error",
			EventsTopic:  "faultline.events",
			RetriesTopic: "faultline.retries",
			MinBytes:     1,
			MaxBytes:     10 << 20,
			MaxWait:      500 * time.Millisecond,
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "faultline",
		},
		Intake: IntakeConfig{
			AuditWorkers: 4,
			ErrorWorkers: 2,
		},
		Breaker:   BreakerConfig{Threshold: 50},
		Forensics: ForensicsConfig{Dir: "./forensics"},
		Workflow:  WorkflowConfig{MaxConflictRetries: 5},
	}
}

// Load builds a Config. path may be empty to skip the YAML file. If no env
// files are given, ./.env is read when present. Variables already set in the
// process environment win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.HTTP.Addr)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)
	str("KAFKA_AUDIT_TOPIC", &c.Kafka.AuditTopic)
	str("KAFKA_ERROR_TOPIC", &c.Kafka.ErrorTopic)
	str("KAFKA_EVENTS_TOPIC", &c.Kafka.EventsTopic)
	str("KAFKA_RETRIES_TOPIC", &c.Kafka.RetriesTopic)
	str("KAFKA_COMPRESSION", &c.Kafka.Producer.Compression)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)
	num("AUDIT_WORKERS", &c.Intake.AuditWorkers)
	num("ERROR_WORKERS", &c.Intake.ErrorWorkers)
	num("BREAKER_THRESHOLD", &c.Breaker.Threshold)
	str("FORENSICS_DIR", &c.Forensics.Dir)
	num("MAX_CONFLICT_RETRIES", &c.Workflow.MaxConflictRetries)
	list("SYSTEM_TYPE_PATTERNS", &c.Classification.SystemTypePatterns)
	list("RETRY_DETECTION_ORDER", &c.RetryDetection.Order)

	return errors.Join(errs...)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Breaker.Threshold < 1 {
		errs = append(errs, errors.New("breaker.threshold must be at least 1"))
	}
	if strings.TrimSpace(c.Forensics.Dir) == "" {
		errs = append(errs, errors.New("forensics.dir is required"))
	}
	if c.Intake.AuditWorkers < 1 || c.Intake.ErrorWorkers < 1 {
		errs = append(errs, errors.New("intake workers must be at least 1"))
	}
	if c.Workflow.MaxConflictRetries < 1 {
		errs = append(errs, errors.New("workflow.max_conflict_retries must be at least 1"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Kafka.AuditTopic == "" || c.Kafka.ErrorTopic == "" {
		errs = append(errs, errors.New("kafka audit and error topics are required"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
