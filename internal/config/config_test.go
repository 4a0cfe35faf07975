package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Breaker.Threshold)
	assert.Equal(t, "audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, "error", cfg.Kafka.ErrorTopic)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "faultline.yaml", `
log_level: debug
http:
  addr: ":9090"
kafka:
  brokers: ["k1:9092", "k2:9092"]
  error_topic: errors
  producer:
    compression: zstd
breaker:
  threshold: 3
forensics:
  dir: /var/lib/faultline
retry_detection:
  order: [reply_to, processing_endpoint]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "errors", cfg.Kafka.ErrorTopic)
	assert.Equal(t, "audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, "zstd", cfg.Kafka.Producer.Compression)
	assert.Equal(t, 3, cfg.Kafka.Producer.MaxRetries)
	assert.Equal(t, 3, cfg.Breaker.Threshold)
	assert.Equal(t, "/var/lib/faultline", cfg.Forensics.Dir)
	assert.Equal(t, []string{"reply_to", "processing_endpoint"}, cfg.RetryDetection.Order)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "faultline.yaml", "breaker:\n  threshold: 3\n")
	t.Setenv("FAULTLINE_BREAKER_THRESHOLD", "7")
	t.Setenv("FAULTLINE_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("FAULTLINE_REDIS_ADDR", "")
	t.Setenv("FAULTLINE_SYSTEM_TYPE_PATTERNS", `^Acme\.Internal\.`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Breaker.Threshold)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, []string{`^Acme\.Internal\.`}, cfg.Classification.SystemTypePatterns)
}

func TestLoad_EnvFile(t *testing.T) {
	env := writeFile(t, "test.env", "FAULTLINE_AUDIT_WORKERS=9\nFAULTLINE_ERROR_WORKERS=1\n")
	t.Cleanup(func() {
		os.Unsetenv("FAULTLINE_AUDIT_WORKERS")
		os.Unsetenv("FAULTLINE_ERROR_WORKERS")
	})
	t.Setenv("FAULTLINE_ERROR_WORKERS", "5")

	cfg, err := Load("", env)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Intake.AuditWorkers)
	assert.Equal(t, 5, cfg.Intake.ErrorWorkers)
}

func TestLoad_BadInteger(t *testing.T) {
	t.Setenv("FAULTLINE_BREAKER_THRESHOLD", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAULTLINE_BREAKER_THRESHOLD")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"no forensic dir", func(c *Config) { c.Forensics.Dir = " " }},
		{"no workers", func(c *Config) { c.Intake.ErrorWorkers = 0 }},
		{"no conflict retries", func(c *Config) { c.Workflow.MaxConflictRetries = 0 }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"no audit topic", func(c *Config) { c.Kafka.AuditTopic = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
