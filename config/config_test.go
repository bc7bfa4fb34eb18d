package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freightopt/eventbus/kafka"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "eventbus", s.ServiceName)
	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, []string{"localhost:9092"}, s.Kafka.Brokers)
	assert.Equal(t, kafka.TransportFranz, s.Kafka.Transport)
	assert.Equal(t, 5, s.Kafka.Retries)
	assert.Equal(t, 100*time.Millisecond, s.Kafka.RetryBackoff)
	assert.Equal(t, int32(3), s.Kafka.DefaultPartitions)
	assert.True(t, s.Kafka.AutoCreateTopics)
	assert.True(t, s.Kafka.SchemaValidation)
	assert.False(t, s.SchemaRegistryEnabled)
	assert.Equal(t, "http://localhost:8081", s.SchemaRegistry.URL)
	assert.Equal(t, 24*time.Hour, s.IdempotencyTTL)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("KAFKA_TRANSPORT", "segmentio")
	t.Setenv("KAFKA_REQUEST_TIMEOUT", "3s")
	t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")
	t.Setenv("KAFKA_SASL_USERNAME", "svc")
	t.Setenv("SCHEMA_VALIDATION_ENABLED", "false")
	t.Setenv("SERVICE_NAME", "load-service")
	t.Setenv("REDIS_ADDR", "redis:6379")

	s, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, s.Kafka.Brokers)
	assert.Equal(t, kafka.TransportSegmentio, s.Kafka.Transport)
	assert.Equal(t, 3*time.Second, s.Kafka.RequestTimeout)
	assert.Equal(t, kafka.SASLPlain, s.Kafka.SASLMechanism)
	assert.Equal(t, "svc", s.Kafka.Username)
	assert.False(t, s.Kafka.SchemaValidation)
	assert.Equal(t, "load-service", s.ServiceName)
	assert.Equal(t, "load-service", s.Kafka.ServiceName)
	assert.Equal(t, "redis:6379", s.Redis.Addr)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: tracking-service
kafka:
  topic:
    prefix: staging
  max:
    concurrency: 16
`), 0o600))

	s, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tracking-service", s.ServiceName)
	assert.Equal(t, "staging", s.Kafka.TopicPrefix)
	assert.Equal(t, 16, s.Kafka.MaxConcurrency)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "text")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	l, err = NewLogger("warn", "")
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
