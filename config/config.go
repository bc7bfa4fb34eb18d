// Package config loads process settings from defaults, an optional YAML file
// and the environment. Keys are dotted; KAFKA_BROKERS overrides kafka.brokers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/freightopt/eventbus/idempotency"
	"github.com/freightopt/eventbus/kafka"
	"github.com/freightopt/eventbus/schema"
	"github.com/spf13/viper"
)

// Settings is everything a bus process needs besides the Kafka client itself.
type Settings struct {
	ServiceName string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string

	Kafka kafka.Config

	SchemaRegistryEnabled bool
	SchemaRegistry        schema.RegistryConfig

	Redis          idempotency.RedisConfig
	IdempotencyTTL time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "eventbus")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.client.id", "freight-optimization")
	v.SetDefault("kafka.transport", kafka.TransportFranz)
	v.SetDefault("kafka.topic.prefix", "freight-optimization")
	v.SetDefault("kafka.consumer.group.prefix", "freight-optimization")
	v.SetDefault("kafka.connection.timeout", "10s")
	v.SetDefault("kafka.request.timeout", "30s")
	v.SetDefault("kafka.retries", 5)
	v.SetDefault("kafka.retry.backoff", "100ms")
	v.SetDefault("kafka.default.partitions", 3)
	v.SetDefault("kafka.default.replication.factor", 1)
	v.SetDefault("kafka.max.concurrency", 8)
	v.SetDefault("kafka.ssl", false)

	v.SetDefault("schema.registry.enabled", false)
	v.SetDefault("schema.registry.url", "http://localhost:8081")
	v.SetDefault("schema.validation.enabled", true)
	v.SetDefault("topic.auto.creation.enabled", true)

	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", "24h")
}

// New returns a viper instance with defaults and environment binding. A
// non-empty path is read as the config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

// Load is New followed by FromViper.
func Load(path string) (Settings, *viper.Viper, error) {
	v, err := New(path)
	if err != nil {
		return Settings{}, nil, err
	}
	return FromViper(v), v, nil
}

func FromViper(v *viper.Viper) Settings {
	return Settings{
		ServiceName: v.GetString("service.name"),
		HTTPAddr:    v.GetString("http.addr"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),

		Kafka: kafka.ConfigFromViper(v),

		SchemaRegistryEnabled: v.GetBool("schema.registry.enabled"),
		SchemaRegistry: schema.RegistryConfig{
			URL:      v.GetString("schema.registry.url"),
			Username: v.GetString("schema.registry.username"),
			Password: v.GetString("schema.registry.password"),
		},

		Redis: idempotency.RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		IdempotencyTTL: v.GetDuration("idempotency.ttl"),
	}
}
