package kafka

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RequiredAcks specifies the acknowledgment level for producers
type RequiredAcks int

const (
	// AckNone - no acknowledgment required (0)
	AckNone RequiredAcks = 0
	// AckLeader - leader acknowledgment only (1)
	AckLeader RequiredAcks = 1
	// AckAll - all replicas acknowledgment (-1)
	AckAll RequiredAcks = -1
)

// Compression specifies the compression algorithm
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionZstd   Compression = "zstd"
)

// SASLMechanism specifies the SASL authentication mechanism
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLScramSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLScramSHA512 SASLMechanism = "SCRAM-SHA-512"
	SASLOAuthBearer SASLMechanism = "OAUTHBEARER"
)

// Transport names
const (
	TransportFranz     = "franz"
	TransportSegmentio = "segmentio"
	TransportMemory    = "memory"
)

// Config holds the Kafka configuration
type Config struct {
	Brokers     []string
	ClientID    string
	ServiceName string
	Transport   string

	TopicPrefix string
	GroupPrefix string

	DefaultPartitions        int32
	DefaultReplicationFactor int16
	AutoCreateTopics         bool

	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration

	// Transport level retry policy. The client itself never retries a publish.
	Retries      int
	RetryBackoff time.Duration

	// Consumer settings
	MaxConcurrency  int
	FetchMaxRecords int
	ReadMaxBytes    int
	ReadMaxWait     time.Duration

	// Producer settings
	RequiredAcks RequiredAcks
	Compression  Compression

	SchemaValidation bool

	// Authentication
	TLSEnabled    bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// TokenProvider feeds OAUTHBEARER; when nil GCP default credentials are used.
	TokenProvider func() (string, error)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Brokers:                  []string{"localhost:9092"},
		ClientID:                 "freight-optimization",
		ServiceName:              "eventbus",
		Transport:                TransportFranz,
		TopicPrefix:              "freight-optimization",
		GroupPrefix:              "freight-optimization",
		DefaultPartitions:        3,
		DefaultReplicationFactor: 1,
		AutoCreateTopics:         true,
		ConnectionTimeout:        10 * time.Second,
		RequestTimeout:           30 * time.Second,
		Retries:                  5,
		RetryBackoff:             100 * time.Millisecond,
		MaxConcurrency:           8,
		FetchMaxRecords:          500,
		ReadMaxBytes:             1048576,
		ReadMaxWait:              250 * time.Millisecond,
		RequiredAcks:             AckAll, // Require all replicas
		Compression:              CompressionSnappy,
		SchemaValidation:         true,
	}
}

// ConfigOption configures the Kafka client
type ConfigOption func(*Config)

// Apply returns a copy of c with opts applied.
func (c Config) Apply(opts ...ConfigOption) Config {
	for _, o := range opts {
		o(&c)
	}
	return c
}

// WithBrokers sets the Kafka brokers
func WithBrokers(brokers ...string) ConfigOption {
	return func(c *Config) {
		c.Brokers = brokers
	}
}

// WithClientID sets the client ID
func WithClientID(clientID string) ConfigOption {
	return func(c *Config) {
		c.ClientID = clientID
	}
}

// WithServiceName sets the producer name stamped on published events
func WithServiceName(name string) ConfigOption {
	return func(c *Config) {
		c.ServiceName = name
	}
}

func WithTransport(name string) ConfigOption {
	return func(c *Config) {
		c.Transport = strings.ToLower(name)
	}
}

func WithTopicPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.TopicPrefix = prefix
	}
}

func WithGroupPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.GroupPrefix = prefix
	}
}

func WithDefaultPartitions(n int32) ConfigOption {
	return func(c *Config) {
		c.DefaultPartitions = n
	}
}

func WithDefaultReplicationFactor(rf int16) ConfigOption {
	return func(c *Config) {
		c.DefaultReplicationFactor = rf
	}
}

// WithAutoCreateTopics toggles topic provisioning during Init
func WithAutoCreateTopics(enabled bool) ConfigOption {
	return func(c *Config) {
		c.AutoCreateTopics = enabled
	}
}

func WithConnectionTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ConnectionTimeout = d
	}
}

func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithRetries sets the transport retry count and backoff
func WithRetries(retries int, backoff time.Duration) ConfigOption {
	return func(c *Config) {
		c.Retries = retries
		c.RetryBackoff = backoff
	}
}

// WithMaxConcurrency bounds how many partitions of one fetch are handled at once
func WithMaxConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.MaxConcurrency = n
	}
}

// WithRequiredAcks sets the acknowledgment level
func WithRequiredAcks(acks RequiredAcks) ConfigOption {
	return func(c *Config) {
		c.RequiredAcks = acks
	}
}

// WithCompression sets the compression algorithm
func WithCompression(compression Compression) ConfigOption {
	return func(c *Config) {
		c.Compression = compression
	}
}

func WithSchemaValidation(enabled bool) ConfigOption {
	return func(c *Config) {
		c.SchemaValidation = enabled
	}
}

// WithTLS enables TLS
func WithTLS() ConfigOption {
	return func(c *Config) {
		c.TLSEnabled = true
	}
}

// WithSASL sets the SASL mechanism and credentials
func WithSASL(mechanism SASLMechanism, username, password string) ConfigOption {
	return func(c *Config) {
		c.SASLMechanism = SASLMechanism(strings.ToUpper(string(mechanism)))
		c.Username = username
		c.Password = password
	}
}

// WithTokenProvider sets the OAUTHBEARER token source
func WithTokenProvider(fn func() (string, error)) ConfigOption {
	return func(c *Config) {
		c.SASLMechanism = SASLOAuthBearer
		c.TokenProvider = fn
	}
}

// ConfigFromViper maps the kafka.* (KAFKA_*) keys onto DefaultConfig. Keys
// that are not set keep their defaults.
func ConfigFromViper(v *viper.Viper) Config {
	var opts []ConfigOption

	if s := v.GetString("kafka.brokers"); s != "" {
		parts := strings.Split(s, ",")

		brokers := make([]string, 0, len(parts))
		for _, p := range parts {
			if v := strings.TrimSpace(p); v != "" {
				brokers = append(brokers, v)
			}
		}

		opts = append(opts, WithBrokers(brokers...))
	}

	if id := v.GetString("kafka.client.id"); id != "" {
		opts = append(opts, WithClientID(id))
	}
	if name := v.GetString("service.name"); name != "" {
		opts = append(opts, WithServiceName(name))
	}
	if t := v.GetString("kafka.transport"); t != "" {
		opts = append(opts, WithTransport(t))
	}
	if p := v.GetString("kafka.topic.prefix"); p != "" {
		opts = append(opts, WithTopicPrefix(p))
	}
	if p := v.GetString("kafka.consumer.group.prefix"); p != "" {
		opts = append(opts, WithGroupPrefix(p))
	}

	// Provisioning
	if n := v.GetInt32("kafka.default.partitions"); n > 0 {
		opts = append(opts, WithDefaultPartitions(n))
	}
	if n := v.GetInt("kafka.default.replication.factor"); n > 0 {
		opts = append(opts, WithDefaultReplicationFactor(int16(n)))
	}
	if v.IsSet("topic.auto.creation.enabled") {
		opts = append(opts, WithAutoCreateTopics(v.GetBool("topic.auto.creation.enabled")))
	}
	if v.IsSet("schema.validation.enabled") {
		opts = append(opts, WithSchemaValidation(v.GetBool("schema.validation.enabled")))
	}

	// Tuning
	if d := v.GetDuration("kafka.connection.timeout"); d > 0 {
		opts = append(opts, WithConnectionTimeout(d))
	}
	if d := v.GetDuration("kafka.request.timeout"); d > 0 {
		opts = append(opts, WithRequestTimeout(d))
	}
	if v.IsSet("kafka.retries") {
		backoff := v.GetDuration("kafka.retry.backoff")
		if backoff <= 0 {
			backoff = DefaultConfig().RetryBackoff
		}
		opts = append(opts, WithRetries(v.GetInt("kafka.retries"), backoff))
	}
	if n := v.GetInt("kafka.max.concurrency"); n > 0 {
		opts = append(opts, WithMaxConcurrency(n))
	}

	// Auth
	if v.GetBool("kafka.ssl") {
		opts = append(opts, WithTLS())
	}
	if m := v.GetString("kafka.sasl.mechanism"); m != "" {
		opts = append(opts, WithSASL(SASLMechanism(m), v.GetString("kafka.sasl.username"), v.GetString("kafka.sasl.password")))
	}

	return DefaultConfig().Apply(opts...)
}
