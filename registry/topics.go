// Package registry names the topics and consumer groups of the bus. Both
// registries are pure: they never talk to the cluster.
package registry

import (
	"strings"

	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/functional"
	"github.com/iancoleman/strcase"
)

const (
	DefaultPrefix            = "freight-optimization"
	DefaultPartitions        = 3
	DefaultReplicationFactor = 1

	deadLetterSuffix = "-dlq"
	topicSuffix      = "_events"
)

// TopicSpec is the provisioning data of one topic.
type TopicSpec struct {
	Category          events.Category
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Config            map[string]string
}

type topicOverride struct {
	partitions  int32
	replication int16
	config      map[string]string
}

// Topics maps categories to topic names under a prefix.
type Topics struct {
	prefix      string
	partitions  int32
	replication int16
	overrides   map[events.Category]*topicOverride
}

type TopicOption func(*Topics)

// WithDefaultPartitions sets the partition count of topics without an override.
func WithDefaultPartitions(n int32) TopicOption {
	return func(t *Topics) {
		if n > 0 {
			t.partitions = n
		}
	}
}

func WithDefaultReplicationFactor(rf int16) TopicOption {
	return func(t *Topics) {
		if rf > 0 {
			t.replication = rf
		}
	}
}

// WithTopicPartitions overrides the partition count of a single category.
func WithTopicPartitions(c events.Category, n int32) TopicOption {
	return func(t *Topics) { t.override(c).partitions = n }
}

func WithTopicReplicationFactor(c events.Category, rf int16) TopicOption {
	return func(t *Topics) { t.override(c).replication = rf }
}

// WithTopicConfig sets a broker-side config entry (e.g. retention.ms) on the
// topic of a category.
func WithTopicConfig(c events.Category, key, value string) TopicOption {
	return func(t *Topics) {
		o := t.override(c)
		if o.config == nil {
			o.config = map[string]string{}
		}
		o.config[key] = value
	}
}

func NewTopics(prefix string, opts ...TopicOption) *Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	t := &Topics{
		prefix:      strings.TrimSuffix(prefix, "-"),
		partitions:  DefaultPartitions,
		replication: DefaultReplicationFactor,
		overrides:   map[events.Category]*topicOverride{},
	}

	// position telemetry is the high volume stream
	WithTopicPartitions(events.CategoryPosition, 6)(t)

	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Topics) override(c events.Category) *topicOverride {
	o, ok := t.overrides[c]
	if !ok {
		o = &topicOverride{}
		t.overrides[c] = o
	}
	return o
}

func (t *Topics) Prefix() string { return t.prefix }

// Resolve returns the topic for a category name. The name is folded to snake
// case and an optional "_events" suffix is dropped, so "LOAD", "load",
// "load_events" and "LoadEvents" all resolve alike. Unknown categories resolve
// to the system events topic.
func (t *Topics) Resolve(category string) string {
	name := strcase.ToSnake(strings.TrimSpace(category))
	name = strings.TrimSuffix(name, topicSuffix)

	c, ok := events.ParseCategory(name)
	if !ok {
		c = events.CategorySystem
	}
	return t.name(c)
}

func (t *Topics) ResolveCategory(c events.Category) string {
	return t.Resolve(string(c))
}

func (t *Topics) name(c events.Category) string {
	return t.prefix + "-" + c.TopicName()
}

// All returns every registered topic name in category order.
func (t *Topics) All() []string {
	return functional.Map(events.Categories(), t.name)
}

func (t *Topics) Specs() []TopicSpec {
	return functional.Map(events.Categories(), t.spec)
}

// Spec returns the provisioning data of a full topic name.
func (t *Topics) Spec(topic string) (TopicSpec, bool) {
	found := functional.Find(t.Specs(), func(s TopicSpec) bool { return s.Name == topic })
	if found == nil {
		return TopicSpec{}, false
	}
	return *found, true
}

// Category returns the category a full topic name belongs to.
func (t *Topics) Category(topic string) (events.Category, bool) {
	s, ok := t.Spec(topic)
	return s.Category, ok
}

func (t *Topics) spec(c events.Category) TopicSpec {
	s := TopicSpec{
		Category:          c,
		Name:              t.name(c),
		Partitions:        t.partitions,
		ReplicationFactor: t.replication,
	}

	if o, ok := t.overrides[c]; ok {
		if o.partitions > 0 {
			s.Partitions = o.partitions
		}
		if o.replication > 0 {
			s.ReplicationFactor = o.replication
		}
		if len(o.config) > 0 {
			s.Config = make(map[string]string, len(o.config))
			for k, v := range o.config {
				s.Config[k] = v
			}
		}
	}
	return s
}

// DeadLetterTopic derives the dead-letter topic of a source topic.
func DeadLetterTopic(source string) string {
	return source + deadLetterSuffix
}

// IsDeadLetterTopic reports whether topic is a derived dead-letter topic.
func IsDeadLetterTopic(topic string) bool {
	return strings.HasSuffix(topic, deadLetterSuffix)
}

func (t *Topics) DeadLetterTopic(source string) string { return DeadLetterTopic(source) }
