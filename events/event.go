package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is stamped on events built without an explicit version.
const DefaultVersion = "1.0"

// Metadata is the envelope every event carries next to its payload.
type Metadata struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  string    `json:"event_version"`
	EventTime     time.Time `json:"event_time"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id"`
	Category      Category  `json:"category"`
}

// Event is the unit published on and consumed from the bus. The payload shape
// is determined by Metadata.EventType.
type Event struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type Option func(*Event)

func WithEventID(id string) Option {
	return func(e *Event) { e.Metadata.EventID = id }
}

func WithCorrelationID(id string) Option {
	return func(e *Event) { e.Metadata.CorrelationID = id }
}

func WithVersion(version string) Option {
	return func(e *Event) { e.Metadata.EventVersion = version }
}

func WithProducer(producer string) Option {
	return func(e *Event) { e.Metadata.Producer = producer }
}

func WithEventTime(t time.Time) Option {
	return func(e *Event) { e.Metadata.EventTime = t.UTC() }
}

// CausedBy copies the correlation id of parent so both events share one trace.
func CausedBy(parent *Event) Option {
	return func(e *Event) {
		if parent != nil {
			e.Metadata.CorrelationID = parent.Metadata.CorrelationID
		}
	}
}

// New builds an event with a fresh id, correlation id and timestamp. The payload
// is encoded with the event codec unless it is already raw JSON.
func New(eventType string, category Category, payload any, opts ...Option) (*Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	evt := &Event{
		Metadata: Metadata{
			EventType:    eventType,
			EventVersion: DefaultVersion,
			Category:     category,
		},
		Payload: raw,
	}

	for _, opt := range opts {
		opt(evt)
	}

	evt.FillDefaults("")
	return evt, nil
}

// FillDefaults stamps id, correlation id, time, version and producer when they
// are missing. Fields already set are left untouched.
func (e *Event) FillDefaults(producer string) {
	if e.Metadata.EventID == "" {
		e.Metadata.EventID = uuid.NewString()
	}
	if e.Metadata.CorrelationID == "" {
		e.Metadata.CorrelationID = uuid.NewString()
	}
	if e.Metadata.EventTime.IsZero() {
		e.Metadata.EventTime = time.Now().UTC()
	}
	if e.Metadata.EventVersion == "" {
		e.Metadata.EventVersion = DefaultVersion
	}
	if e.Metadata.Producer == "" {
		e.Metadata.Producer = producer
	}
}

// Key is the partition key of the event.
func (e *Event) Key() []byte { return []byte(e.Metadata.EventID) }

// Type is shorthand for Metadata.EventType.
func (e *Event) Type() string { return e.Metadata.EventType }
