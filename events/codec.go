package events

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Marshal encodes the whole event (metadata and payload) as the wire body.
func Marshal(e *Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("events: marshal nil event")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Metadata.EventType, err)
	}
	return b, nil
}

// Unmarshal decodes a wire body into an event.
func Unmarshal(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("events: unmarshal: %w", err)
	}
	if evt.Metadata.EventType == "" {
		return nil, fmt.Errorf("events: unmarshal: missing metadata.event_type")
	}
	return &evt, nil
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("events: %s has no payload", e.Metadata.EventType)
	}
	return json.Unmarshal(e.Payload, v)
}

// PayloadTree decodes the payload into generic maps, slices and json.Number
// values, the form the schema validator walks.
func (e *Event) PayloadTree() (any, error) {
	var tree any
	if len(bytes.TrimSpace(e.Payload)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("events: decode payload: %w", err)
	}
	return tree, nil
}

func encodePayload(payload any) (stdjson.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return stdjson.RawMessage("null"), nil
	case stdjson.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("events: payload is not valid json")
		}
		return stdjson.RawMessage(p), nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: encode payload: %w", err)
	}
	return b, nil
}
