// Package schema holds the payload schemas of the bus event types and
// validates event payloads against them.
package schema

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"
)

// Type is a JSON value type a schema can accept.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeNull    Type = "null"
	TypeAny     Type = "any"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeNull, TypeAny:
		return true
	}
	return false
}

// TypeSet is a union of types, written as a scalar ("string") or a list
// (["string", "null"]).
type TypeSet []Type

func (ts TypeSet) Has(t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// Any reports whether the set accepts every value.
func (ts TypeSet) Any() bool { return len(ts) == 0 || ts.Has(TypeAny) }

func (ts TypeSet) Nullable() bool { return ts.Any() || ts.Has(TypeNull) }

func (ts TypeSet) String() string {
	if ts.Any() {
		return string(TypeAny)
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

func (ts *TypeSet) set(names []string) error {
	out := make(TypeSet, 0, len(names))
	for _, n := range names {
		t := Type(strings.ToLower(strings.TrimSpace(n)))
		if !t.valid() {
			return fmt.Errorf("schema: unknown type %q", n)
		}
		out = append(out, t)
	}
	*ts = out
	return nil
}

func (ts *TypeSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return ts.set([]string{node.Value})
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		return ts.set(names)
	}
	return fmt.Errorf("schema: line %d: type must be a string or a list", node.Line)
}

func (ts *TypeSet) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		return ts.set([]string{one})
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("schema: type must be a string or a list: %w", err)
	}
	return ts.set(many)
}

// Schema is the subset of JSON Schema the bus validates with.
type Schema struct {
	Type        TypeSet            `yaml:"type" json:"type"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string             `yaml:"version,omitempty" json:"version,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Enum        []string           `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ParseJSON parses a JSON Schema document.
func ParseJSON(doc []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("schema: parse json: %w", err)
	}
	return &s, nil
}
