package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
)

// Lookuper resolves the schema of an event type.
type Lookuper interface {
	Lookup(eventType string) (*Schema, bool)
}

// ValidationError names the first payload field that does not match its
// schema.
type ValidationError struct {
	EventType string
	Path      string
	Expected  string
	Actual    string
}

func (e *ValidationError) Error() string {
	path := e.Path
	if path == "" {
		path = "payload"
	}
	return fmt.Sprintf("schema: %s: field %s: expected %s, got %s", e.EventType, path, e.Expected, e.Actual)
}

// Validator checks event payloads against the catalog.
type Validator struct {
	schemas Lookuper
	enabled bool
	logger  *logrus.Entry
}

type ValidatorOption func(*Validator)

// WithValidation toggles validation globally. A disabled validator accepts
// every event.
func WithValidation(enabled bool) ValidatorOption {
	return func(v *Validator) { v.enabled = enabled }
}

func WithValidatorLogger(logger *logrus.Entry) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

func NewValidator(schemas Lookuper, opts ...ValidatorOption) *Validator {
	v := &Validator{
		schemas: schemas,
		enabled: true,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Validator) Enabled() bool { return v != nil && v.enabled }

// Validate checks the payload of evt. Event types without a schema pass with a
// warning. Mismatches are returned as a *ValidationError of the validation kind.
func (v *Validator) Validate(evt *events.Event) error {
	if !v.Enabled() {
		return nil
	}
	if evt == nil {
		return errors.WrapValidation("schema.validate", errors.New("nil event"))
	}

	eventType := evt.Metadata.EventType
	sc, ok := v.schemas.Lookup(eventType)
	if !ok {
		v.logger.WithField("event_type", eventType).Warn("no schema registered for event type; skipping validation")
		return nil
	}

	tree, err := evt.PayloadTree()
	if err != nil {
		return errors.WrapValidation("schema.validate", &ValidationError{
			EventType: eventType,
			Expected:  sc.Type.String(),
			Actual:    "malformed json",
		})
	}

	if verr := check(tree, sc, ""); verr != nil {
		verr.EventType = eventType
		return errors.WrapValidation("schema.validate", verr)
	}
	return nil
}

func check(value any, s *Schema, path string) *ValidationError {
	if s == nil {
		return nil
	}

	if value == nil {
		if s.Type.Nullable() {
			return nil
		}
		return mismatch(path, s, "null")
	}

	if !s.Type.Any() && !matchesAny(value, s.Type) {
		return mismatch(path, s, describe(value))
	}

	switch v := value.(type) {
	case map[string]any:
		return checkObject(v, s, path)
	case []any:
		if s.Items == nil {
			return nil
		}
		for i, item := range v {
			if err := check(item, s.Items, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	case string:
		if len(s.Enum) > 0 && !contains(s.Enum, v) {
			return &ValidationError{Path: path, Expected: fmt.Sprintf("one of %v", s.Enum), Actual: strconv.Quote(v)}
		}
	}
	return nil
}

// checkObject walks required fields in declared order, then the remaining
// declared properties in name order. Undeclared fields are accepted.
func checkObject(obj map[string]any, s *Schema, path string) *ValidationError {
	seen := make(map[string]struct{}, len(s.Required))

	for _, name := range s.Required {
		seen[name] = struct{}{}
		field := join(path, name)

		value, ok := obj[name]
		if !ok {
			expected := "present"
			if p := s.Properties[name]; p != nil {
				expected = p.Type.String()
			}
			return &ValidationError{Path: field, Expected: expected, Actual: "missing"}
		}
		if err := check(value, s.Properties[name], field); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := obj[name]
		if !ok {
			continue
		}
		if err := check(value, s.Properties[name], join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func matchesAny(value any, types TypeSet) bool {
	for _, t := range types {
		if matches(value, t) {
			return true
		}
	}
	return false
}

func matches(value any, t Type) bool {
	switch t {
	case TypeAny:
		return true
	case TypeNull:
		return value == nil
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeNumber:
		_, ok := value.(json.Number)
		return ok
	case TypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && !math.IsInf(f, 0) && f == math.Trunc(f)
	}
	return false
}

func describe(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return "string " + strconv.Quote(v)
	case bool:
		return "boolean " + strconv.FormatBool(v)
	case json.Number:
		return "number " + v.String()
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func mismatch(path string, s *Schema, actual string) *ValidationError {
	return &ValidationError{Path: path, Expected: s.Type.String(), Actual: actual}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
