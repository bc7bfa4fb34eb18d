package schema

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/freightopt/eventbus/functional"
	"github.com/sirupsen/logrus"
)

// State is the load state of a Catalog.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Catalog is the flat event type to schema map. It is built once by Load and
// never written again, so lookups need no locking.
type Catalog struct {
	sources []Source
	logger  *logrus.Entry

	mu      sync.Mutex
	state   atomic.Int32
	schemas map[string]*Schema
}

type CatalogOption func(*Catalog)

// WithSources appends sources. Later sources override earlier ones for the
// same event type.
func WithSources(sources ...Source) CatalogOption {
	return func(c *Catalog) { c.sources = append(c.sources, sources...) }
}

func WithCatalogLogger(logger *logrus.Entry) CatalogOption {
	return func(c *Catalog) { c.logger = logger }
}

// NewCatalog returns an unloaded catalog over the builtin definitions followed
// by the given sources.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		sources: []Source{Builtin()},
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewCatalogFrom returns a catalog over exactly the given sources.
func NewCatalogFrom(sources []Source, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		sources: append([]Source(nil), sources...),
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Catalog) State() State { return State(c.state.Load()) }

// Load merges every source into the catalog. Loading a ready catalog is a
// no-op. A failed load leaves the catalog unloaded.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateReady {
		return nil
	}
	c.state.Store(int32(StateLoading))

	merged := map[string]*Schema{}
	for _, src := range c.sources {
		schemas, err := src.Schemas(ctx)
		if err != nil {
			c.state.Store(int32(StateUnloaded))
			return fmt.Errorf("schema: load %s: %w", src.Name(), err)
		}

		for eventType, sc := range schemas {
			if _, ok := merged[eventType]; ok {
				c.logger.WithFields(logrus.Fields{
					"event_type": eventType,
					"source":     src.Name(),
				}).Debug("schema overridden")
			}
			merged[eventType] = sc
		}
	}

	c.schemas = merged
	c.state.Store(int32(StateReady))

	c.logger.WithField("event_types", len(merged)).Info("schema catalog loaded")
	return nil
}

// Lookup returns the schema of an event type. An unloaded catalog has none.
func (c *Catalog) Lookup(eventType string) (*Schema, bool) {
	if c.State() != StateReady {
		return nil, false
	}
	s, ok := c.schemas[eventType]
	return s, ok
}

// EventTypes returns the cataloged event types in sorted order.
func (c *Catalog) EventTypes() []string {
	if c.State() != StateReady {
		return nil
	}
	return functional.SortedKeys(c.schemas)
}
