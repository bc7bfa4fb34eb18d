package schema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/freightopt/eventbus/events"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var builtin embed.FS

// Source supplies event type schemas to a Catalog.
type Source interface {
	Name() string
	Schemas(ctx context.Context) (map[string]*Schema, error)
}

// definitionFile is the layout of one catalog file: the schemas of every event
// type of one category.
type definitionFile struct {
	Category events.Category    `yaml:"category"`
	Events   map[string]*Schema `yaml:"events"`
}

// FSSource reads definition files matching a glob from a file system.
type FSSource struct {
	fsys    fs.FS
	pattern string
}

func NewFSSource(fsys fs.FS, pattern string) *FSSource {
	return &FSSource{fsys: fsys, pattern: pattern}
}

// Builtin is the catalog shipped with the bus, one file per domain category.
func Builtin() *FSSource {
	return NewFSSource(builtin, "catalog/*.yaml")
}

func (s *FSSource) Name() string { return "fs:" + s.pattern }

// Schemas merges every matched file. An event type defined twice fails.
func (s *FSSource) Schemas(ctx context.Context) (map[string]*Schema, error) {
	files, err := fs.Glob(s.fsys, s.pattern)
	if err != nil {
		return nil, fmt.Errorf("schema: glob %s: %w", s.pattern, err)
	}

	out := map[string]*Schema{}
	owner := map[string]string{}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		def, err := s.readFile(name)
		if err != nil {
			return nil, err
		}

		for eventType, sc := range def.Events {
			if prev, ok := owner[eventType]; ok {
				return nil, fmt.Errorf("schema: event type %s defined in both %s and %s", eventType, prev, name)
			}
			if sc == nil {
				return nil, fmt.Errorf("schema: %s: event type %s has an empty schema", name, eventType)
			}
			owner[eventType] = name
			out[eventType] = sc
		}
	}
	return out, nil
}

func (s *FSSource) readFile(name string) (*definitionFile, error) {
	b, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", name, err)
	}

	var def definitionFile
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path.Base(name), err)
	}

	if def.Category != "" && !def.Category.Valid() {
		return nil, fmt.Errorf("schema: %s: unknown category %q", path.Base(name), def.Category)
	}
	return &def, nil
}

// MapSource serves a fixed set of schemas.
type MapSource map[string]*Schema

func (m MapSource) Name() string { return "static" }

func (m MapSource) Schemas(context.Context) (map[string]*Schema, error) { return m, nil }
