// Package schema holds the typed resource metadata consumed by the API core:
// tracked-change fields, mirrored-file fields, field rules and relations.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

//go:embed parliament.yaml
var defaultSchemaYAML []byte

// Field types understood by the rules.
const (
	TypeString = "string"
	TypeList   = "list"
)

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Relation links a local field to a field of documents in another resource.
// A reverse relation uses Field "id" and an FKey on the target that
// references this document.
type Relation struct {
	Field    string `yaml:"field"`
	Resource string `yaml:"resource"`
	FKey     string `yaml:"fkey"`
	Many     bool   `yaml:"many,omitempty"`
}

// Reverse reports whether the relation is looked up by this document's id.
func (r Relation) Reverse() bool { return r.Field == "id" }

// Validate validates the relation declaration.
func (r *Relation) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Field, validation.Required, validation.Match(nameRe)),
		validation.Field(&r.Resource, validation.Required, validation.Match(nameRe)),
		validation.Field(&r.FKey, validation.Required, validation.Match(nameRe)),
	)
}

// Field carries the validation rules declared for a top-level field.
type Field struct {
	Type           string   `yaml:"type"`
	Disjoint       bool     `yaml:"disjoint,omitempty"`
	UniqueElements bool     `yaml:"unique_elements,omitempty"`
	Format         string   `yaml:"format,omitempty"`
	Allowed        []string `yaml:"allowed,omitempty"`
}

// Validate validates the field declaration.
func (f *Field) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Type, validation.In(TypeString, TypeList)),
		validation.Field(&f.Format, validation.In("partialdate", "email", "url")),
	)
}

// Resource is the metadata of one resource (collection).
type Resource struct {
	Name         string              `yaml:"-"`
	TrackChanges []string            `yaml:"track_changes,omitempty"`
	SaveFiles    []string            `yaml:"save_files,omitempty"`
	Fields       map[string]Field    `yaml:"fields"`
	Relations    map[string]Relation `yaml:"relations,omitempty"`
}

// Relation returns the named relation.
func (r *Resource) Relation(name string) (Relation, bool) {
	rel, ok := r.Relations[name]
	return rel, ok
}

// Registry maps resource names to their metadata. It is immutable once built.
type Registry struct {
	resources map[string]*Resource
}

type registryFile struct {
	Resources map[string]*Resource `yaml:"resources"`
}

// Parse builds a registry from YAML and checks that every declaration is
// well formed and every relation targets a declared resource.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if len(file.Resources) == 0 {
		return nil, fmt.Errorf("schema: no resources declared")
	}

	reg := &Registry{resources: make(map[string]*Resource, len(file.Resources))}
	for name, res := range file.Resources {
		if !nameRe.MatchString(name) {
			return nil, fmt.Errorf("schema: invalid resource name %q", name)
		}
		if res == nil {
			res = &Resource{}
		}
		res.Name = name
		reg.resources[name] = res
	}

	for name, res := range reg.resources {
		for _, f := range append(append([]string{}, res.TrackChanges...), res.SaveFiles...) {
			if !nameRe.MatchString(f) {
				return nil, fmt.Errorf("schema: %s: invalid field name %q", name, f)
			}
		}
		for fname, f := range res.Fields {
			if !nameRe.MatchString(fname) {
				return nil, fmt.Errorf("schema: %s: invalid field name %q", name, fname)
			}
			if err := f.Validate(); err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", name, fname, err)
			}
		}
		for rname, rel := range res.Relations {
			if !nameRe.MatchString(rname) {
				return nil, fmt.Errorf("schema: %s: invalid relation name %q", name, rname)
			}
			if err := rel.Validate(); err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", name, rname, err)
			}
			if _, ok := reg.resources[rel.Resource]; !ok {
				return nil, fmt.Errorf("schema: %s.%s: unknown resource %q", name, rname, rel.Resource)
			}
		}
	}
	return reg, nil
}

// Load reads and parses a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in parliament registry.
func Default() *Registry {
	reg, err := Parse(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("schema: built-in registry: %v", err))
	}
	return reg
}

// Resource returns the metadata of the named resource.
func (r *Registry) Resource(name string) (*Resource, bool) {
	res, ok := r.resources[name]
	return res, ok
}

// Names returns the declared resource names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.resources))
	for name := range r.resources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
