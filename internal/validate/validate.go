// Package validate holds the field rules applied to documents before they are
// written. Some rules query other stored documents; all of them are read-only.
package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
)

// Rule names.
const (
	RuleType           = "type"
	RuleFormat         = "format"
	RuleAllowed        = "allowed"
	RuleUniqueElements = "unique_elements"
	RuleDisjoint       = "disjoint"
)

// Input is one field value under validation.
type Input struct {
	Resource string
	Field    string
	// Arg is the rule argument declared in the schema.
	Arg   any
	Value any
	// DocumentID is set when an existing document is being updated.
	DocumentID string
	// Stored is the currently stored value of the field, when re-validating
	// an update that extends it.
	Stored any
}

// Rule checks one input. A failure is an *apperr.ValidationError.
type Rule func(ctx context.Context, finder docstore.Finder, in Input) error

// Registry maps rule names to rules.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry returns a registry holding the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]Rule)}
	r.Register(RuleType, Type)
	r.Register(RuleFormat, Format)
	r.Register(RuleAllowed, Allowed)
	r.Register(RuleUniqueElements, UniqueElements)
	r.Register(RuleDisjoint, DisjointList)
	return r
}

// Register adds or replaces a rule.
func (r *Registry) Register(name string, rule Rule) {
	r.rules[name] = rule
}

// Lookup returns the named rule.
func (r *Registry) Lookup(name string) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// Apply runs the named rule.
func (r *Registry) Apply(ctx context.Context, finder docstore.Finder, name string, in Input) error {
	rule, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("validate: unknown rule %q", name)
	}
	return rule(ctx, finder, in)
}

// Check is a rule application derived from a field declaration.
type Check struct {
	Rule string
	Arg  any
}

// Checks lists the rules declared for a field, cheapest first.
func Checks(f schema.Field) []Check {
	var out []Check
	if f.Type != "" {
		out = append(out, Check{Rule: RuleType, Arg: f.Type})
	}
	if f.Format != "" {
		out = append(out, Check{Rule: RuleFormat, Arg: f.Format})
	}
	if len(f.Allowed) > 0 {
		out = append(out, Check{Rule: RuleAllowed, Arg: f.Allowed})
	}
	if f.UniqueElements {
		out = append(out, Check{Rule: RuleUniqueElements, Arg: true})
	}
	if f.Disjoint {
		out = append(out, Check{Rule: RuleDisjoint, Arg: true})
	}
	return out
}

// FieldNames returns the declared field names of res in sorted order.
func FieldNames(res *schema.Resource) []string {
	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Document applies the declared rules to every field present in doc. Null
// values are not checked. documentID is empty for new documents.
func (r *Registry) Document(ctx context.Context, finder docstore.Finder, res *schema.Resource, doc models.Document, documentID string) error {
	for _, name := range FieldNames(res) {
		value, ok := doc[name]
		if !ok || value == nil {
			continue
		}
		for _, check := range Checks(res.Fields[name]) {
			in := Input{
				Resource:   res.Name,
				Field:      name,
				Arg:        check.Arg,
				Value:      value,
				DocumentID: documentID,
			}
			if err := r.Apply(ctx, finder, check.Rule, in); err != nil {
				return err
			}
		}
	}
	return nil
}
