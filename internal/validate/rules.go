package validate

import (
	"context"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
)

var (
	partialDateRe = regexp.MustCompile(`^[0-9]{4}(-[0-9]{2}){0,2}$`)
	emailRe       = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+`)
)

// Type checks the JSON type of the value: "list" or "string".
func Type(_ context.Context, _ docstore.Finder, in Input) error {
	want, _ := in.Arg.(string)
	switch want {
	case schema.TypeList:
		if _, ok := in.Value.([]any); !ok {
			return apperr.Invalid(in.Field, in.Value, "must be a list")
		}
	case schema.TypeString:
		if _, ok := in.Value.(string); !ok {
			return apperr.Invalid(in.Field, in.Value, "must be a string")
		}
	}
	return nil
}

// Format checks string formats: partialdate, email and url. Any string is a
// valid url reference.
func Format(_ context.Context, _ docstore.Finder, in Input) error {
	s, ok := in.Value.(string)
	if !ok {
		return apperr.Invalid(in.Field, in.Value, "must be a string")
	}
	format, _ := in.Arg.(string)
	var rule validation.Rule
	switch format {
	case "partialdate":
		rule = validation.Match(partialDateRe)
	case "email":
		rule = validation.Match(emailRe)
	case "url":
		return nil
	default:
		return apperr.Invalid(in.Field, in.Value, "unknown format %q", format)
	}
	if err := validation.Validate(s, validation.Required, rule); err != nil {
		return apperr.Invalid(in.Field, in.Value, "value %q does not satisfy format %q", s, format)
	}
	return nil
}

// Allowed checks the value against an enumeration.
func Allowed(_ context.Context, _ docstore.Finder, in Input) error {
	allowed, _ := in.Arg.([]string)
	values := make([]any, len(allowed))
	for i, a := range allowed {
		values[i] = a
	}
	if err := validation.Validate(in.Value, validation.Required, validation.In(values...)); err != nil {
		return apperr.Invalid(in.Field, in.Value, "unallowed value %v", in.Value)
	}
	return nil
}

// UniqueElements fails when two elements of the list are structurally equal.
// A stored value, when given, is merged into the candidate list first.
func UniqueElements(_ context.Context, _ docstore.Finder, in Input) error {
	list, ok := in.Value.([]any)
	if !ok {
		return apperr.Invalid(in.Field, in.Value, "unique_elements applies only to list fields")
	}
	if enabled, _ := in.Arg.(bool); !enabled {
		return nil
	}
	candidates := list
	if stored, ok := in.Stored.([]any); ok {
		candidates = append(append([]any{}, list...), stored...)
	}
	elems := make([]models.Element, len(candidates))
	for i, c := range candidates {
		elems[i] = models.ElementOf(c)
		for j := 0; j < i; j++ {
			if elems[j].Equal(elems[i]) {
				return apperr.Invalid(in.Field, in.Value, "elements within the list are not unique: %s", describe(candidates[i]))
			}
		}
	}
	return nil
}

// DisjointList fails when an element of the list already appears in the same
// field of another document of the resource.
func DisjointList(ctx context.Context, finder docstore.Finder, in Input) error {
	list, ok := in.Value.([]any)
	if !ok {
		return apperr.Invalid(in.Field, in.Value, "disjoint applies only to list fields")
	}
	if enabled, _ := in.Arg.(bool); !enabled {
		return nil
	}
	for _, element := range list {
		doc, found, err := finder.FindElement(ctx, in.Resource, in.Field, element, in.DocumentID)
		if err != nil {
			return fmt.Errorf("validate: disjoint %s.%s: %w", in.Resource, in.Field, err)
		}
		if found {
			return apperr.Invalid(in.Field, element,
				"element %s is already present in %s/%s", describe(element), in.Resource, doc.ID())
		}
	}
	return nil
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
