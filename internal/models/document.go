// Package models defines the domain types shared by the API core.
package models

import (
	"encoding/json"
	"strings"
)

// Reserved document fields.
const (
	FieldID        = "id"
	FieldChanges   = "changes"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Document is a stored entity as decoded from JSON. Values are the types
// produced by encoding/json: string, float64, bool, nil, []any and map[string]any.
type Document map[string]any

// ID returns the document id or the empty string.
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Has reports whether field is present, even when its value is null.
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// IsInternal reports whether field is hidden from clients. Internal fields
// start with an underscore and are never stored.
func IsInternal(field string) bool {
	return strings.HasPrefix(field, "_")
}

// StripInternal removes internal fields in place.
func (d Document) StripInternal() {
	for k := range d {
		if IsInternal(k) {
			delete(d, k)
		}
	}
}

// Changes returns the stored change list, or nil when absent or not a list.
func (d Document) Changes() []any {
	list, _ := d[FieldChanges].([]any)
	return list
}

// DecodeDocument parses a JSON object.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Document:
		return t.Clone()
	case []any:
		l := make([]any, len(t))
		for i, vv := range t {
			l[i] = cloneValue(vv)
		}
		return l
	default:
		return v
	}
}
