package models

import "reflect"

// Kind tags the variant held by an Element.
type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindList
)

// Element is a JSON value normalised for structural comparison. Objects
// compare key by key regardless of order, lists compare position by position.
type Element struct {
	kind   Kind
	scalar any
	object map[string]Element
	list   []Element
}

// ElementOf normalises a decoded JSON value.
func ElementOf(v any) Element {
	switch t := v.(type) {
	case map[string]any:
		obj := make(map[string]Element, len(t))
		for k, vv := range t {
			obj[k] = ElementOf(vv)
		}
		return Element{kind: KindObject, object: obj}
	case Document:
		return ElementOf(map[string]any(t))
	case []any:
		l := make([]Element, len(t))
		for i, vv := range t {
			l[i] = ElementOf(vv)
		}
		return Element{kind: KindList, list: l}
	case int:
		return Element{kind: KindScalar, scalar: float64(t)}
	case int64:
		return Element{kind: KindScalar, scalar: float64(t)}
	default:
		return Element{kind: KindScalar, scalar: v}
	}
}

// Kind returns the variant tag.
func (e Element) Kind() Kind { return e.kind }

// Scalar returns the scalar value; it is nil for objects and lists.
func (e Element) Scalar() any { return e.scalar }

// Fields returns the object members, nil for other kinds.
func (e Element) Fields() map[string]Element { return e.object }

// Equal reports structural equality.
func (e Element) Equal(o Element) bool {
	if e.kind != o.kind {
		return false
	}
	switch e.kind {
	case KindObject:
		if len(e.object) != len(o.object) {
			return false
		}
		for k, v := range e.object {
			ov, ok := o.object[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	case KindList:
		if len(e.list) != len(o.list) {
			return false
		}
		for i := range e.list {
			if !e.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(e.scalar, o.scalar)
	}
}

// ValuesEqual compares two decoded JSON values structurally.
func ValuesEqual(a, b any) bool {
	return ElementOf(a).Equal(ElementOf(b))
}
