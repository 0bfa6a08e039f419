// Package ledger builds the change history recorded when tracked fields of an
// entity are updated or replaced.
package ledger

import (
	"time"

	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
)

// Mode selects how absent fields are treated.
type Mode int

const (
	// Update (PATCH) considers only fields present in the payload.
	Update Mode = iota
	// Replace (PUT) treats a tracked field missing from the payload as set to null.
	Replace
)

func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "update"
}

// Result is the changes list to persist. When Set is false the payload must
// not carry a changes field.
type Result struct {
	Changes []any
	New     int
	Set     bool
}

// Build computes the changes list for a write of incoming over original.
// effective is a YYYY-MM-DD date or Fix, as returned by ParseEffectiveDate.
func Build(res *schema.Resource, mode Mode, incoming, original models.Document, effective string) (Result, error) {
	prior := original.Changes()
	clientChanges, _ := incoming[models.FieldChanges].([]any)

	if effective == Fix {
		return Result{
			Changes: concat(nil, prior),
			Set:     original.Has(models.FieldChanges) || incoming.Has(models.FieldChanges),
		}, nil
	}

	endDate, err := AddDays(effective, -1)
	if err != nil {
		return Result{}, err
	}

	var records []any
	for _, field := range res.TrackChanges {
		if mode == Update && !incoming.Has(field) {
			continue
		}
		if models.ValuesEqual(incoming[field], original[field]) {
			continue
		}
		change := models.Change{
			Property: field,
			Value:    original[field],
			EndDate:  endDate,
		}
		if start, ok := nextStart(prior, field); ok {
			change.StartDate = start
		}
		records = append(records, change.Record())
	}

	set := len(records) > 0 || incoming.Has(models.FieldChanges)
	if mode == Replace && original.Has(models.FieldChanges) {
		set = true
	}
	return Result{
		Changes: concat(concat(records, clientChanges), prior),
		New:     len(records),
		Set:     set,
	}, nil
}

// nextStart returns the day after the latest end_date recorded for property.
func nextStart(prior []any, property string) (string, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, raw := range prior {
		ch, ok := models.ChangeFromRecord(raw)
		if !ok || ch.Property != property {
			continue
		}
		end, ok := periodEnd(ch.EndDate)
		if !ok {
			continue
		}
		if !found || end.After(latest) {
			latest, found = end, true
		}
	}
	if !found {
		return "", false
	}
	return latest.AddDate(0, 0, 1).Format(dayLayout), true
}

func concat(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
