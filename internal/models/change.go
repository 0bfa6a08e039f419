package models

// Change records a former value of a tracked property and the interval in
// which it was valid. Dates are partial dates (YYYY, YYYY-MM or YYYY-MM-DD).
type Change struct {
	Property  string `json:"property"`
	Value     any    `json:"value"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Record converts the change to the generic form stored inside documents.
func (c Change) Record() map[string]any {
	rec := map[string]any{
		"property": c.Property,
		"value":    c.Value,
	}
	if c.StartDate != "" {
		rec["start_date"] = c.StartDate
	}
	if c.EndDate != "" {
		rec["end_date"] = c.EndDate
	}
	return rec
}

// ChangeFromRecord reads a stored change entry. Entries supplied by clients
// may lack any of the fields; ok is false when the entry is not an object.
func ChangeFromRecord(v any) (Change, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Change{}, false
	}
	c := Change{Value: m["value"]}
	c.Property, _ = m["property"].(string)
	c.StartDate, _ = m["start_date"].(string)
	c.EndDate, _ = m["end_date"].(string)
	return c, true
}
