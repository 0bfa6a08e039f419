package ledger

import (
	"fmt"
	"regexp"
	"time"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
)

// Fix is the effective date sentinel that records no history.
const Fix = "fix"

const dayLayout = "2006-01-02"

var partialDateRe = regexp.MustCompile(`^[0-9]{4}(-[0-9]{2}){0,2}$`)

// ParseEffectiveDate normalises the effective date of a write. An empty value
// means today (UTC); Fix passes through; anything else must be YYYY-MM-DD.
func ParseEffectiveDate(raw string, now time.Time) (string, error) {
	switch raw {
	case "":
		return now.UTC().Format(dayLayout), nil
	case Fix:
		return Fix, nil
	}
	if _, err := time.Parse(dayLayout, raw); err != nil {
		return "", apperr.BadRequest("effective_date %q is not a YYYY-MM-DD date or %q", raw, Fix)
	}
	return raw, nil
}

// AddDays shifts a full date by days.
func AddDays(date string, days int) (string, error) {
	t, err := time.Parse(dayLayout, date)
	if err != nil {
		return "", fmt.Errorf("ledger: parse date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(dayLayout), nil
}

// periodEnd expands a partial date to the last day it covers:
// "2004" becomes 2004-12-31 and "2004-02" becomes 2004-02-29.
func periodEnd(partial string) (time.Time, bool) {
	if !partialDateRe.MatchString(partial) {
		return time.Time{}, false
	}
	switch len(partial) {
	case 4:
		t, err := time.Parse("2006", partial)
		if err != nil {
			return time.Time{}, false
		}
		return t.AddDate(1, 0, -1), true
	case 7:
		t, err := time.Parse("2006-01", partial)
		if err != nil {
			return time.Time{}, false
		}
		return t.AddDate(0, 1, -1), true
	default:
		t, err := time.Parse(dayLayout, partial)
		return t, err == nil
	}
}
