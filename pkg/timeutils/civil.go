package timeutils

import (
	"fmt"
	"time"
)

// CivilLayout is the wire/storage format for civil dates.
const CivilLayout = "2006-01-02"

// CivilDate returns the calendar date of t in the given location, formatted
// as "YYYY-MM-DD". Civil dates compare correctly as plain strings.
func CivilDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(CivilLayout)
}

// AddDays shifts a civil date by the given number of days (negative to go back).
func AddDays(date string, days int) (string, error) {
	t, err := time.Parse(CivilLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid civil date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(CivilLayout), nil
}

// ValidCivilDate reports whether date is a well-formed "YYYY-MM-DD" string.
func ValidCivilDate(date string) bool {
	_, err := time.Parse(CivilLayout, date)
	return err == nil
}
