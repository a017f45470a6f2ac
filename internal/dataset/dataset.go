package dataset

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Year identifies one yearly BRFSS survey table.
type Year int

// Row is one record of a survey table keyed by column name.
type Row = map[string]any

var knownYears = []Year{2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023}

// Reference documents were published for every survey year except the latest.
var referenceYears = []Year{2016, 2017, 2018, 2019, 2020, 2021, 2022}

// KnownYears returns the years a survey table may be loaded for, ascending.
func KnownYears() []Year {
	return slices.Clone(knownYears)
}

// ReferenceYears returns the years that may have a reference document on the
// remote store, ascending.
func ReferenceYears() []Year {
	return slices.Clone(referenceYears)
}

// IsKnown reports whether y is a loadable survey year.
func IsKnown(y Year) bool {
	return slices.Contains(knownYears, y)
}

// HasReference reports whether y may have a reference document.
func HasReference(y Year) bool {
	return slices.Contains(referenceYears, y)
}

// TableName returns the analytical table name for the year, e.g. brfss_2019.
func (y Year) TableName() string {
	return fmt.Sprintf("brfss_%d", int(y))
}

// ReferenceName returns the remote document name for the year, e.g. 2019-info.
func (y Year) ReferenceName() string {
	return fmt.Sprintf("%d-info", int(y))
}

func (y Year) String() string {
	return strconv.Itoa(int(y))
}

// ParseYear parses a decimal year and checks it against KnownYears.
func ParseYear(s string) (Year, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid year %q: %w", s, err)
	}
	y := Year(n)
	if !IsKnown(y) {
		return 0, fmt.Errorf("unknown survey year %d (known: %s)", n, Join(knownYears, ", "))
	}
	return y, nil
}

// ParseYears parses a comma-separated year list such as "2018,2019".
// Empty input yields nil.
func ParseYears(s string) ([]Year, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var years []Year
	for _, part := range strings.Split(s, ",") {
		y, err := ParseYear(part)
		if err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, nil
}

// SortYears returns a sorted, de-duplicated copy of years.
func SortYears(years []Year) []Year {
	out := slices.Clone(years)
	slices.Sort(out)
	return slices.Compact(out)
}

// TableFromName is the inverse of Year.TableName. ok is false for names that
// are not survey tables of a known year.
func TableFromName(name string) (Year, bool) {
	rest, found := strings.CutPrefix(strings.ToLower(name), "brfss_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || !IsKnown(Year(n)) {
		return 0, false
	}
	return Year(n), true
}

// Join formats years with sep, in the given order.
func Join(years []Year, sep string) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = y.String()
	}
	return strings.Join(parts, sep)
}
