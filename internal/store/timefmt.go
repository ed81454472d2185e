package store

import "time"

// tsLayout is the ISO-8601 UTC representation spec §3 mandates for every
// stored ts column: RFC3339 with a fixed nine-digit fraction and a fixed
// UTC zone gives lexicographic ordering that matches chronological
// ordering, which the "(conv, ts DESC)" secondary index relies on.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// mustParseTS parses a column written by formatTS. A parse failure here
// means the store's own data is corrupt, which is a bug in this package,
// not a caller error — panicking surfaces it immediately during tests
// rather than silently returning the zero time.
func mustParseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		panic("store: corrupt timestamp column: " + err.Error())
	}
	return t
}
