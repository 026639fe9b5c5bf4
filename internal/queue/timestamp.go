// Copyright 2025 James Ross
package queue

import "time"

// timeLayout matches the wire format YYYY-MM-DDTHH:MM:SSZ, UTC, second
// precision. Sub-second precision is stripped so repeated formatting of the
// same instant is stable.
const timeLayout = "2006-01-02T15:04:05Z"

// utcNow returns the current instant truncated to second precision, matching
// the precision of FormatTime/ParseTime round trips.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FormatTime renders t as the protocol's UTC timestamp string.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// ParseTime parses the protocol's UTC timestamp string.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
