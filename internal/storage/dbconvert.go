package storage

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SQLite keeps instants as INTEGER unix nanoseconds so that range filters and
// ordering work on plain integer comparison.

// toUnixNano converts a time to its column form. The zero time maps to 0.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

// fromUnixNano converts a column value back to a UTC time. 0 maps to the zero time.
func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// rangeBounds converts optional [from, to) bounds to integer column bounds.
// Open bounds become the extremes of the int64 range.
func rangeBounds(from, to time.Time) (int64, int64) {
	lo := int64(-1 << 63)
	hi := int64(1<<63 - 1)
	if !from.IsZero() {
		lo = toUnixNano(from)
	}
	if !to.IsZero() {
		hi = toUnixNano(to)
	}
	return lo, hi
}

// truncateRunes cuts s to at most limit characters without splitting one.
// Invalid UTF-8 sequences are replaced first, since Postgres rejects them.
func truncateRunes(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
