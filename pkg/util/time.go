package util

import (
	"strconv"
	"time"
)

// msThreshold separates unix seconds from unix milliseconds. Second-based
// timestamps stay below it until the year 5138.
const msThreshold = 1e11

// UnixAuto converts a unix timestamp in seconds or milliseconds to time.
func UnixAuto(ts int64) time.Time {
	if ts > msThreshold || ts < -msThreshold {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// ParseTime tries RFC3339Nano and unix seconds or milliseconds. Returns
// (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return UnixAuto(ts), true
	}
	return time.Time{}, false
}
