package types

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the wire format for all persisted timestamps:
// ISO-8601 in UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time with a stable JSON encoding so that
// save(load(x)) round-trips byte-for-byte.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp in UTC.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// NewTimestamp converts a time.Time to a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// MarshalJSON encodes the timestamp using TimeLayout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(TimeLayout) + `"`), nil
}

// UnmarshalJSON decodes TimeLayout, falling back to RFC 3339 for
// files written by other tooling.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("cannot parse timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Equal reports whether two timestamps refer to the same instant
// at millisecond precision.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.UTC().Truncate(time.Millisecond).Equal(other.UTC().Truncate(time.Millisecond))
}
