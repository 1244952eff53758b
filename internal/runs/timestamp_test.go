package runs

import (
	"testing"
	"time"
)

// Stored timestamps are compared as strings in SQL, so their format must
// order lexicographically the same way the instants order chronologically,
// including at sub-second precision where RFC3339Nano trims trailing zeros.
func TestTimestampStringOrderIsChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 120_000_000, time.UTC)
	earlier := formatTimestamp(base)
	later := formatTimestamp(base.Add(3456 * time.Microsecond))

	if len(earlier) != len(later) {
		t.Fatalf("expected fixed-width timestamps, got %q and %q", earlier, later)
	}
	if earlier >= later {
		t.Fatalf("expected %q < %q", earlier, later)
	}

	parsed, err := time.Parse(time.RFC3339Nano, earlier)
	if err != nil {
		t.Fatalf("stored timestamp does not parse: %v", err)
	}
	if !parsed.Equal(base) {
		t.Fatalf("round trip changed instant: %v != %v", parsed, base)
	}
}
