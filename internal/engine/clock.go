package engine

import "time"

// Clock supplies wall time for audit timestamps. Ledger ordering never
// depends on it; records are ordered by their ledger seq.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
