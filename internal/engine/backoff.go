package engine

import "time"

// Backoff computes the delay before a transiently failed record is due
// again: Base doubled once per earlier retry, capped at Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns min(Base * 2^retryCount, Cap). retryCount is the count
// before the failure being scheduled is recorded.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < retryCount; i++ {
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}
