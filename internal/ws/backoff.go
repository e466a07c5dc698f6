package ws

import "time"

// Backoff doubles the reconnect delay from Initial up to Max
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the given 1-based reconnect attempt
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
