package reconcile

import "time"

// Policy computes the wait before a same-run retry. Delays double per
// attempt starting from Base and are capped at Max. Cross-run retries are
// governed by the ledger, not by this policy.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based). Attempt
// values below one yield no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
