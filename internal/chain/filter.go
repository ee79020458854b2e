// Package chain selects option expirations inside a configured
// days-to-expiration window and fans out the per-expiration chain fetches.
package chain

import "time"

const secondsPerDay = 86400.0

// Window bounds days-to-expiration, both ends inclusive. Call sites differ
// on the bounds (20-60 on the public path, 30-90 on the broker path), so
// the window is always caller-supplied configuration.
type Window struct {
	MinDTE int
	MaxDTE int
}

// FilterDTE returns the expirations whose DTE falls inside w,
// preserving input order. DTE uses real-valued division so boundary days
// stay inclusive.
func FilterDTE(expirations []int64, now time.Time, w Window) []int64 {
	nowSec := now.Unix()
	out := make([]int64, 0, len(expirations))
	for _, e := range expirations {
		dte := float64(e-nowSec) / secondsPerDay
		if dte >= float64(w.MinDTE) && dte <= float64(w.MaxDTE) {
			out = append(out, e)
		}
	}
	return out
}
