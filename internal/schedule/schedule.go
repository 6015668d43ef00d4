package schedule

import (
	"time"
)

// NextWindow returns the first whole hour at or after now whose hour of day is
// one of preferred and not one of quietHours. With no preferred hours any
// non-quiet hour qualifies.
func NextWindow(now time.Time, preferred, quietHours []int) time.Time {
	contains := func(hs []int, h int) bool {
		for _, x := range hs {
			if x == h {
				return true
			}
		}
		return false
	}
	start := now.Truncate(time.Hour)
	if start.Before(now) {
		start = start.Add(time.Hour)
	}
	for i := 0; i < 48; i++ { // search up to 2 days ahead
		cand := start.Add(time.Duration(i) * time.Hour)
		h := cand.Hour()
		if contains(quietHours, h) {
			continue
		}
		if len(preferred) == 0 || contains(preferred, h) {
			return cand
		}
	}
	return now.Add(15 * time.Minute)
}
