// Package hours gates polling on the restaurant's opening hours. The hours
// configuration itself is maintained elsewhere; this package only answers
// "is the store open right now" from a locally cached copy.
package hours

import "time"

// Gate is the collaborator interface the poller consumes.
type Gate interface {
	IsStoreOpen(restaurantID string, now time.Time) bool
}

// AlwaysOpen is the fallback gate for restaurants with no hours configured.
type AlwaysOpen struct{}

func (AlwaysOpen) IsStoreOpen(string, time.Time) bool { return true }

// Span is a single open window within one day, both ends in "15:04" local time.
// Close at or before Open means the span crosses midnight.
type Span struct {
	Open  string
	Close string
}

// Weekly is a Gate backed by a cached per-weekday table.
type Weekly struct {
	Spans map[time.Weekday][]Span
}

func (w *Weekly) IsStoreOpen(_ string, now time.Time) bool {
	if w == nil || len(w.Spans) == 0 {
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	if w.openAt(now.Weekday(), minutes, false) {
		return true
	}
	// A span on the previous day may cross midnight into today.
	prev := (now.Weekday() + 6) % 7
	return w.openAt(prev, minutes+24*60, true)
}

func (w *Weekly) openAt(day time.Weekday, minutes int, spillover bool) bool {
	for _, s := range w.Spans[day] {
		open, ok1 := parseClock(s.Open)
		clos, ok2 := parseClock(s.Close)
		if !ok1 || !ok2 {
			continue
		}
		if clos <= open {
			clos += 24 * 60
		} else if spillover {
			continue
		}
		if minutes >= open && minutes < clos {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
