package domain

import "sort"

// SortByUrgency orders the queue for display: urgent orders first, most
// overdue/soonest-due leading; non-urgent orders follow by due time. The sort
// is stable so that equal-key orders keep their prior relative position:
// cards must not trade places between refreshes without a reason.
func SortByUrgency(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Urgent != b.Urgent {
			return a.Urgent
		}
		if a.Urgent {
			return a.TimeUntilDue < b.TimeUntilDue
		}
		return a.DueAt.Before(b.DueAt)
	})
}
