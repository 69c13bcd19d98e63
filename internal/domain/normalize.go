package domain

import (
	"fmt"
	"time"
)

// Normalize converts a wire order into the in-memory form and computes the
// derived timing fields as of now. Orders that do not belong on the kitchen
// queue (needs_callback, terminal, unknown status) return ok=false.
func Normalize(raw RawOrder, now time.Time) (Order, bool) {
	if raw.OrderID == "" || !raw.Status.Active() {
		return Order{}, false
	}

	o := Order{
		ID:           raw.OrderID,
		Number:       displayNumber(raw),
		Status:       raw.Status,
		Type:         raw.OrderType,
		CreatedAt:    time.UnixMilli(raw.CreatedAtMs),
		EtaText:      raw.EtaText,
		Items:        raw.Items,
		Instructions: raw.Instructions,
		Address:      raw.Address,
	}
	if raw.AcceptedAtMs > 0 {
		o.AcceptedAt = time.UnixMilli(raw.AcceptedAtMs)
	}

	// Server estimate wins; otherwise fall back to the per-type default table.
	switch {
	case raw.EtaMaxMinutes != nil:
		o.EtaMax = *raw.EtaMaxMinutes
		if raw.EtaMinMinutes != nil {
			o.EtaMin = *raw.EtaMinMinutes
		} else {
			o.EtaMin = o.EtaMax
		}
	default:
		def, ok := defaultEtaMinutes[raw.OrderType]
		if !ok {
			def = defaultEtaMinutes[TypePickup]
		}
		o.EtaMin, o.EtaMax = def, def
		o.EtaDefault = true
	}
	if o.EtaText == "" {
		if o.EtaMin < o.EtaMax {
			o.EtaText = fmt.Sprintf("%d-%d min", o.EtaMin, o.EtaMax)
		} else {
			o.EtaText = fmt.Sprintf("%d min", o.EtaMax)
		}
	}

	o.Refresh(now)
	return o, true
}

// Refresh recomputes the derived timing fields in place. It is the only
// mutation the 30s urgency tick performs; it never changes sort keys the
// renderer has already committed to a position.
func (o *Order) Refresh(now time.Time) {
	o.DueAt = o.CreatedAt.Add(time.Duration(o.EtaMax) * time.Minute)
	o.TimeUntilDue = o.DueAt.Sub(now)
	o.Urgent = o.TimeUntilDue <= UrgencyWindow
	o.Overdue = o.TimeUntilDue < 0
}
