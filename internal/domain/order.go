package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusNew           Status = "new"
	StatusPaid          Status = "paid"
	StatusPreparing     Status = "preparing"
	StatusReady         Status = "ready"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusNeedsCallback Status = "needs_callback"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Active reports whether an order with this status belongs on the kitchen queue.
// needs_callback orders are placeholders awaiting address confirmation and are
// excluded entirely.
func (s Status) Active() bool {
	return !s.Terminal() && s != StatusNeedsCallback && s != ""
}

type OrderType string

const (
	TypePickup   OrderType = "pickup"
	TypeDelivery OrderType = "delivery"
	TypeDineIn   OrderType = "dine-in"
)

type Item struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	Price     float64  `json:"price"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// RawOrder is the wire shape returned by GET /admin/orders.
// ETA fields are pointers: the server omits them for orders it has no
// estimate for, and zero is a meaningful value we must not invent.
type RawOrder struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	Status        Status    `json:"status"`
	OrderType     OrderType `json:"orderType"`
	CreatedAtMs   int64     `json:"createdAt"`
	EtaMinMinutes *int      `json:"etaMinMinutes,omitempty"`
	EtaMaxMinutes *int      `json:"etaMaxMinutes,omitempty"`
	EtaText       string    `json:"etaText,omitempty"`
	AcceptedAtMs  int64     `json:"acceptedAt,omitempty"`
	Items         []Item    `json:"items,omitempty"`
	Instructions  string    `json:"instructions,omitempty"`
	Address       string    `json:"address,omitempty"`
}

// Order is the normalized in-memory form owned by the orchestrator.
type Order struct {
	ID           string
	Number       string
	Status       Status
	Type         OrderType
	CreatedAt    time.Time
	EtaMin       int
	EtaMax       int
	EtaText      string
	EtaDefault   bool
	AcceptedAt   time.Time
	Items        []Item
	Instructions string
	Address      string

	// Derived, recomputed on demand and never persisted.
	DueAt        time.Time
	TimeUntilDue time.Duration
	Urgent       bool
	Overdue      bool
}

// UrgencyWindow is how long before the due time an order turns urgent.
const UrgencyWindow = 5 * time.Minute

// defaultEtaMinutes is applied when the server provides no estimate.
var defaultEtaMinutes = map[OrderType]int{
	TypePickup:   20,
	TypeDelivery: 40,
	TypeDineIn:   15,
}

// displayNumber falls back to the tail of the order id when the server
// assigned no human-facing number.
func displayNumber(raw RawOrder) string {
	if raw.OrderNumber != "" {
		return raw.OrderNumber
	}
	id := raw.OrderID
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return strings.ToUpper(id)
}
