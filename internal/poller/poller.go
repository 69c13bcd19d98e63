package poller

import (
	"context"
	"errors"
	"time"

	"kitchen-display/internal/api"
	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/domain"
	"kitchen-display/internal/hours"
)

// Adaptive fetch cadence: fast right after a new order lands, normal while
// orders are flowing, slow once the kitchen has been quiet for a minute.
const (
	IntervalFast   = 5 * time.Second
	IntervalNormal = 8 * time.Second
	IntervalSlow   = 15 * time.Second
	QuietAfter     = 60 * time.Second
	ClosedRecheck  = 60 * time.Second
)

// OrdersFetcher is the slice of the API client the poller needs.
type OrdersFetcher interface {
	FetchOrders(ctx context.Context, token string) ([]domain.RawOrder, error)
}

// TokenSource is the slice of the session manager the poller needs.
type TokenSource interface {
	Token() (string, bool)
	ForceUnpair(reason string)
}

// Poller runs the fetch loop. Exactly one fetch is in flight at a time: the
// next cycle is scheduled only after the previous one has settled.
type Poller struct {
	api          OrdersFetcher
	session      TokenSource
	gate         hours.Gate
	restaurantID string

	// OnOrders receives every successful fetch: the raw set plus the ids that
	// were not present in the previous cycle. OnReconnecting fires on every
	// transport-health transition.
	OnOrders       func(raw []domain.RawOrder, newIDs []string)
	OnReconnecting func(down bool)

	interval     time.Duration
	lastNewOrder time.Time
	prev         map[string]struct{}
	baselined    bool
	reconnecting bool

	now func() time.Time
	log *logger.Logger
}

func New(fetcher OrdersFetcher, session TokenSource, gate hours.Gate, restaurantID string) *Poller {
	if gate == nil {
		gate = hours.AlwaysOpen{}
	}
	return &Poller{
		api:          fetcher,
		session:      session,
		gate:         gate,
		restaurantID: restaurantID,
		interval:     IntervalNormal,
		prev:         map[string]struct{}{},
		now:          time.Now,
		log:          logger.New("poller"),
	}
}

// Interval reports the current fetch cadence.
func (p *Poller) Interval() time.Duration { return p.interval }

// Reconnecting reports whether the last fetch failed at the transport level.
func (p *Poller) Reconnecting() bool { return p.reconnecting }

// Run loops until the context is cancelled or the session dies. It must only
// run while authenticated; the orchestrator cancels the context on unpair.
func (p *Poller) Run(ctx context.Context) {
	for {
		delay, halt := p.cycle(ctx)
		if halt {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// cycle performs one fetch-and-diff pass and returns the delay before the
// next one. halt means polling must stop until re-authentication.
func (p *Poller) cycle(ctx context.Context) (delay time.Duration, halt bool) {
	now := p.now()

	// Closed store: skip the fetch entirely and park on a slow re-check so the
	// display comes back by itself at open time.
	if !p.gate.IsStoreOpen(p.restaurantID, now) {
		p.log.Debug("store_closed", nil)
		return ClosedRecheck, false
	}

	token, ok := p.session.Token()
	if !ok {
		// Lazy expiry fired; the session manager has already torn down.
		return 0, true
	}

	raw, err := p.api.FetchOrders(ctx, token)
	if err != nil {
		if errors.Is(err, api.ErrAuth) {
			p.log.Error("poll_auth_rejected", err, nil)
			p.session.ForceUnpair("session rejected by server")
			return 0, true
		}
		// Transient: surface the reconnecting indicator and keep going.
		p.log.Error("poll_failed", err, nil)
		p.setReconnecting(true)
		p.interval = IntervalNormal
		return p.interval, false
	}
	p.setReconnecting(false)

	current := map[string]struct{}{}
	for _, r := range raw {
		if r.Status.Active() {
			current[r.OrderID] = struct{}{}
		}
	}

	// Diff only once a baseline exists, otherwise the first load would flag
	// every standing order as new and fire a burst of alerts.
	var newIDs []string
	if p.baselined {
		for id := range current {
			if _, seen := p.prev[id]; !seen {
				newIDs = append(newIDs, id)
			}
		}
	} else {
		p.lastNewOrder = now
	}

	switch {
	case len(newIDs) > 0:
		p.interval = IntervalFast
		p.lastNewOrder = now
		p.log.Info("new_orders", map[string]any{"count": len(newIDs)})
	case now.Sub(p.lastNewOrder) > QuietAfter:
		p.interval = IntervalSlow
	default:
		p.interval = IntervalNormal
	}

	p.prev = current
	p.baselined = true

	if p.OnOrders != nil {
		p.OnOrders(raw, newIDs)
	}
	return p.interval, false
}

func (p *Poller) setReconnecting(down bool) {
	if p.reconnecting == down {
		return
	}
	p.reconnecting = down
	if p.OnReconnecting != nil {
		p.OnReconnecting(down)
	}
}
