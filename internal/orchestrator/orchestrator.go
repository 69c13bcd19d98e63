// Package orchestrator owns the kitchen display's mutable state and wires the
// session, poller, lifecycle, gesture and alert components together. All
// state lives on one object; consumers get read-only snapshots.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"kitchen-display/internal/alert"
	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/domain"
	"kitchen-display/internal/gesture"
	"kitchen-display/internal/hours"
	"kitchen-display/internal/kv"
	"kitchen-display/internal/lifecycle"
	"kitchen-display/internal/poller"
	"kitchen-display/internal/session"
)

const (
	// GridSize is how many cards the display renders; the rest is a count.
	GridSize = 6
	// UrgencyRefreshEvery is the cadence of the in-place urgency recompute.
	// It deliberately never re-sorts: cards must not teleport on a timer.
	UrgencyRefreshEvery = 30 * time.Second
)

// API is the full Orders API surface the orchestrator's components consume.
type API interface {
	poller.OrdersFetcher
	lifecycle.PatchAPI
}

// Deps carries everything the orchestrator wires together.
type Deps struct {
	API          API
	Session      *session.Manager
	Hours        hours.Gate
	Store        *kv.Store
	Publisher    lifecycle.StatusPublisher
	Player       alert.Player
	RestaurantID string
	DeviceName   string
	SoundDefault bool
	// Confirm asks the operator a yes/no question (cancel order, unpair).
	Confirm func(prompt string) bool
}

type Orchestrator struct {
	mu sync.Mutex

	session   *session.Manager
	poller    *poller.Poller
	Lifecycle *lifecycle.Controller
	Gesture   *gesture.Engine
	Alerts    *alert.Engine

	orders       map[string]domain.Order
	sorted       []string
	expandedID   string
	reconnecting bool
	unpairReason string

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	confirm func(prompt string) bool
	now     func() time.Time
	log     *logger.Logger
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		session: d.Session,
		orders:  map[string]domain.Order{},
		confirm: d.Confirm,
		now:     time.Now,
		log:     logger.New("orchestrator"),
	}

	o.poller = poller.New(d.API, d.Session, d.Hours, d.RestaurantID)
	o.poller.OnOrders = o.ingest
	o.poller.OnReconnecting = o.setReconnecting

	o.Lifecycle = lifecycle.NewController(d.API, d.Session, (*board)(o), d.Publisher, d.DeviceName)
	o.Lifecycle.Confirm = d.Confirm

	o.Gesture = gesture.New(o.Lifecycle.Complete)
	o.Gesture.Completable = func(id string) bool {
		ord, ok := (*board)(o).Get(id)
		return ok && lifecycle.CanComplete(ord.Status)
	}
	o.Alerts = alert.New(d.Player, d.Store, d.RestaurantID, d.SoundDefault)

	d.Session.OnUnpair(o.handleUnpair)
	return o
}

// Start launches the polling loop and the urgency refresh tick. It requires
// an authenticated session.
func (o *Orchestrator) Start(ctx context.Context) error {
	// Authenticated can lazily destroy an expired session, which re-enters
	// handleUnpair and takes o.mu; read it before locking.
	authed := o.session.Authenticated()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	if !authed {
		o.mu.Unlock()
		return lifecycle.ErrNoSession
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
	o.unpairReason = ""
	o.mu.Unlock()

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.poller.Run(ctx)
	}()
	go func() {
		defer o.wg.Done()
		o.refreshLoop(ctx)
	}()
	o.log.Info("started", nil)
	return nil
}

// Stop tears everything down and waits for the loops to exit. All timer
// chains cancel; in-flight requests are aborted through the context.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.Gesture.Stop()
	o.Alerts.Stop()
	o.log.Info("stopped", nil)
}

// handleUnpair runs on every session teardown, including ones initiated from
// inside the polling goroutine, so it must not block on the loops.
func (o *Orchestrator) handleUnpair(reason string) {
	o.mu.Lock()
	o.unpairReason = reason
	o.orders = map[string]domain.Order{}
	o.sorted = nil
	o.expandedID = ""
	running := o.running
	cancel := o.cancel
	o.running = false
	o.mu.Unlock()

	if running {
		cancel()
	}
	o.Gesture.Stop()
	o.Alerts.Stop()
}

// ingest merges a poll result into the board. The server is the source of
// truth: orders it no longer returns are dropped. Re-ranking happens only on
// the initial load, on new-order arrival, or when orders disappeared.
func (o *Orchestrator) ingest(raw []domain.RawOrder, newIDs []string) {
	now := o.now()

	o.mu.Lock()
	initial := o.sorted == nil && len(o.orders) == 0

	current := make(map[string]domain.Order, len(raw))
	for _, r := range raw {
		if ord, ok := domain.Normalize(r, now); ok {
			current[ord.ID] = ord
		}
	}

	removed := false
	kept := o.sorted[:0:0]
	for _, id := range o.sorted {
		if _, ok := current[id]; ok {
			kept = append(kept, id)
		} else {
			removed = true
			if o.expandedID == id {
				o.expandedID = ""
			}
		}
	}
	o.orders = current
	o.sorted = kept

	if initial || removed || len(newIDs) > 0 {
		o.appendMissingLocked()
		o.resortLocked()
	}
	o.mu.Unlock()

	if len(newIDs) > 0 {
		o.Alerts.NewOrder()
	}
}

// appendMissingLocked adds orders not yet in the sorted sequence, newest
// last by creation time so the subsequent stable sort has a fixed base order.
func (o *Orchestrator) appendMissingLocked() {
	seen := make(map[string]struct{}, len(o.sorted))
	for _, id := range o.sorted {
		seen[id] = struct{}{}
	}
	var missing []string
	for id := range o.orders {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		return o.orders[missing[i]].CreatedAt.Before(o.orders[missing[j]].CreatedAt)
	})
	o.sorted = append(o.sorted, missing...)
}

func (o *Orchestrator) resortLocked() {
	list := make([]*domain.Order, 0, len(o.sorted))
	for _, id := range o.sorted {
		ord := o.orders[id]
		list = append(list, &ord)
	}
	domain.SortByUrgency(list)
	o.sorted = o.sorted[:0]
	for _, ord := range list {
		o.sorted = append(o.sorted, ord.ID)
	}
}

// refreshLoop keeps urgency indicators accurate between polls. It mutates the
// derived fields in place without touching the ordering.
func (o *Orchestrator) refreshLoop(ctx context.Context) {
	t := time.NewTicker(UrgencyRefreshEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := o.now()
			o.mu.Lock()
			for id, ord := range o.orders {
				ord.Refresh(now)
				o.orders[id] = ord
			}
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) setReconnecting(down bool) {
	o.mu.Lock()
	o.reconnecting = down
	o.mu.Unlock()
}

// ExpandDetail marks an order's detail view open. No re-sort happens while a
// detail view is up.
func (o *Orchestrator) ExpandDetail(orderID string) {
	o.mu.Lock()
	if _, ok := o.orders[orderID]; ok {
		o.expandedID = orderID
	}
	o.mu.Unlock()
}

// CollapseDetail closes the detail view and re-ranks the queue. This is one
// of the four sanctioned re-sort triggers.
func (o *Orchestrator) CollapseDetail() {
	o.mu.Lock()
	o.expandedID = ""
	o.resortLocked()
	o.mu.Unlock()
}

// Unpair asks the operator for confirmation and, if granted, destroys the
// session and returns the display to PIN entry.
func (o *Orchestrator) Unpair() bool {
	return o.session.Unpair(func() bool {
		return o.confirm != nil && o.confirm("Unpair this display? A new PIN will be required.")
	})
}

// Snapshot is the read-only view consumers render from.
type Snapshot struct {
	Grid          []domain.Order
	QueueCount    int
	Reconnecting  bool
	Authenticated bool
	UnpairReason  string
	ExpandedID    string
}

func (o *Orchestrator) Snapshot() Snapshot {
	authed := o.session.Authenticated()

	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		Reconnecting:  o.reconnecting,
		Authenticated: authed,
		UnpairReason:  o.unpairReason,
		ExpandedID:    o.expandedID,
	}
	n := len(o.sorted)
	grid := n
	if grid > GridSize {
		grid = GridSize
		s.QueueCount = n - GridSize
	}
	for _, id := range o.sorted[:grid] {
		s.Grid = append(s.Grid, o.orders[id])
	}
	return s
}

// board adapts the orchestrator to the lifecycle controller without exposing
// the mutators publicly.
type board Orchestrator

func (b *board) Get(id string) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ord, ok := b.orders[id]
	return ord, ok
}

func (b *board) Update(ord domain.Order) {
	b.mu.Lock()
	b.orders[ord.ID] = ord
	b.mu.Unlock()
}

// Remove drops a completed or cancelled order. Removing from an already
// sorted sequence keeps it sorted; any modal referencing the order closes.
func (b *board) Remove(id string) {
	b.mu.Lock()
	delete(b.orders, id)
	kept := b.sorted[:0]
	for _, sid := range b.sorted {
		if sid != id {
			kept = append(kept, sid)
		}
	}
	b.sorted = kept
	if b.expandedID == id {
		b.expandedID = ""
	}
	b.mu.Unlock()

	o := (*Orchestrator)(b)
	if cid, ok := o.Gesture.ConfirmPending(); ok && cid == id {
		o.Gesture.Dismiss()
	}
}
