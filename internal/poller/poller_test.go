package poller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-display/internal/api"
	"kitchen-display/internal/domain"
)

type fakeFetcher struct {
	orders []domain.RawOrder
	err    error
	calls  int
}

func (f *fakeFetcher) FetchOrders(context.Context, string) ([]domain.RawOrder, error) {
	f.calls++
	return f.orders, f.err
}

type fakeSession struct {
	token        string
	ok           bool
	unpairReason string
}

func (s *fakeSession) Token() (string, bool)     { return s.token, s.ok }
func (s *fakeSession) ForceUnpair(reason string) { s.unpairReason = reason; s.ok = false }

type closedGate struct{}

func (closedGate) IsStoreOpen(string, time.Time) bool { return false }

func rawSet(ids ...string) []domain.RawOrder {
	out := make([]domain.RawOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RawOrder{
			OrderID:     id,
			Status:      domain.StatusNew,
			OrderType:   domain.TypePickup,
			CreatedAtMs: time.Now().UnixMilli(),
		})
	}
	return out
}

func newTestPoller(f *fakeFetcher) (*Poller, *fakeSession, *time.Time) {
	sess := &fakeSession{token: "tok", ok: true}
	p := New(f, sess, nil, "rest-1")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, sess, &now
}

func TestCycle_NoNewOrderBurstOnFirstLoad(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1", "2")}
	p, _, _ := newTestPoller(f)

	var gotNew []string
	p.OnOrders = func(_ []domain.RawOrder, newIDs []string) { gotNew = newIDs }

	delay, halt := p.cycle(context.Background())
	require.False(t, halt)
	assert.Empty(t, gotNew, "baseline load must not flag standing orders as new")
	assert.Equal(t, IntervalNormal, delay)
}

func TestCycle_NewOrderSpeedsUp(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1", "2")}
	p, _, _ := newTestPoller(f)
	p.cycle(context.Background())

	var gotNew []string
	p.OnOrders = func(_ []domain.RawOrder, newIDs []string) { gotNew = newIDs }
	f.orders = rawSet("1", "2", "3")

	delay, halt := p.cycle(context.Background())
	require.False(t, halt)
	assert.Equal(t, []string{"3"}, gotNew)
	assert.Equal(t, IntervalFast, delay)
	assert.Equal(t, IntervalFast, p.Interval())
}

func TestCycle_QuietKitchenSlowsDown(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1")}
	p, _, now := newTestPoller(f)
	p.cycle(context.Background())

	// Within the quiet window: normal cadence.
	*now = now.Add(30 * time.Second)
	delay, _ := p.cycle(context.Background())
	assert.Equal(t, IntervalNormal, delay)

	// Past 60s with no new ids: slow.
	*now = now.Add(31 * time.Second)
	delay, _ = p.cycle(context.Background())
	assert.Equal(t, IntervalSlow, delay)
}

func TestCycle_NewOrderResetsQuietTimer(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1")}
	p, _, now := newTestPoller(f)
	p.cycle(context.Background())

	*now = now.Add(2 * time.Minute)
	f.orders = rawSet("1", "2")
	delay, _ := p.cycle(context.Background())
	assert.Equal(t, IntervalFast, delay)

	*now = now.Add(10 * time.Second)
	delay, _ = p.cycle(context.Background())
	assert.Equal(t, IntervalNormal, delay)
}

func TestCycle_TransportFailure(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1")}
	p, _, _ := newTestPoller(f)
	p.cycle(context.Background())

	var transitions []bool
	p.OnReconnecting = func(down bool) { transitions = append(transitions, down) }

	f.err = fmt.Errorf("%w: connection refused", api.ErrNetwork)
	delay, halt := p.cycle(context.Background())
	require.False(t, halt, "transient failures must not stop the loop")
	assert.Equal(t, IntervalNormal, delay)
	assert.True(t, p.Reconnecting())

	f.err = nil
	_, halt = p.cycle(context.Background())
	require.False(t, halt)
	assert.False(t, p.Reconnecting())
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestCycle_AuthFailureUnpairsAndHalts(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: status 403", api.ErrAuth)}
	p, sess, _ := newTestPoller(f)

	_, halt := p.cycle(context.Background())
	assert.True(t, halt)
	assert.Equal(t, "session rejected by server", sess.unpairReason)
}

func TestCycle_ClosedStoreSkipsFetch(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1")}
	sess := &fakeSession{token: "tok", ok: true}
	p := New(f, sess, closedGate{}, "rest-1")

	delay, halt := p.cycle(context.Background())
	require.False(t, halt)
	assert.Zero(t, f.calls, "no fetch while the store is closed")
	assert.Equal(t, ClosedRecheck, delay)
}

func TestCycle_MissingTokenHalts(t *testing.T) {
	f := &fakeFetcher{}
	p, sess, _ := newTestPoller(f)
	sess.ok = false

	_, halt := p.cycle(context.Background())
	assert.True(t, halt)
	assert.Zero(t, f.calls)
}

func TestCycle_TerminalStatusesExcludedFromDiff(t *testing.T) {
	f := &fakeFetcher{orders: rawSet("1")}
	p, _, _ := newTestPoller(f)
	p.cycle(context.Background())

	var gotNew []string
	p.OnOrders = func(_ []domain.RawOrder, newIDs []string) { gotNew = newIDs }
	f.orders = append(rawSet("1"), domain.RawOrder{
		OrderID: "cb", Status: domain.StatusNeedsCallback,
		OrderType: domain.TypePickup, CreatedAtMs: time.Now().UnixMilli(),
	})

	_, _ = p.cycle(context.Background())
	assert.Empty(t, gotNew, "needs_callback must never count as a new order")
}
