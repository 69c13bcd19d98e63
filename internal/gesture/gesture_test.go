package gesture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clockEngine drives the hold state machine with a fake clock, sampling the
// way the real ticker does but deterministically.
func clockEngine(complete func(ctx context.Context, id string) error) (*Engine, *time.Time) {
	e := New(complete)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestHold_FullPressOpensDialog(t *testing.T) {
	called := 0
	e, now := clockEngine(func(context.Context, string) error { called++; return nil })

	var heldID string
	e.OnHeld = func(id string) { heldID = id }

	e.begin("o1")
	for i := 0; i < 20; i++ { // 20 ticks of 50ms = exactly HOLD_MS
		*now = now.Add(TickInterval)
		e.advance()
	}

	_, progress := e.Holding()
	assert.Zero(t, progress, "hold state clears once the dialog opens")
	assert.Equal(t, "o1", heldID)

	id, open := e.ConfirmPending()
	require.True(t, open)
	assert.Equal(t, "o1", id)
	assert.Zero(t, called, "a full hold opens the dialog, it does not complete")
}

func TestHold_ProgressReachesOneAtHoldDuration(t *testing.T) {
	e, now := clockEngine(func(context.Context, string) error { return nil })

	var last float64
	e.OnProgress = func(_ string, p float64) { last = p }

	e.begin("o1")
	*now = now.Add(HoldDuration - TickInterval)
	e.advance()
	assert.InDelta(t, 0.95, last, 0.001)

	*now = now.Add(TickInterval)
	done := e.advance()
	assert.True(t, done)
	assert.Equal(t, 1.0, last)
}

func TestHold_EarlyReleaseResets(t *testing.T) {
	e, now := clockEngine(func(context.Context, string) error { return nil })

	dialogOpened := false
	e.OnHeld = func(string) { dialogOpened = true }

	e.begin("o1")
	*now = now.Add(HoldDuration / 2)
	e.advance()
	_, progress := e.Holding()
	assert.InDelta(t, 0.5, progress, 0.001)

	e.Release()
	id, progress := e.Holding()
	assert.Empty(t, id)
	assert.Zero(t, progress)
	assert.False(t, dialogOpened)
	_, open := e.ConfirmPending()
	assert.False(t, open, "early release must never open the confirm dialog")
}

func TestConfirm_CompletesAndCloses(t *testing.T) {
	var completed string
	e, now := clockEngine(func(_ context.Context, id string) error { completed = id; return nil })

	e.begin("o1")
	*now = now.Add(HoldDuration)
	e.advance()

	require.NoError(t, e.Confirm(context.Background()))
	assert.Equal(t, "o1", completed)
	_, open := e.ConfirmPending()
	assert.False(t, open)
}

func TestConfirm_FailureKeepsDialogOpenForRetry(t *testing.T) {
	fail := true
	e, now := clockEngine(func(context.Context, string) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	e.begin("o1")
	*now = now.Add(HoldDuration)
	e.advance()

	require.Error(t, e.Confirm(context.Background()))
	_, open := e.ConfirmPending()
	assert.True(t, open, "failed confirm stays open")
	assert.True(t, e.RetryPending())

	fail = false
	require.NoError(t, e.Confirm(context.Background()))
	_, open = e.ConfirmPending()
	assert.False(t, open)
	assert.False(t, e.RetryPending())
}

func TestDismiss_NoAPICallAndOrderStaysActive(t *testing.T) {
	called := 0
	e, now := clockEngine(func(context.Context, string) error { called++; return nil })

	e.begin("o1")
	*now = now.Add(HoldDuration)
	e.advance()

	e.Dismiss()
	_, open := e.ConfirmPending()
	assert.False(t, open)
	assert.Zero(t, called, "Cancel closes the dialog with no API call")
	assert.ErrorIs(t, e.Confirm(context.Background()), ErrNoDialog)
}

func TestPress_RealTicker(t *testing.T) {
	e := New(func(context.Context, string) error { return nil })
	e.holdFor = 40 * time.Millisecond
	e.tick = 5 * time.Millisecond

	held := make(chan string, 1)
	e.OnHeld = func(id string) { held <- id }

	e.Press("o1")
	select {
	case id := <-held:
		assert.Equal(t, "o1", id)
	case <-time.After(time.Second):
		t.Fatal("hold never completed")
	}
}

func TestPress_GateRejectsNonCompletableOrder(t *testing.T) {
	called := 0
	e := New(func(context.Context, string) error { called++; return nil })
	e.Completable = func(id string) bool { return id == "ready" }

	e.Press("fresh")
	id, progress := e.Holding()
	assert.Empty(t, id, "a gated press never arms the hold")
	assert.Zero(t, progress)
	_, open := e.ConfirmPending()
	assert.False(t, open)
	assert.Zero(t, called)

	e.holdFor = 40 * time.Millisecond
	e.tick = 5 * time.Millisecond
	held := make(chan string, 1)
	e.OnHeld = func(id string) { held <- id }

	e.Press("ready")
	select {
	case id := <-held:
		assert.Equal(t, "ready", id)
	case <-time.After(time.Second):
		t.Fatal("hold never completed")
	}
}

func TestStop_CancelsEverything(t *testing.T) {
	e, now := clockEngine(func(context.Context, string) error { return nil })

	e.begin("o1")
	*now = now.Add(HoldDuration)
	e.advance()
	e.begin("o2")

	e.Stop()
	id, _ := e.Holding()
	assert.Empty(t, id)
	_, open := e.ConfirmPending()
	assert.False(t, open)
}
