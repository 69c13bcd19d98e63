// Package gesture implements the hold-to-complete gate. A single accidental
// tap must never complete a revenue-bearing order, so "DONE" requires a full
// sustained press and then an explicit confirmation.
package gesture

import (
	"context"
	"errors"
	"sync"
	"time"

	"kitchen-display/internal/common/logger"
)

const (
	// HoldDuration is how long DONE must be held before the confirm dialog opens.
	HoldDuration = 1000 * time.Millisecond
	// TickInterval is the progress sampling cadence.
	TickInterval = 50 * time.Millisecond
)

var ErrNoDialog = errors.New("no confirmation pending")

// Engine tracks at most one in-progress hold and at most one open confirm
// dialog. All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	holdFor time.Duration
	tick    time.Duration
	now     func() time.Time

	holdID    string
	holdStart time.Time
	progress  float64
	stop      chan struct{}

	confirmID    string
	retryPending bool

	// OnProgress reports sampled hold progress in [0,1] for rendering.
	// OnHeld fires once when the hold completes and the dialog opens.
	OnProgress func(orderID string, progress float64)
	OnHeld     func(orderID string)

	// Completable gates presses. When set, a hold on an order that cannot be
	// completed yet is ignored outright: the dialog it would open could only
	// ever fail.
	Completable func(orderID string) bool

	complete func(ctx context.Context, orderID string) error
	log      *logger.Logger
}

// New builds an engine; complete is invoked only from Confirm.
func New(complete func(ctx context.Context, orderID string) error) *Engine {
	return &Engine{
		holdFor:  HoldDuration,
		tick:     TickInterval,
		now:      time.Now,
		complete: complete,
		log:      logger.New("gesture"),
	}
}

// Press starts the hold timer for orderID. A press while another hold is
// running resets to the new order. Presses on orders the Completable gate
// rejects are inert.
func (e *Engine) Press(orderID string) {
	e.mu.Lock()
	gate := e.Completable
	e.mu.Unlock()
	if gate != nil && !gate(orderID) {
		return
	}
	stop := e.begin(orderID)
	go func() {
		t := time.NewTicker(e.tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if e.advance() {
					return
				}
			}
		}
	}()
}

// begin resets the hold state for a new press and hands back its stop channel.
func (e *Engine) begin(orderID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelHoldLocked()
	e.holdID = orderID
	e.holdStart = e.now()
	e.progress = 0
	e.stop = make(chan struct{})
	return e.stop
}

// advance samples hold progress once. Returns true when the hold finished.
func (e *Engine) advance() bool {
	e.mu.Lock()
	if e.holdID == "" {
		e.mu.Unlock()
		return true
	}
	id := e.holdID
	elapsed := e.now().Sub(e.holdStart)
	p := float64(elapsed) / float64(e.holdFor)
	if p > 1 {
		p = 1
	}
	e.progress = p
	done := p >= 1
	var onHeld func(string)
	if done {
		// Full hold opens the dialog; it does not complete the order.
		e.confirmID = id
		e.retryPending = false
		e.cancelHoldLocked()
		onHeld = e.OnHeld
	}
	onProgress := e.OnProgress
	e.mu.Unlock()

	if onProgress != nil {
		onProgress(id, p)
	}
	if done && onHeld != nil {
		onHeld(id)
	}
	return done
}

// Release aborts an in-progress hold. Progress resets to zero and nothing
// else happens: an early release has no side effects. Pointer-leave and
// pointer-cancel route here too.
func (e *Engine) Release() {
	e.mu.Lock()
	e.cancelHoldLocked()
	e.mu.Unlock()
}

func (e *Engine) cancelHoldLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.holdID = ""
	e.progress = 0
}

// Holding reports the order under the finger and its progress.
func (e *Engine) Holding() (string, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdID, e.progress
}

// ConfirmPending reports the order whose confirm dialog is open.
func (e *Engine) ConfirmPending() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmID, e.confirmID != ""
}

// RetryPending reports whether the last Confirm failed and the dialog is in
// its "tap to retry" state.
func (e *Engine) RetryPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryPending
}

// Confirm completes the order behind the open dialog. On failure the dialog
// stays open in retry state instead of closing.
func (e *Engine) Confirm(ctx context.Context) error {
	e.mu.Lock()
	id := e.confirmID
	e.mu.Unlock()
	if id == "" {
		return ErrNoDialog
	}

	if err := e.complete(ctx, id); err != nil {
		e.mu.Lock()
		e.retryPending = true
		e.mu.Unlock()
		e.log.Error("complete_confirm_failed", err, map[string]any{"order_id": id})
		return err
	}

	e.mu.Lock()
	e.confirmID = ""
	e.retryPending = false
	e.mu.Unlock()
	return nil
}

// Dismiss closes the dialog without completing. No API call is made.
func (e *Engine) Dismiss() {
	e.mu.Lock()
	e.confirmID = ""
	e.retryPending = false
	e.mu.Unlock()
}

// Stop cancels any hold and closes any dialog. Called on orchestrator
// shutdown and on auth change.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancelHoldLocked()
	e.confirmID = ""
	e.retryPending = false
	e.mu.Unlock()
}
