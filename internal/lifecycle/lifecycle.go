package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kitchen-display/internal/api"
	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/domain"
)

var (
	ErrUnknownOrder  = errors.New("order not on the board")
	ErrBadTransition = errors.New("transition not allowed from current status")
	ErrNotConfirmed  = errors.New("operator declined confirmation")
	ErrNoSession     = errors.New("not authenticated")
)

// Board is the orchestrator-owned order state the controller mutates.
type Board interface {
	Get(id string) (domain.Order, bool)
	Update(o domain.Order)
	Remove(id string)
}

// PatchAPI is the slice of the API client the controller needs.
type PatchAPI interface {
	PatchOrder(ctx context.Context, token, orderID string, status domain.Status, acceptedAt *time.Time) error
}

type TokenSource interface {
	Token() (string, bool)
	ForceUnpair(reason string)
}

// StatusPublisher mirrors transitions to back-office consumers. Optional.
type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, ev domain.StatusChange) error
}

// Controller drives order status transitions: optimistic local update, PATCH
// to the server, rollback or removal depending on the outcome.
type Controller struct {
	api       PatchAPI
	session   TokenSource
	board     Board
	publisher StatusPublisher
	device    string

	// Confirm asks the operator before a destructive transition. Required for
	// Cancel; Complete is gated separately by the hold gesture.
	Confirm func(prompt string) bool

	now func() time.Time
	log *logger.Logger
}

func NewController(patcher PatchAPI, session TokenSource, board Board, publisher StatusPublisher, device string) *Controller {
	return &Controller{
		api:       patcher,
		session:   session,
		board:     board,
		publisher: publisher,
		device:    device,
		now:       time.Now,
		log:       logger.New("lifecycle"),
	}
}

func CanAccept(s domain.Status) bool   { return s == domain.StatusNew || s == domain.StatusPaid }
func CanComplete(s domain.Status) bool { return s == domain.StatusPreparing || s == domain.StatusReady }
func CanCancel(s domain.Status) bool   { return s.Active() }

// Accept moves a fresh order into preparing. The local update is optimistic
// and rolled back if the PATCH fails, so the board never shows a transition
// the server never saw.
func (c *Controller) Accept(ctx context.Context, orderID string) error {
	o, ok := c.board.Get(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	if !CanAccept(o.Status) {
		return fmt.Errorf("%w: accept from %q", ErrBadTransition, o.Status)
	}

	prev := o
	acceptedAt := c.now()
	o.Status = domain.StatusPreparing
	o.AcceptedAt = acceptedAt
	c.board.Update(o)

	if err := c.patch(ctx, orderID, domain.StatusPreparing, &acceptedAt); err != nil {
		if !errors.Is(err, api.ErrAuth) {
			c.board.Update(prev)
		}
		c.log.Error("accept_failed", err, map[string]any{"order_id": orderID})
		return err
	}
	c.log.Info("order_accepted", map[string]any{"order_id": orderID, "order_number": o.Number})
	c.publish(ctx, o, prev.Status, domain.StatusPreparing)
	return nil
}

// Cancel is irreversible and therefore requires operator confirmation before
// any network call. No optimistic update: the order leaves the board only
// once the server has agreed.
func (c *Controller) Cancel(ctx context.Context, orderID string) error {
	o, ok := c.board.Get(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	if !CanCancel(o.Status) {
		return fmt.Errorf("%w: cancel from %q", ErrBadTransition, o.Status)
	}
	if c.Confirm == nil || !c.Confirm(fmt.Sprintf("Cancel order %s? This cannot be undone.", o.Number)) {
		return ErrNotConfirmed
	}

	if err := c.patch(ctx, orderID, domain.StatusCancelled, nil); err != nil {
		c.log.Error("cancel_failed", err, map[string]any{"order_id": orderID})
		return err
	}
	c.board.Remove(orderID)
	c.log.Info("order_cancelled", map[string]any{"order_id": orderID, "order_number": o.Number})
	c.publish(ctx, o, o.Status, domain.StatusCancelled)
	return nil
}

// Complete marks an order done. Callers must have passed the hold-to-complete
// gate first; the controller enforces only the status machine.
func (c *Controller) Complete(ctx context.Context, orderID string) error {
	o, ok := c.board.Get(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	if !CanComplete(o.Status) {
		return fmt.Errorf("%w: complete from %q", ErrBadTransition, o.Status)
	}

	if err := c.patch(ctx, orderID, domain.StatusCompleted, nil); err != nil {
		c.log.Error("complete_failed", err, map[string]any{"order_id": orderID})
		return err
	}
	c.board.Remove(orderID)
	c.log.Info("order_completed", map[string]any{"order_id": orderID, "order_number": o.Number})
	c.publish(ctx, o, o.Status, domain.StatusCompleted)
	return nil
}

func (c *Controller) patch(ctx context.Context, orderID string, status domain.Status, acceptedAt *time.Time) error {
	token, ok := c.session.Token()
	if !ok {
		return ErrNoSession
	}
	err := c.api.PatchOrder(ctx, token, orderID, status, acceptedAt)
	if errors.Is(err, api.ErrAuth) {
		c.session.ForceUnpair("session rejected by server")
	}
	return err
}

// publish is best effort: a broker outage must never block the kitchen.
func (c *Controller) publish(ctx context.Context, o domain.Order, from, to domain.Status) {
	if c.publisher == nil {
		return
	}
	ev := domain.StatusChange{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OldStatus:   from,
		NewStatus:   to,
		ChangedBy:   c.device,
		Timestamp:   c.now().UTC(),
	}
	if err := c.publisher.PublishStatusChange(ctx, ev); err != nil {
		c.log.Error("status_publish_failed", err, map[string]any{"order_id": o.ID})
	}
}
