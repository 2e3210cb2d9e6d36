// README: Completion (hold-to-confirm, pre-check, settlement, delivered safety net) and cancellation.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"courier/internal/modules/order"
	"courier/internal/modules/settlement"
	"courier/internal/types"
)

// RequestCompletion starts the hold. Asking again while a hold is pending returns the same one.
func (c *Controller) RequestCompletion() (Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return Confirmation{}, ErrNoActiveOrder
	}
	if c.busy {
		return Confirmation{}, ErrBusy
	}
	if c.active.Step() != order.StepHeadingToCustomer {
		return Confirmation{}, ErrInvalidStep
	}
	if c.pending != nil && c.pending.OrderID == c.active.ID {
		return *c.pending, nil
	}
	c.pending = &Confirmation{
		ID:        uuid.NewString(),
		OrderID:   c.active.ID,
		StartedAt: c.now(),
		HoldFor:   c.holdFor,
	}
	return *c.pending, nil
}

// ReleaseCompletion aborts a pending hold without any remote call.
func (c *Controller) ReleaseCompletion(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || c.pending.ID != id {
		return ErrNoPendingConfirmation
	}
	c.pending = nil
	return nil
}

// ConfirmCompletion finishes the hold and completes the delivery. A confirmation
// arriving before the hold duration elapsed is treated as an early release.
func (c *Controller) ConfirmCompletion(ctx context.Context, id string) (CompletionResult, error) {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.ID != id {
		c.mu.Unlock()
		return CompletionResult{}, ErrNoPendingConfirmation
	}
	c.pending = nil
	if c.now().Sub(p.StartedAt) < p.HoldFor {
		c.mu.Unlock()
		return CompletionResult{}, ErrHoldReleasedEarly
	}
	if c.busy {
		c.mu.Unlock()
		return CompletionResult{}, ErrBusy
	}
	if c.active == nil || c.active.ID != p.OrderID {
		c.mu.Unlock()
		return CompletionResult{}, ErrNoActiveOrder
	}
	c.busy = true
	c.mu.Unlock()
	defer c.end()

	return c.complete(ctx, p.OrderID)
}

func (c *Controller) complete(ctx context.Context, orderID types.ID) (CompletionResult, error) {
	if res, done, err := c.precheck(ctx, orderID); done {
		return res, err
	}

	out, err := c.settlement.Complete(ctx, orderID)
	if err != nil {
		if errors.Is(err, settlement.ErrRetryConflict) {
			// Another confirmation may have won the race; trust only a fresh read.
			c.metrics.Settlement("complete", "retry_conflict")
			if res, done, perr := c.precheck(ctx, orderID); done {
				return res, perr
			}
		} else {
			c.metrics.Settlement("complete", "error")
		}
		slog.Warn("settlement call failed", "driver_id", c.driverID, "order_id", orderID, "error", err)
		return CompletionResult{}, fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}
	if !out.OK {
		c.metrics.Settlement("complete", "rejected")
		slog.Info("settlement rejected", "driver_id", c.driverID, "order_id", orderID, "message", out.Message)
		return CompletionResult{}, &RejectedError{Message: out.Message}
	}
	c.metrics.Settlement("complete", "ok")

	// The procedure normally sets the status itself; this write covers the case where it did not.
	changed, err := c.orders.MarkDeliveredIfNot(ctx, orderID)
	if err != nil {
		slog.Warn("delivered status write failed after settlement", "driver_id", c.driverID, "order_id", orderID, "error", err)
	} else if changed {
		slog.Info("delivered status set after settlement", "driver_id", c.driverID, "order_id", orderID)
	}

	c.publish(ctx, Event{Type: EventDelivered, OrderID: orderID})
	c.finish(ctx, orderID)
	return settlementResult(out), nil
}

// precheck re-reads the remote status. done=true means completion must not proceed.
func (c *Controller) precheck(ctx context.Context, orderID types.ID) (CompletionResult, bool, error) {
	st, err := c.orders.Status(ctx, orderID)
	if err != nil {
		slog.Warn("completion pre-check failed", "driver_id", c.driverID, "order_id", orderID, "error", err)
		return CompletionResult{}, true, fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}
	switch st {
	case order.StatusDelivered:
		c.metrics.Settlement("complete", "already_delivered")
		c.addNotice(Notice{Code: NoticeAlreadyDelivered, Message: "This order was already delivered."})
		c.finish(ctx, orderID)
		return CompletionResult{AlreadyDelivered: true, Message: "order already delivered"}, true, nil
	case order.StatusCancelled:
		c.addNotice(Notice{Code: NoticeCancelledRemotely, Message: "This order was cancelled."})
		c.finish(ctx, orderID)
		return CompletionResult{}, true, ErrOrderCancelled
	}
	return CompletionResult{}, false, nil
}

// finish drops a terminal order locally, stops tracking and reads whatever is active next.
func (c *Controller) finish(ctx context.Context, orderID types.ID) {
	c.mu.Lock()
	if c.active != nil && c.active.ID == orderID {
		c.clearLocked()
	}
	c.mu.Unlock()

	c.syncTracking(ctx)
	if err := c.reload(ctx); err != nil {
		slog.Warn("reload after terminal order failed", "driver_id", c.driverID, "error", err)
	}
}

// Cancel cancels the active order from any non-terminal step. The reason is
// validated before anything is sent.
func (c *Controller) Cancel(ctx context.Context, reason string) (CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return CancelResult{}, ErrReasonRequired
	}

	id, err := c.begin(nil)
	if err != nil {
		return CancelResult{}, err
	}
	defer c.end()

	out, err := c.settlement.Cancel(ctx, id, reason)
	if err != nil {
		c.metrics.Settlement("cancel", "error")
		slog.Warn("cancel call failed", "driver_id", c.driverID, "order_id", id, "error", err)
		return CancelResult{}, fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}
	if !out.OK {
		c.metrics.Settlement("cancel", "rejected")
		return CancelResult{}, &RejectedError{Message: out.Message}
	}
	c.metrics.Settlement("cancel", "ok")
	slog.Info("order cancelled by driver", "driver_id", c.driverID, "order_id", id, "reason", reason)

	c.publish(ctx, Event{Type: EventCancelled, OrderID: id, Reason: reason})
	c.mu.Lock()
	if c.active != nil && c.active.ID == id {
		c.clearLocked()
	}
	c.mu.Unlock()
	c.syncTracking(ctx)
	return CancelResult{Message: out.Message, NextView: NextViewAvailableOrders}, nil
}
