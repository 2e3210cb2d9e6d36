// README: Delivery controller errors; sentinels for guards and a typed rejection carrying the remote message.
package delivery

import "errors"

var (
	ErrNotFocused            = errors.New("driver session is not focused")
	ErrNoActiveOrder         = errors.New("no active order")
	ErrFetchInProgress       = errors.New("order fetch already in progress")
	ErrBusy                  = errors.New("another action is in progress for this order")
	ErrInvalidStep           = errors.New("action not allowed at the current delivery step")
	ErrStaleOrder            = errors.New("order changed on the server and was reloaded")
	ErrReasonRequired        = errors.New("a cancellation reason is required")
	ErrNoPendingPrompt       = errors.New("no navigation prompt pending")
	ErrNoPendingConfirmation = errors.New("no completion confirmation pending")
	ErrHoldReleasedEarly     = errors.New("completion hold released before the required duration")
	ErrOrderCancelled        = errors.New("order was cancelled")
	ErrRemoteFailure         = errors.New("request failed, please retry")
)

// RejectedError is a business rule rejection (ok=false) from a remote procedure.
// Message is shown to the driver as-is.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}
