// README: Read-only projection of a driver session returned to the client after every action.
package delivery

import (
	"time"

	"courier/internal/modules/conversation"
	"courier/internal/modules/navigation"
	"courier/internal/modules/order"
	"courier/internal/modules/settlement"
	"courier/internal/types"
)

// NextViewAvailableOrders sends the driver back to the unassigned order list.
const NextViewAvailableOrders = "available_orders"

type NoticeCode string

const (
	NoticeLocationDenied          NoticeCode = "location_permission_denied"
	NoticeLocationRequested       NoticeCode = "location_permission_requested"
	NoticeAlreadyDelivered        NoticeCode = "order_already_delivered"
	NoticeCancelledRemotely       NoticeCode = "order_cancelled_remotely"
	NoticeConversationUnavailable NoticeCode = "conversation_unavailable"
)

// Notice is an informational message; Link, when set, is an actionable deep link.
type Notice struct {
	Code    NoticeCode `json:"code"`
	Message string     `json:"message"`
	Link    string     `json:"link,omitempty"`
}

// NavigationPrompt asks the driver whether to launch navigation now.
type NavigationPrompt struct {
	OrderID types.ID          `json:"order_id"`
	Target  navigation.Target `json:"target"`
}

// Confirmation is a pending hold-to-confirm completion.
type Confirmation struct {
	ID        string        `json:"id"`
	OrderID   types.ID      `json:"order_id"`
	StartedAt time.Time     `json:"started_at"`
	HoldFor   time.Duration `json:"hold_for"`
}

type CompletionResult struct {
	Delivered        bool     `json:"delivered"`
	AlreadyDelivered bool     `json:"already_delivered"`
	Message          string   `json:"message,omitempty"`
	Settled          *float64 `json:"settled,omitempty"`
	Remaining        *float64 `json:"remaining,omitempty"`
}

type CancelResult struct {
	Message  string `json:"message,omitempty"`
	NextView string `json:"next_view"`
}

type ETA struct {
	Duration time.Duration `json:"duration"`
	Distance string        `json:"distance"`
}

type View struct {
	Order          *order.ActiveOrder      `json:"order"`
	Step           order.Step              `json:"step,omitempty"`
	ReadStrategy   string                  `json:"read_strategy,omitempty"`
	DriverPosition *types.Point            `json:"driver_position,omitempty"`
	Destination    *navigation.Destination `json:"destination,omitempty"`
	DistanceKm     *float64                `json:"distance_km,omitempty"`
	ETA            *ETA                    `json:"eta,omitempty"`
	Conversation   conversation.Handle     `json:"conversation_id,omitempty"`
	Prompt         *NavigationPrompt       `json:"navigation_prompt,omitempty"`
	Pending        *Confirmation           `json:"pending_confirmation,omitempty"`
	Notices        []Notice                `json:"notices,omitempty"`
	Busy           bool                    `json:"busy"`
}

// settlementResult maps a successful outcome onto the completion result.
func settlementResult(out settlement.Outcome) CompletionResult {
	return CompletionResult{
		Delivered: true,
		Message:   out.Message,
		Settled:   out.Settled,
		Remaining: out.Remaining,
	}
}
