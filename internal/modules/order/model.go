// README: Active order aggregate and the delivery step derived from its timestamps.
package order

import (
	"time"

	"courier/internal/types"
)

type Status string

const (
	// StatusPending is an unassigned order; a driver cancellation returns the order here.
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusOnTheWay  Status = "on_the_way"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further driver action is possible.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Step is the stage of the delivery as seen by the driver.
type Step string

const (
	StepAccepted          Step = "accepted"
	StepHeadingToMerchant Step = "heading_to_merchant"
	StepPickedUp          Step = "picked_up"
	StepHeadingToCustomer Step = "heading_to_customer"
)

// Timeline holds the driver-written lifecycle timestamps. Each is set at most once.
type Timeline struct {
	HeadingToMerchantAt *time.Time `json:"heading_to_merchant_at"`
	PickedUpAt          *time.Time `json:"picked_up_at"`
	HeadingToCustomerAt *time.Time `json:"heading_to_customer_at"`
}

// DeriveStep reads the timeline latest-first. It never looks at any other field.
func DeriveStep(tl Timeline) Step {
	switch {
	case tl.HeadingToCustomerAt != nil:
		return StepHeadingToCustomer
	case tl.PickedUpAt != nil:
		return StepPickedUp
	case tl.HeadingToMerchantAt != nil:
		return StepHeadingToMerchant
	default:
		return StepAccepted
	}
}

// Consistent reports whether no later timestamp is set while an earlier one is absent,
// and present timestamps do not go backwards.
func (tl Timeline) Consistent() bool {
	ordered := []*time.Time{tl.HeadingToMerchantAt, tl.PickedUpAt, tl.HeadingToCustomerAt}
	var prev *time.Time
	seenGap := false
	for _, ts := range ordered {
		if ts == nil {
			seenGap = true
			continue
		}
		if seenGap {
			return false
		}
		if prev != nil && ts.Before(*prev) {
			return false
		}
		prev = ts
	}
	return true
}

// Next returns the step that follows s, and false for the last step.
func (s Step) Next() (Step, bool) {
	switch s {
	case StepAccepted:
		return StepHeadingToMerchant, true
	case StepHeadingToMerchant:
		return StepPickedUp, true
	case StepPickedUp:
		return StepHeadingToCustomer, true
	default:
		return "", false
	}
}

// BeforeCustomerLeg reports whether the driver still has to reach the merchant.
func (s Step) BeforeCustomerLeg() bool {
	return s != StepHeadingToCustomer
}

type Customer struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Phone string   `json:"phone"`
}

type Merchant struct {
	ID       types.ID     `json:"id"`
	Name     string       `json:"name"`
	Address  string       `json:"address"`
	Location *types.Point `json:"location,omitempty"`
}

// ActiveOrder is a read projection of the remote order row. It is replaced wholesale on every fetch.
type ActiveOrder struct {
	ID               types.ID     `json:"id"`
	Number           string       `json:"number"`
	DriverID         types.ID     `json:"driver_id"`
	Status           Status       `json:"status"`
	Customer         Customer     `json:"customer"`
	Merchant         Merchant     `json:"merchant"`
	DeliveryAddress  string       `json:"delivery_address"`
	DeliveryLocation *types.Point `json:"delivery_location,omitempty"`
	ItemCount        int          `json:"item_count"`
	Total            types.Money  `json:"total"`
	DeliveryFee      types.Money  `json:"delivery_fee"`
	Timeline         Timeline     `json:"timeline"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Step is always recomputed from the timeline.
func (o *ActiveOrder) Step() Step {
	return DeriveStep(o.Timeline)
}

// Clone returns a deep copy so callers cannot mutate controller-owned state.
func (o *ActiveOrder) Clone() *ActiveOrder {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Timeline = Timeline{
		HeadingToMerchantAt: clonePtr(o.Timeline.HeadingToMerchantAt),
		PickedUpAt:          clonePtr(o.Timeline.PickedUpAt),
		HeadingToCustomerAt: clonePtr(o.Timeline.HeadingToCustomerAt),
	}
	cp.DeliveryLocation = clonePtr(o.DeliveryLocation)
	cp.Merchant.Location = clonePtr(o.Merchant.Location)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
