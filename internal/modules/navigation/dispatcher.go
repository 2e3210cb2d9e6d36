// README: Navigation dispatcher; resolves the current destination and hands off to the first map app that can open it.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"courier/internal/modules/order"
	"courier/internal/types"
)

var (
	ErrDestinationNotReady = errors.New("destination details are not available yet")
	ErrNoHandler           = errors.New("no navigation app can open this destination")
	ErrUnknownTarget       = errors.New("unknown navigation target")
)

type Target string

const (
	TargetMerchant Target = "merchant"
	TargetCustomer Target = "customer"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

type Destination struct {
	Target   Target       `json:"target"`
	Label    string       `json:"label"`
	Location *types.Point `json:"location,omitempty"`
	Address  string       `json:"address,omitempty"`
}

// Handoff is the URL passed to the platform and the handler that accepted it.
type Handoff struct {
	Handler       string      `json:"handler"`
	URL           string      `json:"url"`
	Destination   Destination `json:"destination"`
	AddressSearch bool        `json:"address_search"`
}

// Opener is the platform's URL launcher. CanOpen is asked on every call.
type Opener interface {
	CanOpen(ctx context.Context, rawURL string) (bool, error)
	Open(ctx context.Context, rawURL string) error
}

type Request struct {
	Order    *order.ActiveOrder
	Target   Target // empty: inferred from the delivery step
	Origin   *types.Point
	Platform Platform
	Opener   Opener
}

// handler builds a URL for a destination; ok=false means it does not apply.
type handler struct {
	name  string
	build func(origin *types.Point, dest Destination) (string, bool)
}

type Dispatcher struct{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Resolve picks the destination. An explicit target wins; otherwise the merchant
// until the order is picked up and the customer after that.
func (d *Dispatcher) Resolve(o *order.ActiveOrder, target Target) (Destination, error) {
	if target == "" {
		target = TargetCustomer
		if o.Step().BeforeCustomerLeg() {
			target = TargetMerchant
		}
	}

	var dest Destination
	switch target {
	case TargetMerchant:
		dest = Destination{Target: target, Label: o.Merchant.Name, Location: o.Merchant.Location, Address: o.Merchant.Address}
	case TargetCustomer:
		dest = Destination{Target: target, Label: o.Customer.Name, Location: o.DeliveryLocation, Address: o.DeliveryAddress}
	default:
		return Destination{}, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	dest.Address = strings.TrimSpace(dest.Address)
	if dest.Location == nil && dest.Address == "" {
		return dest, ErrDestinationNotReady
	}
	return dest, nil
}

// Navigate walks the handler chain for the platform and opens the first URL the opener accepts.
func (d *Dispatcher) Navigate(ctx context.Context, req Request) (Handoff, error) {
	dest, err := d.Resolve(req.Order, req.Target)
	if err != nil {
		return Handoff{}, err
	}

	for _, h := range chain(req.Platform) {
		rawURL, ok := h.build(req.Origin, dest)
		if !ok {
			continue
		}
		can, err := req.Opener.CanOpen(ctx, rawURL)
		if err != nil {
			slog.Debug("navigation capability check failed", "handler", h.name, "error", err)
			continue
		}
		if !can {
			continue
		}
		if err := req.Opener.Open(ctx, rawURL); err != nil {
			slog.Warn("navigation handler failed to open", "handler", h.name, "error", err)
			continue
		}
		return Handoff{Handler: h.name, URL: rawURL, Destination: dest, AddressSearch: dest.Location == nil}, nil
	}
	return Handoff{}, ErrNoHandler
}

// chain lists handlers in priority order: native app, web with origin, web destination only.
func chain(p Platform) []handler {
	var hs []handler
	switch p {
	case PlatformIOS:
		hs = append(hs, handler{name: "apple_maps", build: appleMapsURL})
	case PlatformAndroid:
		hs = append(hs, handler{name: "google_navigation", build: androidNavigationURL})
	}
	return append(hs,
		handler{name: "web_directions", build: webDirectionsURL},
		handler{name: "web_destination", build: webDestinationURL},
	)
}

func destinationParam(dest Destination) string {
	if dest.Location != nil {
		return dest.Location.String()
	}
	return dest.Address
}

func appleMapsURL(_ *types.Point, dest Destination) (string, bool) {
	if dest.Location == nil {
		return "maps://?q=" + url.QueryEscape(dest.Address), true
	}
	return "maps://?daddr=" + dest.Location.String() + "&dirflg=d", true
}

func androidNavigationURL(_ *types.Point, dest Destination) (string, bool) {
	if dest.Location == nil {
		return "geo:0,0?q=" + url.QueryEscape(dest.Address), true
	}
	return "google.navigation:q=" + dest.Location.String() + "&mode=d", true
}

func webDirectionsURL(origin *types.Point, dest Destination) (string, bool) {
	if origin == nil {
		return "", false
	}
	q := url.Values{}
	q.Set("api", "1")
	q.Set("origin", origin.String())
	q.Set("destination", destinationParam(dest))
	q.Set("travelmode", "driving")
	return "https://www.google.com/maps/dir/?" + q.Encode(), true
}

func webDestinationURL(_ *types.Point, dest Destination) (string, bool) {
	q := url.Values{}
	q.Set("api", "1")
	if dest.Location == nil {
		q.Set("query", dest.Address)
		return "https://www.google.com/maps/search/?" + q.Encode(), true
	}
	q.Set("destination", dest.Location.String())
	q.Set("travelmode", "driving")
	return "https://www.google.com/maps/dir/?" + q.Encode(), true
}
