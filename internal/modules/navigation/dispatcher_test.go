package navigation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/modules/order"
	"courier/internal/types"
)

type recordingOpener struct {
	mu      sync.Mutex
	allow   func(rawURL string) bool
	checked []string
	opened  []string
}

func (r *recordingOpener) CanOpen(_ context.Context, rawURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked = append(r.checked, rawURL)
	return r.allow(rawURL), nil
}

func (r *recordingOpener) Open(_ context.Context, rawURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, rawURL)
	return nil
}

func allowPrefix(prefix string) func(string) bool {
	return func(u string) bool { return strings.HasPrefix(u, prefix) }
}

func at(min int) *time.Time {
	t := time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC)
	return &t
}

func sampleOrder(tl order.Timeline) *order.ActiveOrder {
	return &order.ActiveOrder{
		ID:               "o1",
		Customer:         order.Customer{Name: "Noura"},
		Merchant:         order.Merchant{Name: "Falafel House", Address: "King Fahd Rd", Location: &types.Point{Lat: 24.70, Lng: 46.67}},
		DeliveryAddress:  "Olaya St 12",
		DeliveryLocation: &types.Point{Lat: 24.69, Lng: 46.68},
		Timeline:         tl,
	}
}

func TestResolve_InfersTargetFromStep(t *testing.T) {
	d := NewDispatcher()
	cases := []struct {
		name string
		tl   order.Timeline
		want Target
	}{
		{"accepted", order.Timeline{}, TargetMerchant},
		{"heading to merchant", order.Timeline{HeadingToMerchantAt: at(1)}, TargetMerchant},
		{"picked up", order.Timeline{HeadingToMerchantAt: at(1), PickedUpAt: at(2)}, TargetMerchant},
		{"heading to customer", order.Timeline{HeadingToMerchantAt: at(1), PickedUpAt: at(2), HeadingToCustomerAt: at(3)}, TargetCustomer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dest, err := d.Resolve(sampleOrder(tc.tl), "")
			require.NoError(t, err)
			assert.Equal(t, tc.want, dest.Target)
		})
	}
}

func TestResolve_ExplicitTargetWins(t *testing.T) {
	dest, err := NewDispatcher().Resolve(sampleOrder(order.Timeline{}), TargetCustomer)
	require.NoError(t, err)
	assert.Equal(t, TargetCustomer, dest.Target)
	assert.Equal(t, "Olaya St 12", dest.Address)

	_, err = NewDispatcher().Resolve(sampleOrder(order.Timeline{}), Target("depot"))
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestResolve_NotReady(t *testing.T) {
	o := sampleOrder(order.Timeline{})
	o.Merchant.Location = nil
	o.Merchant.Address = "   "
	_, err := NewDispatcher().Resolve(o, "")
	assert.ErrorIs(t, err, ErrDestinationNotReady)
}

func TestNavigate_PrefersNativeHandler(t *testing.T) {
	opener := &recordingOpener{allow: func(string) bool { return true }}
	h, err := NewDispatcher().Navigate(context.Background(), Request{
		Order:    sampleOrder(order.Timeline{}),
		Origin:   &types.Point{Lat: 24.6, Lng: 46.6},
		Platform: PlatformIOS,
		Opener:   opener,
	})
	require.NoError(t, err)
	assert.Equal(t, "apple_maps", h.Handler)
	assert.Equal(t, "maps://?daddr=24.700000,46.670000&dirflg=d", h.URL)
	assert.Len(t, opener.checked, 1)
}

func TestNavigate_FallsBackToWebWithOrigin(t *testing.T) {
	opener := &recordingOpener{allow: allowPrefix("https://")}
	h, err := NewDispatcher().Navigate(context.Background(), Request{
		Order:    sampleOrder(order.Timeline{}),
		Origin:   &types.Point{Lat: 24.6, Lng: 46.6},
		Platform: PlatformAndroid,
		Opener:   opener,
	})
	require.NoError(t, err)
	assert.Equal(t, "web_directions", h.Handler)
	assert.Contains(t, h.URL, "origin=24.600000%2C46.600000")
	assert.Len(t, opener.checked, 2, "native handler must be asked before falling back")
}

func TestNavigate_DestinationOnlyWithoutOrigin(t *testing.T) {
	opener := &recordingOpener{allow: allowPrefix("https://")}
	h, err := NewDispatcher().Navigate(context.Background(), Request{
		Order:    sampleOrder(order.Timeline{}),
		Platform: PlatformWeb,
		Opener:   opener,
	})
	require.NoError(t, err)
	assert.Equal(t, "web_destination", h.Handler)
	assert.NotContains(t, h.URL, "origin=")
}

func TestNavigate_AddressSearchWithoutCoordinates(t *testing.T) {
	o := sampleOrder(order.Timeline{HeadingToMerchantAt: at(1), PickedUpAt: at(2), HeadingToCustomerAt: at(3)})
	o.DeliveryLocation = nil
	opener := &recordingOpener{allow: allowPrefix("https://www.google.com/maps/search/")}

	h, err := NewDispatcher().Navigate(context.Background(), Request{Order: o, Platform: PlatformWeb, Opener: opener})
	require.NoError(t, err)
	assert.True(t, h.AddressSearch)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=Olaya+St+12", h.URL)
}

func TestNavigate_CapabilityCheckedPerCall(t *testing.T) {
	var allowNative bool
	opener := &recordingOpener{allow: func(u string) bool {
		return allowNative || strings.HasPrefix(u, "https://")
	}}
	d := NewDispatcher()
	req := Request{Order: sampleOrder(order.Timeline{}), Platform: PlatformAndroid, Opener: opener}

	h1, err := d.Navigate(context.Background(), req)
	require.NoError(t, err)
	allowNative = true
	h2, err := d.Navigate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "web_destination", h1.Handler)
	assert.Equal(t, "google_navigation", h2.Handler)
}

func TestNavigate_NoHandler(t *testing.T) {
	opener := &recordingOpener{allow: func(string) bool { return false }}
	_, err := NewDispatcher().Navigate(context.Background(), Request{Order: sampleOrder(order.Timeline{}), Opener: opener})
	assert.True(t, errors.Is(err, ErrNoHandler))
	assert.Empty(t, opener.opened)
}

func TestSchemeOpener(t *testing.T) {
	o := NewSchemeOpener([]string{"HTTPS", "maps:"})
	ok, err := o.CanOpen(context.Background(), "maps://?q=x")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = o.CanOpen(context.Background(), "geo:0,0?q=x")
	assert.False(t, ok)

	require.NoError(t, o.Open(context.Background(), "https://example.test"))
	assert.Equal(t, "https://example.test", o.Opened())
}
