// README: Step derivation and read-strategy tests (no database).
package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier/internal/types"
)

func ts(min int) *time.Time {
	t := time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC)
	return &t
}

func TestDeriveStep(t *testing.T) {
	cases := []struct {
		name string
		tl   Timeline
		want Step
	}{
		{"nothing set", Timeline{}, StepAccepted},
		{"heading to merchant", Timeline{HeadingToMerchantAt: ts(1)}, StepHeadingToMerchant},
		{"picked up", Timeline{HeadingToMerchantAt: ts(1), PickedUpAt: ts(2)}, StepPickedUp},
		{"heading to customer", Timeline{HeadingToMerchantAt: ts(1), PickedUpAt: ts(2), HeadingToCustomerAt: ts(3)}, StepHeadingToCustomer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStep(tc.tl); got != tc.want {
				t.Errorf("DeriveStep() = %s, want %s", got, tc.want)
			}
			if !tc.tl.Consistent() {
				t.Errorf("expected timeline to be consistent")
			}
		})
	}
}

// TestDeriveStepIgnoresOtherFields verifies the step depends on the timeline alone.
func TestDeriveStepIgnoresOtherFields(t *testing.T) {
	tl := Timeline{HeadingToMerchantAt: ts(1)}
	a := &ActiveOrder{ID: "a", Status: StatusDelivered, Timeline: tl}
	b := &ActiveOrder{ID: "b", Status: StatusAccepted, ItemCount: 9, DeliveryAddress: "x", Timeline: tl}
	if a.Step() != b.Step() || a.Step() != StepHeadingToMerchant {
		t.Fatalf("step must only depend on timestamps: %s vs %s", a.Step(), b.Step())
	}
}

func TestTimelineConsistent_Invalid(t *testing.T) {
	cases := []struct {
		name string
		tl   Timeline
	}{
		{"picked up without heading to merchant", Timeline{PickedUpAt: ts(2)}},
		{"heading to customer without picked up", Timeline{HeadingToMerchantAt: ts(1), HeadingToCustomerAt: ts(3)}},
		{"only heading to customer", Timeline{HeadingToCustomerAt: ts(3)}},
		{"timestamps go backwards", Timeline{HeadingToMerchantAt: ts(5), PickedUpAt: ts(2)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.tl.Consistent() {
				t.Errorf("expected inconsistent timeline")
			}
		})
	}
}

func TestStepNext(t *testing.T) {
	order := []Step{StepAccepted, StepHeadingToMerchant, StepPickedUp, StepHeadingToCustomer}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok || next != order[i+1] {
			t.Errorf("%s.Next() = %s, %v; want %s", order[i], next, ok, order[i+1])
		}
	}
	if _, ok := StepHeadingToCustomer.Next(); ok {
		t.Errorf("last step must not have a successor")
	}
}

func TestCloneIsDeep(t *testing.T) {
	o := &ActiveOrder{ID: "o1", Timeline: Timeline{HeadingToMerchantAt: ts(1)}, DeliveryLocation: &types.Point{Lat: 1, Lng: 2}}
	cp := o.Clone()
	*cp.Timeline.HeadingToMerchantAt = time.Time{}
	cp.DeliveryLocation.Lat = 9
	if o.Timeline.HeadingToMerchantAt.IsZero() || o.DeliveryLocation.Lat != 1 {
		t.Fatalf("clone shares memory with original")
	}
}

// ---------------------------------------------------------------------------
// Reader: strategy chain with an in-memory source
// ---------------------------------------------------------------------------

type fakeSource struct {
	mu        sync.Mutex
	byID      *ActiveOrder
	byIDErr   error
	joined    *ActiveOrder
	joinedErr error
	flat      *ActiveOrder
	flatErr   error
	merchant  *Merchant
	countErr  error
	calls     []string
}

func (f *fakeSource) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSource) GetJoined(_ context.Context, _, _ types.ID, _ []Status) (*ActiveOrder, error) {
	f.record("by_id")
	return f.byID.Clone(), f.byIDErr
}
func (f *fakeSource) LatestInFlightJoined(_ context.Context, _ types.ID, _ []Status) (*ActiveOrder, error) {
	f.record("in_flight")
	return f.joined.Clone(), f.joinedErr
}
func (f *fakeSource) LatestInFlightFlat(_ context.Context, _ types.ID, _ []Status) (*ActiveOrder, error) {
	f.record("flat")
	return f.flat.Clone(), f.flatErr
}
func (f *fakeSource) GetMerchant(_ context.Context, id types.ID) (*Merchant, error) {
	f.record("merchant")
	if f.merchant == nil {
		return nil, ErrNotFound
	}
	m := *f.merchant
	return &m, nil
}
func (f *fakeSource) CountItems(_ context.Context, ids []types.ID) (map[types.ID]int, error) {
	f.record("count")
	if f.countErr != nil {
		return nil, f.countErr
	}
	out := make(map[types.ID]int, len(ids))
	for _, id := range ids {
		out[id] = 3
	}
	return out, nil
}

func (f *fakeSource) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func TestReaderByIDHit(t *testing.T) {
	src := &fakeSource{byID: &ActiveOrder{ID: "o1"}}
	o, strategy, err := NewReader(src).Read(context.Background(), Query{OrderID: "o1", DriverID: "d1"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if o == nil || o.ID != "o1" || strategy != StrategyByID {
		t.Fatalf("unexpected result %+v via %s", o, strategy)
	}
	if o.ItemCount != 3 {
		t.Errorf("expected item count from counting procedure, got %d", o.ItemCount)
	}
	if src.called("in_flight") || src.called("flat") {
		t.Errorf("later strategies must not run after a hit: %v", src.calls)
	}
}

func TestReaderSkipsByIDWithoutOrderID(t *testing.T) {
	src := &fakeSource{joined: &ActiveOrder{ID: "o2"}}
	_, strategy, err := NewReader(src).Read(context.Background(), Query{DriverID: "d1"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strategy != StrategyInFlight || src.called("by_id") {
		t.Fatalf("expected in-flight strategy without by-id attempt, got %s (%v)", strategy, src.calls)
	}
}

// TestReaderJoinFailureFallsBackToFlat verifies a join error is never reported as "no active order".
func TestReaderJoinFailureFallsBackToFlat(t *testing.T) {
	rls := errors.New("permission denied for table profiles")
	src := &fakeSource{
		byIDErr:   rls,
		joinedErr: rls,
		flat:      &ActiveOrder{ID: "o3", Merchant: Merchant{ID: "m1"}},
		merchant:  &Merchant{ID: "m1", Name: "Falafel House", Location: &types.Point{Lat: 24.7, Lng: 46.6}},
	}
	o, strategy, err := NewReader(src).Read(context.Background(), Query{OrderID: "o3", DriverID: "d1"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strategy != StrategyFlat {
		t.Fatalf("expected degraded strategy, got %s", strategy)
	}
	if o.Merchant.Name != "Falafel House" || o.Merchant.Location == nil {
		t.Errorf("expected merchant resolved by separate lookup, got %+v", o.Merchant)
	}
}

func TestReaderDegradedMerchantLookupFailureStillReturnsOrder(t *testing.T) {
	src := &fakeSource{flat: &ActiveOrder{ID: "o4", Merchant: Merchant{ID: "m404"}}, countErr: errors.New("boom")}
	o, _, err := NewReader(src).Read(context.Background(), Query{DriverID: "d1"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if o == nil || o.ID != "o4" || o.ItemCount != 0 {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestReaderNoneFound(t *testing.T) {
	src := &fakeSource{}
	o, _, err := NewReader(src).Read(context.Background(), Query{OrderID: "o5", DriverID: "d1"})
	if err != nil || o != nil {
		t.Fatalf("expected no order and no error, got %+v, %v", o, err)
	}
	for _, name := range []string{"by_id", "in_flight", "flat"} {
		if !src.called(name) {
			t.Errorf("expected %s to be attempted", name)
		}
	}
}

func TestReaderAllFail(t *testing.T) {
	boom := errors.New("connection reset")
	src := &fakeSource{joinedErr: boom, flatErr: boom}
	o, _, err := NewReader(src).Read(context.Background(), Query{DriverID: "d1"})
	if o != nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %+v, %v", o, err)
	}
}

func TestReaderObserve(t *testing.T) {
	src := &fakeSource{joinedErr: errors.New("rls"), flat: &ActiveOrder{ID: "o6"}}
	r := NewReader(src)
	var seen []string
	r.Observe(func(strategy string, found bool, err error) {
		seen = append(seen, strategy)
	})
	if _, _, err := r.Read(context.Background(), Query{DriverID: "d1"}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(seen) != 2 || seen[0] != StrategyInFlight || seen[1] != StrategyFlat {
		t.Fatalf("unexpected observed strategies %v", seen)
	}
}
