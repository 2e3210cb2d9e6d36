package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"courier/internal/modules/conversation"
	"courier/internal/modules/navigation"
	"courier/internal/modules/order"
	"courier/internal/modules/settlement"
	"courier/internal/types"
)

var inFlight = []order.Status{
	order.StatusAccepted, order.StatusPreparing, order.StatusReady, order.StatusPickedUp, order.StatusOnTheWay,
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// fakeBackend plays the remote order store: reads, conditional step writes, status.
// ---------------------------------------------------------------------------

type fakeBackend struct {
	mu              sync.Mutex
	orders          map[types.ID]*order.ActiveOrder
	tick            int
	reads           int
	readErr         error
	readGate        chan struct{}
	readStarted     chan struct{}
	writeErr        error
	writes          int
	statusErr       error
	statusCalls     int
	deliveredWrites int
}

func newBackend(orders ...*order.ActiveOrder) *fakeBackend {
	b := &fakeBackend{orders: make(map[types.ID]*order.ActiveOrder)}
	for _, o := range orders {
		b.orders[o.ID] = o
	}
	return b
}

func (b *fakeBackend) nextTime() *time.Time {
	b.tick++
	t := base.Add(time.Duration(b.tick) * time.Minute)
	return &t
}

func isInFlight(st order.Status, statuses []order.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (b *fakeBackend) Read(_ context.Context, q order.Query) (*order.ActiveOrder, string, error) {
	b.mu.Lock()
	b.reads++
	gate, started := b.readGate, b.readStarted
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, "", b.readErr
	}
	if q.OrderID != "" {
		if o, ok := b.orders[q.OrderID]; ok && o.DriverID == q.DriverID && isInFlight(o.Status, q.Statuses) {
			return o.Clone(), order.StrategyByID, nil
		}
	}
	for _, o := range b.orders {
		if o.DriverID == q.DriverID && isInFlight(o.Status, q.Statuses) {
			return o.Clone(), order.StrategyInFlight, nil
		}
	}
	return nil, "", nil
}

func (b *fakeBackend) write(id, driverID types.ID, apply func(o *order.ActiveOrder) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.writeErr != nil {
		return b.writeErr
	}
	o, ok := b.orders[id]
	if !ok || o.DriverID != driverID || o.Status.IsTerminal() || !apply(o) {
		return order.ErrStepConflict
	}
	return nil
}

func (b *fakeBackend) MarkHeadingToMerchant(_ context.Context, id, driverID types.ID) error {
	return b.write(id, driverID, func(o *order.ActiveOrder) bool {
		if o.Timeline.HeadingToMerchantAt != nil {
			return false
		}
		o.Timeline.HeadingToMerchantAt = b.nextTime()
		return true
	})
}

func (b *fakeBackend) MarkPickedUp(_ context.Context, id, driverID types.ID) error {
	return b.write(id, driverID, func(o *order.ActiveOrder) bool {
		if o.Timeline.HeadingToMerchantAt == nil || o.Timeline.PickedUpAt != nil {
			return false
		}
		o.Timeline.PickedUpAt = b.nextTime()
		o.Status = order.StatusPickedUp
		return true
	})
}

func (b *fakeBackend) MarkHeadingToCustomer(_ context.Context, id, driverID types.ID) error {
	return b.write(id, driverID, func(o *order.ActiveOrder) bool {
		if o.Timeline.PickedUpAt == nil || o.Timeline.HeadingToCustomerAt != nil {
			return false
		}
		o.Timeline.HeadingToCustomerAt = b.nextTime()
		o.Status = order.StatusOnTheWay
		return true
	})
}

func (b *fakeBackend) Status(_ context.Context, id types.ID) (order.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusErr != nil {
		return "", b.statusErr
	}
	o, ok := b.orders[id]
	if !ok {
		return "", order.ErrNotFound
	}
	return o.Status, nil
}

func (b *fakeBackend) MarkDeliveredIfNot(_ context.Context, id types.ID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveredWrites++
	o, ok := b.orders[id]
	if !ok || o.Status == order.StatusDelivered {
		return false, nil
	}
	o.Status = order.StatusDelivered
	return true, nil
}

func (b *fakeBackend) setStatus(id types.ID, st order.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[id].Status = st
}

// release mirrors a driver cancellation: the order goes back to the unassigned pool.
func (b *fakeBackend) release(id types.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[id]
	o.Status = order.StatusPending
	o.DriverID = ""
	o.Timeline = order.Timeline{}
}

func (b *fakeBackend) get(id types.ID) *order.ActiveOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders[id].Clone()
}

func (b *fakeBackend) counts() (reads, writes, statusCalls, deliveredWrites int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads, b.writes, b.statusCalls, b.deliveredWrites
}

// ---------------------------------------------------------------------------
// fakeGateway plays the settlement procedures.
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu          sync.Mutex
	backend     *fakeBackend
	completeOut settlement.Outcome
	completeErr error
	cancelOut   settlement.Outcome
	cancelErr   error
	completes   int
	cancels     int
	reasons     []string
	// setsStatus mimics a procedure that marks the order delivered itself.
	setsStatus bool
	onComplete func(orderID types.ID)
}

func (g *fakeGateway) Complete(_ context.Context, orderID types.ID) (settlement.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completes++
	if g.onComplete != nil {
		g.onComplete(orderID)
	}
	if g.completeErr != nil {
		return settlement.Outcome{}, g.completeErr
	}
	if g.completeOut.OK && g.setsStatus {
		g.backend.setStatus(orderID, order.StatusDelivered)
	}
	return g.completeOut, nil
}

func (g *fakeGateway) Cancel(_ context.Context, orderID types.ID, reason string) (settlement.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	g.reasons = append(g.reasons, reason)
	if g.cancelErr != nil {
		return settlement.Outcome{}, g.cancelErr
	}
	if g.cancelOut.OK {
		g.backend.release(orderID)
	}
	return g.cancelOut, nil
}

func (g *fakeGateway) calls() (completes, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completes, g.cancels
}

// ---------------------------------------------------------------------------
// Tracker, conversations, events, clock
// ---------------------------------------------------------------------------

type fakeTracker struct {
	mu       sync.Mutex
	running  types.ID
	starts   int
	stops    int
	startErr error
	pos      *types.Point
}

func (f *fakeTracker) Start(_ context.Context, orderID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.running == orderID {
		return nil
	}
	f.running = orderID
	f.starts++
	return nil
}

func (f *fakeTracker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running != "" {
		f.stops++
	}
	f.running = ""
}

func (f *fakeTracker) Position() (types.Point, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos == nil {
		return types.Point{}, false
	}
	return *f.pos, true
}

func (f *fakeTracker) state() (running types.ID, starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.starts, f.stops
}

type fakeConversations struct {
	mu      sync.Mutex
	ensures int
	resets  int
	err     error
}

func (f *fakeConversations) Ensure(_ context.Context, orderID types.ID) (conversation.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	if f.err != nil {
		return "", f.err
	}
	return conversation.Handle("conv-" + string(orderID)), nil
}

func (f *fakeConversations) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEvents) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) types() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type allowAll struct{}

func (allowAll) CanOpen(context.Context, string) (bool, error) { return true, nil }
func (allowAll) Open(context.Context, string) error          { return nil }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	ctrl    *Controller
	backend *fakeBackend
	gateway *fakeGateway
	tracker *fakeTracker
	convs   *fakeConversations
	events  *fakeEvents
	clock   *fakeClock
}

func newHarness(backend *fakeBackend, gateway *fakeGateway) *harness {
	h := &harness{
		backend: backend,
		gateway: gateway,
		tracker: &fakeTracker{},
		convs:   &fakeConversations{},
		events:  &fakeEvents{},
		clock:   &fakeClock{t: base},
	}
	h.ctrl = NewController(Deps{
		DriverID:      "d1",
		Orders:        backend,
		Reader:        backend,
		Tracker:       h.tracker,
		Conversations: h.convs,
		Navigator:     navigation.NewDispatcher(),
		Settlement:    gateway,
		Events:        h.events,
		HoldFor:       1200 * time.Millisecond,
		Statuses:      inFlight,
		Now:           h.clock.Now,
	})
	return h
}

func (h *harness) focus(t *testing.T) View {
	t.Helper()
	v, err := h.ctrl.Focus(context.Background(), nil)
	if err != nil {
		t.Fatalf("focus: %v", err)
	}
	return v
}

func stamp(min int) *time.Time {
	t := base.Add(-time.Duration(60-min) * time.Minute)
	return &t
}

// newOrder builds an order for driver d1 at the step implied by n timestamps (0..3).
func newOrder(id types.ID, n int) *order.ActiveOrder {
	o := &order.ActiveOrder{
		ID:               id,
		Number:           "A-1001",
		DriverID:         "d1",
		Status:           order.StatusAccepted,
		Customer:         order.Customer{ID: "c1", Name: "Noura", Phone: "+966500000000"},
		Merchant:         order.Merchant{ID: "m1", Name: "Falafel House", Address: "King Fahd Rd", Location: &types.Point{Lat: 24.70, Lng: 46.67}},
		DeliveryAddress:  "Olaya St 12",
		DeliveryLocation: &types.Point{Lat: 24.69, Lng: 46.68},
		ItemCount:        3,
		Total:            types.Money{Amount: 58, Currency: "SAR"},
		DeliveryFee:      types.Money{Amount: 9, Currency: "SAR"},
	}
	if n >= 1 {
		o.Timeline.HeadingToMerchantAt = stamp(1)
	}
	if n >= 2 {
		o.Timeline.PickedUpAt = stamp(2)
		o.Status = order.StatusPickedUp
	}
	if n >= 3 {
		o.Timeline.HeadingToCustomerAt = stamp(3)
		o.Status = order.StatusOnTheWay
	}
	return o
}
