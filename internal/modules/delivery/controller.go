// README: Order lifecycle controller; owns one driver's active order, sequences step transitions and drives tracking.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/internal/modules/conversation"
	"courier/internal/modules/location"
	"courier/internal/modules/navigation"
	"courier/internal/modules/order"
	"courier/internal/modules/settlement"
	"courier/internal/types"
)

type OrderStore interface {
	Status(ctx context.Context, id types.ID) (order.Status, error)
	MarkHeadingToMerchant(ctx context.Context, id, driverID types.ID) error
	MarkPickedUp(ctx context.Context, id, driverID types.ID) error
	MarkHeadingToCustomer(ctx context.Context, id, driverID types.ID) error
	MarkDeliveredIfNot(ctx context.Context, id types.ID) (bool, error)
}

type OrderReader interface {
	Read(ctx context.Context, q order.Query) (*order.ActiveOrder, string, error)
}

type Tracker interface {
	Start(ctx context.Context, orderID types.ID) error
	Stop()
	Position() (types.Point, bool)
}

type Conversations interface {
	Ensure(ctx context.Context, orderID types.ID) (conversation.Handle, error)
	Reset()
}

type Navigator interface {
	Resolve(o *order.ActiveOrder, target navigation.Target) (navigation.Destination, error)
	Navigate(ctx context.Context, req navigation.Request) (navigation.Handoff, error)
}

type RouteEstimator interface {
	GetTravelEstimate(ctx context.Context, origin, destination string) (time.Duration, string, error)
}

type Metrics interface {
	Transition(step, result string)
	Settlement(kind, result string)
}

type Deps struct {
	DriverID      types.ID
	Orders        OrderStore
	Reader        OrderReader
	Tracker       Tracker
	Conversations Conversations
	Navigator     Navigator
	Settlement    settlement.Gateway
	Events        EventPublisher // optional
	Routes        RouteEstimator // optional
	Metrics       Metrics        // optional
	HoldFor       time.Duration
	Statuses      []order.Status
	Now           func() time.Time
}

const (
	defaultHoldFor  = 1200 * time.Millisecond
	estimateTimeout = 3 * time.Second
	publishTimeout  = 5 * time.Second
)

// Controller is one driver session. Remote calls never run under mu; the fetching
// and busy flags keep fetches and transitions from overlapping.
type Controller struct {
	driverID      types.ID
	orders        OrderStore
	reader        OrderReader
	tracker       Tracker
	conversations Conversations
	navigator     Navigator
	settlement    settlement.Gateway
	events        EventPublisher
	routes        RouteEstimator
	metrics       Metrics
	holdFor       time.Duration
	statuses      []order.Status
	now           func() time.Time

	// trackMu serializes tracker start/stop against focus changes.
	trackMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	focused    bool
	hint       types.ID
	active     *order.ActiveOrder
	strategy   string
	fetching   bool
	fetchSeq   uint64
	appliedSeq uint64
	busy       bool
	prompt     *NavigationPrompt
	pending    *Confirmation
	conv       conversation.Handle
	notices    []Notice
}

func NewController(d Deps) *Controller {
	c := &Controller{
		driverID:      d.DriverID,
		orders:        d.Orders,
		reader:        d.Reader,
		tracker:       d.Tracker,
		conversations: d.Conversations,
		navigator:     d.Navigator,
		settlement:    d.Settlement,
		events:        d.Events,
		routes:        d.Routes,
		metrics:       d.Metrics,
		holdFor:       d.HoldFor,
		statuses:      d.Statuses,
		now:           d.Now,
	}
	if c.events == nil {
		c.events = noopPublisher{}
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.holdFor <= 0 {
		c.holdFor = defaultHoldFor
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type noopMetrics struct{}

func (noopMetrics) Transition(string, string) {}
func (noopMetrics) Settlement(string, string) {}

// Focus activates the session and fetches the active order. orderID, when given,
// is looked up first.
func (c *Controller) Focus(ctx context.Context, orderID *types.ID) (View, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return View{}, ErrNotFocused
	}
	c.focused = true
	if orderID != nil && *orderID != "" {
		c.hint = *orderID
	}
	c.mu.Unlock()

	v, err := c.Refresh(ctx)
	if errors.Is(err, ErrFetchInProgress) {
		return v, nil
	}
	return v, err
}

// Blur drops the local projection and stops tracking. The remote order is untouched.
func (c *Controller) Blur() {
	c.mu.Lock()
	c.focused = false
	c.clearLocked()
	c.notices = nil
	c.mu.Unlock()

	c.trackMu.Lock()
	c.tracker.Stop()
	c.trackMu.Unlock()
	c.conversations.Reset()
}

// Close blurs the controller for good; a later Focus fails with ErrNotFocused.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Blur()
}

// Refresh re-reads the active order. A refresh requested while another is
// outstanding returns ErrFetchInProgress and leaves state alone.
func (c *Controller) Refresh(ctx context.Context) (View, error) {
	c.mu.Lock()
	if !c.focused {
		c.mu.Unlock()
		return View{}, ErrNotFocused
	}
	if c.fetching {
		c.mu.Unlock()
		return c.View(ctx), ErrFetchInProgress
	}
	c.fetching = true
	c.mu.Unlock()

	err := c.reload(ctx)

	c.mu.Lock()
	c.fetching = false
	c.mu.Unlock()
	return c.View(ctx), err
}

// reload reads the order and applies it unless a newer read already landed.
func (c *Controller) reload(ctx context.Context) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	q := order.Query{OrderID: c.hint, DriverID: c.driverID, Statuses: c.statuses}
	c.mu.Unlock()

	o, strategy, err := c.reader.Read(ctx, q)
	if err != nil {
		slog.Warn("active order fetch failed", "driver_id", c.driverID, "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}

	c.mu.Lock()
	if !c.focused || seq < c.appliedSeq {
		c.mu.Unlock()
		return nil
	}
	c.appliedSeq = seq
	c.applyLocked(o, strategy)
	c.mu.Unlock()

	c.syncTracking(ctx)
	c.ensureConversation(ctx)
	return nil
}

func (c *Controller) applyLocked(o *order.ActiveOrder, strategy string) {
	if o != nil && o.Status.IsTerminal() {
		o = nil
	}
	if o == nil {
		c.clearLocked()
		return
	}
	if c.active == nil || c.active.ID != o.ID {
		c.conv = ""
		c.prompt = nil
		c.pending = nil
	}
	c.active = o
	c.strategy = strategy
	c.hint = o.ID
	if c.pending != nil && o.Step() != order.StepHeadingToCustomer {
		c.pending = nil
	}
}

func (c *Controller) clearLocked() {
	c.active = nil
	c.strategy = ""
	c.hint = ""
	c.prompt = nil
	c.pending = nil
	c.conv = ""
}

// syncTracking runs the tracker exactly while the session is focused and has an order.
func (c *Controller) syncTracking(ctx context.Context) {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	c.mu.Lock()
	var id types.ID
	if c.focused && c.active != nil {
		id = c.active.ID
	}
	c.mu.Unlock()

	if id == "" {
		c.tracker.Stop()
		return
	}

	err := c.tracker.Start(ctx, id)
	var denied *location.PermissionDeniedError
	switch {
	case err == nil:
		c.dropNotice(NoticeLocationDenied)
		c.dropNotice(NoticeLocationRequested)
	case errors.As(err, &denied):
		c.addNotice(Notice{
			Code:    NoticeLocationDenied,
			Message: "Location access is off. Live tracking is paused until it is enabled in settings.",
			Link:    denied.SettingsURL,
		})
	case errors.Is(err, location.ErrPermissionPending):
		c.addNotice(Notice{Code: NoticeLocationRequested, Message: "Allow location access to share your position with the customer."})
	default:
		slog.Warn("location tracking not started", "driver_id", c.driverID, "order_id", id, "error", err)
	}
}

// ResumeTracking retries tracking after the device reported a permission change.
func (c *Controller) ResumeTracking(ctx context.Context) {
	c.syncTracking(ctx)
}

func (c *Controller) ensureConversation(ctx context.Context) {
	c.mu.Lock()
	if c.active == nil || c.conv != "" {
		c.mu.Unlock()
		return
	}
	id := c.active.ID
	c.mu.Unlock()

	h, err := c.conversations.Ensure(ctx, id)
	if errors.Is(err, conversation.ErrAlreadyAttempted) {
		return
	}
	if err != nil {
		slog.Warn("conversation bootstrap failed", "driver_id", c.driverID, "order_id", id, "error", err)
		c.addNotice(Notice{Code: NoticeConversationUnavailable, Message: "Chat with the customer is unavailable right now."})
		return
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == id {
		c.conv = h
	}
	c.mu.Unlock()
}

func (c *Controller) addNotice(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.notices {
		if existing.Code == n.Code {
			c.notices[i] = n
			return
		}
	}
	c.notices = append(c.notices, n)
}

func (c *Controller) dropNotice(code NoticeCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.notices[:0]
	for _, n := range c.notices {
		if n.Code != code {
			kept = append(kept, n)
		}
	}
	c.notices = kept
}

// begin claims the busy flag for an action on the active order.
func (c *Controller) begin(check func(o *order.ActiveOrder) error) (types.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", ErrNoActiveOrder
	}
	if c.busy {
		return "", ErrBusy
	}
	if check != nil {
		if err := check(c.active); err != nil {
			return "", err
		}
	}
	c.busy = true
	return c.active.ID, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

type stepWrite func(ctx context.Context, id, driverID types.ID) error

// transition writes the next step for an order currently at from, then re-reads it.
func (c *Controller) transition(ctx context.Context, from order.Step, write stepWrite) (types.ID, error) {
	to, ok := from.Next()
	if !ok {
		return "", ErrInvalidStep
	}
	id, err := c.begin(func(o *order.ActiveOrder) error {
		if o.Step() != from {
			return ErrInvalidStep
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer c.end()

	if err := write(ctx, id, c.driverID); err != nil {
		c.metrics.Transition(string(to), "error")
		if errors.Is(err, order.ErrStepConflict) {
			slog.Info("step write refused, reloading", "driver_id", c.driverID, "order_id", id, "step", to)
			_ = c.reload(ctx)
			return id, ErrStaleOrder
		}
		slog.Warn("step write failed", "driver_id", c.driverID, "order_id", id, "step", to, "error", err)
		return id, fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}
	c.metrics.Transition(string(to), "ok")
	c.publish(ctx, Event{Type: EventStepChanged, OrderID: id, Step: to})
	return id, c.reload(ctx)
}

func (c *Controller) StartHeadingToMerchant(ctx context.Context) (View, error) {
	_, err := c.transition(ctx, order.StepAccepted, c.orders.MarkHeadingToMerchant)
	return c.View(ctx), err
}

func (c *Controller) MarkPickedUp(ctx context.Context) (View, error) {
	_, err := c.transition(ctx, order.StepHeadingToMerchant, c.orders.MarkPickedUp)
	return c.View(ctx), err
}

// StartHeadingToCustomer advances to the customer leg and leaves a navigation prompt
// for the driver to accept or dismiss.
func (c *Controller) StartHeadingToCustomer(ctx context.Context) (View, error) {
	id, err := c.transition(ctx, order.StepPickedUp, c.orders.MarkHeadingToCustomer)
	if err == nil {
		c.mu.Lock()
		if c.active != nil && c.active.ID == id && c.active.Step() == order.StepHeadingToCustomer {
			c.prompt = &NavigationPrompt{OrderID: id, Target: navigation.TargetCustomer}
		}
		c.mu.Unlock()
	}
	return c.View(ctx), err
}

// ConfirmNavigation accepts the pending prompt and launches navigation to its target.
func (c *Controller) ConfirmNavigation(ctx context.Context, platform navigation.Platform, opener navigation.Opener) (navigation.Handoff, error) {
	c.mu.Lock()
	p := c.prompt
	c.prompt = nil
	c.mu.Unlock()
	if p == nil {
		return navigation.Handoff{}, ErrNoPendingPrompt
	}
	return c.Navigate(ctx, p.Target, platform, opener)
}

func (c *Controller) DismissNavigation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt == nil {
		return ErrNoPendingPrompt
	}
	c.prompt = nil
	return nil
}

// Navigate hands off to an external map app. An empty target follows the delivery step.
func (c *Controller) Navigate(ctx context.Context, target navigation.Target, platform navigation.Platform, opener navigation.Opener) (navigation.Handoff, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return navigation.Handoff{}, ErrNoActiveOrder
	}
	o := c.active.Clone()
	c.mu.Unlock()

	req := navigation.Request{Order: o, Target: target, Platform: platform, Opener: opener}
	if pos, ok := c.tracker.Position(); ok {
		req.Origin = &pos
	}
	return c.navigator.Navigate(ctx, req)
}

// View projects the session state. Destination, distance and ETA are best-effort.
func (c *Controller) View(ctx context.Context) View {
	c.mu.Lock()
	v := View{
		Order:        c.active.Clone(),
		ReadStrategy: c.strategy,
		Conversation: c.conv,
		Busy:         c.busy,
		Notices:      append([]Notice(nil), c.notices...),
	}
	if c.prompt != nil {
		p := *c.prompt
		v.Prompt = &p
	}
	if c.pending != nil {
		p := *c.pending
		v.Pending = &p
	}
	c.mu.Unlock()

	if pos, ok := c.tracker.Position(); ok {
		v.DriverPosition = &pos
	}
	if v.Order == nil {
		return v
	}
	v.Step = v.Order.Step()

	dest, err := c.navigator.Resolve(v.Order, "")
	if err != nil {
		return v
	}
	v.Destination = &dest
	if v.DriverPosition == nil {
		return v
	}
	if dest.Location != nil {
		km := location.DistanceKm(*v.DriverPosition, *dest.Location)
		v.DistanceKm = &km
	}
	if c.routes != nil {
		v.ETA = c.estimate(ctx, *v.DriverPosition, dest)
	}
	return v
}

func (c *Controller) estimate(ctx context.Context, origin types.Point, dest navigation.Destination) *ETA {
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	to := dest.Address
	if dest.Location != nil {
		to = dest.Location.String()
	}
	d, dist, err := c.routes.GetTravelEstimate(ctx, origin.String(), to)
	if err != nil {
		slog.Debug("travel estimate unavailable", "driver_id", c.driverID, "error", err)
		return nil
	}
	return &ETA{Duration: d, Distance: dist}
}

// publish is best-effort: the remote write it reports has already succeeded.
func (c *Controller) publish(ctx context.Context, e Event) {
	e.ID = uuid.NewString()
	e.DriverID = c.driverID
	e.OccurredAt = c.now().UTC()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.events.Publish(ctx, e); err != nil {
		slog.Warn("lifecycle event not published", "type", e.Type, "order_id", e.OrderID, "error", err)
	}
}
