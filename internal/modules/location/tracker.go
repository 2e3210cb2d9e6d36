// README: Location tracker; per-order polling loop that keeps the driver position fresh and persisted.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"courier/internal/types"
)

// Prober is the part of Probe the tracker depends on.
type Prober interface {
	EnsurePermission(ctx context.Context) (Permission, error)
	Fix(ctx context.Context) (types.Point, error)
}

type PositionSink interface {
	Write(ctx context.Context, driverID types.ID, pos Position) error
}

// newTickerFunc returns a tick channel and a stop function.
type newTickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Tracker runs at most one polling loop, bound to one order id.
type Tracker struct {
	driverID  types.ID
	probe     Prober
	sink      PositionSink
	interval  time.Duration
	onProbe   func(result string)
	newTicker newTickerFunc
	now       func() time.Time

	mu      sync.Mutex
	orderID types.ID
	cancel  context.CancelFunc
	done    chan struct{}

	posMu    sync.RWMutex
	position *Position
}

func NewTracker(driverID types.ID, probe Prober, sink PositionSink, interval time.Duration) *Tracker {
	return &Tracker{
		driverID:  driverID,
		probe:     probe,
		sink:      sink,
		interval:  interval,
		newTicker: realTicker,
		now:       time.Now,
	}
}

// OnProbe registers a callback receiving the result of every probe cycle.
func (t *Tracker) OnProbe(fn func(result string)) {
	t.onProbe = fn
}

// Start begins tracking for orderID. It is a no-op when already tracking that order,
// and replaces the running loop when the order changed. Permission errors are
// returned and leave tracking off.
func (t *Tracker) Start(ctx context.Context, orderID types.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil && t.orderID == orderID {
		return nil
	}
	t.stopLocked()

	if _, err := t.probe.EnsurePermission(ctx); err != nil {
		return err
	}

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tick, stopTick := t.newTicker(t.interval)
	done := make(chan struct{})
	t.orderID = orderID
	t.cancel = cancel
	t.done = done

	go t.run(loopCtx, orderID, tick, stopTick, done)
	slog.Info("location tracking started", "driver_id", t.driverID, "order_id", orderID, "interval", t.interval)
	return nil
}

// Stop ends the loop and waits for it, so no write happens after it returns.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// stopLocked ends the loop and forgets its position so a later order never starts from it.
func (t *Tracker) stopLocked() {
	defer t.clearPosition()
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	slog.Info("location tracking stopped", "driver_id", t.driverID, "order_id", t.orderID)
	t.cancel = nil
	t.done = nil
	t.orderID = ""
}

// Tracking reports the order currently tracked.
func (t *Tracker) Tracking() (types.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orderID, t.cancel != nil
}

// Position returns the last known in-memory driver position.
func (t *Tracker) Position() (types.Point, bool) {
	t.posMu.RLock()
	defer t.posMu.RUnlock()
	if t.position == nil {
		return types.Point{}, false
	}
	return t.position.Point, true
}

func (t *Tracker) clearPosition() {
	t.posMu.Lock()
	t.position = nil
	t.posMu.Unlock()
}

func (t *Tracker) run(ctx context.Context, orderID types.ID, tick <-chan time.Time, stopTick func(), done chan struct{}) {
	defer close(done)
	defer stopTick()

	t.probeOnce(ctx, orderID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			t.probeOnce(ctx, orderID)
		}
	}
}

func (t *Tracker) probeOnce(ctx context.Context, orderID types.ID) {
	pt, err := t.probe.Fix(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Debug("location probe skipped", "driver_id", t.driverID, "order_id", orderID, "error", err)
		t.report("no_fix")
		return
	}

	pos := Position{Point: pt, UpdatedAt: t.now()}
	t.posMu.Lock()
	t.position = &pos
	t.posMu.Unlock()

	if t.sink == nil {
		t.report("ok")
		return
	}
	if err := t.sink.Write(ctx, t.driverID, pos); err != nil {
		if ctx.Err() == nil {
			slog.Warn("driver position write failed", "driver_id", t.driverID, "order_id", orderID, "error", err)
		}
		t.report("sink_error")
		return
	}
	t.report("ok")
}

func (t *Tracker) report(result string) {
	if t.onProbe != nil {
		t.onProbe(result)
	}
}
