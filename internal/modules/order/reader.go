// README: Active-order read path; ordered read strategies with a degraded no-join fallback.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"courier/internal/types"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrStepConflict = errors.New("order step already written or out of order")
)

// Source is the read side of the order store.
type Source interface {
	GetJoined(ctx context.Context, id, driverID types.ID, statuses []Status) (*ActiveOrder, error)
	LatestInFlightJoined(ctx context.Context, driverID types.ID, statuses []Status) (*ActiveOrder, error)
	LatestInFlightFlat(ctx context.Context, driverID types.ID, statuses []Status) (*ActiveOrder, error)
	GetMerchant(ctx context.Context, id types.ID) (*Merchant, error)
	CountItems(ctx context.Context, ids []types.ID) (map[types.ID]int, error)
}

type Query struct {
	// OrderID is optional; when empty the by-id strategy is skipped.
	OrderID  types.ID
	DriverID types.ID
	Statuses []Status
}

// Strategy is one way of reading the active order. Applies gates whether it runs for a query;
// Degraded strategies return the order without joins and need the merchant resolved afterwards.
type Strategy struct {
	Name     string
	Applies  func(q Query) bool
	Degraded bool
	Read     func(ctx context.Context, src Source, q Query) (*ActiveOrder, error)
}

const (
	StrategyByID     = "by_id_joined"
	StrategyInFlight = "in_flight_joined"
	StrategyFlat     = "in_flight_flat"
)

// DefaultStrategies returns the read chain in the order it must be tried.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:    StrategyByID,
			Applies: func(q Query) bool { return q.OrderID != "" },
			Read: func(ctx context.Context, src Source, q Query) (*ActiveOrder, error) {
				return src.GetJoined(ctx, q.OrderID, q.DriverID, q.Statuses)
			},
		},
		{
			Name: StrategyInFlight,
			Read: func(ctx context.Context, src Source, q Query) (*ActiveOrder, error) {
				return src.LatestInFlightJoined(ctx, q.DriverID, q.Statuses)
			},
		},
		{
			// Join queries can fail under row-level security while the flat query still succeeds.
			Name:     StrategyFlat,
			Degraded: true,
			Read: func(ctx context.Context, src Source, q Query) (*ActiveOrder, error) {
				return src.LatestInFlightFlat(ctx, q.DriverID, q.Statuses)
			},
		},
	}
}

type Reader struct {
	src        Source
	strategies []Strategy
	observe    func(strategy string, found bool, err error)
}

func NewReader(src Source, strategies ...Strategy) *Reader {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Reader{src: src, strategies: strategies}
}

// Observe registers a callback invoked after every strategy attempt.
func (r *Reader) Observe(fn func(strategy string, found bool, err error)) {
	r.observe = fn
}

// Read tries each strategy in turn until one yields an order. It returns (nil, "", nil)
// only when the last strategy that ran completed without error and found nothing.
func (r *Reader) Read(ctx context.Context, q Query) (*ActiveOrder, string, error) {
	var lastErr error
	for _, st := range r.strategies {
		if st.Applies != nil && !st.Applies(q) {
			continue
		}
		o, err := st.Read(ctx, r.src, q)
		if r.observe != nil {
			r.observe(st.Name, o != nil, err)
		}
		if err != nil {
			slog.Warn("order read strategy failed", "strategy", st.Name, "driver_id", q.DriverID, "error", err)
			lastErr = err
			continue
		}
		if o == nil {
			lastErr = nil
			continue
		}
		r.enrich(ctx, o, st.Degraded)
		return o, st.Name, nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("all order read strategies failed: %w", lastErr)
	}
	return nil, "", nil
}

// enrich resolves the item count (and, after a degraded read, the merchant) concurrently.
// Both are best-effort: the order is still returned if either lookup fails.
func (r *Reader) enrich(ctx context.Context, o *ActiveOrder, lookupMerchant bool) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := r.src.CountItems(gctx, []types.ID{o.ID})
		if err != nil {
			slog.Warn("item count unavailable", "order_id", o.ID, "error", err)
			return nil
		}
		o.ItemCount = counts[o.ID]
		return nil
	})
	if lookupMerchant && o.Merchant.ID != "" {
		merchantID := o.Merchant.ID
		g.Go(func() error {
			m, err := r.src.GetMerchant(gctx, merchantID)
			if err != nil {
				slog.Warn("merchant lookup failed on degraded read", "order_id", o.ID, "merchant_id", merchantID, "error", err)
				return nil
			}
			o.Merchant = *m
			return nil
		})
	}
	_ = g.Wait()
}
