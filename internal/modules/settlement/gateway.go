// README: Settlement gateway; typed wrapper over the remote completion and cancellation procedures.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"courier/internal/types"
)

var (
	// ErrUnavailable means the call never reached a verdict: connectivity, timeout or cancellation.
	ErrUnavailable = errors.New("settlement service unavailable")
	// ErrRetryConflict is reported by the remote side when a repeated or concurrent call was refused.
	ErrRetryConflict = errors.New("settlement retry conflict")
	ErrProcedure     = errors.New("settlement procedure failed")
)

// Outcome is the normalized result of every settlement or cancellation call.
type Outcome struct {
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	Settled   *float64 `json:"settled,omitempty"`
	Remaining *float64 `json:"remaining,omitempty"`
}

type Gateway interface {
	Complete(ctx context.Context, orderID types.ID) (Outcome, error)
	Cancel(ctx context.Context, orderID types.ID, reason string) (Outcome, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGGateway calls the settlement procedures over a pgx connection pool on behalf of
// one driver; the procedures refuse orders assigned to anyone else.
type PGGateway struct {
	db       querier
	driverID types.ID
}

func NewPGGateway(db querier, driverID types.ID) *PGGateway {
	return &PGGateway{db: db, driverID: driverID}
}

const (
	completeSQL = `
        SELECT ok, COALESCE(message, ''), settled::float8, remaining::float8
        FROM complete_order_delivery($1::uuid, $2)`
	cancelSQL = `
        SELECT ok, COALESCE(message, '')
        FROM driver_cancel_order($1::uuid, $2, $3)`
)

func (g *PGGateway) Complete(ctx context.Context, orderID types.ID) (Outcome, error) {
	var out Outcome
	err := g.db.QueryRow(ctx, completeSQL, string(orderID), string(g.driverID)).Scan(&out.OK, &out.Message, &out.Settled, &out.Remaining)
	if err != nil {
		return Outcome{}, classify("complete", orderID, err)
	}
	return normalize(out, "delivery could not be completed"), nil
}

func (g *PGGateway) Cancel(ctx context.Context, orderID types.ID, reason string) (Outcome, error) {
	var out Outcome
	err := g.db.QueryRow(ctx, cancelSQL, string(orderID), string(g.driverID), reason).Scan(&out.OK, &out.Message)
	if err != nil {
		return Outcome{}, classify("cancel", orderID, err)
	}
	return normalize(out, "order could not be cancelled"), nil
}

// normalize guarantees a rejection always carries a message for the driver.
func normalize(out Outcome, fallback string) Outcome {
	out.Message = strings.TrimSpace(out.Message)
	if !out.OK && out.Message == "" {
		out.Message = fallback
	}
	return out
}

// retryConflictCodes are SQLSTATEs the procedures raise when a call overlaps or repeats another.
var retryConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"23505": true, // unique_violation
}

func classify(op string, orderID types.ID, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%s order %s: %w: %v", op, orderID, ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case retryConflictCodes[pgErr.Code]:
			return fmt.Errorf("%s order %s: %w: %s", op, orderID, ErrRetryConflict, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("%s order %s: %w: %s", op, orderID, ErrUnavailable, pgErr.Message)
		default:
			return fmt.Errorf("%s order %s: %w: %s", op, orderID, ErrProcedure, pgErr.Message)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s order %s: %w: no result row", op, orderID, ErrProcedure)
	}
	// Anything else never produced a server verdict (dial, reset, pool closed).
	return fmt.Errorf("%s order %s: %w: %v", op, orderID, ErrUnavailable, err)
}
