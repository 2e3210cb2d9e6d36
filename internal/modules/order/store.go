// README: Order store backed by PostgreSQL; joined and flat reads plus conditional lifecycle writes.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/types"
)

type Store struct {
	db       *pgxpool.Pool
	currency string
}

func NewStore(db *pgxpool.Pool, currency string) *Store {
	return &Store{db: db, currency: currency}
}

const orderColumns = `
        o.id::text, COALESCE(o.order_number::text, ''), o.driver_id::text, o.status::text,
        o.customer_id::text, o.merchant_id::text,
        COALESCE(o.delivery_address, ''), o.delivery_latitude::float8, o.delivery_longitude::float8,
        COALESCE(o.total, 0)::float8, COALESCE(o.delivery_fee, 0)::float8,
        o.heading_to_merchant_at, o.picked_up_at, o.heading_to_customer_at, o.updated_at`

const joinedColumns = orderColumns + `,
        COALESCE(c.full_name, ''), COALESCE(c.phone, ''),
        COALESCE(m.name, ''), COALESCE(m.address, ''), m.latitude::float8, m.longitude::float8`

const joinedFrom = `
        FROM orders o
        LEFT JOIN profiles c ON c.id = o.customer_id
        LEFT JOIN merchants m ON m.id = o.merchant_id`

// GetJoined looks the order up by id, scoped to the driver and the given statuses.
func (s *Store) GetJoined(ctx context.Context, id, driverID types.ID, statuses []Status) (*ActiveOrder, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+joinedColumns+joinedFrom+`
        WHERE o.id = $1 AND o.driver_id = $2 AND o.status::text = ANY($3)`,
		string(id), string(driverID), statusStrings(statuses),
	)
	return s.scanJoined(row)
}

// LatestInFlightJoined returns the driver's most recently updated in-flight order.
func (s *Store) LatestInFlightJoined(ctx context.Context, driverID types.ID, statuses []Status) (*ActiveOrder, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+joinedColumns+joinedFrom+`
        WHERE o.driver_id = $1 AND o.status::text = ANY($2)
        ORDER BY o.updated_at DESC
        LIMIT 1`,
		string(driverID), statusStrings(statuses),
	)
	return s.scanJoined(row)
}

// LatestInFlightFlat is the degraded read: no joins, merchant resolved separately.
func (s *Store) LatestInFlightFlat(ctx context.Context, driverID types.ID, statuses []Status) (*ActiveOrder, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+orderColumns+`
        FROM orders o
        WHERE o.driver_id = $1 AND o.status::text = ANY($2)
        ORDER BY o.updated_at DESC
        LIMIT 1`,
		string(driverID), statusStrings(statuses),
	)
	o, err := s.scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (s *Store) GetMerchant(ctx context.Context, id types.ID) (*Merchant, error) {
	var m Merchant
	var lat, lng *float64
	err := s.db.QueryRow(ctx, `
        SELECT id::text, COALESCE(name, ''), COALESCE(address, ''), latitude::float8, longitude::float8
        FROM merchants
        WHERE id = $1`, string(id),
	).Scan(&m.ID, &m.Name, &m.Address, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Location = toPoint(lat, lng)
	return &m, nil
}

// CountItems calls the counting procedure instead of joining line items.
func (s *Store) CountItems(ctx context.Context, ids []types.ID) (map[types.ID]int, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT order_id::text, item_count::int FROM count_order_items($1::uuid[])`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.ID]int, len(ids))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[types.ID(id)] = n
	}
	return counts, rows.Err()
}

// Status is the pre-check read; it is not scoped to in-flight statuses.
func (s *Store) Status(ctx context.Context, id types.ID) (Status, error) {
	var st Status
	err := s.db.QueryRow(ctx, `SELECT status::text FROM orders WHERE id = $1`, string(id)).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return st, err
}

func (s *Store) MarkHeadingToMerchant(ctx context.Context, id, driverID types.ID) error {
	return s.execStep(ctx, `
        UPDATE orders
        SET heading_to_merchant_at = NOW(), updated_at = NOW()
        WHERE id = $1 AND driver_id = $2
          AND status NOT IN ('delivered', 'cancelled')
          AND heading_to_merchant_at IS NULL`, id, driverID)
}

func (s *Store) MarkPickedUp(ctx context.Context, id, driverID types.ID) error {
	return s.execStep(ctx, `
        UPDATE orders
        SET picked_up_at = NOW(), status = 'picked_up', updated_at = NOW()
        WHERE id = $1 AND driver_id = $2
          AND status NOT IN ('delivered', 'cancelled')
          AND heading_to_merchant_at IS NOT NULL
          AND picked_up_at IS NULL`, id, driverID)
}

func (s *Store) MarkHeadingToCustomer(ctx context.Context, id, driverID types.ID) error {
	return s.execStep(ctx, `
        UPDATE orders
        SET heading_to_customer_at = NOW(), status = 'on_the_way', updated_at = NOW()
        WHERE id = $1 AND driver_id = $2
          AND status NOT IN ('delivered', 'cancelled')
          AND picked_up_at IS NOT NULL
          AND heading_to_customer_at IS NULL`, id, driverID)
}

// MarkDeliveredIfNot reports whether this call changed the status.
func (s *Store) MarkDeliveredIfNot(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE orders
        SET status = 'delivered', updated_at = NOW()
        WHERE id = $1 AND status <> 'delivered'`, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) execStep(ctx context.Context, sql string, id, driverID types.ID) error {
	tag, err := s.db.Exec(ctx, sql, string(id), string(driverID))
	if err != nil {
		return fmt.Errorf("write step for order %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStepConflict
	}
	return nil
}

func (s *Store) scanJoined(row pgx.Row) (*ActiveOrder, error) {
	var o ActiveOrder
	var buf scanBuf
	var merchantLat, merchantLng *float64
	dest := append(buf.targets(&o),
		&o.Customer.Name, &o.Customer.Phone,
		&o.Merchant.Name, &o.Merchant.Address, &merchantLat, &merchantLng,
	)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	buf.apply(&o, s.currency)
	o.Merchant.Location = toPoint(merchantLat, merchantLng)
	return &o, nil
}

func (s *Store) scanOrder(row pgx.Row) (*ActiveOrder, error) {
	var o ActiveOrder
	var buf scanBuf
	if err := row.Scan(buf.targets(&o)...); err != nil {
		return nil, err
	}
	buf.apply(&o, s.currency)
	return &o, nil
}

// scanBuf holds the nullable columns that need converting after Scan.
type scanBuf struct {
	driverID, customerID, merchantID *string
	deliveryLat, deliveryLng         *float64
	updatedAt                        *time.Time
}

func (b *scanBuf) targets(o *ActiveOrder) []any {
	return []any{
		&o.ID, &o.Number, &b.driverID, &o.Status,
		&b.customerID, &b.merchantID,
		&o.DeliveryAddress, &b.deliveryLat, &b.deliveryLng,
		&o.Total.Amount, &o.DeliveryFee.Amount,
		&o.Timeline.HeadingToMerchantAt, &o.Timeline.PickedUpAt, &o.Timeline.HeadingToCustomerAt,
		&b.updatedAt,
	}
}

func (b *scanBuf) apply(o *ActiveOrder, currency string) {
	if b.driverID != nil {
		o.DriverID = types.ID(*b.driverID)
	}
	if b.customerID != nil {
		o.Customer.ID = types.ID(*b.customerID)
	}
	if b.merchantID != nil {
		o.Merchant.ID = types.ID(*b.merchantID)
	}
	if b.updatedAt != nil {
		o.UpdatedAt = *b.updatedAt
	}
	o.DeliveryLocation = toPoint(b.deliveryLat, b.deliveryLng)
	o.Total.Currency = currency
	o.DeliveryFee.Currency = currency
}

func toPoint(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
