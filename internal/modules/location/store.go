// README: Driver-position sinks backed by Postgres (latest row), Redis GEO and a fan-out wrapper.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"courier/internal/types"
)

const (
	driverGeoKey        = "courier:drivers:geo"
	driverUpdatedKeyFmt = "courier:driver:%s:location_updated_at"
	// Positions older than this are not worth serving from Redis.
	positionTTL = 10 * time.Minute
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink upserts the latest position into driver_locations, keyed by driver id.
type PGSink struct {
	db execer
}

func NewPGSink(db execer) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Write(ctx context.Context, driverID types.ID, pos Position) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_locations (driver_id, latitude, longitude, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (driver_id) DO UPDATE
        SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = EXCLUDED.updated_at`,
		string(driverID), pos.Point.Lat, pos.Point.Lng, pos.UpdatedAt,
	)
	return err
}

// RedisSink keeps active drivers in a GEO set for proximity lookups by other services.
type RedisSink struct {
	redis *redis.Client
}

func NewRedisSink(redis *redis.Client) *RedisSink {
	return &RedisSink{redis: redis}
}

func (s *RedisSink) Write(ctx context.Context, driverID types.ID, pos Position) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: pos.Point.Lng,
		Latitude:  pos.Point.Lat,
	})
	pipe.Set(ctx, fmt.Sprintf(driverUpdatedKeyFmt, string(driverID)), pos.UpdatedAt.UTC().Format(time.RFC3339), positionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup returns the stored point for a driver, if any.
func (s *RedisSink) Lookup(ctx context.Context, driverID types.ID) (types.Point, bool, error) {
	res, err := s.redis.GeoPos(ctx, driverGeoKey, string(driverID)).Result()
	if err != nil {
		return types.Point{}, false, err
	}
	if len(res) == 0 || res[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: res[0].Latitude, Lng: res[0].Longitude}, true, nil
}

// MultiSink writes to every sink concurrently and joins their errors.
type MultiSink []PositionSink

func (m MultiSink) Write(ctx context.Context, driverID types.ID, pos Position) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range m {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, driverID, pos); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%T: %w", sink, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
