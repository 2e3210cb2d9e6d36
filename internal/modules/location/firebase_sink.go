// README: Realtime Database mirror of the driver position, read by the customer app.
package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"

	"courier/internal/types"
)

const rtdbDriverLocations = "driver_locations"

// rtdbDriverEntry mirrors a driver entry under /driver_locations.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

type FirebaseSink struct {
	client *db.Client
}

func NewFirebaseSink(client *db.Client) *FirebaseSink {
	return &FirebaseSink{client: client}
}

func (s *FirebaseSink) Write(ctx context.Context, driverID types.ID, pos Position) error {
	ref := s.client.NewRef(rtdbDriverLocations).Child(string(driverID))
	entry := rtdbDriverEntry{
		Lat:       pos.Point.Lat,
		Lng:       pos.Point.Lng,
		Status:    "delivering",
		Timestamp: pos.UpdatedAt.UnixMilli(),
	}
	if err := ref.Set(ctx, entry); err != nil {
		return fmt.Errorf("rtdb set %s/%s: %w", rtdbDriverLocations, driverID, err)
	}
	return nil
}
