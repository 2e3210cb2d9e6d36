// README: Location permission state, device fixes and the persisted driver position.
package location

import (
	"time"

	"courier/internal/types"
)

type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// ParsePermission maps a device-reported state onto a Permission.
func ParsePermission(v string) (Permission, bool) {
	switch Permission(v) {
	case PermissionGranted, PermissionDenied, PermissionUndetermined:
		return Permission(v), true
	}
	return "", false
}

// Fix is a single device position reading.
type Fix struct {
	Point types.Point
	At    time.Time
}

// Position is what gets written to the driver-position sinks.
type Position struct {
	Point     types.Point `json:"point"`
	UpdatedAt time.Time   `json:"updated_at"`
}
