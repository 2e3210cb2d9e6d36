// README: Common value objects shared across modules.
package types

import "fmt"

// ID is an opaque identifier assigned by the backing store.
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// String renders the point as "lat,lng", the form map APIs accept.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Money is an amount in the order's currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}
