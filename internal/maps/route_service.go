package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   *maps.Client
	language string
	region   string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, language, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: language, region: region}, nil
}

// GetTravelEstimate returns the duration and distance string for a trip from origin to destination.
// Both accept "lat,lng" or a free-text address. It assumes driving mode.
func (s *RouteService) GetTravelEstimate(ctx context.Context, origin, destination string) (time.Duration, string, error) {
	r := &maps.DirectionsRequest{
		Origin:        origin,
		Destination:   destination,
		Mode:          maps.TravelModeDriving,
		Language:      s.language,
		Region:        s.region,
		DepartureTime: "now",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, "", fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, "", fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	if leg.DurationInTraffic > 0 {
		return leg.DurationInTraffic, leg.Distance.HumanReadable, nil
	}
	return leg.Duration, leg.Distance.HumanReadable, nil
}
