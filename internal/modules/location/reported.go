// README: Device-reported location source; the driver app posts permission state and fixes over HTTP.
package location

import (
	"context"
	"sync"
	"time"

	"courier/internal/types"
)

// ReportedSource implements Source from reports pushed by one driver's device.
// A fix counts as fresh while it is younger than maxAge; otherwise CurrentFix
// waits for the next report until its context ends.
type ReportedSource struct {
	maxAge time.Duration
	now    func() time.Time

	mu         sync.Mutex
	permission Permission
	prompted   bool
	last       *Fix
	updated    chan struct{}
}

func NewReportedSource(maxAge time.Duration) *ReportedSource {
	return &ReportedSource{
		maxAge:     maxAge,
		now:        time.Now,
		permission: PermissionUndetermined,
		updated:    make(chan struct{}),
	}
}

func (s *ReportedSource) ReportPermission(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = p
	s.prompted = false
}

func (s *ReportedSource) ReportFix(pt types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A device that sends fixes has evidently been granted access.
	if s.permission == PermissionUndetermined {
		s.permission = PermissionGranted
	}
	s.last = &Fix{Point: pt, At: s.now()}
	close(s.updated)
	s.updated = make(chan struct{})
}

// Prompted reports whether a permission prompt is outstanding on the device.
func (s *ReportedSource) Prompted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompted
}

func (s *ReportedSource) Permission(_ context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

// RequestPermission flags a prompt for the device to show and returns immediately;
// the answer arrives later through ReportPermission.
func (s *ReportedSource) RequestPermission(_ context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission == PermissionUndetermined {
		s.prompted = true
	}
	return s.permission, nil
}

func (s *ReportedSource) CurrentFix(ctx context.Context) (Fix, error) {
	for {
		s.mu.Lock()
		if s.last != nil && s.now().Sub(s.last.At) <= s.maxAge {
			fix := *s.last
			s.mu.Unlock()
			return fix, nil
		}
		wait := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Fix{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *ReportedSource) LastKnownFix(_ context.Context) (Fix, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Fix{}, false, nil
	}
	return *s.last, true, nil
}
