// README: Location probe; one-time permission negotiation and fresh-fix with last-known fallback.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courier/internal/types"
)

var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrPermissionPending = errors.New("location permission not yet decided")
	ErrNoFix             = errors.New("no location fix available")
)

// DefaultSettingsURL opens the app's page in the system settings.
const DefaultSettingsURL = "app-settings:"

// PermissionDeniedError carries the deep link the driver can follow to grant access.
type PermissionDeniedError struct {
	SettingsURL string
}

func (e *PermissionDeniedError) Error() string {
	return ErrPermissionDenied.Error()
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// Source is the device geolocation surface.
type Source interface {
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentFix(ctx context.Context) (Fix, error)
	LastKnownFix(ctx context.Context) (Fix, bool, error)
}

type Probe struct {
	src         Source
	fixTimeout  time.Duration
	settingsURL string

	mu      sync.Mutex
	decided Permission
}

func NewProbe(src Source, fixTimeout time.Duration) *Probe {
	return &Probe{src: src, fixTimeout: fixTimeout, settingsURL: DefaultSettingsURL}
}

// EnsurePermission negotiates access once. A granted or denied answer is remembered;
// an undecided prompt is not, so the next call asks again.
func (p *Probe) EnsurePermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.decided == "" {
		perm, err := p.src.Permission(ctx)
		if err != nil {
			return "", fmt.Errorf("query location permission: %w", err)
		}
		if perm == PermissionUndetermined {
			perm, err = p.src.RequestPermission(ctx)
			if err != nil {
				return "", fmt.Errorf("request location permission: %w", err)
			}
		}
		if perm == PermissionUndetermined {
			return perm, ErrPermissionPending
		}
		p.decided = perm
	}
	if p.decided == PermissionDenied {
		return p.decided, &PermissionDeniedError{SettingsURL: p.settingsURL}
	}
	return p.decided, nil
}

// Forget drops the remembered decision, e.g. after the driver changed it in settings.
func (p *Probe) Forget() {
	p.mu.Lock()
	p.decided = ""
	p.mu.Unlock()
}

// Fix requests a fresh reading bounded by the fix timeout and falls back to the last known one.
func (p *Probe) Fix(ctx context.Context) (types.Point, error) {
	fixCtx, cancel := context.WithTimeout(ctx, p.fixTimeout)
	fix, err := p.src.CurrentFix(fixCtx)
	cancel()
	if err == nil {
		return fix.Point, nil
	}
	if ctx.Err() != nil {
		return types.Point{}, ctx.Err()
	}

	last, ok, lastErr := p.src.LastKnownFix(ctx)
	if lastErr == nil && ok {
		return last.Point, nil
	}
	return types.Point{}, fmt.Errorf("%w: fresh fix: %v", ErrNoFix, err)
}
