// README: Opener backed by the URL schemes a remote client says it can launch.
package navigation

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// SchemeOpener answers CanOpen from a client-declared scheme list and records
// the opened URL so it can be returned to the client for launching.
type SchemeOpener struct {
	schemes map[string]bool

	mu     sync.Mutex
	opened string
}

func NewSchemeOpener(schemes []string) *SchemeOpener {
	set := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), ":"))
		if s != "" {
			set[s] = true
		}
	}
	return &SchemeOpener{schemes: set}
}

func (o *SchemeOpener) CanOpen(_ context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	return o.schemes[strings.ToLower(u.Scheme)], nil
}

func (o *SchemeOpener) Open(_ context.Context, rawURL string) error {
	o.mu.Lock()
	o.opened = rawURL
	o.mu.Unlock()
	return nil
}

// Opened returns the last URL handed to Open.
func (o *SchemeOpener) Opened() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}
