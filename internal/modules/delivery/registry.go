// README: Per-driver session registry; sessions are created on focus and torn down on blur or shutdown.
package delivery

import (
	"sync"

	"courier/internal/modules/location"
	"courier/internal/types"
)

// Session bundles a driver's controller with the location source their device reports into.
type Session struct {
	DriverID   types.ID
	Controller *Controller
	Location   *location.ReportedSource
	Probe      *location.Probe
}

type SessionFactory func(driverID types.ID) *Session

type Registry struct {
	factory SessionFactory

	mu       sync.Mutex
	sessions map[types.ID]*Session
	onOpen   func()
	onClose  func()
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{factory: factory, sessions: make(map[types.ID]*Session)}
}

// OnChange registers callbacks fired when a session is opened or closed.
func (r *Registry) OnChange(opened, closed func()) {
	r.onOpen = opened
	r.onClose = closed
}

// Open returns the driver's session, creating it on first use.
func (r *Registry) Open(driverID types.ID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok {
		return s
	}
	s := r.factory(driverID)
	r.sessions[driverID] = s
	if r.onOpen != nil {
		r.onOpen()
	}
	return s
}

func (r *Registry) Get(driverID types.ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[driverID]
	return s, ok
}

// Close closes and forgets the driver's session. It reports whether one existed.
// A closed session cannot be focused again; the next Open builds a fresh one.
func (r *Registry) Close(driverID types.ID) bool {
	r.mu.Lock()
	s, ok := r.sessions[driverID]
	delete(r.sessions, driverID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Controller.Close()
	if r.onClose != nil {
		r.onClose()
	}
	return true
}

// CloseAll blurs every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]types.ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
