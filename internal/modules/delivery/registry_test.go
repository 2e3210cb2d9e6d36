package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/modules/location"
	"courier/internal/types"
)

func TestRegistryOpenReusesSession(t *testing.T) {
	b := newBackend(newOrder("o1", 0))
	created := 0
	r := NewRegistry(func(driverID types.ID) *Session {
		created++
		h := newHarness(b, &fakeGateway{backend: b})
		src := location.NewReportedSource(time.Minute)
		return &Session{DriverID: driverID, Controller: h.ctrl, Location: src, Probe: location.NewProbe(src, time.Second)}
	})
	opened, closed := 0, 0
	r.OnChange(func() { opened++ }, func() { closed++ })

	s1 := r.Open("d1")
	s2 := r.Open("d1")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, opened)

	r.Open("d2")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("d1")
	require.True(t, ok)
	assert.Same(t, s1, got)
	_, ok = r.Get("d3")
	assert.False(t, ok)

	assert.True(t, r.Close("d1"))
	assert.False(t, r.Close("d1"))
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCloseBlursController(t *testing.T) {
	b := newBackend(newOrder("o1", 1))
	var h *harness
	r := NewRegistry(func(driverID types.ID) *Session {
		h = newHarness(b, &fakeGateway{backend: b})
		return &Session{DriverID: driverID, Controller: h.ctrl}
	})

	s := r.Open("d1")
	_, err := s.Controller.Focus(context.Background(), nil)
	require.NoError(t, err)
	running, _, _ := h.tracker.state()
	require.Equal(t, types.ID("o1"), running)

	r.CloseAll()

	assert.Zero(t, r.Len())
	running, _, _ = h.tracker.state()
	assert.Empty(t, running)
	_, err = s.Controller.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotFocused)
}

func TestRegistryClosedSessionCannotRefocus(t *testing.T) {
	b := newBackend(newOrder("o1", 1))
	var hs []*harness
	r := NewRegistry(func(driverID types.ID) *Session {
		h := newHarness(b, &fakeGateway{backend: b})
		hs = append(hs, h)
		return &Session{DriverID: driverID, Controller: h.ctrl}
	})

	// A focus request that picked up the session just before a blur closed it.
	s := r.Open("d1")
	r.Close("d1")
	_, err := s.Controller.Focus(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotFocused)

	r.CloseAll()
	running, starts, _ := hs[0].tracker.state()
	assert.Empty(t, running)
	assert.Zero(t, starts)

	// The next focus gets a fresh session that the registry can still reach.
	s2 := r.Open("d1")
	require.NotSame(t, s, s2)
	_, err = s2.Controller.Focus(context.Background(), nil)
	require.NoError(t, err)
	r.CloseAll()
	running, _, _ = hs[1].tracker.state()
	assert.Empty(t, running)
}
