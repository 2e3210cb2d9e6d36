package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Transition("picked_up", "ok")
	r.Transition("picked_up", "ok")
	r.Settlement("complete", "rejected")
	r.Probe("no_fix")
	r.Read("in_flight_joined", false, errors.New("rls"))
	r.Read("in_flight_flat", true, nil)
	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitionsTotal.WithLabelValues("picked_up", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.settlementsTotal.WithLabelValues("complete", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probesTotal.WithLabelValues("no_fix")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.readsTotal.WithLabelValues("in_flight_joined", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.readsTotal.WithLabelValues("in_flight_flat", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeSessions))
}
