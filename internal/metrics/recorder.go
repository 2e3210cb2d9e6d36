// README: Prometheus recorder for lifecycle transitions, settlements, location probes and order reads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	transitionsTotal *prometheus.CounterVec
	settlementsTotal *prometheus.CounterVec
	probesTotal      *prometheus.CounterVec
	readsTotal       *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_step_transitions_total",
				Help: "Delivery step transitions by target step and result",
			},
			[]string{"step", "result"},
		),
		settlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_settlement_calls_total",
				Help: "Completion and cancellation calls by result",
			},
			[]string{"kind", "result"},
		),
		probesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_location_probes_total",
				Help: "Location probe cycles by result",
			},
			[]string{"result"},
		),
		readsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_order_reads_total",
				Help: "Active order read attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "courier_driver_sessions",
			Help: "Driver sessions currently open",
		}),
	}
}

func (r *Recorder) Transition(step, result string) {
	r.transitionsTotal.WithLabelValues(step, result).Inc()
}

func (r *Recorder) Settlement(kind, result string) {
	r.settlementsTotal.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Probe(result string) {
	r.probesTotal.WithLabelValues(result).Inc()
}

// Read matches the order reader's observer signature.
func (r *Recorder) Read(strategy string, found bool, err error) {
	outcome := "empty"
	switch {
	case err != nil:
		outcome = "error"
	case found:
		outcome = "found"
	}
	r.readsTotal.WithLabelValues(strategy, outcome).Inc()
}

func (r *Recorder) SessionOpened() { r.activeSessions.Inc() }
func (r *Recorder) SessionClosed() { r.activeSessions.Dec() }
