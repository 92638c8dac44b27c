package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/roffe/canecho"
)

// Metrics mirrors the health report into Prometheus gauges. Values are
// updated when a report is emitted, so they lag by at most one interval.
type Metrics struct {
	counters *prometheus.GaugeVec
	state    prometheus.Gauge
	queued   *prometheus.GaugeVec
	errors   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		counters: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canecho",
			Name:      "node_events",
			Help:      "Node counters since start, by counter name.",
		}, []string{"counter"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "canecho",
			Name:      "bus_state",
			Help:      "Driver bus state: 0 stopped, 1 running, 2 bus-off, 3 recovering.",
		}),
		queued: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canecho",
			Name:      "queued_frames",
			Help:      "Frames waiting in the driver queues.",
		}, []string{"direction"}),
		errors: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canecho",
			Name:      "error_counter",
			Help:      "Controller error counters.",
		}, []string{"counter"}),
	}
}

func (m *Metrics) Publish(c Counters, st canecho.StatusInfo, stOK bool) {
	m.counters.WithLabelValues("rx").Set(float64(c.Received))
	m.counters.WithLabelValues("tx").Set(float64(c.Transmitted))
	m.counters.WithLabelValues("ack").Set(float64(c.Acknowledged))
	m.counters.WithLabelValues("tx_fail").Set(float64(c.TxFailed))
	m.counters.WithLabelValues("bus_err").Set(float64(c.BusErrors))
	m.counters.WithLabelValues("bus_off").Set(float64(c.BusOff))
	if !stOK {
		return
	}
	m.state.Set(float64(st.State))
	m.queued.WithLabelValues("tx").Set(float64(st.MsgsToTx))
	m.queued.WithLabelValues("rx").Set(float64(st.MsgsToRx))
	m.errors.WithLabelValues("tec").Set(float64(st.TxErrorCounter))
	m.errors.WithLabelValues("rec").Set(float64(st.RxErrorCounter))
	m.errors.WithLabelValues("tx_failed").Set(float64(st.TxFailedCount))
	m.errors.WithLabelValues("bus_error").Set(float64(st.BusErrorCount))
	m.errors.WithLabelValues("rx_missed").Set(float64(st.RxMissedCount))
	m.errors.WithLabelValues("arb_lost").Set(float64(st.ArbLostCount))
}
