package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

var format = logging.MustStringFormatter(
	"%{color}%{level:.4s} %{time:Jan 02 15:04:05.000}%{color:reset} %{module} ▶ %{message}",
)

// Obs backs the Observability port with go-logging for logs and Prometheus
// for metrics. Metrics are registered on the registerer handed in at
// construction, so tests can use throwaway registries.
type Obs struct {
	log      *logging.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// Metric names understood by IncCounter/SetGauge/ObserveLatency.
const (
	MetricSamplesPolled     = "thermal_samples_polled_total"
	MetricClientDisconnects = "thermal_client_disconnects_total"
	MetricSinkWriteFailures = "thermal_sink_write_failures_total"
	MetricConnectedClients  = "thermal_connected_clients"
	MetricDaemonState       = "thermal_daemon_state"
	MetricPollDuration      = "thermal_poll_duration_seconds"
)

func New(component string, reg prometheus.Registerer) *Obs {
	log := logging.MustGetLogger(component)
	backend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), format)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(logging.INFO, "")
	log.SetBackend(leveled)

	polled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSamplesPolled,
		Help: "Total temperature samples polled from the driver.",
	})
	disconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricClientDisconnects,
		Help: "Client connections dropped after a failed send.",
	})
	sinkFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSinkWriteFailures,
		Help: "Sample writes rejected by a configured sink.",
	})
	clients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricConnectedClients,
		Help: "Currently connected TCP clients (0 or 1).",
	})
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricDaemonState,
		Help: "Daemon state machine position.",
	})
	pollLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricPollDuration,
		Help:    "Duration of a single driver temperature request.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	if reg != nil {
		reg.MustRegister(polled, disconnects, sinkFailures, clients, state, pollLatency)
	}

	return &Obs{
		log: log,
		counters: map[string]prometheus.Counter{
			MetricSamplesPolled:     polled,
			MetricClientDisconnects: disconnects,
			MetricSinkWriteFailures: sinkFailures,
		},
		gauges: map[string]prometheus.Gauge{
			MetricConnectedClients: clients,
			MetricDaemonState:      state,
		},
		histos: map[string]prometheus.Observer{
			MetricPollDuration: pollLatency,
		},
	}
}

func (o *Obs) LogDebug(msg string, fields ...ports.Field) {
	o.log.Debugf("%s%s", msg, renderFields(fields))
}

func (o *Obs) LogInfo(msg string, fields ...ports.Field) {
	o.log.Infof("%s%s", msg, renderFields(fields))
}

func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		fields = append(fields, ports.F("error", err))
	}
	o.log.Errorf("%s%s", msg, renderFields(fields))
}

func (o *Obs) IncCounter(name string, v float64) {
	if c, ok := o.counters[name]; ok {
		c.Add(v)
	}
}

func (o *Obs) SetGauge(name string, v float64) {
	if g, ok := o.gauges[name]; ok {
		g.Set(v)
	}
}

func (o *Obs) ObserveLatency(name string, seconds float64) {
	if h, ok := o.histos[name]; ok {
		h.Observe(seconds)
	}
}

func renderFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*Obs)(nil)
