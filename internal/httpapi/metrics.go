package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkaledge/orchestrator/internal/kanban"
)

// metricsSet wires the SPEC_FULL.md-added /metrics endpoint. No teacher
// equivalent exists (the teacher has no metrics surface); grounded on
// hortator-ai-Hortator's use of prometheus/client_golang, the only pack
// repo that exercises it, reused here on a custom registry scoped to this
// package rather than the global default registry.
type metricsSet struct {
	registry      *prometheus.Registry
	tasksByStatus *prometheus.GaugeVec
	eventsTotal   prometheus.Counter
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		registry: reg,
		tasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arkaledge_tasks",
			Help: "Current task count by status.",
		}, []string{"status"}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arkaledge_events_total",
			Help: "Total events published on the bus.",
		}),
	}
	reg.MustRegister(m.tasksByStatus, m.eventsTotal)
	return m
}

func (m *metricsSet) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe updates task-count gauges from a fresh snapshot. Called lazily
// on each /metrics scrape via a wrapping handler would add latency; instead
// the scheduler calls this once per tick so /metrics always reflects the
// last completed tick.
func (m *metricsSet) observe(tasks []kanban.Task) {
	counts := map[kanban.Status]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for _, st := range []kanban.Status{kanban.StatusBacklog, kanban.StatusInProgress, kanban.StatusReview, kanban.StatusDone, kanban.StatusBlocked} {
		m.tasksByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// Observe lets callers outside the package (the scheduler, via Server)
// push a fresh task snapshot into the gauges.
func (s *Server) Observe(tasks []kanban.Task) {
	s.metrics.observe(tasks)
}

// IncEvents increments the events-published counter. The root
// orchestrator's mirrorEvents loop calls it once per event it receives on
// its bus.SubscribeAll channel, so events that channel drops while full are
// not counted.
func (s *Server) IncEvents() {
	s.metrics.eventsTotal.Inc()
}
