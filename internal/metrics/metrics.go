// Package metrics exposes supervisor counters and gauges for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const namespace = "autowatch"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	restarts    *prometheus.CounterVec
	up          *prometheus.GaugeVec
	issues      *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	pulls       *prometheus.CounterVec
	ticks       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_restarts_total",
			Help:      "Script starts after the first one, by project and reason",
		}, []string{"project", "reason"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "script_up",
			Help:      "Whether the project script is running (1) or not (0)",
		}, []string{"project"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents recorded, by project and kind",
		}, []string{"project", "kind"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "git_fetch_errors_total",
			Help:      "Failed remote checks, by repository path",
		}, []string{"repo"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "git_pulls_total",
			Help:      "Pulls of new commits, by repository path and result",
		}, []string{"repo", "result"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed supervisor ticks",
		}),
	}

	m.registry.MustRegister(
		m.restarts, m.up, m.issues, m.fetchErrors, m.pulls, m.ticks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Host memory in use, percent",
		}, hostMemory),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_used_percent",
			Help:      "Host CPU usage since the previous scrape, percent",
		}, hostCPU),
	)
	return m
}

func hostMemory() float64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.UsedPercent
}

func hostCPU() float64 {
	p, err := cpu.Percent(0, false)
	if err != nil || len(p) == 0 {
		return 0
	}
	return p[0]
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Restarted(project, reason string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(project, reason).Inc()
}

func (m *Metrics) SetUp(project string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.up.WithLabelValues(project).Set(v)
}

func (m *Metrics) Incident(project, kind string) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues(project, kind).Inc()
}

func (m *Metrics) FetchFailed(repo string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(repo).Inc()
}

func (m *Metrics) Pulled(repo string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.pulls.WithLabelValues(repo, result).Inc()
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}
