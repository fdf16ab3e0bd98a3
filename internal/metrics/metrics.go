package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mockdriver/internal/rules"
)

// Metrics 引擎与拦截器指标，每个实例持有独立的 registry
type Metrics struct {
	registry *prometheus.Registry

	Compilations *prometheus.CounterVec
	Installs     *prometheus.CounterVec
	Injections   *prometheus.CounterVec
	Correlations prometheus.Counter
	CacheSize    prometheus.Gauge
	Paused       *prometheus.CounterVec
	Active       prometheus.Gauge
}

// New 创建并注册指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Compilations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mockdriver_compilations_total",
			Help: "Rule set compilations by strategy and resulting state",
		}, []string{"mode", "state"}),
		Installs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mockdriver_rule_installs_total",
			Help: "Rule set replacements by outcome",
		}, []string{"result"}),
		Injections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mockdriver_injections_total",
			Help: "Requests that received injected headers",
		}, []string{"mode"}),
		Correlations: f.NewCounter(prometheus.CounterOpts{
			Name: "mockdriver_correlations_total",
			Help: "Request bodies correlated to a GraphQL operation",
		}),
		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "mockdriver_correlation_cache_entries",
			Help: "Live entries in the correlation cache",
		}),
		Paused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mockdriver_paused_requests_total",
			Help: "Paused requests by handling outcome",
		}, []string{"outcome"}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Name: "mockdriver_injection_active",
			Help: "1 when the current rule set is ACTIVE",
		}),
	}
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Compiled 实现 rules.Observer
func (m *Metrics) Compiled(mode rules.Mode, state rules.State) {
	m.Compilations.WithLabelValues(string(mode), state.String()).Inc()
}

// Applied 实现 rules.Observer，注入开关只反映已生效的规则集
func (m *Metrics) Applied(state rules.State) {
	if state == rules.StateActive {
		m.Active.Set(1)
	} else {
		m.Active.Set(0)
	}
}

// Installed 实现 rules.Observer
func (m *Metrics) Installed(_ int, err error) {
	if err != nil {
		m.Installs.WithLabelValues("error").Inc()
		return
	}
	m.Installs.WithLabelValues("ok").Inc()
}

// Injected 实现 rules.Observer
func (m *Metrics) Injected(mode rules.Mode) {
	m.Injections.WithLabelValues(string(mode)).Inc()
}

// Correlated 实现 rules.Observer
func (m *Metrics) Correlated() { m.Correlations.Inc() }

// ObserveCacheSize 作为 correlate.WithSizeObserver 的回调
func (m *Metrics) ObserveCacheSize(size int) { m.CacheSize.Set(float64(size)) }

// PausedRequest 记录一次暂停请求的处理结果
func (m *Metrics) PausedRequest(outcome string) {
	m.Paused.WithLabelValues(outcome).Inc()
}
