// Package metrics Prometheus 指标：模型任务、代理转发、HTTP 请求、图片分析
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaos-io/bgcompare/replicate"
)

const namespace = "bgcompare"

type Metrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	proxyTotal      *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	analysisTotal   *prometheus.CounterVec
	activeRuns      prometheus.Gauge
}

// New 创建一个独立的 registry 并注册所有指标，同时带上 go/process 采集器
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}
	m.initMetrics()

	for _, c := range []prometheus.Collector{
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_jobs_total",
			Help:      "Background removal jobs by model and terminal status",
		},
		[]string{"model", "status"},
	)
	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_job_duration_seconds",
			Help:      "Time from job start to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s ~ 4min
		},
		[]string{"model"},
	)
	m.proxyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Requests forwarded to the Replicate API",
		},
		[]string{"method", "status_code"},
	)
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "path", "status_code"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.analysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Image analysis requests by result",
		},
		[]string{"result"}, // result: ok, creation, failed, timeout, error
	)
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_comparisons",
		Help:      "Comparison runs currently in flight",
	})
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.jobsTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	m.proxyTotal.Describe(ch)
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.analysisTotal.Describe(ch)
	m.activeRuns.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.jobsTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	m.proxyTotal.Collect(ch)
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.analysisTotal.Collect(ch)
	m.activeRuns.Collect(ch)
}

// ObserveJob 实现 rembg.Recorder
func (m *Metrics) ObserveJob(modelID string, status replicate.Status, elapsed time.Duration) {
	m.jobsTotal.WithLabelValues(modelID, string(status)).Inc()
	m.jobDuration.WithLabelValues(modelID).Observe(elapsed.Seconds())
}

// ObserveProxy 实现 proxy.Observer
func (m *Metrics) ObserveProxy(method string, status int) {
	m.proxyTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveRequest path 用路由模板，避免 id 撑爆标签
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAnalysis(result string) {
	m.analysisTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RunStarted()  { m.activeRuns.Inc() }
func (m *Metrics) RunFinished() { m.activeRuns.Dec() }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
