// Package metrics 汇总 FFI 边界上的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 结果标签
const (
	ResultOK              = "ok"
	ResultError           = "error"
	ResultFound           = "found"
	ResultNotFound        = "not_found"
	ResultInvalidHandle   = "invalid_handle"
	ResultInvalidArgument = "invalid_argument"
	ResultTooLarge        = "too_large"
	ResultNoop            = "noop"
	ResultUnknownBuffer   = "unknown_buffer"
	ResultLengthMismatch  = "length_mismatch"
	ResultPanic           = "panic"
)

// Metrics 持有独立的 Registry，不污染全局默认 Registry
type Metrics struct {
	registry *prometheus.Registry

	opens         *prometheus.CounterVec
	closes        *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	frees         *prometheus.CounterVec
	events        *prometheus.CounterVec
	liveHandles   prometheus.Gauge
	outstanding   prometheus.Gauge
	lookupLatency prometheus.Histogram
}

// New 创建并注册所有指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ikv_open_index_total",
			Help: "Total open_index calls by result",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ikv_close_index_total",
			Help: "Total close_index calls by result",
		}, []string{"result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ikv_lookups_total",
			Help: "Total get_field_value calls by result",
		}, []string{"result"}),
		frees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ikv_buffer_frees_total",
			Help: "Total free_bytes_buffer calls by result",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ikv_data_events_total",
			Help: "Total process_data_event calls by result",
		}, []string{"result"}),
		liveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ikv_live_handles",
			Help: "Number of open index handles",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ikv_outstanding_buffers",
			Help: "Number of returned buffers not yet freed",
		}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ikv_lookup_latency_seconds",
			Help:    "Latency of get_field_value",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}

	m.registry.MustRegister(
		m.opens,
		m.closes,
		m.lookups,
		m.frees,
		m.events,
		m.liveHandles,
		m.outstanding,
		m.lookupLatency,
	)
	return m
}

// Registry 返回指标所在的 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OnOpen(result string) {
	m.opens.WithLabelValues(result).Inc()
}

func (m *Metrics) OnClose(result string) {
	m.closes.WithLabelValues(result).Inc()
}

func (m *Metrics) OnLookup(result string, d time.Duration) {
	m.lookups.WithLabelValues(result).Inc()
	m.lookupLatency.Observe(d.Seconds())
}

func (m *Metrics) OnFree(result string) {
	m.frees.WithLabelValues(result).Inc()
}

func (m *Metrics) OnEvent(result string) {
	m.events.WithLabelValues(result).Inc()
}

// SetLiveHandles 更新打开的句柄数
func (m *Metrics) SetLiveHandles(n int) {
	m.liveHandles.Set(float64(n))
}

// SetOutstandingBuffers 更新未释放的缓冲区数
func (m *Metrics) SetOutstandingBuffers(n int) {
	m.outstanding.Set(float64(n))
}
