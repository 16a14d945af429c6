// Package metrics 提供发布/广播链路的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 持有所有指标。每个实例使用独立的 Registry，测试里可以放心重复创建。
// 所有记录方法对 nil 接收者安全，组件可以不接指标。
type Metrics struct {
	Registry *prometheus.Registry

	// 发布
	PublishTotal *prometheus.CounterVec

	// 广播
	TransportSendsTotal   *prometheus.CounterVec
	TransportSendDuration *prometheus.HistogramVec

	// 推送流
	ActiveStreams       *prometheus.GaugeVec
	BridgeMessagesTotal *prometheus.CounterVec

	// 轮询
	PollsTotal *prometheus.CounterVec
}

// New 创建并注册所有指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_publish_total",
				Help: "Publish requests by outcome",
			},
			[]string{"outcome"},
		),
		TransportSendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_transport_sends_total",
				Help: "Fan-out sends by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		TransportSendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stagecast_transport_send_duration_seconds",
				Help:    "Duration of fan-out sends in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stagecast_active_streams",
				Help: "Live push connections currently bridged to the relay",
			},
			[]string{"kind"},
		),
		BridgeMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_bridge_messages_total",
				Help: "Relay messages seen by stream bridges by result",
			},
			[]string{"result"},
		),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_polls_total",
				Help: "Poll requests by result",
			},
			[]string{"result"},
		),
	}
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) RecordPublish(outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTransportSend(transport string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TransportSendsTotal.WithLabelValues(transport, outcome).Inc()
	m.TransportSendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

func (m *Metrics) StreamOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamClosed(kind string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(kind).Dec()
}

func (m *Metrics) RecordBridgeMessage(result string) {
	if m == nil {
		return
	}
	m.BridgeMessagesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
}
