package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 校验指标
	validations *prometheus.CounterVec
	rejections  *prometheus.CounterVec

	// 流程指标
	flowSteps *prometheus.CounterVec

	// 热更新指标
	reloads *prometheus.CounterVec

	// 当前配置
	extensions prometheus.Gauge
	buttons    prometheus.Gauge
	heartbeat  prometheus.Gauge

	// 推送连接
	wsClients prometheus.Gauge
	wsPushes  prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "sip_core",
		Subsystem: "config",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "validations_total",
			Help:      "sip_config 校验次数（按来源与结果）",
		}, []string{"source", "result"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "validation_errors_total",
			Help:      "校验失败的约束数（按类型）",
		}, []string{"kind"}),
		flowSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "flow_steps_total",
			Help:      "配置流程步骤次数",
		}, []string{"flow", "step", "outcome"}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reloads_total",
			Help:      "覆盖文件热更新次数",
		}, []string{"result"}),
		extensions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "extensions",
			Help:      "当前配置的分机数",
		}),
		buttons: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "buttons",
			Help:      "当前配置的按钮数",
		}),
		heartbeat: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "heartbeat_interval_seconds",
			Help:      "当前心跳间隔（秒）",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_clients",
			Help:      "已连接的 websocket 客户端",
		}),
		wsPushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_pushes_total",
			Help:      "推送给客户端的配置消息数",
		}),
	}
}

// RecordValidation 记录一次校验；kinds 为失败约束的类型
func (m *Monitor) RecordValidation(source string, kinds []string) {
	if len(kinds) == 0 {
		m.validations.WithLabelValues(source, "accepted").Inc()
		return
	}
	m.validations.WithLabelValues(source, "rejected").Inc()
	for _, k := range kinds {
		m.rejections.WithLabelValues(k).Inc()
	}
}

func (m *Monitor) RecordFlowStep(flow, step, outcome string) {
	m.flowSteps.WithLabelValues(flow, step, outcome).Inc()
}

func (m *Monitor) RecordReload(result string) {
	m.reloads.WithLabelValues(result).Inc()
}

// UpdateConfig 更新当前生效配置的概要指标
func (m *Monitor) UpdateConfig(extensions, buttons, heartbeatMs int) {
	m.extensions.Set(float64(extensions))
	m.buttons.Set(float64(buttons))
	m.heartbeat.Set(float64(heartbeatMs) / 1000)
}

func (m *Monitor) RecordWSConnection() {
	m.wsClients.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsClients.Dec()
}

func (m *Monitor) RecordWSPush() {
	m.wsPushes.Inc()
}

// Handler 返回 /metrics 处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
