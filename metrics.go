package plugintx

import "github.com/prometheus/client_golang/prometheus"

// 事务指标, 注册器为空时整体为 nil, 各方法自行判空
type txMetrics struct {
	active    prometheus.Gauge
	committed prometheus.Counter
	aborted   prometheus.Counter
	timeout   prometheus.Counter
}

func newTXMetrics(registry prometheus.Registerer) *txMetrics {
	if registry == nil {
		return nil
	}
	m := &txMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plugintx",
			Name:      "transactions_active",
			Help:      "Number of in-flight transactions.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plugintx",
			Name:      "transactions_committed_total",
			Help:      "Total number of committed transactions.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plugintx",
			Name:      "transactions_aborted_total",
			Help:      "Total number of aborted transactions.",
		}),
		timeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plugintx",
			Name:      "transactions_timeout_total",
			Help:      "Total number of timed out transactions.",
		}),
	}
	registry.MustRegister(m.active, m.committed, m.aborted, m.timeout)
	return m
}

func (m *txMetrics) incActive() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *txMetrics) decActive() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *txMetrics) incCommitted() {
	if m == nil {
		return
	}
	m.committed.Inc()
}

func (m *txMetrics) incAborted() {
	if m == nil {
		return
	}
	m.aborted.Inc()
}

func (m *txMetrics) incTimeout() {
	if m == nil {
		return
	}
	m.timeout.Inc()
}
