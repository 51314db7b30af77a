package plugintx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"plugintx/config"
	"plugintx/pkg"
)

type Options struct {
	//事务默认超时时长
	Timeout time.Duration
	//事务默认隔离级别
	Isolation pkg.IsolationLevel
	//超时监控轮询间隔, 需要明显小于最小的事务超时
	MonitorTick time.Duration
	//日志
	Logger *zap.Logger
	//指标注册器, 为空则不上报指标
	MetricsRegistry prometheus.Registerer
}

type Option func(opts *Options)

func WithDefaultTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

func WithDefaultIsolation(level pkg.IsolationLevel) Option {
	return func(opts *Options) {
		opts.Isolation = level
	}
}

func WithMonitorTick(tick time.Duration) Option {
	return func(opts *Options) {
		opts.MonitorTick = tick
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(opts *Options) {
		opts.MetricsRegistry = registry
	}
}

// 从外部配置映射管理器参数
func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Timeout = cfg.DefaultTimeout()
		opts.Isolation = cfg.Isolation()
		opts.MonitorTick = cfg.MonitorTick()
	}
}

// 检查option参数是否合法, 非法值修复为默认值
func checkOpt(opts *Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.MonitorTick <= 0 {
		opts.MonitorTick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// 单个事务的额外参数
type TXOptions struct {
	Timeout   time.Duration
	Isolation pkg.IsolationLevel
}

type TXOption func(opts *TXOptions)

func WithTimeout(timeout time.Duration) TXOption {
	return func(opts *TXOptions) {
		opts.Timeout = timeout
	}
}

func WithIsolation(level pkg.IsolationLevel) TXOption {
	return func(opts *TXOptions) {
		opts.Isolation = level
	}
}
