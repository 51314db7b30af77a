// Package config 负责加载事务管理器的外部配置
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"plugintx/pkg"
)

// 事务管理器的可配置参数, 通过 toml 键显式映射
type Config struct {
	DefaultTimeoutMS   int64  `toml:"default_timeout_ms"`   // 事务默认超时时长
	DefaultIsolation   string `toml:"default_isolation"`    // 事务默认隔离级别
	MonitorTickMS      int64  `toml:"monitor_tick_ms"`      // 超时监控轮询间隔
	ArchiveRetentionMS int64  `toml:"archive_retention_ms"` // 终态事务保留窗口
	RedisNetwork       string `toml:"redis_network"`        // redis 示例参与者连接参数
	RedisAddress       string `toml:"redis_address"`
	RedisPassword      string `toml:"redis_password"`
}

// 返回带默认值的配置
func New() *Config {
	return &Config{
		DefaultTimeoutMS:   300000,
		DefaultIsolation:   pkg.ReadCommitted.String(),
		MonitorTickMS:      1000,
		ArchiveRetentionMS: 600000,
		RedisNetwork:       "tcp",
		RedisAddress:       "127.0.0.1:6379",
	}
}

// 从指定路径读取 toml 配置并覆盖默认值
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

func (c *Config) Isolation() pkg.IsolationLevel {
	return pkg.ParseIsolationLevel(c.DefaultIsolation)
}

func (c *Config) MonitorTick() time.Duration {
	return time.Duration(c.MonitorTickMS) * time.Millisecond
}

func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionMS) * time.Millisecond
}
