package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了交易机群在启动阶段需要加载的核心配置。
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Markets    []MarketConfig   `yaml:"markets"`
	Allora     AlloraConfig     `yaml:"allora"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Journal    JournalConfig    `yaml:"journal"`
	Reports    ReportConfig     `yaml:"reports"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChainConfig 包含访问链上交易场所所需的 RPC 地址与合约信息。
type ChainConfig struct {
	Network      string `yaml:"network"`
	RPCURL       string `yaml:"rpc_url"`
	VenueAddress string `yaml:"venue_address"`
}

// MarketConfig 描述单个市场及其交易约束。
type MarketConfig struct {
	ID           string         `yaml:"id"`
	MinTradeSize float64        `yaml:"min_trade_size"`
	MaxTradeSize float64        `yaml:"max_trade_size"`
	Risk         RiskParameters `yaml:"risk_parameters"`
}

// RiskParameters 限制单个市场上的风险敞口。
type RiskParameters struct {
	MaxPositionSize float64 `yaml:"max_position_size"`
	MaxSlippage     float64 `yaml:"max_slippage"`
	StopLoss        float64 `yaml:"stop_loss"`
}

// AlloraConfig 用于配置价格预测服务的调用方式。
type AlloraConfig struct {
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	ModelID            string  `yaml:"model_id"`
	MinConfidence      float64 `yaml:"min_confidence"`
	TimeHorizonSeconds int     `yaml:"time_horizon_seconds"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
}

// MonitoringConfig 控制执行循环节奏、资源阈值与熔断策略。
type MonitoringConfig struct {
	UpdateIntervalSeconds    int            `yaml:"update_interval_seconds"`
	MemoryWarningThresholdMB int            `yaml:"memory_warning_threshold_mb"`
	MaxConsecutiveErrors     int            `yaml:"max_consecutive_errors"`
	BackoffBaseSeconds       int            `yaml:"backoff_base_seconds"`
	BackoffCapSeconds        int            `yaml:"backoff_cap_seconds"`
	ShutdownGraceSeconds     int            `yaml:"shutdown_grace_seconds"`
	MinProfitThreshold       float64        `yaml:"min_profit_threshold"`
	MaxActivePositions       int            `yaml:"max_active_positions"`
	RiskManagement           RiskManagement `yaml:"risk_management"`
}

// RiskManagement 约束整个组合层面的交易频率。
type RiskManagement struct {
	PortfolioStopLoss float64 `yaml:"portfolio_stop_loss"`
	MaxDailyTrades    int     `yaml:"max_daily_trades"`
	CooldownSeconds   int     `yaml:"cooldown_seconds"`
}

// JournalConfig 描述订单流水的持久化后端。
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReportConfig 描述错价报告的发布后端。
type ReportConfig struct {
	Driver string            `yaml:"driver"`
	Redis  RedisReportConfig `yaml:"redis"`
}

// RedisReportConfig 描述 Redis 报告通道的连接参数。
type RedisReportConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	AMQP AMQPAlertConfig `yaml:"amqp"`
}

// AMQPAlertConfig 描述 RabbitMQ 告警队列的连接参数。
type AMQPAlertConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// MetricsConfig 控制指标服务的监听地址。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig 控制日志级别与轮转策略。
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	TradeLog   string `yaml:"trade_log"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Chain.Network == "" {
		c.Chain.Network = "mainnet"
	}

	if c.Allora.BaseURL == "" {
		c.Allora.BaseURL = "https://api.allora.com/v1"
	}
	if c.Allora.TimeoutSeconds <= 0 {
		c.Allora.TimeoutSeconds = 30
	}

	if c.Monitoring.UpdateIntervalSeconds <= 0 {
		c.Monitoring.UpdateIntervalSeconds = 60
	}
	if c.Monitoring.MemoryWarningThresholdMB <= 0 {
		c.Monitoring.MemoryWarningThresholdMB = 1000
	}
	if c.Monitoring.MaxConsecutiveErrors <= 0 {
		c.Monitoring.MaxConsecutiveErrors = 5
	}
	if c.Monitoring.BackoffBaseSeconds <= 0 {
		c.Monitoring.BackoffBaseSeconds = 5
	}
	if c.Monitoring.BackoffCapSeconds <= 0 {
		c.Monitoring.BackoffCapSeconds = 300
	}
	if c.Monitoring.ShutdownGraceSeconds <= 0 {
		c.Monitoring.ShutdownGraceSeconds = 30
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Reports.Driver == "" {
		c.Reports.Driver = "memory"
	}
	if c.Reports.Redis.List == "" {
		c.Reports.Redis.List = "tradefleet:reports"
	}
	if c.Alerting.AMQP.Queue == "" {
		c.Alerting.AMQP.Queue = "tradefleet.alerts"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
}

// Validate 校验运行所必需的字段是否齐备。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		return errors.New("chain.rpc_url 不能为空")
	}
	if len(c.Markets) == 0 {
		return errors.New("至少需要配置一个市场")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, market := range c.Markets {
		id := strings.TrimSpace(market.ID)
		if id == "" {
			return errors.New("市场 ID 不能为空")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("市场 %s 重复配置", id)
		}
		seen[id] = struct{}{}
		if market.MinTradeSize < 0 || market.MaxTradeSize < market.MinTradeSize {
			return fmt.Errorf("市场 %s 的下单规模区间非法", id)
		}
	}
	if strings.TrimSpace(c.Allora.APIKey) == "" {
		return errors.New("allora.api_key 不能为空")
	}
	return nil
}

// UpdateInterval 返回执行循环的目标周期。
func (c *MonitoringConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSeconds) * time.Second
}

// BackoffBase 返回退避的基础时长。
func (c *MonitoringConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffCap 返回退避的时长上限。
func (c *MonitoringConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// ShutdownGrace 返回优雅停机的宽限时长。
func (c *MonitoringConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
