package agent

import (
	"log/slog"
	"sync"
	"time"

	"TradeFleet-Chain/internal/config"
)

// BaseAgent 维护单个市场 agent 的交易约束与每日统计。
// 所有方法都是并发安全的，执行循环与每日重置可能来自不同 goroutine。
type BaseAgent struct {
	market     config.MarketConfig
	monitoring config.MonitoringConfig
	logger     *slog.Logger

	mu              sync.Mutex
	lastTradeTime   time.Time
	dailyTrades     int
	activePositions int

	now func() time.Time
}

// NewBaseAgent 创建带交易约束的基础 agent。
func NewBaseAgent(market config.MarketConfig, monitoring config.MonitoringConfig, logger *slog.Logger) *BaseAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseAgent{
		market:     market,
		monitoring: monitoring,
		logger:     logger,
		now:        time.Now,
	}
}

// CanTrade 判断当前是否允许提交新订单。
// 依次检查冷却时间、每日交易上限与活跃仓位上限。
func (a *BaseAgent) CanTrade() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cooldown := time.Duration(a.monitoring.RiskManagement.CooldownSeconds) * time.Second
	if cooldown > 0 && !a.lastTradeTime.IsZero() && a.now().Sub(a.lastTradeTime) < cooldown {
		a.logger.Debug("agent 处于冷却期", "market", a.market.ID)
		return false
	}

	if max := a.monitoring.RiskManagement.MaxDailyTrades; max > 0 && a.dailyTrades >= max {
		a.logger.Debug("达到每日交易上限", "market", a.market.ID, "daily_trades", a.dailyTrades)
		return false
	}

	if max := a.monitoring.MaxActivePositions; max > 0 && a.activePositions >= max {
		a.logger.Debug("达到活跃仓位上限", "market", a.market.ID, "active_positions", a.activePositions)
		return false
	}

	return true
}

// ValidateOrderSize 校验下单规模是否落在市场限制之内。
func (a *BaseAgent) ValidateOrderSize(size, price float64) bool {
	if size < a.market.MinTradeSize {
		a.logger.Warn("下单规模低于市场下限",
			"market", a.market.ID, "size", size, "min", a.market.MinTradeSize)
		return false
	}
	if a.market.MaxTradeSize > 0 && size > a.market.MaxTradeSize {
		a.logger.Warn("下单规模超过市场上限",
			"market", a.market.ID, "size", size, "max", a.market.MaxTradeSize)
		return false
	}
	if max := a.market.Risk.MaxPositionSize; max > 0 && size*price > max {
		a.logger.Warn("下单金额超过最大持仓限制",
			"market", a.market.ID, "notional", size*price, "max", max)
		return false
	}
	return true
}

// UpdateTradeMetrics 在成功下单后更新统计。
func (a *BaseAgent) UpdateTradeMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTradeTime = a.now()
	a.dailyTrades++
	a.activePositions++
}

// OrderClosed 在订单撤销或成交后释放一个活跃仓位。
func (a *BaseAgent) OrderClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activePositions > 0 {
		a.activePositions--
	}
}

// ResetDailyMetrics 在自然日切换时清零每日交易计数。
func (a *BaseAgent) ResetDailyMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dailyTrades = 0
}

// DailyTrades 返回当日交易次数。
func (a *BaseAgent) DailyTrades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyTrades
}

// ActivePositions 返回当前活跃仓位数。
func (a *BaseAgent) ActivePositions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activePositions
}
