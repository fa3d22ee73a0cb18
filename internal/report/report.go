package report

import (
	"context"
	"time"

	"TradeFleet-Chain/internal/analysis"
)

// Report 是 agent 每个周期产出的结构化结果，供下游系统消费。
type Report struct {
	ID          string                `json:"id"`
	AgentName   string                `json:"agent_name"`
	MarketID    string                `json:"market_id"`
	MidPrice    float64               `json:"mid_price"`
	Prediction  float64               `json:"prediction"`
	Confidence  float64               `json:"confidence"`
	Opportunity *analysis.Opportunity `json:"opportunity,omitempty"`
	OrderID     string                `json:"order_id,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Sink 将周期报告投递到下游存储或消息通道。
type Sink interface {
	Publish(ctx context.Context, report *Report) error
	Close() error
}
