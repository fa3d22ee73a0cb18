package analysis

import (
	"math"
	"time"

	"TradeFleet-Chain/internal/allora"
	"TradeFleet-Chain/internal/exchange"

	"github.com/google/uuid"
)

const (
	defaultEdgeThreshold = 0.005
	defaultMinConfidence = 0.5
)

// Opportunity 描述一次模型价格与盘口价格之间的错价机会。
type Opportunity struct {
	ID             string    `json:"id"`
	MarketID       string    `json:"market_id"`
	Side           string    `json:"side"`
	MarketPrice    float64   `json:"market_price"`
	PredictedPrice float64   `json:"predicted_price"`
	Confidence     float64   `json:"confidence"`
	Edge           float64   `json:"edge"`
	Spread         float64   `json:"spread"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Analyzer 对比市场快照与预测价格，识别值得交易的错价。
type Analyzer struct {
	edgeThreshold float64
	minConfidence float64
}

// Option 用于定制分析器参数。
type Option func(*Analyzer)

// WithEdgeThreshold 设定触发信号所需的最小相对偏差。
func WithEdgeThreshold(threshold float64) Option {
	return func(a *Analyzer) {
		if threshold > 0 {
			a.edgeThreshold = threshold
		}
	}
}

// WithMinConfidence 设定采信预测所需的最低置信度。
func WithMinConfidence(confidence float64) Option {
	return func(a *Analyzer) {
		if confidence > 0 {
			a.minConfidence = confidence
		}
	}
}

// NewAnalyzer 创建错价分析器。
func NewAnalyzer(opts ...Option) *Analyzer {
	analyzer := &Analyzer{
		edgeThreshold: defaultEdgeThreshold,
		minConfidence: defaultMinConfidence,
	}
	for _, opt := range opts {
		opt(analyzer)
	}
	return analyzer
}

// Evaluate 判断预测价格相对盘口中间价是否存在可交易的错价。
// 预测价格显著高于中间价时给出买入信号，显著低于时给出卖出信号；
// 偏差不足或置信度过低时返回 nil。
func (a *Analyzer) Evaluate(snapshot exchange.MarketSnapshot, prediction *allora.Prediction) *Opportunity {
	if prediction == nil {
		return nil
	}

	mid := snapshot.MidPrice()
	if mid <= 0 || prediction.Price <= 0 {
		return nil
	}
	if prediction.Confidence < a.minConfidence {
		return nil
	}

	edge := (prediction.Price - mid) / mid
	if math.Abs(edge) < a.edgeThreshold {
		return nil
	}

	side := string(exchange.SideBuy)
	if edge < 0 {
		side = string(exchange.SideSell)
	}

	return &Opportunity{
		ID:             uuid.NewString(),
		MarketID:       snapshot.MarketID,
		Side:           side,
		MarketPrice:    mid,
		PredictedPrice: prediction.Price,
		Confidence:     prediction.Confidence,
		Edge:           edge,
		Spread:         snapshot.Spread(),
		ObservedAt:     snapshot.ObservedAt,
	}
}
