package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"TradeFleet-Chain/internal/allora"
	"TradeFleet-Chain/internal/analysis"
	"TradeFleet-Chain/internal/config"
	xerrors "TradeFleet-Chain/internal/errors"
	"TradeFleet-Chain/internal/exchange"
	"TradeFleet-Chain/internal/journal"
	"TradeFleet-Chain/internal/report"

	"github.com/google/uuid"
)

const defaultHistoryWindow = time.Hour

// Predictor 抽象价格预测服务，便于在测试中替换。
type Predictor interface {
	PredictPrice(ctx context.Context, modelID string, history []allora.Candle, conditions allora.MarketConditions) (*allora.Prediction, error)
}

// Params 汇总构建市场 agent 所需的依赖。
type Params struct {
	Market      config.MarketConfig
	Monitoring  config.MonitoringConfig
	Allora      config.AlloraConfig
	Venue       exchange.Client
	Predictor   Predictor
	Analyzer    *analysis.Analyzer
	Journal     journal.Store
	Reports     report.Sink
	Logger      *slog.Logger
	TradeLogger *slog.Logger
}

// MarketAgent 负责单个市场的完整交易周期：
// 读取盘口、请求预测、识别错价，并在约束允许时提交订单。
type MarketAgent struct {
	*BaseAgent

	name        string
	market      config.MarketConfig
	modelID     string
	window      time.Duration
	venue       exchange.Client
	predictor   Predictor
	analyzer    *analysis.Analyzer
	journal     journal.Store
	reports     report.Sink
	logger      *slog.Logger
	tradeLogger *slog.Logger
}

// NewMarketAgent 创建市场 agent。
func NewMarketAgent(params Params) (*MarketAgent, error) {
	if strings.TrimSpace(params.Market.ID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "市场 ID 不能为空")
	}
	if params.Venue == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供交易所客户端")
	}
	if params.Predictor == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供预测客户端")
	}
	if params.Journal == nil {
		params.Journal = journal.NewMemoryStore()
	}
	if params.Reports == nil {
		params.Reports = report.NewMemorySink()
	}
	if params.Analyzer == nil {
		opts := make([]analysis.Option, 0, 2)
		if params.Monitoring.MinProfitThreshold > 0 {
			opts = append(opts, analysis.WithEdgeThreshold(params.Monitoring.MinProfitThreshold))
		}
		if params.Allora.MinConfidence > 0 {
			opts = append(opts, analysis.WithMinConfidence(params.Allora.MinConfidence))
		}
		params.Analyzer = analysis.NewAnalyzer(opts...)
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tradeLogger := params.TradeLogger
	if tradeLogger == nil {
		tradeLogger = logger
	}

	window := defaultHistoryWindow
	if params.Allora.TimeHorizonSeconds > 0 {
		window = time.Duration(params.Allora.TimeHorizonSeconds) * time.Second
	}

	name := "agent-" + strings.ToLower(strings.NewReplacer("/", "-", " ", "").Replace(params.Market.ID))

	return &MarketAgent{
		BaseAgent:   NewBaseAgent(params.Market, params.Monitoring, logger),
		name:        name,
		market:      params.Market,
		modelID:     params.Allora.ModelID,
		window:      window,
		venue:       params.Venue,
		predictor:   params.Predictor,
		analyzer:    params.Analyzer,
		journal:     params.Journal,
		reports:     params.Reports,
		logger:      logger.With("agent", name),
		tradeLogger: tradeLogger,
	}, nil
}

// Name 返回 agent 的唯一名称。
func (a *MarketAgent) Name() string {
	return a.name
}

// Execute 完成一个完整的交易周期。
func (a *MarketAgent) Execute(ctx context.Context) error {
	snapshot, err := a.venue.FetchMarketSnapshot(ctx, a.market.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "获取市场快照失败")
	}

	history := a.fetchHistory(ctx)

	prediction, err := a.predictor.PredictPrice(ctx, a.modelID, history, allora.MarketConditions{
		MidPrice:  snapshot.MidPrice(),
		Spread:    snapshot.Spread(),
		Liquidity: 0,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodePredictionFailure, err, "获取价格预测失败")
	}

	opportunity := a.analyzer.Evaluate(snapshot, prediction)

	cycleReport := &report.Report{
		ID:          uuid.NewString(),
		AgentName:   a.name,
		MarketID:    a.market.ID,
		MidPrice:    snapshot.MidPrice(),
		Prediction:  prediction.Price,
		Confidence:  prediction.Confidence,
		Opportunity: opportunity,
		GeneratedAt: time.Now(),
	}

	if opportunity != nil {
		if orderID := a.tryTrade(ctx, snapshot, opportunity); orderID != "" {
			cycleReport.OrderID = orderID
		}
	}

	if err := a.reports.Publish(ctx, cycleReport); err != nil {
		// 报告发布失败不影响交易周期本身。
		a.logger.Warn("发布周期报告失败", "error", err)
	}

	return nil
}

// fetchHistory 拉取预测所需的历史行情，失败时降级为空历史。
func (a *MarketAgent) fetchHistory(ctx context.Context) []allora.Candle {
	to := time.Now()
	from := to.Add(-a.window)

	candles, err := a.venue.FetchMarketHistory(ctx, a.market.ID, from, to)
	if err != nil {
		a.logger.Warn("获取历史行情失败，使用空历史继续", "error", err)
		return nil
	}

	history := make([]allora.Candle, len(candles))
	for i, candle := range candles {
		history[i] = allora.Candle{
			Timestamp: candle.Timestamp,
			Open:      candle.Open,
			High:      candle.High,
			Low:       candle.Low,
			Close:     candle.Close,
			Volume:    candle.Volume,
		}
	}
	return history
}

// tryTrade 在约束允许时提交订单，返回订单 ID；未下单时返回空串。
func (a *MarketAgent) tryTrade(ctx context.Context, snapshot exchange.MarketSnapshot, opportunity *analysis.Opportunity) string {
	if !a.CanTrade() {
		return ""
	}

	price := snapshot.BestAsk
	side := exchange.SideBuy
	if opportunity.Side == string(exchange.SideSell) {
		price = snapshot.BestBid
		side = exchange.SideSell
	}

	quantity := a.orderQuantity(price)
	if quantity <= 0 || !a.ValidateOrderSize(quantity, price) {
		return ""
	}

	result, err := a.venue.SubmitOrder(ctx, exchange.OrderRequest{
		MarketID: a.market.ID,
		Side:     side,
		Price:    price,
		Quantity: quantity,
	})
	if err != nil {
		a.logger.Error("提交订单失败", "side", side, "price", price, "quantity", quantity, "error", err)
		return ""
	}

	a.UpdateTradeMetrics()

	record := &journal.OrderRecord{
		ID:            uuid.NewString(),
		AgentName:     a.name,
		MarketID:      a.market.ID,
		Side:          string(side),
		Price:         price,
		Quantity:      quantity,
		TxHash:        result.TxHash.Hex(),
		OpportunityID: opportunity.ID,
		Edge:          opportunity.Edge,
		Confidence:    opportunity.Confidence,
		Status:        journal.StatusSubmitted,
	}
	if err := a.journal.Append(ctx, record); err != nil {
		// 订单已经上链，流水失败只记录日志。
		a.logger.Error("写入订单流水失败", "order_id", result.OrderID, "error", err)
	}

	a.tradeLogger.Info("order submitted",
		"agent", a.name,
		"market", a.market.ID,
		"side", side,
		"price", price,
		"quantity", quantity,
		"edge", opportunity.Edge,
		"confidence", opportunity.Confidence,
		"tx_hash", result.TxHash.Hex(),
	)

	return result.OrderID
}

// orderQuantity 根据风险限制推导下单数量。
func (a *MarketAgent) orderQuantity(price float64) float64 {
	if price <= 0 {
		return 0
	}
	quantity := a.market.MaxTradeSize
	if quantity <= 0 {
		quantity = a.market.MinTradeSize
	}
	if max := a.market.Risk.MaxPositionSize; max > 0 && quantity*price > max {
		quantity = max / price
	}
	return quantity
}
