package journal

import (
	"context"

	xerrors "TradeFleet-Chain/internal/errors"
)

// 订单状态。
const (
	StatusSubmitted = "submitted"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

const (
	CodeRecordNotFound xerrors.Code = "ORDER_RECORD_NOT_FOUND"
	CodeRecordConflict xerrors.Code = "ORDER_RECORD_CONFLICT"
)

// 流水操作的哨兵错误。
var (
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "订单记录不存在")
	ErrRecordConflict = xerrors.New(CodeRecordConflict, "订单记录已存在", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:   "order record not found",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordConflict, xerrors.Attributes{
		Message:   "order record already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// OrderRecord 表示一条已提交订单的审计流水。
type OrderRecord struct {
	ID            string  `json:"id"`
	AgentName     string  `json:"agent_name"`
	MarketID      string  `json:"market_id"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	TxHash        string  `json:"tx_hash"`
	OpportunityID string  `json:"opportunity_id"`
	Edge          float64 `json:"edge"`
	Confidence    float64 `json:"confidence"`
	Status        string  `json:"status"`
	CreatedAt     int64   `json:"created_at"`
}

// Store 定义订单流水的持久化接口。
type Store interface {
	// Append 追加一条新的订单记录。ID 冲突时返回 ErrRecordConflict。
	Append(ctx context.Context, record *OrderRecord) error
	// Get 按 ID 查询记录，不存在时返回 ErrRecordNotFound。
	Get(ctx context.Context, id string) (*OrderRecord, error)
	// ListRecent 返回指定 agent 最近的记录，按创建时间倒序。
	ListRecent(ctx context.Context, agentName string, limit int) ([]*OrderRecord, error)
	// CountSince 统计指定 agent 自 since（Unix 秒）以来的记录数。
	CountSince(ctx context.Context, agentName string, since int64) (int, error)
	// CountActive 统计指定 agent 当前处于 submitted 状态的记录数。
	CountActive(ctx context.Context, agentName string) (int, error)
	// UpdateStatus 更新记录状态，不存在时返回 ErrRecordNotFound。
	UpdateStatus(ctx context.Context, id, status string) error
	// Close 释放底层资源。
	Close() error
}
