package exchange

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side identifies the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// MarketSnapshot captures the top of book for a single market.
type MarketSnapshot struct {
	MarketID   string
	BestBid    float64
	BestAsk    float64
	ObservedAt time.Time
}

// MidPrice returns the midpoint between best bid and best ask.
func (s MarketSnapshot) MidPrice() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return (s.BestBid + s.BestAsk) / 2
}

// Spread returns the absolute bid/ask spread.
func (s MarketSnapshot) Spread() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return s.BestAsk - s.BestBid
}

// Candle is a single bar of historical market data.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderRequest describes an order to be submitted on chain.
type OrderRequest struct {
	MarketID string
	Side     Side
	Price    float64
	Quantity float64
}

// OrderResult captures the outcome of an order submission.
type OrderResult struct {
	OrderID string
	TxHash  common.Hash
}

// Client defines the common interface that any venue implementation must
// provide so the agent layer can trade different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	FetchMarketSnapshot(ctx context.Context, marketID string) (MarketSnapshot, error)
	FetchMarketHistory(ctx context.Context, marketID string, from, to time.Time) ([]Candle, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	Close()
}
