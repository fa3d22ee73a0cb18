package allora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "TradeFleet-Chain/internal/errors"
)

const (
	defaultBaseURL = "https://api.allora.com/v1"
	defaultTimeout = 30 * time.Second
)

// Config 描述了调用 Allora 预测 API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Allora 提供的价格预测能力。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Candle 表示一根历史行情蜡烛。
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// MarketConditions 描述请求预测时的市场状态。
type MarketConditions struct {
	MidPrice  float64 `json:"mid_price"`
	Spread    float64 `json:"spread"`
	Liquidity float64 `json:"liquidity"`
}

// Prediction 为 Allora 返回的预测结果。
type Prediction struct {
	Price      float64 `json:"prediction"`
	Confidence float64 `json:"confidence"`
	ModelID    string  `json:"model_id"`
}

// NewClient 根据配置创建 Allora 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "未提供 Allora API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// PredictPrice 请求指定模型对当前市场给出价格预测。
func (c *Client) PredictPrice(ctx context.Context, modelID string, history []Candle, conditions MarketConditions) (*Prediction, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "未指定 Allora 模型 ID")
	}

	payload, err := json.Marshal(map[string]any{
		"historical_data":   history,
		"market_conditions": conditions,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化 Allora 请求失败: %w", err)
	}

	endpoint := c.baseURL + "/predict/" + modelID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 Allora 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePredictionFailure, err, "请求 Allora 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperrors.New(apperrors.CodePredictionFailure,
			fmt.Sprintf("Allora 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded Prediction
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Allora 响应失败: %w", err)
	}
	if decoded.Price <= 0 {
		return nil, errors.New("Allora 响应中没有有效的预测价格")
	}
	if decoded.ModelID == "" {
		decoded.ModelID = modelID
	}

	return &decoded, nil
}
