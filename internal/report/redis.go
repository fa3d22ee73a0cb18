package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig 描述 Redis 报告通道的连接参数。
type RedisSinkConfig struct {
	Address  string
	Password string
	DB       int
	List     string
	MaxLen   int64
}

// RedisSink 将报告以 JSON 形式 LPUSH 到 Redis list，供下游消费。
type RedisSink struct {
	client *redis.Client
	list   string
	maxLen int64
}

// NewRedisSink 创建 Redis 报告通道。
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	list := cfg.List
	if list == "" {
		list = "tradefleet:reports"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisSink{client: client, list: list, maxLen: cfg.MaxLen}, nil
}

// Publish 投递一份报告。
func (s *RedisSink) Publish(ctx context.Context, report *Report) error {
	if report == nil {
		return errors.New("报告不能为空")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	if err := s.client.LPush(ctx, s.list, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布报告失败: %w", err)
	}
	if s.maxLen > 0 {
		// 控制 list 长度，避免无消费者时无限增长。
		if err := s.client.LTrim(ctx, s.list, 0, s.maxLen-1).Err(); err != nil {
			return fmt.Errorf("Redis 截断报告列表失败: %w", err)
		}
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
