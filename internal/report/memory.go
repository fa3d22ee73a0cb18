package report

import (
	"context"
	"sync"

	xerrors "TradeFleet-Chain/internal/errors"
)

// MemorySink 在内存中累积报告，主要用于测试。
type MemorySink struct {
	mu      sync.RWMutex
	reports []*Report
}

// NewMemorySink 创建内存报告通道。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish 记录一份报告。
func (s *MemorySink) Publish(_ context.Context, report *Report) error {
	if report == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "报告不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *report
	s.reports = append(s.reports, &stored)
	return nil
}

// Reports 返回已发布报告的副本。
func (s *MemorySink) Reports() []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Report, 0, len(s.reports))
	for _, stored := range s.reports {
		report := *stored
		out = append(out, &report)
	}
	return out
}

// Close 实现 Sink 接口。
func (s *MemorySink) Close() error { return nil }

var _ Sink = (*MemorySink)(nil)
