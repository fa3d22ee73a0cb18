package journal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "TradeFleet-Chain/internal/errors"
)

// MemoryStore 将订单流水保存在进程内存中，适合测试与单机运行。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*OrderRecord
}

// NewMemoryStore 创建一个空的内存流水。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*OrderRecord)}
}

// Append 追加一条新的订单记录。
func (s *MemoryStore) Append(_ context.Context, record *OrderRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return ErrRecordConflict
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if record.Status == "" {
		record.Status = StatusSubmitted
	}
	stored := *record
	s.records[record.ID] = &stored
	return nil
}

// Get 按 ID 查询记录。
func (s *MemoryStore) Get(_ context.Context, id string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	record := *stored
	return &record, nil
}

// ListRecent 返回指定 agent 最近的记录。
func (s *MemoryStore) ListRecent(_ context.Context, agentName string, limit int) ([]*OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*OrderRecord, 0, limit)
	for _, stored := range s.records {
		if agentName != "" && stored.AgentName != agentName {
			continue
		}
		record := *stored
		matched = append(matched, &record)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == matched[j].CreatedAt {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountSince 统计指定 agent 自 since 以来的记录数。
func (s *MemoryStore) CountSince(_ context.Context, agentName string, since int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, stored := range s.records {
		if agentName != "" && stored.AgentName != agentName {
			continue
		}
		if stored.CreatedAt >= since {
			count++
		}
	}
	return count, nil
}

// CountActive 统计指定 agent 的未完结记录数。
func (s *MemoryStore) CountActive(_ context.Context, agentName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, stored := range s.records {
		if agentName != "" && stored.AgentName != agentName {
			continue
		}
		if stored.Status == StatusSubmitted {
			count++
		}
	}
	return count, nil
}

// UpdateStatus 更新记录状态。
func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	stored.Status = status
	return nil
}

// Close 实现 Store 接口，内存实现无需释放资源。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
