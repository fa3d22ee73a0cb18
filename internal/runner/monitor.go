package runner

import (
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// historyCapacity 是单个工作单元耗时历史的最大长度，超出后淘汰最旧样本。
const historyCapacity = 100

// defaultMemoryThresholdMB 是内存告警阈值的默认值。
const defaultMemoryThresholdMB = 1000

// ResourceMonitor 负责进程级内存观测与各工作单元的执行耗时统计。
// 内存检查只读且无副作用，可被任意数量的执行循环并发调用；
// 耗时历史按工作单元名称分片，互不干扰。
type ResourceMonitor struct {
	warningThreshold uint64
	logger           *slog.Logger

	// residentMemory 可在测试中替换为固定返回值。
	residentMemory func() (uint64, error)

	mu        sync.RWMutex
	histories map[string]*timeHistory
}

// timeHistory 是一个固定容量的环形缓冲，保持插入顺序。
type timeHistory struct {
	samples [historyCapacity]float64
	start   int
	count   int
}

func (h *timeHistory) append(v float64) {
	if h.count < historyCapacity {
		h.samples[(h.start+h.count)%historyCapacity] = v
		h.count++
		return
	}
	h.samples[h.start] = v
	h.start = (h.start + 1) % historyCapacity
}

func (h *timeHistory) values() []float64 {
	out := make([]float64, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.samples[(h.start+i)%historyCapacity])
	}
	return out
}

// NewResourceMonitor 创建资源监控器。thresholdMB 小于等于零时使用默认阈值。
func NewResourceMonitor(thresholdMB int, logger *slog.Logger) *ResourceMonitor {
	if thresholdMB <= 0 {
		thresholdMB = defaultMemoryThresholdMB
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &ResourceMonitor{
		warningThreshold: uint64(thresholdMB) * 1024 * 1024,
		logger:           logger,
		histories:        make(map[string]*timeHistory),
	}
	m.residentMemory = processResidentMemory
	return m
}

// CheckMemoryUsage 返回进程当前的常驻内存与是否超过告警阈值。
// 查询失败不会影响调用方：记录日志后按未超阈值处理。
func (m *ResourceMonitor) CheckMemoryUsage() (uint64, bool) {
	rss, err := m.residentMemory()
	if err != nil {
		m.logger.Warn("查询进程内存失败", slog.Any("error", err))
		return 0, false
	}
	return rss, rss > m.warningThreshold
}

// ShouldTriggerGC 判断是否应当触发内存回收。
// 单独保留这个决策点，便于回收策略独立于原始观测演进。
func (m *ResourceMonitor) ShouldTriggerGC() bool {
	_, above := m.CheckMemoryUsage()
	return above
}

// Reclaim 尽力而为地回收内存，并把空闲页归还操作系统。
func (m *ResourceMonitor) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

// RecordExecutionTime 记录一次执行耗时，超过容量时淘汰最旧样本。
func (m *ResourceMonitor) RecordExecutionTime(worker string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.histories[worker]
	if !ok {
		history = &timeHistory{}
		m.histories[worker] = history
	}
	history.append(seconds)
}

// AverageExecutionTime 返回指定工作单元的平均执行耗时。
// 尚无样本时第二个返回值为 false。
func (m *ResourceMonitor) AverageExecutionTime(worker string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history, ok := m.histories[worker]
	if !ok || history.count == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < history.count; i++ {
		sum += history.samples[(history.start+i)%historyCapacity]
	}
	return sum / float64(history.count), true
}

// ExecutionTimes 按插入顺序返回指定工作单元的耗时历史副本。
func (m *ResourceMonitor) ExecutionTimes(worker string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history, ok := m.histories[worker]
	if !ok {
		return nil
	}
	return history.values()
}

func processResidentMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
