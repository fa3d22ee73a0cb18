package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "TradeFleet-Chain/internal/errors"
	"TradeFleet-Chain/internal/observability/alerting"
	"TradeFleet-Chain/internal/observability/metrics"
)

// Config 描述调度器的节奏、退避与停机策略。
type Config struct {
	// UpdateInterval 是单个工作单元两次执行之间的目标周期。
	UpdateInterval time.Duration
	// MaxConsecutiveErrors 是触发熔断的连续失败次数。
	MaxConsecutiveErrors int
	// BackoffBase 与 BackoffCap 控制失败后的指数退避区间。
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ShutdownGrace 是优雅停机时等待循环自行退出的宽限时长。
	ShutdownGrace time.Duration
}

func (c *Config) normalize() {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 60 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Runner 并发调度一组 Worker，为每个 Worker 维护独立的执行循环。
// 单个 Worker 的失败或熔断不会影响其他 Worker；所有状态都归属于
// Runner 实例本身，同一进程内可以并存多个 Runner。
type Runner struct {
	cfg     Config
	handles []*handle
	monitor *ResourceMonitor
	logger  *slog.Logger
	alerter alerting.Dispatcher

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	fatalOnce sync.Once
	fatalErr  error

	// now 可在测试中替换，仅用于自然日切换判断。
	now func() time.Time
}

// handle 保存单个 Worker 的可变运行状态。
type handle struct {
	worker            Worker
	consecutiveErrors int
	lastCycleDay      time.Time

	mu     sync.Mutex
	status Status
}

func (h *handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *handle) getStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Option 定义可选配置。
type Option func(*Runner)

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMonitor 指定资源监控器，默认会创建一个使用默认阈值的实例。
func WithMonitor(monitor *ResourceMonitor) Option {
	return func(r *Runner) {
		if monitor != nil {
			r.monitor = monitor
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Runner) {
		r.alerter = dispatcher
	}
}

// New 构造 Runner。
func New(cfg Config, workers []Worker, opts ...Option) *Runner {
	cfg.normalize()
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.monitor == nil {
		r.monitor = NewResourceMonitor(0, r.logger)
	}
	for _, worker := range workers {
		if worker == nil {
			continue
		}
		r.handles = append(r.handles, &handle{worker: worker, status: StatusIdle})
	}
	return r
}

// Monitor 返回调度器使用的资源监控器。
func (r *Runner) Monitor() *ResourceMonitor {
	return r.monitor
}

// Snapshot 返回各工作单元当前的循环状态。
func (r *Runner) Snapshot() map[string]Status {
	out := make(map[string]Status, len(r.handles))
	for _, h := range r.handles {
		out[h.worker.Name()] = h.getStatus()
	}
	return out
}

// RequestShutdown 请求优雅停机。调用是幂等的：翻转运行标志后，
// 所有循环会在当前周期结束时退出，不会再开始新的执行。
func (r *Runner) RequestShutdown() {
	r.stopOnce.Do(func() {
		r.running.Store(false)
		close(r.stopCh)
	})
}

// Run 为每个 Worker 启动一个执行循环，并阻塞到所有循环到达终态。
// ctx 取消等价于一次停机请求；宽限期后仍未退出的循环会被强制取消，
// 所有协程都会被等待回收后 Run 才返回。
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handles) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "没有可调度的工作单元")
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunnerBusy
	}
	defer r.running.Store(false)

	// 循环使用独立的硬取消上下文，优雅停机阶段先等待、后取消。
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, h := range r.handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			r.runLoop(loopCtx, h)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	r.logger.Info("调度器已启动", slog.Int("workers", len(r.handles)),
		slog.Duration("update_interval", r.cfg.UpdateInterval))

	select {
	case <-done:
		// 所有循环自行到达终态（全部熔断或出现致命错误）。
	case <-ctx.Done():
		r.RequestShutdown()
		r.drain(done, cancel)
	case <-r.stopCh:
		r.drain(done, cancel)
	}

	r.monitor.Reclaim()
	r.logger.Info("所有执行循环已退出")
	return r.fatalError()
}

// drain 等待循环退出；宽限期耗尽后强制取消并继续等待，保证没有协程泄漏。
func (r *Runner) drain(done <-chan struct{}, cancel context.CancelFunc) {
	r.logger.Info("收到停机请求，等待执行循环退出",
		slog.Duration("grace", r.cfg.ShutdownGrace))
	timer := time.NewTimer(r.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("宽限期内仍有循环未退出，强制取消")
		cancel()
		<-done
	}
}

// runLoop 是单个 Worker 的执行循环。
func (r *Runner) runLoop(ctx context.Context, h *handle) {
	name := h.worker.Name()
	defer func() {
		if rec := recover(); rec != nil {
			err := xerrors.New(CodeWorkerPanic, fmt.Sprintf("工作单元 %s 发生 panic: %v", name, rec))
			r.logger.Error("执行循环异常终止", slog.Any("error", err), slog.String("agent", name))
			h.setStatus(StatusStopped)
			r.recordFatal(err)
		}
	}()

	h.lastCycleDay = r.now()

	for {
		// 每个周期开始前都要检查停机标志，保证停机在一个周期内被观察到。
		if !r.running.Load() {
			h.setStatus(StatusCancelled)
			return
		}
		select {
		case <-ctx.Done():
			h.setStatus(StatusCancelled)
			return
		default:
		}

		if usage, above := r.monitor.CheckMemoryUsage(); above {
			r.logger.Warn("内存占用超过阈值",
				slog.Float64("rss_mb", float64(usage)/(1024*1024)),
				slog.String("agent", name))
			metrics.ObserveMemoryWarning()
			if r.monitor.ShouldTriggerGC() {
				r.logger.Info("触发内存回收", slog.String("agent", name))
				r.monitor.Reclaim()
			}
		}

		h.setStatus(StatusRunning)
		start := time.Now()
		err := h.worker.Execute(ctx)
		elapsed := time.Since(start)

		if err != nil {
			r.handleFailure(ctx, h, name, elapsed)
			if h.getStatus().Terminal() {
				return
			}
			continue
		}

		seconds := elapsed.Seconds()
		r.monitor.RecordExecutionTime(name, seconds)
		if avg, ok := r.monitor.AverageExecutionTime(name); ok && seconds > avg*2 {
			r.logger.Warn("执行耗时显著高于均值",
				slog.String("agent", name),
				slog.Float64("elapsed_seconds", seconds),
				slog.Float64("average_seconds", avg))
		}
		metrics.ObserveAgentCycle(name, "success", elapsed)

		h.consecutiveErrors = 0
		cycleDay := r.now()
		if !sameDay(h.lastCycleDay, cycleDay) {
			h.worker.ResetDailyMetrics()
			r.logger.Info("已重置当日交易指标", slog.String("agent", name))
		}
		h.lastCycleDay = cycleDay

		h.setStatus(StatusSleeping)
		if !r.sleepFor(ctx, pacingSleep(r.cfg.UpdateInterval, elapsed)) {
			h.setStatus(StatusCancelled)
			return
		}
	}
}

// handleFailure 处理一次执行失败：退避重试或熔断。
func (r *Runner) handleFailure(ctx context.Context, h *handle, name string, elapsed time.Duration) {
	h.consecutiveErrors++
	metrics.ObserveAgentCycle(name, "failure", elapsed)

	if h.consecutiveErrors >= r.cfg.MaxConsecutiveErrors {
		h.setStatus(StatusTripped)
		r.logger.Error("连续失败次数过多，熔断该工作单元",
			slog.String("agent", name),
			slog.Int("consecutive_errors", h.consecutiveErrors))
		metrics.ObserveCircuitTrip(name)
		r.emitAlert(ctx, name, h.consecutiveErrors)
		return
	}

	backoff := backoffDelay(r.cfg.BackoffBase, r.cfg.BackoffCap, h.consecutiveErrors)
	r.logger.Info("进入退避等待",
		slog.String("agent", name),
		slog.Duration("backoff", backoff),
		slog.Int("consecutive_errors", h.consecutiveErrors))
	h.setStatus(StatusBackoff)
	if !r.sleepFor(ctx, backoff) {
		h.setStatus(StatusCancelled)
	}
}

// sleepFor 以可取消的方式等待。返回 false 表示等待被停机或取消打断。
func (r *Runner) sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return r.running.Load() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) recordFatal(err error) {
	r.fatalOnce.Do(func() {
		r.fatalErr = err
	})
	r.RequestShutdown()
}

func (r *Runner) fatalError() error {
	r.fatalOnce.Do(func() {})
	return r.fatalErr
}

func (r *Runner) emitAlert(ctx context.Context, name string, consecutiveErrors int) {
	if r.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:              CodeWorkerTripped,
		Message:           fmt.Sprintf("工作单元 %s 已熔断", name),
		Severity:          xerrors.SeverityCritical,
		AgentName:         name,
		ConsecutiveErrors: consecutiveErrors,
		OccurredAt:        time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败", slog.Any("error", err), slog.String("agent", name))
	}
}

// pacingSleep 计算保持目标周期所需的睡眠时长，永不为负。
func pacingSleep(interval, elapsed time.Duration) time.Duration {
	if d := interval - elapsed; d > 0 {
		return d
	}
	return 0
}

// backoffDelay 计算第 n 次连续失败后的退避时长：min(base·2ⁿ, cap)。
func backoffDelay(base, cap time.Duration, consecutiveErrors int) time.Duration {
	if consecutiveErrors > 30 {
		return cap
	}
	d := base << uint(consecutiveErrors)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
