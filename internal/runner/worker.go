package runner

import (
	"context"

	xerrors "TradeFleet-Chain/internal/errors"
)

// Worker 是调度器驱动的最小执行单元，通常一个市场对应一个实例。
// Execute 内部可以进行网络与链上交互，耗时不受调度器限制；
// ResetDailyMetrics 必须是幂等的，会在跨自然日后的第一个成功周期被调用。
type Worker interface {
	Name() string
	Execute(ctx context.Context) error
	ResetDailyMetrics()
}

// Status 表示单个执行循环在生命周期中的状态。
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSleeping  Status = "sleeping"
	StatusBackoff   Status = "backoff"
	StatusStopped   Status = "stopped"
	StatusTripped   Status = "tripped"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusTripped, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrRunnerBusy 表示调度器已经在运行中。
	ErrRunnerBusy = xerrors.New(CodeRunnerBusy, "runner already started")
)

const (
	CodeRunnerBusy    xerrors.Code = "RUNNER_BUSY"
	CodeWorkerPanic   xerrors.Code = "WORKER_PANIC"
	CodeWorkerTripped xerrors.Code = "WORKER_CIRCUIT_TRIPPED"
)

func init() {
	xerrors.Register(CodeRunnerBusy, xerrors.Attributes{
		Message:   "runner already started",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkerPanic, xerrors.Attributes{
		Message:   "worker panicked",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeWorkerTripped, xerrors.Attributes{
		Message:   "worker circuit breaker tripped",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}
