package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "TradeFleet-Chain/internal/errors"
	"TradeFleet-Chain/internal/observability/alerting"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		UpdateInterval:       5 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		BackoffBase:          time.Millisecond,
		BackoffCap:           8 * time.Millisecond,
		ShutdownGrace:        time.Second,
	}
}

type fakeWorker struct {
	name       string
	executions atomic.Int64
	resets     atomic.Int64
	fail       atomic.Bool
	onExecute  func(n int64)
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) Execute(context.Context) error {
	n := w.executions.Add(1)
	if w.onExecute != nil {
		w.onExecute(n)
	}
	if w.fail.Load() {
		return errors.New("boom")
	}
	return nil
}

func (w *fakeWorker) ResetDailyMetrics() { w.resets.Add(1) }

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	return nil
}

func (d *captureDispatcher) captured() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestBackoffDelaySequence(t *testing.T) {
	base := 5 * time.Second
	cap := 300 * time.Second

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}
	for i, expected := range want {
		if got := backoffDelay(base, cap, i+1); got != expected {
			t.Fatalf("backoff after %d errors: got %v, want %v", i+1, got, expected)
		}
	}

	// 深度溢出时必须贴着上限而不是回绕为负。
	if got := backoffDelay(base, cap, 64); got != cap {
		t.Fatalf("backoff overflow not capped: %v", got)
	}
}

func TestPacingSleep(t *testing.T) {
	if got := pacingSleep(60*time.Second, 15*time.Second); got != 45*time.Second {
		t.Fatalf("unexpected pacing sleep: %v", got)
	}
	if got := pacingSleep(60*time.Second, 75*time.Second); got != 0 {
		t.Fatalf("pacing sleep must not be negative: %v", got)
	}
	if got := pacingSleep(60*time.Second, 60*time.Second); got != 0 {
		t.Fatalf("unexpected pacing sleep at exact interval: %v", got)
	}
}

func TestCircuitTripIsolatesWorker(t *testing.T) {
	failing := &fakeWorker{name: "agent-failing"}
	failing.fail.Store(true)
	healthy := &fakeWorker{name: "agent-healthy"}

	dispatcher := &captureDispatcher{}
	r := New(testConfig(), []Worker{failing, healthy},
		WithLogger(discardLogger()),
		WithAlertDispatcher(dispatcher),
	)
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return r.Snapshot()["agent-failing"] == StatusTripped
	})

	if got := failing.executions.Load(); got != 5 {
		t.Fatalf("tripped worker executed %d times, want 5", got)
	}

	// 熔断不应影响其他工作单元。
	before := healthy.executions.Load()
	waitFor(t, 5*time.Second, func() bool {
		return healthy.executions.Load() > before
	})

	r.RequestShutdown()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	events := dispatcher.captured()
	if len(events) != 1 {
		t.Fatalf("expected one alert, got %d", len(events))
	}
	if events[0].AgentName != "agent-failing" || events[0].ConsecutiveErrors != 5 {
		t.Fatalf("unexpected alert: %+v", events[0])
	}
	if events[0].Code != CodeWorkerTripped {
		t.Fatalf("unexpected alert code: %v", events[0].Code)
	}
}

func TestRunReturnsWhenAllWorkersTripped(t *testing.T) {
	failing := &fakeWorker{name: "agent-failing"}
	failing.fail.Store(true)

	r := New(testConfig(), []Worker{failing}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if status := r.Snapshot()["agent-failing"]; status != StatusTripped {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestErrorCounterResetsOnSuccess(t *testing.T) {
	worker := &fakeWorker{name: "agent-flaky"}
	// 失败两次、成功一次、再失败两次：不应触发熔断（阈值为 5）。
	worker.onExecute = func(n int64) {
		switch n {
		case 1, 2, 4, 5:
			worker.fail.Store(true)
		default:
			worker.fail.Store(false)
		}
	}

	r := New(testConfig(), []Worker{worker}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return worker.executions.Load() >= 6
	})
	if r.Snapshot()["agent-flaky"] == StatusTripped {
		t.Fatalf("worker tripped although successes reset the counter")
	}

	r.RequestShutdown()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestShutdownStopsNewExecutions(t *testing.T) {
	worker := &fakeWorker{name: "agent-a"}

	r := New(testConfig(), []Worker{worker}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return worker.executions.Load() >= 2
	})
	r.RequestShutdown()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	final := worker.executions.Load()
	time.Sleep(20 * time.Millisecond)
	if worker.executions.Load() != final {
		t.Fatalf("executions continued after shutdown")
	}
	if status := r.Snapshot()["agent-a"]; status != StatusCancelled {
		t.Fatalf("unexpected status after shutdown: %s", status)
	}
}

func TestContextCancelActsAsShutdown(t *testing.T) {
	worker := &fakeWorker{name: "agent-a"}

	r := New(testConfig(), []Worker{worker}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return worker.executions.Load() >= 1
	})
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestDailyMetricsResetOnDayChange(t *testing.T) {
	worker := &fakeWorker{name: "agent-a"}

	r := New(testConfig(), []Worker{worker}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	day1 := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC)

	var flipped atomic.Bool
	r.now = func() time.Time {
		if flipped.Load() {
			return day2
		}
		return day1
	}
	worker.onExecute = func(n int64) {
		if n == 2 {
			flipped.Store(true)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return worker.resets.Load() >= 1
	})
	waitFor(t, 5*time.Second, func() bool {
		return worker.executions.Load() >= 4
	})
	// 切日只重置一次，后续同日周期不再触发。
	if got := worker.resets.Load(); got != 1 {
		t.Fatalf("daily reset fired %d times, want 1", got)
	}

	r.RequestShutdown()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestWorkerPanicTriggersFatalShutdown(t *testing.T) {
	panicking := &fakeWorker{name: "agent-panicking"}
	panicking.onExecute = func(int64) { panic("unexpected state") }
	healthy := &fakeWorker{name: "agent-healthy"}

	r := New(testConfig(), []Worker{panicking, healthy}, WithLogger(discardLogger()))
	r.Monitor().residentMemory = func() (uint64, error) { return 0, nil }

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error from panicking worker")
	}
	if xerrors.CodeOf(err) != CodeWorkerPanic {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
	if status := r.Snapshot()["agent-panicking"]; status != StatusStopped {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestRunRejectsConcurrentStart(t *testing.T) {
	worker := &fakeWorker{name: "agent-a"}
	r := New(testConfig(), []Worker{worker}, WithLogger(discardLogger()))
	r.running.Store(true)

	if err := r.Run(context.Background()); !errors.Is(err, ErrRunnerBusy) {
		t.Fatalf("expected ErrRunnerBusy, got %v", err)
	}
}

func TestRunRequiresWorkers(t *testing.T) {
	r := New(testConfig(), nil, WithLogger(discardLogger()))
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error when no workers are configured")
	}
}

func TestMemoryWarningTriggersReclaim(t *testing.T) {
	worker := &fakeWorker{name: "agent-a"}

	monitor := NewResourceMonitor(1000, discardLogger())
	var queried atomic.Int64
	monitor.residentMemory = func() (uint64, error) {
		queried.Add(1)
		return 1100 * 1024 * 1024, nil
	}

	r := New(testConfig(), []Worker{worker},
		WithLogger(discardLogger()),
		WithMonitor(monitor),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return queried.Load() >= 2 && worker.executions.Load() >= 1
	})

	r.RequestShutdown()
	if err := <-runErr; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}
