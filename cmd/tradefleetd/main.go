package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"TradeFleet-Chain/internal/agent"
	"TradeFleet-Chain/internal/allora"
	"TradeFleet-Chain/internal/config"
	"TradeFleet-Chain/internal/exchange"
	"TradeFleet-Chain/internal/exchange/ethereum"
	"TradeFleet-Chain/internal/journal"
	"TradeFleet-Chain/internal/observability/alerting"
	"TradeFleet-Chain/internal/observability/metrics"
	"TradeFleet-Chain/internal/report"
	"TradeFleet-Chain/internal/runner"
	"TradeFleet-Chain/pkg/logger"
)

// main 是交易机群守护进程的入口。交易私钥通过命令行参数传入，
// 避免落盘到配置文件。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("tradefleetd 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	var privateKey string
	if len(args) > 0 {
		privateKey = strings.TrimSpace(args[0])
	}

	configPath := os.Getenv("TRADEFLEET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "settings.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := initLogger(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLogger := logger.L()

	venue, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:            cfg.Chain.Network,
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.VenueAddress,
		PrivateKey:      privateKey,
	})
	if err != nil {
		return err
	}
	defer venue.Close()

	predictor, err := allora.NewClient(allora.Config{
		APIKey:  cfg.Allora.APIKey,
		BaseURL: cfg.Allora.BaseURL,
		Timeout: time.Duration(cfg.Allora.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	orderJournal, err := createJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer func() { _ = orderJournal.Close() }()

	reportSink, err := createReportSink(cfg.Reports)
	if err != nil {
		return err
	}
	defer func() { _ = reportSink.Close() }()

	workers, err := createAgents(cfg, venue, predictor, orderJournal, reportSink)
	if err != nil {
		return err
	}

	runnerOpts := []runner.Option{
		runner.WithLogger(appLogger),
		runner.WithMonitor(runner.NewResourceMonitor(cfg.Monitoring.MemoryWarningThresholdMB, appLogger)),
	}
	if cfg.Alerting.AMQP.Enabled {
		notifier, err := alerting.NewAMQPNotifier(alerting.AMQPNotifierConfig{
			URL:   cfg.Alerting.AMQP.URL,
			Queue: cfg.Alerting.AMQP.Queue,
		})
		if err != nil {
			return err
		}
		defer func() { _ = notifier.Close() }()
		runnerOpts = append(runnerOpts, runner.WithAlertDispatcher(alerting.NewFanout(notifier)))
	}

	fleet := runner.New(runner.Config{
		UpdateInterval:       cfg.Monitoring.UpdateInterval(),
		MaxConsecutiveErrors: cfg.Monitoring.MaxConsecutiveErrors,
		BackoffBase:          cfg.Monitoring.BackoffBase(),
		BackoffCap:           cfg.Monitoring.BackoffCap(),
		ShutdownGrace:        cfg.Monitoring.ShutdownGrace(),
	}, workers, runnerOpts...)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	appLogger.Info("交易机群启动",
		"markets", len(workers),
		"interval", cfg.Monitoring.UpdateInterval(),
		"network", cfg.Chain.Network,
	)

	if err := fleet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initLogger(cfg config.LoggingConfig) error {
	outputs := []string{"stdout"}
	if cfg.FilePath != "" {
		outputs = append(outputs, cfg.FilePath)
	}
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
		Trade: logger.TradeLogConfig{
			Enabled: cfg.TradeLog != "",
			Path:    cfg.TradeLog,
		},
	})
}

func createJournal(cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return journal.NewMemoryStore(), nil
	case "mysql":
		return journal.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的流水驱动: %s", cfg.Driver)
	}
}

func createReportSink(cfg config.ReportConfig) (report.Sink, error) {
	switch cfg.Driver {
	case "", "memory":
		return report.NewMemorySink(), nil
	case "redis":
		return report.NewRedisSink(report.RedisSinkConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.Redis.List,
		})
	default:
		return nil, fmt.Errorf("未知的报告驱动: %s", cfg.Driver)
	}
}

func createAgents(cfg *config.Config, venue exchange.Client, predictor agent.Predictor, orderJournal journal.Store, reportSink report.Sink) ([]runner.Worker, error) {
	workers := make([]runner.Worker, 0, len(cfg.Markets))
	for _, market := range cfg.Markets {
		marketAgent, err := agent.NewMarketAgent(agent.Params{
			Market:      market,
			Monitoring:  cfg.Monitoring,
			Allora:      cfg.Allora,
			Venue:       venue,
			Predictor:   predictor,
			Journal:     orderJournal,
			Reports:     reportSink,
			Logger:      logger.L(),
			TradeLogger: logger.Trade(),
		})
		if err != nil {
			return nil, err
		}
		workers = append(workers, marketAgent)
	}
	return workers, nil
}
