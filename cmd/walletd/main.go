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

	"OpenWallet-Chain/internal/api"
	"OpenWallet-Chain/internal/approval"
	"OpenWallet-Chain/internal/chains"
	"OpenWallet-Chain/internal/config"
	"OpenWallet-Chain/internal/executor"
	"OpenWallet-Chain/internal/gateway"
	"OpenWallet-Chain/internal/observability/alerting"
	"OpenWallet-Chain/internal/observability/metrics"
	"OpenWallet-Chain/internal/policy"
	"OpenWallet-Chain/internal/storage/mysql"
	"OpenWallet-Chain/internal/vault"
	"OpenWallet-Chain/pkg/logger"
)

// main 是 walletd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("walletd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("WALLETD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "walletd.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	passphrase := strings.TrimSpace(os.Getenv(cfg.Vault.PassphraseEnv))
	if passphrase == "" {
		return fmt.Errorf("环境变量 %s 未设置保管库口令", cfg.Vault.PassphraseEnv)
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var credentialStore vault.Store
	switch cfg.Storage.CredentialStore.Driver {
	case "memory", "":
		store, err := mysql.NewMemoryCredentialStore(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
		credentialStore = store
	case "mysql":
		store, err := mysql.NewSQLCredentialStore(ctx, mysql.Config{
			DSN:          cfg.Storage.CredentialStore.DSN,
			MaxOpenConns: cfg.Storage.CredentialStore.MaxOpenConns,
			MaxIdleConns: cfg.Storage.CredentialStore.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		credentialStore = store
	default:
		return fmt.Errorf("未知的凭据存储驱动: %s", cfg.Storage.CredentialStore.Driver)
	}
	if closer, ok := credentialStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	endpoints, err := chains.LoadEndpointDefinitions(cfg.Chains.DefinitionPath)
	if err != nil {
		return err
	}
	registry := chains.NewRegistry(endpoints)
	defer registry.Close()

	var delivery approval.Delivery
	switch cfg.Approval.Driver {
	case "memory", "":
		delivery = approval.NewMemoryDelivery()
	case "rabbitmq":
		d, err := approval.NewRabbitMQDelivery(approval.RabbitMQConfig{
			URL:           cfg.Approval.RabbitMQ.URL,
			PromptQueue:   cfg.Approval.RabbitMQ.PromptQueue,
			DecisionQueue: cfg.Approval.RabbitMQ.DecisionQueue,
			Durable:       cfg.Approval.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		delivery = d
	case "redis":
		d, err := approval.NewRedisDelivery(approval.RedisConfig{
			Address:      cfg.Approval.Redis.Address,
			Password:     cfg.Approval.Redis.Password,
			DB:           cfg.Approval.Redis.DB,
			PromptList:   cfg.Approval.Redis.PromptList,
			DecisionList: cfg.Approval.Redis.DecisionList,
		})
		if err != nil {
			return err
		}
		delivery = d
	default:
		return fmt.Errorf("未知的审批投递驱动: %s", cfg.Approval.Driver)
	}
	defer func() {
		if err := delivery.Close(); err != nil {
			log.Printf("关闭审批渠道失败: %v", err)
		}
	}()

	coordinator := approval.NewCoordinator()
	metrics.SetPendingApprovalsFunc(func() int {
		return len(coordinator.Pending())
	})
	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务退出", "error", err.Error())
			}
		}()
	}

	// 入站决定监听与 HTTP 服务共用根上下文，退出时一起收敛。
	go func() {
		if err := delivery.Listen(ctx, coordinator); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("审批决定监听退出", "error", err.Error())
		}
	}()

	vaultService := vault.NewService(credentialStore)
	exec := executor.New(registry,
		executor.WithConfirmInterval(time.Duration(cfg.Executor.ConfirmIntervalSeconds)*time.Second),
		executor.WithConfirmTimeout(time.Duration(cfg.Executor.ConfirmTimeoutSeconds)*time.Second),
	)

	var alerts alerting.Dispatcher
	if cfg.Alerting.WebhookURL != "" {
		alerts = alerting.NewFanout(&alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	gw := gateway.NewService(
		policy.New(),
		vaultService,
		registry,
		exec,
		coordinator,
		delivery,
		passphrase,
	)

	server := api.NewServer(cfg.Server.Address, gw, vaultService, alerts)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
