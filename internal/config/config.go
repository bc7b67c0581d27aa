package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 walletd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logger   LoggerConfig   `json:"logger"`
	Storage  StorageConfig  `json:"storage"`
	Chains   ChainsConfig   `json:"chains"`
	Vault    VaultConfig    `json:"vault"`
	Approval ApprovalConfig `json:"approval"`
	Executor ExecutorConfig `json:"executor"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggerConfig 控制结构化日志与审计日志的输出。
type LoggerConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制只追加的审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述凭据存储后端的连接信息。
type StorageConfig struct {
	CredentialStore CredentialStoreConfig `json:"credential_store"`
}

// CredentialStoreConfig 选择 memory 或 mysql 驱动。memory 驱动把密文
// 记录追加到数据目录下的文件，只适合开发环境。
type CredentialStoreConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// ChainsConfig 指向链端点定义文件。
type ChainsConfig struct {
	DefinitionPath string `json:"definition_path"`
}

// VaultConfig 描述保管库的口令来源。口令本身只存在于环境变量中。
type VaultConfig struct {
	PassphraseEnv string `json:"passphrase_env"`
}

// ApprovalConfig 选择审批提示的投递渠道。
type ApprovalConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Redis    RedisConfig    `json:"redis"`
}

// RabbitMQConfig 描述 RabbitMQ 渠道的连接参数。
type RabbitMQConfig struct {
	URL           string `json:"url"`
	PromptQueue   string `json:"prompt_queue"`
	DecisionQueue string `json:"decision_queue"`
	Durable       bool   `json:"durable"`
}

// RedisConfig 描述 Redis 渠道的连接参数。
type RedisConfig struct {
	Address      string `json:"address"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	PromptList   string `json:"prompt_list"`
	DecisionList string `json:"decision_list"`
}

// ExecutorConfig 控制链上确认的轮询节奏。
type ExecutorConfig struct {
	ConfirmIntervalSeconds int `json:"confirm_interval_seconds"`
	ConfirmTimeoutSeconds  int `json:"confirm_timeout_seconds"`
}

// MetricsConfig 配置独立的指标监听地址。留空时 /metrics 只挂在 API
// 服务上。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AlertingConfig 配置告警通知渠道，当前支持 Webhook。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}

	if c.Storage.CredentialStore.Driver == "" {
		c.Storage.CredentialStore.Driver = "memory"
	}

	if c.Chains.DefinitionPath == "" {
		c.Chains.DefinitionPath = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.DefinitionPath) {
		c.Chains.DefinitionPath = filepath.Join(baseDir, c.Chains.DefinitionPath)
	}

	if c.Vault.PassphraseEnv == "" {
		c.Vault.PassphraseEnv = "WALLETD_VAULT_PASSPHRASE"
	}

	if c.Approval.Driver == "" {
		c.Approval.Driver = "memory"
	}

	if c.Executor.ConfirmIntervalSeconds <= 0 {
		c.Executor.ConfirmIntervalSeconds = 2
	}
	if c.Executor.ConfirmTimeoutSeconds <= 0 {
		c.Executor.ConfirmTimeoutSeconds = 180
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logger.Audit.Enabled && c.Logger.Audit.Path == "" {
		c.Logger.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// validate 拦截明显无法启动的配置组合。
func (c *Config) validate() error {
	switch c.Storage.CredentialStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.CredentialStore.DSN == "" {
			return errors.New("mysql 凭据存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的凭据存储驱动: %s", c.Storage.CredentialStore.Driver)
	}

	switch c.Approval.Driver {
	case "memory":
	case "rabbitmq":
		if c.Approval.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 审批渠道需要配置 url")
		}
	case "redis":
		if c.Approval.Redis.Address == "" {
			return errors.New("redis 审批渠道需要配置 address")
		}
	default:
		return fmt.Errorf("未知的审批投递驱动: %s", c.Approval.Driver)
	}

	return nil
}
