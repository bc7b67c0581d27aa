package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述审批渠道的 Redis 连接参数。
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PromptList   string
	DecisionList string
	BlockWait    time.Duration
}

// RedisDelivery 用两个 Redis list 对接外部渠道：提示 LPUSH 到出站
// 列表，决定经 BRPOP 从入站列表取回。
type RedisDelivery struct {
	client    *redis.Client
	prompts   string
	decisions string
	wait      time.Duration
	log       *slog.Logger
}

// NewRedisDelivery 创建 Redis 审批投递实例。
func NewRedisDelivery(cfg RedisConfig) (*RedisDelivery, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prompts := cfg.PromptList
	if prompts == "" {
		prompts = "openwallet:approvals:prompts"
	}
	decisions := cfg.DecisionList
	if decisions == "" {
		decisions = "openwallet:approvals:decisions"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisDelivery{
		client:    client,
		prompts:   prompts,
		decisions: decisions,
		wait:      wait,
		log:       logger.Named("approval.redis"),
	}, nil
}

// Deliver 把审批提示推入出站列表。
func (d *RedisDelivery) Deliver(ctx context.Context, prompt Prompt) error {
	body, err := json.Marshal(prompt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDeliveryFailure, err, "序列化审批提示失败")
	}
	if err := d.client.LPush(ctx, d.prompts, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeDeliveryFailure, err, "推送审批提示失败")
	}
	return nil
}

// Listen 通过 BRPOP 消费决定列表，逐条转交协调器。
func (d *RedisDelivery) Listen(ctx context.Context, resolver Resolver) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		values, err := d.client.BRPop(ctx, d.wait, d.decisions).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("读取决定列表失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}

		var decision DecisionMessage
		if err := json.Unmarshal([]byte(values[1]), &decision); err != nil {
			d.log.Warn("无法解析的决定消息", slog.String("body", values[1]))
			continue
		}
		if err := resolver.Resolve(decision.CorrelationID, DecisionFromChoice(decision.Choice)); err != nil {
			d.log.Warn("决定回调被拒绝",
				slog.String("correlation_id", decision.CorrelationID),
				slog.String("error", err.Error()))
		}
	}
}

// Close 关闭 Redis 连接。
func (d *RedisDelivery) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
