package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述审批渠道的 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL           string
	PromptQueue   string
	DecisionQueue string
	Durable       bool
}

// RabbitMQDelivery 通过两条队列对接外部消息渠道：出站提示发布到
// PromptQueue，渠道网关把人工决定写回 DecisionQueue。
type RabbitMQDelivery struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	prompts   string
	decisions string
	log       *slog.Logger
}

// NewRabbitMQDelivery 建立连接并声明两条队列。
func NewRabbitMQDelivery(cfg RabbitMQConfig) (*RabbitMQDelivery, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	prompts := cfg.PromptQueue
	if prompts == "" {
		prompts = "openwallet.approvals.prompts"
	}
	decisions := cfg.DecisionQueue
	if decisions == "" {
		decisions = "openwallet.approvals.decisions"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	for _, queue := range []string{prompts, decisions} {
		if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明队列 %s 失败: %w", queue, err)
		}
	}
	return &RabbitMQDelivery{
		conn:      conn,
		ch:        ch,
		prompts:   prompts,
		decisions: decisions,
		log:       logger.Named("approval.rabbitmq"),
	}, nil
}

// Deliver 把审批提示发布到出站队列。
func (d *RabbitMQDelivery) Deliver(ctx context.Context, prompt Prompt) error {
	if d == nil || d.ch == nil {
		return errors.New("RabbitMQ 投递未初始化")
	}
	body, err := json.Marshal(prompt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDeliveryFailure, err, "序列化审批提示失败")
	}
	if err := d.ch.PublishWithContext(ctx, "", d.prompts, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeDeliveryFailure, err, "发布审批提示失败")
	}
	return nil
}

// Listen 以手动确认模式消费决定队列，逐条转交协调器。重复回调由
// 协调器拒绝，这里只记录后确认消息，避免重复投递堆积。
func (d *RabbitMQDelivery) Listen(ctx context.Context, resolver Resolver) error {
	if d == nil || d.ch == nil {
		return errors.New("RabbitMQ 投递未初始化")
	}
	msgs, err := d.ch.Consume(d.decisions, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅决定队列失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("决定队列已关闭")
			}
			var decision DecisionMessage
			if err := json.Unmarshal(msg.Body, &decision); err != nil {
				d.log.Warn("无法解析的决定消息", slog.String("body", string(msg.Body)))
				_ = msg.Ack(false)
				continue
			}
			if err := resolver.Resolve(decision.CorrelationID, DecisionFromChoice(decision.Choice)); err != nil {
				d.log.Warn("决定回调被拒绝",
					slog.String("correlation_id", decision.CorrelationID),
					slog.String("error", err.Error()))
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (d *RabbitMQDelivery) Close() error {
	if d == nil {
		return nil
	}
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
