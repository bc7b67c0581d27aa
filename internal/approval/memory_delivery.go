package approval

import (
	"context"
	"log/slog"
	"sync"

	"OpenWallet-Chain/pkg/logger"
)

// MemoryDelivery 把审批提示记录在进程内，供开发环境与测试使用。
// 决定通过 HTTP 回调到达，无需入站监听。
type MemoryDelivery struct {
	mu      sync.Mutex
	prompts []Prompt
	log     *slog.Logger
}

// NewMemoryDelivery 创建内存投递实例。
func NewMemoryDelivery() *MemoryDelivery {
	return &MemoryDelivery{log: logger.Named("approval.memory")}
}

// Deliver 记录提示并写入日志，操作员从日志或 Prompts() 中取
// correlation id 后经 HTTP 回调决定。
func (d *MemoryDelivery) Deliver(_ context.Context, prompt Prompt) error {
	d.mu.Lock()
	d.prompts = append(d.prompts, prompt)
	d.mu.Unlock()

	d.log.Info("待审批操作",
		slog.String("correlation_id", prompt.CorrelationID),
		slog.Int64("user_id", prompt.UserID),
		slog.String("summary", prompt.Summary))
	return nil
}

// Listen 无入站渠道，阻塞到上下文取消为止。
func (d *MemoryDelivery) Listen(ctx context.Context, _ Resolver) error {
	<-ctx.Done()
	return ctx.Err()
}

// Prompts 返回已投递提示的副本。
func (d *MemoryDelivery) Prompts() []Prompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Prompt(nil), d.prompts...)
}

// Close 实现 Delivery。
func (d *MemoryDelivery) Close() error {
	return nil
}
