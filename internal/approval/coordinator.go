package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/observability/metrics"
	"OpenWallet-Chain/pkg/logger"

	"github.com/google/uuid"
)

// Decision 是审批的终态。PENDING 之外只有这两种状态，且状态机只允许
// PENDING → APPROVED / DENIED 一次性迁移。
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// PendingInfo 是挂起审批的只读快照，供运维查询。
type PendingInfo struct {
	CorrelationID string    `json:"correlation_id"`
	UserID        int64     `json:"user_id"`
	Tool          string    `json:"tool"`
	CreatedAt     time.Time `json:"created_at"`
}

// pendingEntry 关联一次审批请求与其一次性决定通道。
type pendingEntry struct {
	info     PendingInfo
	decision chan Decision
	resolved bool
	claimed  bool
}

// Coordinator 维护 correlation id 到挂起审批的并发安全映射。
// 不同 id 之间互不阻塞；唯一的共享锁只保护映射本身。
// 挂起条目没有超时：人不回应就一直等（已知缺口，刻意保留）。
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	log     *slog.Logger
}

// NewCoordinator 创建审批协调器。
func NewCoordinator() *Coordinator {
	return &Coordinator{
		pending: make(map[string]*pendingEntry),
		log:     logger.Named("approval"),
	}
}

// Request 登记一个 PENDING 条目并立即返回 correlation id。
// 是否挂起等待由调用方决定。
func (c *Coordinator) Request(userID int64, tool string) string {
	id := uuid.New().String()
	entry := &pendingEntry{
		info: PendingInfo{
			CorrelationID: id,
			UserID:        userID,
			Tool:          tool,
			CreatedAt:     time.Now(),
		},
		// 缓冲为 1：Resolve 先于 AwaitDecision 到达时不丢失决定。
		decision: make(chan Decision, 1),
	}

	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	logger.AuditEvent("approval_requested", userID,
		slog.String("correlation_id", id),
		slog.String("tool", tool))
	return id
}

// AwaitDecision 挂起调用方直到条目离开 PENDING，随后移除条目并返回
// 决定。对已移除或已被等待的 id 立即返回 ALREADY_RESOLVED，绝不悬挂。
// 上下文取消视为放弃，条目同样被移除。
func (c *Coordinator) AwaitDecision(ctx context.Context, correlationID string) (Decision, error) {
	c.mu.Lock()
	entry, ok := c.pending[correlationID]
	if !ok {
		c.mu.Unlock()
		return "", xerrors.New(xerrors.CodeAlreadyResolved, "审批条目不存在或已完成")
	}
	if entry.claimed {
		c.mu.Unlock()
		return "", xerrors.New(xerrors.CodeAlreadyResolved, "审批条目已有等待者")
	}
	entry.claimed = true
	c.mu.Unlock()

	select {
	case decision := <-entry.decision:
		c.remove(correlationID)
		return decision, nil
	case <-ctx.Done():
		c.remove(correlationID)
		logger.AuditEvent("approval_abandoned", entry.info.UserID,
			slog.String("correlation_id", correlationID))
		return "", ctx.Err()
	}
}

// Resolve 由外部渠道的回调触发。对未知或已完成的 id 返回错误而非静默
// 覆盖，防止重复点击投递出两个冲突的决定。
func (c *Coordinator) Resolve(correlationID string, decision Decision) error {
	if decision != DecisionApproved && decision != DecisionDenied {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的审批决定: "+string(decision))
	}

	c.mu.Lock()
	entry, ok := c.pending[correlationID]
	if !ok {
		c.mu.Unlock()
		return xerrors.New(xerrors.CodeNotFound, "审批条目不存在")
	}
	if entry.resolved {
		c.mu.Unlock()
		c.log.Warn("重复的审批回调被拒绝", slog.String("correlation_id", correlationID))
		return xerrors.New(xerrors.CodeAlreadyResolved, "")
	}
	entry.resolved = true
	entry.decision <- decision
	c.mu.Unlock()

	metrics.ObserveApprovalDecision(string(decision))
	logger.AuditEvent("approval_resolved", entry.info.UserID,
		slog.String("correlation_id", correlationID),
		slog.String("decision", string(decision)))
	return nil
}

// Abandon 丢弃尚未解决的条目，用于提示投递失败等无人会来解决的场景。
// 已解决的条目不受影响。
func (c *Coordinator) Abandon(correlationID string) {
	c.mu.Lock()
	entry, ok := c.pending[correlationID]
	if ok && !entry.resolved {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
}

// Pending 返回当前所有挂起条目的快照。
func (c *Coordinator) Pending() []PendingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]PendingInfo, 0, len(c.pending))
	for _, entry := range c.pending {
		if !entry.resolved {
			infos = append(infos, entry.info)
		}
	}
	return infos
}

func (c *Coordinator) remove(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}
