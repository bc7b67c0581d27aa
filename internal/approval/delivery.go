package approval

import (
	"context"
)

// Choice 标签随按钮一起发给外部渠道，回调原样带回。
const (
	ChoiceApprove = "approve"
	ChoiceDeny    = "deny"
)

// Prompt 是发往外部消息渠道的审批请求。两个按钮都携带同一个
// correlation id，回调据此定位挂起条目。
type Prompt struct {
	CorrelationID string   `json:"correlation_id"`
	UserID        int64    `json:"user_id"`
	Tool          string   `json:"tool"`
	Summary       string   `json:"summary"`
	Choices       []string `json:"choices"`
}

// DecisionMessage 是外部渠道回传的人工决定。
type DecisionMessage struct {
	CorrelationID string `json:"correlation_id"`
	Choice        string `json:"choice"`
}

// Resolver 是投递层回调协调器的最小接口。
type Resolver interface {
	Resolve(correlationID string, decision Decision) error
}

// Delivery 抽象外部审批渠道。Deliver 发布出站提示；Listen 消费入站
// 决定并转交 Resolver，阻塞直到上下文取消。
type Delivery interface {
	Deliver(ctx context.Context, prompt Prompt) error
	Listen(ctx context.Context, resolver Resolver) error
	Close() error
}

// DecisionFromChoice 把渠道按钮标签映射为决定；未知标签按拒绝处理。
func DecisionFromChoice(choice string) Decision {
	if choice == ChoiceApprove {
		return DecisionApproved
	}
	return DecisionDenied
}
