package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"OpenWallet-Chain/pkg/logger"
)

// Verdict 是动作分类结果。
type Verdict string

const (
	// VerdictAllowReadOnly 只读查询，永不改写状态，直接放行。
	VerdictAllowReadOnly Verdict = "allow_read_only"
	// VerdictAllowBuilder 协议集成层的构造类动作，只产出 calldata
	// 不执行，直接放行。
	VerdictAllowBuilder Verdict = "allow_builder"
	// VerdictRequiresApproval 任何会签名并提交交易的动作。
	VerdictRequiresApproval Verdict = "requires_approval"
	// VerdictDeny 显式黑名单，当前为空但必须支持。
	VerdictDeny Verdict = "deny"
	// VerdictAllowDefault 未匹配任何已知模式的动作回落为放行。
	// 这是刻意的 fail-open 选择，每次命中都会记录日志。
	VerdictAllowDefault Verdict = "allow_default"
)

// readOnlyActions 永不改写链上状态。
var readOnlyActions = map[string]struct{}{
	"get_wallet_address":     {},
	"get_balance":            {},
	"get_token_balances":     {},
	"get_positions":          {},
	"get_transaction_status": {},
}

// approvalActions 会签名并提交交易，必须经人工审批。
var approvalActions = map[string]struct{}{
	"transfer_native":                {},
	"transfer_token":                 {},
	"execute_transactions":           {},
	"execute_serialized_transaction": {},
	"exchange_place_order":           {},
	"exchange_cancel_order":          {},
	"exchange_withdraw":              {},
}

// builderPrefixes 标记只构造不执行的协议集成动作。
var builderPrefixes = []string{"build_", "quote_", "prepare_"}

// Policy 把动作名映射到固定能力表。纯函数，自身不做任何 I/O。
type Policy struct {
	denied map[string]struct{}
	log    *slog.Logger
}

// New 创建策略实例。deniedActions 填充显式黑名单。
func New(deniedActions ...string) *Policy {
	denied := make(map[string]struct{}, len(deniedActions))
	for _, action := range deniedActions {
		denied[strings.ToLower(strings.TrimSpace(action))] = struct{}{}
	}
	return &Policy{denied: denied, log: logger.Named("policy")}
}

// Classify 返回动作的能力分类。黑名单优先级最高。
func (p *Policy) Classify(action string) Verdict {
	name := strings.ToLower(strings.TrimSpace(action))

	if _, ok := p.denied[name]; ok {
		return VerdictDeny
	}
	if _, ok := readOnlyActions[name]; ok {
		return VerdictAllowReadOnly
	}
	if _, ok := approvalActions[name]; ok {
		return VerdictRequiresApproval
	}
	for _, prefix := range builderPrefixes {
		if strings.HasPrefix(name, prefix) {
			return VerdictAllowBuilder
		}
	}

	p.log.Warn("未知动作按默认放行处理", slog.String("action", name))
	return VerdictAllowDefault
}

// Summarize 为需要审批的动作生成人类可读的摘要文本。
func Summarize(action string, input map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请求执行 %s", action)

	if len(input) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, input[key]))
	}
	fmt.Fprintf(&b, "（%s）", strings.Join(parts, ", "))
	return b.String()
}
