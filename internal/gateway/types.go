package gateway

// ActionRequest 是外部接口提交的一次动作请求。Input 的结构由动作自身
// 决定，网关只解析自己要执行的那几类。
type ActionRequest struct {
	UserID int64          `json:"user_id"`
	Action string         `json:"action"`
	Input  map[string]any `json:"input,omitempty"`
}

// ActionResponse 是动作请求的统一响应。放行且由网关代为执行的动作带
// Execution；放行但交由外部执行的动作原样回传 Input；拒绝时只带 Message。
type ActionResponse struct {
	Decision  string           `json:"decision"`
	Message   string           `json:"message,omitempty"`
	Input     map[string]any   `json:"input,omitempty"`
	Execution *ExecutionResult `json:"execution,omitempty"`
	Result    map[string]any   `json:"result,omitempty"`
}

const (
	decisionAllow = "allow"
	decisionDeny  = "deny"
)

// ExecutionResult 汇总一次链上执行的结果。EVM 批次填 Results；Solana
// 单笔填 Signature 与 Status。失败时 Error 给出人类可读的原因，已成功
// 步骤的结果仍然保留。
type ExecutionResult struct {
	Success   bool          `json:"success"`
	Results   []StepOutcome `json:"results,omitempty"`
	Signature string        `json:"signature,omitempty"`
	Status    string        `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// StepOutcome 是 EVM 批次中单个步骤的链上结果。
type StepOutcome struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// evmBatchInput 是 execute_transactions 与两类转账动作的输入结构。
type evmBatchInput struct {
	ChainID      int64                `json:"chainId"`
	Transactions []evmTransactionSpec `json:"transactions"`
}

// evmTransactionSpec 是批次中一笔已构造好的交易。Data 为 0x 前缀的
// calldata，Value 为十进制或 0x 前缀十六进制的 wei 数量。
type evmTransactionSpec struct {
	To          string `json:"to"`
	Data        string `json:"data,omitempty"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// solanaInput 是 execute_serialized_transaction 的输入结构。交易由外部
// 构造层序列化后以 base64 送达。
type solanaInput struct {
	Cluster               string `json:"cluster"`
	SerializedTransaction string `json:"serializedTransaction"`
	Description           string `json:"description,omitempty"`
}

// transferInput 是 transfer_native 的输入结构。
type transferInput struct {
	ChainID int64  `json:"chainId"`
	To      string `json:"to"`
	Value   string `json:"value"`
}

// balanceInput 是 get_balance 的输入结构。Chain 接受链名枚举。
type balanceInput struct {
	Chain string `json:"chain"`
}
