package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"OpenWallet-Chain/internal/approval"
	"OpenWallet-Chain/internal/chains"
	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/executor"
	"OpenWallet-Chain/internal/policy"
	"OpenWallet-Chain/internal/vault"
	"OpenWallet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

// Service 是动作请求的总入口：先过策略分类，需要审批的动作走一轮
// 人工审批，放行后由执行器代为签名提交。网关自己不持有任何链上状态。
type Service struct {
	policy      *policy.Policy
	vault       *vault.Service
	registry    *chains.Registry
	executor    *executor.Executor
	coordinator *approval.Coordinator
	delivery    approval.Delivery
	passphrase  string
	log         *slog.Logger
}

// NewService 组装网关。passphrase 是部署级口令，用于保管库的密钥派生。
func NewService(
	pol *policy.Policy,
	vaultSvc *vault.Service,
	registry *chains.Registry,
	exec *executor.Executor,
	coordinator *approval.Coordinator,
	delivery approval.Delivery,
	passphrase string,
) *Service {
	return &Service{
		policy:      pol,
		vault:       vaultSvc,
		registry:    registry,
		executor:    exec,
		coordinator: coordinator,
		delivery:    delivery,
		passphrase:  passphrase,
		log:         logger.Named("gateway"),
	}
}

// Coordinator 暴露协调器给回调与查询接口。
func (s *Service) Coordinator() *approval.Coordinator {
	return s.coordinator
}

// HandleAction 处理一次动作请求。审批被人工拒绝是正常终态，以 deny
// 响应而非错误返回；错误只代表请求本身无法受理或基础设施故障。
func (s *Service) HandleAction(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	if req.Action == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "action 不能为空")
	}
	if req.UserID <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user_id 不合法")
	}

	verdict := s.policy.Classify(req.Action)
	s.log.Info("动作已分类",
		slog.Int64("user_id", req.UserID),
		slog.String("action", req.Action),
		slog.String("verdict", string(verdict)))

	switch verdict {
	case policy.VerdictDeny:
		logger.AuditEvent("action_denied", req.UserID, slog.String("action", req.Action))
		return &ActionResponse{
			Decision: decisionDeny,
			Message:  "动作 " + req.Action + " 已被策略禁止",
		}, nil

	case policy.VerdictRequiresApproval:
		decision, err := s.runApproval(ctx, req)
		if err != nil {
			return nil, err
		}
		if decision != approval.DecisionApproved {
			logger.AuditEvent("action_denied", req.UserID, slog.String("action", req.Action))
			return &ActionResponse{
				Decision: decisionDeny,
				Message:  "动作 " + req.Action + " 被人工审批拒绝",
			}, nil
		}
		return s.execute(ctx, req)

	case policy.VerdictAllowReadOnly:
		return s.query(ctx, req)

	default:
		// builder 与默认放行的动作由外部集成层执行，这里原样放行输入。
		return &ActionResponse{Decision: decisionAllow, Input: req.Input}, nil
	}
}

// runApproval 登记挂起条目、投递提示并阻塞等待人工决定。投递失败时
// 丢弃条目，避免无人会来解决的审批永远挂起。
func (s *Service) runApproval(ctx context.Context, req ActionRequest) (approval.Decision, error) {
	id := s.coordinator.Request(req.UserID, req.Action)

	prompt := approval.Prompt{
		CorrelationID: id,
		UserID:        req.UserID,
		Tool:          req.Action,
		Summary:       policy.Summarize(req.Action, req.Input),
		Choices:       []string{approval.ChoiceApprove, approval.ChoiceDeny},
	}
	if err := s.delivery.Deliver(ctx, prompt); err != nil {
		s.coordinator.Abandon(id)
		return "", xerrors.Wrap(xerrors.CodeDeliveryFailure, err, "投递审批提示失败")
	}

	return s.coordinator.AwaitDecision(ctx, id)
}

// execute 把已获批的动作分发给对应的执行路径。网关只代为执行自己
// 认识的签名类动作，其余已获批动作放行给外部执行层。
func (s *Service) execute(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	switch req.Action {
	case "transfer_native":
		return s.executeTransfer(ctx, req)
	case "transfer_token", "execute_transactions":
		return s.executeEVMBatch(ctx, req)
	case "execute_serialized_transaction":
		return s.executeSolana(ctx, req)
	default:
		return &ActionResponse{Decision: decisionAllow, Input: req.Input}, nil
	}
}

func (s *Service) executeTransfer(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	var input transferInput
	if err := decodeInput(req.Input, &input); err != nil {
		return nil, err
	}
	value, err := parseAmount(input.Value)
	if err != nil {
		return nil, err
	}

	batch := evmBatchInput{
		ChainID: input.ChainID,
		Transactions: []evmTransactionSpec{{
			To:          input.To,
			Value:       input.Value,
			Description: "转账 " + value.String() + " wei 至 " + input.To,
		}},
	}
	return s.runEVMBatch(ctx, req.UserID, batch)
}

func (s *Service) executeEVMBatch(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	var input evmBatchInput
	if err := decodeInput(req.Input, &input); err != nil {
		return nil, err
	}
	return s.runEVMBatch(ctx, req.UserID, input)
}

func (s *Service) runEVMBatch(ctx context.Context, userID int64, input evmBatchInput) (*ActionResponse, error) {
	chain, err := chains.ParseEVM(input.ChainID)
	if err != nil {
		return nil, err
	}
	if len(input.Transactions) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易批次为空")
	}

	steps := make([]executor.Step, 0, len(input.Transactions))
	for i, tx := range input.Transactions {
		value := new(big.Int)
		if tx.Value != "" {
			if value, err = parseAmount(tx.Value); err != nil {
				return nil, err
			}
		}
		var payload []byte
		if tx.Data != "" {
			payload = common.FromHex(tx.Data)
		}
		steps = append(steps, executor.Step{
			Ordinal:     i + 1,
			Kind:        stepKind(tx.Kind),
			Description: tx.Description,
			Target:      tx.To,
			Payload:     payload,
			Value:       value,
		})
	}

	cred, err := s.vault.EnsureCredential(ctx, userID, s.passphrase)
	if err != nil {
		return nil, err
	}
	signer, err := cred.EVMSigner()
	if err != nil {
		return nil, err
	}

	results, err := s.executor.ExecuteBatch(ctx, chain, signer, steps)
	execution := &ExecutionResult{
		Success: err == nil,
		Results: make([]StepOutcome, 0, len(results)),
	}
	for _, result := range results {
		execution.Results = append(execution.Results, StepOutcome{
			Hash:        result.Handle,
			Status:      string(result.Status),
			BlockNumber: result.BlockNumber,
			GasUsed:     result.GasUsed,
		})
	}
	if err != nil {
		// 步骤失败是执行的正常结局之一：结果包含到失败步骤为止的
		// 全部哈希，失败原因随响应返回。其余错误按基础设施故障上抛。
		if xerrors.CodeOf(err) != xerrors.CodeStepFailed {
			return nil, err
		}
		execution.Error = err.Error()
	}
	return &ActionResponse{Decision: decisionAllow, Execution: execution}, nil
}

func (s *Service) executeSolana(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	var input solanaInput
	if err := decodeInput(req.Input, &input); err != nil {
		return nil, err
	}
	chain, err := chains.ParseCluster(input.Cluster)
	if err != nil {
		return nil, err
	}
	serialized, err := base64.StdEncoding.DecodeString(input.SerializedTransaction)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "serializedTransaction 不是合法的 base64")
	}

	cred, err := s.vault.EnsureCredential(ctx, req.UserID, s.passphrase)
	if err != nil {
		return nil, err
	}
	signer, err := cred.SolanaSigner()
	if err != nil {
		return nil, err
	}

	result, err := s.executor.ExecuteSerialized(ctx, chain, signer, serialized)
	if err != nil {
		if xerrors.CodeOf(err) != xerrors.CodeStepFailed {
			return nil, err
		}
		// 失败响应仍携带签名与状态，人工可据此到浏览器核查。
		return &ActionResponse{
			Decision: decisionAllow,
			Execution: &ExecutionResult{
				Success:   false,
				Signature: result.Handle,
				Status:    string(result.Status),
				Error:     err.Error(),
			},
		}, nil
	}
	return &ActionResponse{
		Decision: decisionAllow,
		Execution: &ExecutionResult{
			Success:   true,
			Signature: result.Handle,
			Status:    string(result.Status),
		},
	}, nil
}

// query 处理网关自己能回答的只读动作，其余只读动作放行给外部执行层。
func (s *Service) query(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	switch req.Action {
	case "get_wallet_address":
		cred, err := s.vault.EnsureCredential(ctx, req.UserID, s.passphrase)
		if err != nil {
			return nil, err
		}
		return &ActionResponse{
			Decision: decisionAllow,
			Result: map[string]any{
				"evmAddress":    cred.EVMAddress,
				"solanaAddress": cred.SolanaAddress,
			},
		}, nil

	case "get_balance":
		return s.queryBalance(ctx, req)

	default:
		return &ActionResponse{Decision: decisionAllow, Input: req.Input}, nil
	}
}

func (s *Service) queryBalance(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	var input balanceInput
	if err := decodeInput(req.Input, &input); err != nil {
		return nil, err
	}
	chain, err := chains.Parse(input.Chain)
	if err != nil {
		return nil, err
	}

	cred, err := s.vault.EnsureCredential(ctx, req.UserID, s.passphrase)
	if err != nil {
		return nil, err
	}

	switch chain.Family() {
	case chains.FamilyEVM:
		handle, err := s.registry.EVM(ctx, chain)
		if err != nil {
			return nil, err
		}
		balance, err := handle.Client.BalanceAt(ctx, common.HexToAddress(cred.EVMAddress), nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "查询余额失败")
		}
		return &ActionResponse{
			Decision: decisionAllow,
			Result: map[string]any{
				"chain":   chain.String(),
				"address": cred.EVMAddress,
				"balance": balance.String(),
				"unit":    "wei",
			},
		}, nil

	case chains.FamilySolana:
		handle, err := s.registry.Solana(chain)
		if err != nil {
			return nil, err
		}
		pubkey, err := solana.PublicKeyFromBase58(cred.SolanaAddress)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析 Solana 地址失败")
		}
		out, err := handle.Client.GetBalance(ctx, pubkey, solrpc.CommitmentConfirmed)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "查询余额失败")
		}
		return &ActionResponse{
			Decision: decisionAllow,
			Result: map[string]any{
				"chain":   chain.String(),
				"address": cred.SolanaAddress,
				"balance": strconv.FormatUint(out.Value, 10),
				"unit":    "lamports",
			},
		}, nil
	}
	return nil, xerrors.New(xerrors.CodeUnsupportedChain, "未知的链族")
}

// decodeInput 用 JSON 往返把松散的 map 输入绑定到具体结构。
func decodeInput(input map[string]any, dst any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化输入失败")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "输入结构不合法")
	}
	return nil
}

// parseAmount 解析十进制或 0x 前缀十六进制的非负整数金额。
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}

	base := 10
	digits := trimmed
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		base = 16
		digits = trimmed[2:]
	}
	value, ok := new(big.Int).SetString(digits, base)
	if !ok || value.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额不合法: "+raw)
	}
	return value, nil
}

func stepKind(kind string) executor.StepKind {
	switch strings.ToLower(kind) {
	case string(executor.StepApproval):
		return executor.StepApproval
	case string(executor.StepSwap):
		return executor.StepSwap
	default:
		return executor.StepAction
	}
}
