package executor

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"OpenWallet-Chain/internal/chains"
	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/observability/metrics"
	"OpenWallet-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// evmBackend mirrors the subset of ethclient.Client the executor needs,
// so tests can script confirmations without a node.
type evmBackend interface {
	chains.CallBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Executor signs and submits prepared transactions. Submission is
// irreversible the instant the node accepts it; all validation happens
// before signing.
type Executor struct {
	registry        *chains.Registry
	confirmInterval time.Duration
	confirmTimeout  time.Duration
	log             *slog.Logger
}

// Option 定义可选的 Executor 配置。
type Option func(*Executor)

// WithConfirmInterval 设置轮询回执的间隔。
func WithConfirmInterval(interval time.Duration) Option {
	return func(e *Executor) {
		if interval > 0 {
			e.confirmInterval = interval
		}
	}
}

// WithConfirmTimeout 设置等待确认的上限。
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.confirmTimeout = timeout
		}
	}
}

// New 创建交易执行器。
func New(registry *chains.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:        registry,
		confirmInterval: 2 * time.Second,
		confirmTimeout:  3 * time.Minute,
		log:             logger.Named("executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExecuteBatch executes steps strictly in ordinal order on one EVM chain.
// On the first reverted step execution stops: results are returned up to
// and including the reverted step, alongside a STEP_FAILED error naming
// the failing ordinal. Nothing is retried here; retry means the caller
// re-issuing a fresh batch.
func (e *Executor) ExecuteBatch(ctx context.Context, chain chains.Chain, signer *ecdsa.PrivateKey, steps []Step) ([]StepResult, error) {
	if len(steps) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易批次为空")
	}
	if err := validateOrdinals(steps); err != nil {
		return nil, err
	}

	handle, err := e.registry.EVM(ctx, chain)
	if err != nil {
		return nil, err
	}
	return e.executeEVM(ctx, handle.Client, handle.ChainID, signer, steps)
}

func (e *Executor) executeEVM(ctx context.Context, backend evmBackend, chainID *big.Int, signer *ecdsa.PrivateKey, steps []Step) ([]StepResult, error) {
	from := gethcrypto.PubkeyToAddress(signer.PublicKey)
	signerScheme := coretypes.LatestSignerForChainID(chainID)

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		if !common.IsHexAddress(step.Target) {
			return results, xerrors.New(xerrors.CodeInvalidArgument,
				"步骤 "+strconv.Itoa(step.Ordinal)+" 的目标地址不合法")
		}
		to := common.HexToAddress(step.Target)
		value := step.Value
		if value == nil {
			value = new(big.Int)
		}

		nonce, err := backend.PendingNonceAt(ctx, from)
		if err != nil {
			return results, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取 nonce 失败")
		}

		tip, err := backend.SuggestGasTipCap(ctx)
		if err != nil {
			return results, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取小费建议失败")
		}
		head, err := backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return results, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取最新区块头失败")
		}
		// feeCap = 2*baseFee + tip，容忍基础费在等待确认期间翻倍。
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		gasLimit, err := chains.ResolveGasLimit(ctx, backend, gethcore.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  step.Payload,
		})
		if err != nil {
			return results, e.stepFailed(step, "", err)
		}

		tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      step.Payload,
		})
		signedTx, err := coretypes.SignTx(tx, signerScheme, signer)
		if err != nil {
			return results, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "签名交易失败")
		}

		if err := backend.SendTransaction(ctx, signedTx); err != nil {
			return results, e.stepFailed(step, signedTx.Hash().Hex(), err)
		}
		e.log.Info("交易已提交",
			slog.Int("ordinal", step.Ordinal),
			slog.String("kind", string(step.Kind)),
			slog.String("hash", signedTx.Hash().Hex()))

		receipt, err := e.waitReceipt(ctx, backend, signedTx.Hash())
		if err != nil {
			return results, e.stepFailed(step, signedTx.Hash().Hex(), err)
		}
		if receipt.Status == coretypes.ReceiptStatusFailed {
			// 回滚的步骤也计入结果，调用方凭哈希到浏览器核查。
			auditStep(step, signedTx.Hash().Hex(), StatusReverted)
			results = append(results, StepResult{
				Handle:      signedTx.Hash().Hex(),
				Status:      StatusReverted,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			})
			return results, e.stepFailed(step, signedTx.Hash().Hex(),
				stdErrors.New("交易在链上回滚"))
		}

		auditStep(step, signedTx.Hash().Hex(), StatusSuccess)
		results = append(results, StepResult{
			Handle:      signedTx.Hash().Hex(),
			Status:      StatusSuccess,
			BlockNumber: receipt.BlockNumber.Uint64(),
			GasUsed:     receipt.GasUsed,
		})
	}
	return results, nil
}

// waitReceipt polls until the transaction is mined or the confirm timeout
// elapses. Pending lookups surface as ethereum.NotFound and are retried.
func (e *Executor) waitReceipt(ctx context.Context, backend evmBackend, hash common.Hash) (*coretypes.Receipt, error) {
	deadline := time.Now().Add(e.confirmTimeout)
	ticker := time.NewTicker(e.confirmInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stdErrors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, xerrors.New(xerrors.CodeTimeout, "等待交易确认超时",
				xerrors.WithMetadata("hash", hash.Hex()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) stepFailed(step Step, handle string, cause error) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("ordinal", strconv.Itoa(step.Ordinal)),
		xerrors.WithMetadata("description", step.Description),
	}
	if handle != "" {
		opts = append(opts, xerrors.WithMetadata("handle", handle))
	}
	return xerrors.Wrap(xerrors.CodeStepFailed, cause,
		"步骤 "+strconv.Itoa(step.Ordinal)+" 执行失败: "+step.Description, opts...)
}

func auditStep(step Step, handle string, status StepStatus) {
	metrics.ObserveStep(string(status))
	logger.Audit().Info("transaction_step",
		slog.Int("ordinal", step.Ordinal),
		slog.String("kind", string(step.Kind)),
		slog.String("description", step.Description),
		slog.String("handle", handle),
		slog.String("status", string(status)))
}

// validateOrdinals 要求步骤序号从 1 开始且连续，与执行顺序一致。
func validateOrdinals(steps []Step) error {
	for i, step := range steps {
		if step.Ordinal != i+1 {
			return xerrors.New(xerrors.CodeInvalidArgument, "步骤序号必须从 1 开始且连续")
		}
	}
	return nil
}
