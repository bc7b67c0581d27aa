package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OpenWallet-Chain/internal/chains"
	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/observability/metrics"
	"OpenWallet-Chain/pkg/logger"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

// solanaBackend mirrors the subset of the Solana RPC client the executor
// needs, so confirmation polling is scriptable in tests.
type solanaBackend interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solrpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solrpc.GetSignatureStatusesResult, error)
}

// ExecuteSerialized signs and submits one pre-built serialized Solana
// transaction. The payload may already carry other required signatures
// from the external builder; only the user's signature slot is filled in.
// Solana transactions are atomic, so the batch partial-failure model does
// not apply: the result is a single StepResult.
func (e *Executor) ExecuteSerialized(ctx context.Context, chain chains.Chain, signer solana.PrivateKey, serialized []byte) (StepResult, error) {
	if len(serialized) == 0 {
		return StepResult{}, xerrors.New(xerrors.CodeInvalidArgument, "序列化交易为空")
	}

	handle, err := e.registry.Solana(chain)
	if err != nil {
		return StepResult{}, err
	}
	return e.executeSolana(ctx, handle.Client, signer, serialized)
}

func (e *Executor) executeSolana(ctx context.Context, backend solanaBackend, signer solana.PrivateKey, serialized []byte) (StepResult, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(serialized))
	if err != nil {
		return StepResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "反序列化 Solana 交易失败")
	}

	signerKey := signer.PublicKey()
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signerKey) {
			return &signer
		}
		return nil
	}); err != nil {
		return StepResult{}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "补签 Solana 交易失败")
	}

	sig, err := backend.SendTransactionWithOpts(ctx, tx, solrpc.TransactionOpts{
		PreflightCommitment: solrpc.CommitmentConfirmed,
	})
	if err != nil {
		return StepResult{}, xerrors.Wrap(xerrors.CodeStepFailed, err, "提交 Solana 交易失败")
	}
	e.log.Info("Solana 交易已提交", slog.String("signature", sig.String()))

	slot, err := e.waitSolanaConfirmation(ctx, backend, sig)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeStepFailed {
			// 已提交且确认失败：结果带上签名，供人工到浏览器核查。
			metrics.ObserveStep(string(StatusReverted))
			logger.Audit().Info("transaction_step",
				slog.String("kind", "solana"),
				slog.String("handle", sig.String()),
				slog.String("status", string(StatusReverted)))
			return StepResult{Handle: sig.String(), Status: StatusReverted}, err
		}
		return StepResult{}, err
	}

	metrics.ObserveStep(string(StatusSuccess))
	logger.Audit().Info("transaction_step",
		slog.String("kind", "solana"),
		slog.String("handle", sig.String()),
		slog.String("status", string(StatusSuccess)))

	return StepResult{
		Handle:      sig.String(),
		Status:      StatusSuccess,
		BlockNumber: slot,
	}, nil
}

// waitSolanaConfirmation polls signature status at a fixed commitment
// level until the transaction is at least confirmed.
func (e *Executor) waitSolanaConfirmation(ctx context.Context, backend solanaBackend, sig solana.Signature) (uint64, error) {
	deadline := time.Now().Add(e.confirmTimeout)
	ticker := time.NewTicker(e.confirmInterval)
	defer ticker.Stop()

	for {
		out, err := backend.GetSignatureStatuses(ctx, false, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return 0, xerrors.New(xerrors.CodeStepFailed,
					fmt.Sprintf("Solana 交易执行失败: %v", status.Err),
					xerrors.WithMetadata("handle", sig.String()))
			}
			switch status.ConfirmationStatus {
			case solrpc.ConfirmationStatusConfirmed, solrpc.ConfirmationStatusFinalized:
				return status.Slot, nil
			}
		}
		if time.Now().After(deadline) {
			return 0, xerrors.New(xerrors.CodeTimeout, "等待 Solana 确认超时",
				xerrors.WithMetadata("handle", sig.String()))
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
