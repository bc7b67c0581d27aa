package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	xerrors "OpenWallet-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// fakeEVMBackend scripts node behaviour per submitted transaction.
// statuses[i] is the receipt status of the i-th transaction sent.
type fakeEVMBackend struct {
	mu       sync.Mutex
	statuses []uint64
	sent     []*coretypes.Transaction

	estimateErr error
	sendErr     error
}

func (f *fakeEVMBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21000, nil
}

func (f *fakeEVMBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeEVMBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeEVMBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{
		Number:  big.NewInt(1),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (f *fakeEVMBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeEVMBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEVMBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for idx, tx := range f.sent {
		if tx.Hash() == hash {
			status := coretypes.ReceiptStatusSuccessful
			if idx < len(f.statuses) {
				status = f.statuses[idx]
			}
			return &coretypes.Receipt{
				Status:      status,
				BlockNumber: big.NewInt(int64(100 + idx)),
				GasUsed:     21000,
			}, nil
		}
	}
	return nil, gethcore.NotFound
}

func testExecutor() *Executor {
	return New(nil,
		WithConfirmInterval(time.Millisecond),
		WithConfirmTimeout(time.Second),
	)
}

func testSteps(count int) []Step {
	steps := make([]Step, 0, count)
	for i := 0; i < count; i++ {
		steps = append(steps, Step{
			Ordinal:     i + 1,
			Kind:        StepAction,
			Description: "step",
			Target:      "0x000000000000000000000000000000000000dEaD",
			Value:       big.NewInt(1),
		})
	}
	return steps
}

func TestExecuteEVMBatchSuccess(t *testing.T) {
	signer, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	backend := &fakeEVMBackend{}
	exec := testExecutor()

	results, err := exec.executeEVM(context.Background(), backend, big.NewInt(11155111), signer, testSteps(2))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("unexpected result count: got %d want 2", len(results))
	}
	for idx, result := range results {
		if result.Status != StatusSuccess {
			t.Fatalf("step %d: unexpected status %q", idx+1, result.Status)
		}
		if result.Handle != backend.sent[idx].Hash().Hex() {
			t.Fatalf("step %d: handle does not match submitted transaction", idx+1)
		}
		if result.BlockNumber != uint64(100+idx) {
			t.Fatalf("step %d: unexpected block number %d", idx+1, result.BlockNumber)
		}
	}

	// Nonces must follow submission order and the fee cap must absorb a
	// doubled base fee on top of the tip.
	if backend.sent[0].Nonce() != 0 || backend.sent[1].Nonce() != 1 {
		t.Fatalf("unexpected nonces: %d, %d", backend.sent[0].Nonce(), backend.sent[1].Nonce())
	}
	wantFeeCap := big.NewInt(4_000_000_000)
	if backend.sent[0].GasFeeCap().Cmp(wantFeeCap) != 0 {
		t.Fatalf("unexpected fee cap: got %s want %s", backend.sent[0].GasFeeCap(), wantFeeCap)
	}
	if backend.sent[0].ChainId().Int64() != 11155111 {
		t.Fatalf("unexpected chain id: %s", backend.sent[0].ChainId())
	}
}

func TestExecuteEVMBatchStopsOnRevert(t *testing.T) {
	signer, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	backend := &fakeEVMBackend{
		statuses: []uint64{coretypes.ReceiptStatusSuccessful, coretypes.ReceiptStatusFailed},
	}
	exec := testExecutor()

	results, err := exec.executeEVM(context.Background(), backend, big.NewInt(1), signer, testSteps(3))
	if xerrors.CodeOf(err) != xerrors.CodeStepFailed {
		t.Fatalf("unexpected error: %v", err)
	}
	// Results run up to and including the reverted step, so the caller can
	// look the failing transaction up on an explorer.
	if len(results) != 2 {
		t.Fatalf("unexpected result count: got %d want 2", len(results))
	}
	if results[0].Status != StatusSuccess {
		t.Fatalf("unexpected status for completed step: %q", results[0].Status)
	}
	if results[1].Status != StatusReverted {
		t.Fatalf("unexpected status for reverted step: %q", results[1].Status)
	}
	if results[1].Handle != backend.sent[1].Hash().Hex() {
		t.Fatal("reverted transaction hash missing from results")
	}
	// The third step must never have been submitted.
	if len(backend.sent) != 2 {
		t.Fatalf("execution continued past the failed step: %d transactions sent", len(backend.sent))
	}

	walletErr, ok := xerrors.From(err)
	if !ok {
		t.Fatalf("expected wallet error, got %T", err)
	}
	metadata := walletErr.Metadata()
	if metadata["ordinal"] != "2" {
		t.Fatalf("unexpected failing ordinal: %q", metadata["ordinal"])
	}
	if metadata["handle"] != backend.sent[1].Hash().Hex() {
		t.Fatal("failing transaction hash missing from error metadata")
	}
}

func TestExecuteEVMBatchSubmitFailure(t *testing.T) {
	signer, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	backend := &fakeEVMBackend{sendErr: errors.New("nonce too low")}
	exec := testExecutor()

	results, err := exec.executeEVM(context.Background(), backend, big.NewInt(1), signer, testSteps(1))
	if xerrors.CodeOf(err) != xerrors.CodeStepFailed {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestExecuteEVMBatchInvalidTarget(t *testing.T) {
	signer, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	steps := testSteps(1)
	steps[0].Target = "not-an-address"

	exec := testExecutor()
	if _, err := exec.executeEVM(context.Background(), &fakeEVMBackend{}, big.NewInt(1), signer, steps); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteBatchRejectsEmptyBatch(t *testing.T) {
	exec := testExecutor()
	if _, err := exec.ExecuteBatch(context.Background(), "ethereum", nil, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOrdinals(t *testing.T) {
	valid := testSteps(3)
	if err := validateOrdinals(valid); err != nil {
		t.Fatalf("valid ordinals rejected: %v", err)
	}

	gap := testSteps(3)
	gap[2].Ordinal = 5
	if err := validateOrdinals(gap); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error for gapped ordinals: %v", err)
	}

	zeroBased := testSteps(2)
	zeroBased[0].Ordinal = 0
	zeroBased[1].Ordinal = 1
	if err := validateOrdinals(zeroBased); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error for zero-based ordinals: %v", err)
	}
}
