package chains

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
)

// FallbackGasLimit is the conservative ceiling substituted when dynamic
// estimation fails but a read-only simulation of the same call succeeds.
// Observed with some RPC providers on complex multi-call payloads: the
// estimate endpoint rejects a call that eth_call executes fine.
const FallbackGasLimit uint64 = 3_000_000

// CallBackend is the subset of the EVM client needed to resolve gas.
type CallBackend interface {
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ResolveGasLimit implements the two-step estimation fallback.
//
// A successful estimate is used as-is. When estimation fails the call is
// replayed as a read-only simulation: if that also fails the original
// estimation error propagates (the transaction would revert on-chain and
// must not be submitted); if the simulation succeeds the estimation
// failure is treated as a provider false negative and FallbackGasLimit is
// substituted.
func ResolveGasLimit(ctx context.Context, backend CallBackend, msg gethcore.CallMsg) (uint64, error) {
	gas, err := backend.EstimateGas(ctx, msg)
	if err == nil {
		return gas, nil
	}

	if _, simErr := backend.CallContract(ctx, msg, nil); simErr != nil {
		return 0, err
	}
	return FallbackGasLimit, nil
}
