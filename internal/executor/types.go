package executor

import (
	"math/big"

	"OpenWallet-Chain/internal/chains"
)

// StepKind classifies a batch step for audit and summary purposes.
type StepKind string

const (
	StepApproval StepKind = "approval"
	StepAction   StepKind = "action"
	StepSwap     StepKind = "swap"
)

// Step is one prepared call inside an EVM batch. Payloads arrive already
// built by the protocol integration layer; the executor only decides
// whether and how safely to sign and submit them.
type Step struct {
	Ordinal     int
	Kind        StepKind
	Description string
	Target      string
	Payload     []byte
	Value       *big.Int
}

// Batch is an ordered sequence of steps on a single chain. It lives for
// exactly one execution call and is never persisted.
type Batch struct {
	Chain chains.Chain
	Steps []Step
}

// StepStatus is the confirmation outcome of a submitted step.
type StepStatus string

const (
	StatusSuccess  StepStatus = "success"
	StatusReverted StepStatus = "reverted"
)

// StepResult captures the on-chain outcome of one submitted step. Handle
// is the transaction hash on EVM chains and the signature on Solana.
type StepResult struct {
	Handle      string
	Status      StepStatus
	BlockNumber uint64
	GasUsed     uint64
}
