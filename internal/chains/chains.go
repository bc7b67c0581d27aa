package chains

import (
	"math/big"
	"sort"
	"strings"

	xerrors "OpenWallet-Chain/internal/errors"
)

// Family distinguishes the two supported transaction models.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// Chain is a closed enumeration of supported networks. Identifiers are
// resolved once at the boundary; everything past the boundary works with
// a validated Chain value, never a raw string.
type Chain string

const (
	Ethereum      Chain = "ethereum"
	Sepolia       Chain = "sepolia"
	Base          Chain = "base"
	Arbitrum      Chain = "arbitrum"
	BSC           Chain = "bsc"
	SolanaMainnet Chain = "solana-mainnet"
	SolanaDevnet  Chain = "solana-devnet"
)

type chainInfo struct {
	family  Family
	chainID int64  // EVM numeric chain id
	cluster string // Solana cluster name
}

var chainTable = map[Chain]chainInfo{
	Ethereum:      {family: FamilyEVM, chainID: 1},
	Sepolia:       {family: FamilyEVM, chainID: 11155111},
	Base:          {family: FamilyEVM, chainID: 8453},
	Arbitrum:      {family: FamilyEVM, chainID: 42161},
	BSC:           {family: FamilyEVM, chainID: 56},
	SolanaMainnet: {family: FamilySolana, cluster: "mainnet-beta"},
	SolanaDevnet:  {family: FamilySolana, cluster: "devnet"},
}

// Family returns the transaction model of the chain.
func (c Chain) Family() Family {
	return chainTable[c].family
}

// EVMChainID returns the numeric chain id used by EIP-155 signing.
// Only meaningful for FamilyEVM chains.
func (c Chain) EVMChainID() *big.Int {
	info, ok := chainTable[c]
	if !ok || info.family != FamilyEVM {
		return nil
	}
	return big.NewInt(info.chainID)
}

// Cluster returns the Solana cluster name. Only meaningful for
// FamilySolana chains.
func (c Chain) Cluster() string {
	return chainTable[c].cluster
}

func (c Chain) String() string {
	return string(c)
}

// Supported lists every known chain identifier in stable order.
func Supported() []string {
	names := make([]string, 0, len(chainTable))
	for chain := range chainTable {
		names = append(names, string(chain))
	}
	sort.Strings(names)
	return names
}

// Parse resolves a chain name into the closed enumeration. Unknown names
// produce an UNSUPPORTED_CHAIN error carrying the supported list so the
// caller can surface it to the user directly.
func Parse(name string) (Chain, error) {
	chain := Chain(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := chainTable[chain]; !ok {
		return "", xerrors.New(xerrors.CodeUnsupportedChain,
			"不支持的链标识: "+name,
			xerrors.WithMetadata("supported", strings.Join(Supported(), ", ")))
	}
	return chain, nil
}

// ParseEVM resolves a numeric EVM chain id into the enumeration.
func ParseEVM(chainID int64) (Chain, error) {
	for chain, info := range chainTable {
		if info.family == FamilyEVM && info.chainID == chainID {
			return chain, nil
		}
	}
	return "", xerrors.New(xerrors.CodeUnsupportedChain,
		"不支持的 EVM chain id",
		xerrors.WithMetadata("supported", strings.Join(Supported(), ", ")))
}

// ParseCluster resolves a Solana cluster name into the enumeration.
func ParseCluster(cluster string) (Chain, error) {
	normalized := strings.ToLower(strings.TrimSpace(cluster))
	for chain, info := range chainTable {
		if info.family == FamilySolana && info.cluster == normalized {
			return chain, nil
		}
	}
	return "", xerrors.New(xerrors.CodeUnsupportedChain,
		"不支持的 Solana cluster: "+cluster,
		xerrors.WithMetadata("supported", strings.Join(Supported(), ", ")))
}
