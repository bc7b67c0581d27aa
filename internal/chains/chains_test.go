package chains

import (
	"testing"

	xerrors "OpenWallet-Chain/internal/errors"
)

func TestParseKnownChains(t *testing.T) {
	cases := []struct {
		name string
		want Chain
	}{
		{"ethereum", Ethereum},
		{"Sepolia", Sepolia},
		{" base ", Base},
		{"arbitrum", Arbitrum},
		{"bsc", BSC},
		{"solana-mainnet", SolanaMainnet},
		{"solana-devnet", SolanaDevnet},
	}
	for _, tc := range cases {
		got, err := Parse(tc.name)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseUnknownChain(t *testing.T) {
	_, err := Parse("dogechain")
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedChain {
		t.Fatalf("unexpected error: %v", err)
	}
	walletErr, ok := xerrors.From(err)
	if !ok {
		t.Fatalf("expected wallet error, got %T", err)
	}
	if walletErr.Metadata()["supported"] == "" {
		t.Fatal("error does not carry the supported chain list")
	}
}

func TestParseEVM(t *testing.T) {
	chain, err := ParseEVM(8453)
	if err != nil {
		t.Fatalf("parse evm: %v", err)
	}
	if chain != Base {
		t.Fatalf("got %q want %q", chain, Base)
	}
	if _, err := ParseEVM(999999); xerrors.CodeOf(err) != xerrors.CodeUnsupportedChain {
		t.Fatalf("unexpected error for unknown id: %v", err)
	}
}

func TestParseCluster(t *testing.T) {
	chain, err := ParseCluster("mainnet-beta")
	if err != nil {
		t.Fatalf("parse cluster: %v", err)
	}
	if chain != SolanaMainnet {
		t.Fatalf("got %q want %q", chain, SolanaMainnet)
	}
	if _, err := ParseCluster("testnet"); xerrors.CodeOf(err) != xerrors.CodeUnsupportedChain {
		t.Fatalf("unexpected error for unknown cluster: %v", err)
	}
}

func TestFamilyAndIdentifiers(t *testing.T) {
	if Ethereum.Family() != FamilyEVM {
		t.Fatal("ethereum should be an EVM chain")
	}
	if SolanaDevnet.Family() != FamilySolana {
		t.Fatal("solana-devnet should be a Solana chain")
	}
	if got := Sepolia.EVMChainID().Int64(); got != 11155111 {
		t.Fatalf("unexpected sepolia chain id: %d", got)
	}
	if SolanaMainnet.EVMChainID() != nil {
		t.Fatal("solana chain must not expose an EVM chain id")
	}
	if got := SolanaDevnet.Cluster(); got != "devnet" {
		t.Fatalf("unexpected cluster: %q", got)
	}
}

func TestSupportedIsStable(t *testing.T) {
	first := Supported()
	second := Supported()
	if len(first) != len(chainTable) {
		t.Fatalf("unexpected length: got %d want %d", len(first), len(chainTable))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("supported list order is not stable")
		}
	}
}
