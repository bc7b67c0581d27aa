package chains

import (
	"os"
	"path/filepath"
	"testing"
)

func writeChainsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains file: %v", err)
	}
	return path
}

func TestLoadEndpointDefinitions(t *testing.T) {
	path := writeChainsFile(t, `
chains:
  sepolia:
    rpc_url: "https://sepolia.example.com"
    description: "testnet"
  solana-devnet:
    rpc_url: "https://api.devnet.solana.com"
`)

	endpoints, err := LoadEndpointDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("unexpected endpoint count: got %d want 2", len(endpoints))
	}
	if endpoints[Sepolia].RPCURL != "https://sepolia.example.com" {
		t.Fatalf("unexpected sepolia endpoint: %+v", endpoints[Sepolia])
	}
	if _, ok := endpoints[SolanaDevnet]; !ok {
		t.Fatal("solana-devnet endpoint missing")
	}
}

func TestLoadEndpointDefinitionsRejectsUnknownChain(t *testing.T) {
	path := writeChainsFile(t, `
chains:
  dogechain:
    rpc_url: "https://doge.example.com"
`)
	if _, err := LoadEndpointDefinitions(path); err == nil {
		t.Fatal("expected error for unknown chain key")
	}
}

func TestLoadEndpointDefinitionsRejectsMissingRPCURL(t *testing.T) {
	path := writeChainsFile(t, `
chains:
  base:
    description: "no rpc"
`)
	if _, err := LoadEndpointDefinitions(path); err == nil {
		t.Fatal("expected error for missing rpc_url")
	}
}

func TestLoadEndpointDefinitionsEmptyPath(t *testing.T) {
	endpoints, err := LoadEndpointDefinitions("")
	if err != nil {
		t.Fatalf("load empty path: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("expected no endpoints, got %d", len(endpoints))
	}
}

func TestRegistryRequiresConfiguredEndpoint(t *testing.T) {
	registry := NewRegistry(nil)
	if registry.Configured(Ethereum) {
		t.Fatal("unconfigured chain reported as configured")
	}
	if _, err := registry.Solana(SolanaMainnet); err == nil {
		t.Fatal("expected configuration error for missing endpoint")
	}
	if _, err := registry.Solana(Ethereum); err == nil {
		t.Fatal("expected family error for EVM chain on Solana lookup")
	}
}
