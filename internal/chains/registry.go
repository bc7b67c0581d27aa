package chains

import (
	"context"
	"math/big"
	"sync"

	xerrors "OpenWallet-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

// EVMHandle bundles the dialed client with the chain id used for signing.
// Handles are shared read-only across all flows; the registry owns their
// lifecycle.
type EVMHandle struct {
	Chain   Chain
	ChainID *big.Int
	Client  *ethclient.Client

	rpc *gethrpc.Client
}

// SolanaHandle wraps the JSON-RPC client for one Solana cluster.
type SolanaHandle struct {
	Chain   Chain
	Cluster string
	Client  *solrpc.Client
}

// Registry lazily constructs and caches one connection handle per chain.
// It holds no mutable chain state, only memoized handles.
type Registry struct {
	mu        sync.Mutex
	endpoints map[Chain]EndpointDefinition
	evm       map[Chain]*EVMHandle
	solana    map[Chain]*SolanaHandle
}

// NewRegistry creates a registry over the configured endpoints. No
// connection is dialed until a handle is first requested.
func NewRegistry(endpoints map[Chain]EndpointDefinition) *Registry {
	if endpoints == nil {
		endpoints = map[Chain]EndpointDefinition{}
	}
	return &Registry{
		endpoints: endpoints,
		evm:       make(map[Chain]*EVMHandle),
		solana:    make(map[Chain]*SolanaHandle),
	}
}

// EVM returns the memoized handle for an EVM chain, dialing on first use.
func (r *Registry) EVM(ctx context.Context, chain Chain) (*EVMHandle, error) {
	if chain.Family() != FamilyEVM {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "链 "+chain.String()+" 不是 EVM 链")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.evm[chain]; ok {
		return handle, nil
	}

	endpoint, ok := r.endpoints[chain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfiguration, "链 "+chain.String()+" 未配置 RPC 端点")
	}

	rpcClient, err := gethrpc.DialContext(ctx, endpoint.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "连接 "+chain.String()+" 节点失败")
	}

	handle := &EVMHandle{
		Chain:   chain,
		ChainID: chain.EVMChainID(),
		Client:  ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
	}
	r.evm[chain] = handle
	return handle, nil
}

// Solana returns the memoized handle for a Solana cluster.
func (r *Registry) Solana(chain Chain) (*SolanaHandle, error) {
	if chain.Family() != FamilySolana {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "链 "+chain.String()+" 不是 Solana cluster")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.solana[chain]; ok {
		return handle, nil
	}

	endpoint, ok := r.endpoints[chain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfiguration, "cluster "+chain.Cluster()+" 未配置 RPC 端点")
	}

	handle := &SolanaHandle{
		Chain:   chain,
		Cluster: chain.Cluster(),
		Client:  solrpc.New(endpoint.RPCURL),
	}
	r.solana[chain] = handle
	return handle, nil
}

// Configured reports whether an endpoint exists for the chain without
// dialing it.
func (r *Registry) Configured(chain Chain) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.endpoints[chain]
	return ok
}

// Close releases every dialed connection.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for chain, handle := range r.evm {
		if handle.Client != nil {
			handle.Client.Close()
		}
		delete(r.evm, chain)
	}
	for chain, handle := range r.solana {
		if handle.Client != nil {
			_ = handle.Client.Close()
		}
		delete(r.solana, chain)
	}
}
