// Package wallet is the boundary to the owner's wallet: something that can
// list the authorized EOA and sign messages on its behalf, spoken in the
// JSON-RPC shape browsers expose as window.ethereum.
package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider is an EIP-1193 style wallet.
type Provider interface {
	// RequestAccounts asks the wallet for access, which may prompt the user.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts lists already authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	// Request performs an arbitrary JSON-RPC call and decodes into result.
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// ProviderError is a JSON-RPC error with an EIP-1193 code.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string  { return e.Message }
func (e *ProviderError) ErrorCode() int { return e.Code }

const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
)

// RPCProvider talks to a remote signer (Clef, Frame, a node with unlocked
// accounts) over JSON-RPC.
type RPCProvider struct {
	client *rpc.Client
}

func DialRPCProvider(ctx context.Context, url string) (*RPCProvider, error) {
	if url == "" {
		return nil, fmt.Errorf("wallet rpc url is required")
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}
	return &RPCProvider{client: c}, nil
}

func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *RPCProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.client.CallContext(ctx, result, method, params...)
}

func (p *RPCProvider) Close() {
	p.client.Close()
}

// Signer signs messages through a Provider using personal_sign.
type Signer struct {
	Provider Provider
}

// SignMessage returns a 65-byte [R || S || V] signature over the EIP-191
// prefixed msg, with V normalized to 27/28.
func (s Signer) SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.Provider.Request(ctx, &sig, "personal_sign", hexutil.Bytes(msg), account); err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("personal_sign: unexpected signature length %d", len(sig))
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
