package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"smartmint/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is the read-only side of an Ethereum node. *ethclient.Client
// satisfies it.
type Backend interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var ErrUnexpectedOutput = errors.New("unexpected contract output")

// NFT performs typed read calls and dry-run simulations against any
// contract that speaks the mintable NFT ABI.
type NFT struct {
	backend Backend
	abi     abi.ABI
}

func NewNFT(backend Backend) *NFT {
	return &NFT{backend: backend, abi: contracts.MintableNFT}
}

func (n *NFT) bound(address common.Address) *bind.BoundContract {
	return bind.NewBoundContract(address, n.abi, n.backend, nil, nil)
}

func (n *NFT) call(ctx context.Context, address common.Address, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := n.bound(address).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: %w", method, ErrUnexpectedOutput)
	}
	return out[0], nil
}

func (n *NFT) callString(ctx context.Context, address common.Address, method string, args ...interface{}) (string, error) {
	v, err := n.call(ctx, address, method, args...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("call %s: %w", method, ErrUnexpectedOutput)
	}
	return s, nil
}

func (n *NFT) callBig(ctx context.Context, address common.Address, method string, args ...interface{}) (*big.Int, error) {
	v, err := n.call(ctx, address, method, args...)
	if err != nil {
		return nil, err
	}
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("call %s: %w", method, ErrUnexpectedOutput)
	}
	return b, nil
}

// HasCode reports whether bytecode is deployed at address.
func (n *NFT) HasCode(ctx context.Context, address common.Address) (bool, error) {
	code, err := n.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("get code: %w", err)
	}
	return len(code) > 0, nil
}

func (n *NFT) Name(ctx context.Context, address common.Address) (string, error) {
	return n.callString(ctx, address, "name")
}

func (n *NFT) Symbol(ctx context.Context, address common.Address) (string, error) {
	return n.callString(ctx, address, "symbol")
}

func (n *NFT) BaseURI(ctx context.Context, address common.Address) (string, error) {
	return n.callString(ctx, address, "baseURI")
}

func (n *NFT) TotalSupply(ctx context.Context, address common.Address) (*big.Int, error) {
	return n.callBig(ctx, address, "totalSupply")
}

func (n *NFT) BalanceOf(ctx context.Context, address, owner common.Address) (*big.Int, error) {
	return n.callBig(ctx, address, "balanceOf", owner)
}

// RolesOf returns the OwnableRoles bitmap held by user.
func (n *NFT) RolesOf(ctx context.Context, address, user common.Address) (*big.Int, error) {
	return n.callBig(ctx, address, "rolesOf", user)
}

// Pack encodes a call to one of the ABI methods.
func (n *NFT) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := n.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// Simulate dry-runs method as if sent by from. Nothing is broadcast; a nil
// error means the call did not revert.
func (n *NFT) Simulate(ctx context.Context, address, from common.Address, method string, args ...interface{}) error {
	data, err := n.Pack(method, args...)
	if err != nil {
		return err
	}
	msg := ethereum.CallMsg{From: from, To: &address, Data: data}
	if _, err := n.backend.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("simulate %s: %w", method, err)
	}
	return nil
}

// ContractInfo is a best-effort diagnostic snapshot of a collection.
type ContractInfo struct {
	Address     common.Address `json:"address"`
	HasCode     bool           `json:"hasCode"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	TotalSupply string         `json:"totalSupply"`
	Errors      []string       `json:"errors,omitempty"`
}

const notAvailable = "N/A"

// Inspect runs every diagnostic read concurrently and reports each failure
// instead of stopping at the first one.
func (n *NFT) Inspect(ctx context.Context, address common.Address) ContractInfo {
	info := ContractInfo{
		Address:     address,
		Name:        notAvailable,
		Symbol:      notAvailable,
		TotalSupply: notAvailable,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(label string, err error, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			info.Errors = append(info.Errors, fmt.Sprintf("%s: %v", label, err))
			return
		}
		apply()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		name, err := n.Name(ctx, address)
		record("name", err, func() { info.Name = name })
	}()
	go func() {
		defer wg.Done()
		symbol, err := n.Symbol(ctx, address)
		record("symbol", err, func() { info.Symbol = symbol })
	}()
	go func() {
		defer wg.Done()
		supply, err := n.TotalSupply(ctx, address)
		record("totalSupply", err, func() { info.TotalSupply = supply.String() })
	}()
	go func() {
		defer wg.Done()
		ok, err := n.HasCode(ctx, address)
		record("getCode", err, func() { info.HasCode = ok })
	}()
	wg.Wait()
	sort.Strings(info.Errors)
	return info
}
