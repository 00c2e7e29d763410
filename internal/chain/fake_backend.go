package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrExecutionReverted is what FakeBackend returns for calls nobody handles.
var ErrExecutionReverted = errors.New("execution reverted")

// CallHandler answers one eth_call made against FakeBackend.
type CallHandler func(msg ethereum.CallMsg) ([]byte, error)

type handlerKey struct {
	address  common.Address
	selector [4]byte
}

// FakeBackend is an in-memory Backend for tests. Calls are routed by target
// address and 4-byte selector; unknown calls revert.
type FakeBackend struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	handlers map[handlerKey]CallHandler
	counts   map[handlerKey]int
	codeErr  error
	calls    int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		code:     make(map[common.Address][]byte),
		handlers: make(map[handlerKey]CallHandler),
		counts:   make(map[handlerKey]int),
	}
}

func (f *FakeBackend) SetCode(address common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = code
}

// FailCode makes every CodeAt call return err.
func (f *FakeBackend) FailCode(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeErr = err
}

func key(address common.Address, a abi.ABI, method string) handlerKey {
	m, ok := a.Methods[method]
	if !ok {
		panic(fmt.Sprintf("fake backend: unknown method %q", method))
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	return handlerKey{address: address, selector: sel}
}

func (f *FakeBackend) Handle(address common.Address, a abi.ABI, method string, h CallHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key(address, a, method)] = h
}

// Return answers method with the ABI encoding of values.
func (f *FakeBackend) Return(address common.Address, a abi.ABI, method string, values ...interface{}) {
	out, err := a.Methods[method].Outputs.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("fake backend: pack %s outputs: %v", method, err))
	}
	f.Handle(address, a, method, func(ethereum.CallMsg) ([]byte, error) { return out, nil })
}

// Revert makes method fail with err.
func (f *FakeBackend) Revert(address common.Address, a abi.ABI, method string, err error) {
	f.Handle(address, a, method, func(ethereum.CallMsg) ([]byte, error) { return nil, err })
}

// CallCount returns how many times method was called on address.
func (f *FakeBackend) CallCount(address common.Address, a abi.ABI, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key(address, a, method)]
}

// Calls returns the total number of RPC calls seen, code lookups included.
func (f *FakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeBackend) CodeAt(_ context.Context, address common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.code[address], nil
}

func (f *FakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	if msg.To == nil || len(msg.Data) < 4 {
		f.mu.Unlock()
		return nil, ErrExecutionReverted
	}
	var k handlerKey
	k.address = *msg.To
	copy(k.selector[:], msg.Data[:4])
	f.counts[k]++
	h, ok := f.handlers[k]
	f.mu.Unlock()

	if !ok {
		return nil, ErrExecutionReverted
	}
	return h(msg)
}
