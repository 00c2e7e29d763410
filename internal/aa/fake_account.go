package aa

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeAccount is an in-memory Account for tests and dry runs. By default every
// operation is accepted and included successfully.
type FakeAccount struct {
	AccountAddress common.Address
	OwnerAddress   common.Address

	// SendFunc and WaitFunc override the default behaviour when set.
	SendFunc func(ctx context.Context, call Call) (common.Hash, error)
	WaitFunc func(ctx context.Context, hash common.Hash) (*Receipt, error)

	mu   sync.Mutex
	sent []Call
}

func NewFakeAccount(owner, address common.Address) *FakeAccount {
	return &FakeAccount{AccountAddress: address, OwnerAddress: owner}
}

func (f *FakeAccount) Address() common.Address { return f.AccountAddress }
func (f *FakeAccount) Owner() common.Address   { return f.OwnerAddress }

func (f *FakeAccount) SendUserOperation(ctx context.Context, call Call) (common.Hash, error) {
	f.mu.Lock()
	f.sent = append(f.sent, call)
	n := len(f.sent)
	f.mu.Unlock()

	if f.SendFunc != nil {
		return f.SendFunc(ctx, call)
	}
	return crypto.Keccak256Hash(f.AccountAddress.Bytes(), big.NewInt(int64(n)).Bytes()), nil
}

func (f *FakeAccount) WaitForUserOperation(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if f.WaitFunc != nil {
		return f.WaitFunc(ctx, hash)
	}
	r := &Receipt{
		UserOpHash: hash,
		Sender:     f.AccountAddress,
		Success:    true,
		Nonce:      (*hexutil.Big)(new(big.Int)),
	}
	r.Receipt.TransactionHash = crypto.Keccak256Hash(hash.Bytes())
	return r, nil
}

// Sent returns every call submitted so far.
func (f *FakeAccount) Sent() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.sent...)
}
