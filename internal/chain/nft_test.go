package chain

import (
	"context"
	"math/big"
	"testing"

	"smartmint/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	collection = common.HexToAddress("0x6D1BaA7951f26f600b4ABc3a9CF8F18aBf36fac1")
	holder     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func TestNFTReads(t *testing.T) {
	backend := NewFakeBackend()
	backend.SetCode(collection, []byte{0x60, 0x80})
	backend.Return(collection, contracts.MintableNFT, "name", "Smart Wallet NFT")
	backend.Return(collection, contracts.MintableNFT, "balanceOf", big.NewInt(3))
	backend.Return(collection, contracts.MintableNFT, "baseURI", "ipfs://collection/")

	nft := NewNFT(backend)
	ctx := context.Background()

	name, err := nft.Name(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "Smart Wallet NFT", name)

	bal, err := nft.BalanceOf(ctx, collection, holder)
	require.NoError(t, err)
	require.Equal(t, int64(3), bal.Int64())

	uri, err := nft.BaseURI(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "ipfs://collection/", uri)

	ok, err := nft.HasCode(ctx, collection)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSimulateSendsCallerAsFrom(t *testing.T) {
	backend := NewFakeBackend()
	var seen ethereum.CallMsg
	backend.Handle(collection, contracts.MintableNFT, "mintTo", func(msg ethereum.CallMsg) ([]byte, error) {
		seen = msg
		return nil, nil
	})

	nft := NewNFT(backend)
	require.NoError(t, nft.Simulate(context.Background(), collection, holder, "mintTo", holder))
	require.Equal(t, holder, seen.From)

	err := nft.Simulate(context.Background(), collection, holder, "safeMint", holder)
	require.ErrorIs(t, err, ErrExecutionReverted)
}

func TestInspectCollectsEveryFailure(t *testing.T) {
	backend := NewFakeBackend()
	backend.SetCode(collection, []byte{0x1})
	backend.Return(collection, contracts.MintableNFT, "name", "Smart Wallet NFT")

	info := NewNFT(backend).Inspect(context.Background(), collection)
	require.True(t, info.HasCode)
	require.Equal(t, "Smart Wallet NFT", info.Name)
	require.Equal(t, "N/A", info.Symbol)
	require.Equal(t, "N/A", info.TotalSupply)
	require.Len(t, info.Errors, 2)
}
