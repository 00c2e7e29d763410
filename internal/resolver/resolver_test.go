package resolver

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"

	"smartmint/internal/chain"
	"smartmint/internal/contracts"
	"smartmint/internal/errkind"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	first   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	second  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	account = common.HexToAddress("0x00000000000000000000000000000000000acc01")
)

type revertError struct{ data string }

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

func unauthorizedRevert() error {
	return revertError{data: hexutil.Encode(crypto.Keccak256([]byte("Unauthorized()"))[:4])}
}

func newResolver(backend *chain.FakeBackend) *Resolver {
	return New(chain.NewNFT(backend), nil, nil)
}

func TestResolveContractEmptyListMakesNoCalls(t *testing.T) {
	backend := chain.NewFakeBackend()
	_, err := newResolver(backend).ResolveContract(context.Background(), nil)

	require.Equal(t, errkind.NoWorkingContract, errkind.KindOf(err))
	require.Zero(t, backend.Calls())
}

func TestResolveContractSkipsBrokenCandidates(t *testing.T) {
	backend := chain.NewFakeBackend()
	// first has no code at all
	backend.SetCode(second, []byte{0x60})
	backend.Return(second, contracts.MintableNFT, "name", "Smart Wallet NFT")

	got, err := newResolver(backend).ResolveContract(context.Background(), []common.Address{first, second})
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestResolveContractNameMustAnswer(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.SetCode(first, []byte{0x60})

	_, err := newResolver(backend).ResolveContract(context.Background(), []common.Address{first})
	require.Equal(t, errkind.NoWorkingContract, errkind.KindOf(err))
}

func TestResolveContractStopsOnNetworkError(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.SetCode(second, []byte{0x60})
	backend.Return(second, contracts.MintableNFT, "name", "Smart Wallet NFT")
	backend.FailCode(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, err := newResolver(backend).ResolveContract(context.Background(), []common.Address{first, second})
	require.Equal(t, errkind.NetworkError, errkind.KindOf(err))
	require.Zero(t, backend.CallCount(second, contracts.MintableNFT, "name"))
}

func TestResolveContractNameNetworkError(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.SetCode(first, []byte{0x60})
	backend.SetCode(second, []byte{0x60})
	backend.Revert(first, contracts.MintableNFT, "name", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")})
	backend.Return(second, contracts.MintableNFT, "name", "Smart Wallet NFT")

	_, err := newResolver(backend).ResolveContract(context.Background(), []common.Address{first, second})
	require.Equal(t, errkind.NetworkError, errkind.KindOf(err))
	require.Zero(t, backend.CallCount(second, contracts.MintableNFT, "name"))
}

func TestResolveMintFunctionFirstSuccessWins(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.Revert(first, contracts.MintableNFT, "mintTo", chain.ErrExecutionReverted)
	backend.Handle(first, contracts.MintableNFT, "safeMint", func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, account, msg.From)
		return nil, nil
	})
	backend.Return(first, contracts.MintableNFT, "mint")

	res, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.NoError(t, err)
	require.Equal(t, "safeMint", res.Function)
	require.Equal(t, first, res.Contract)
	require.Equal(t, []interface{}{account}, res.Args)
	require.Equal(t, contracts.MintableNFT.Methods["safeMint"].ID, res.CallData[:4])
	require.Zero(t, backend.CallCount(first, contracts.MintableNFT, "mint"))
}

func TestResolveMintFunctionUnauthorized(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.Revert(first, contracts.MintableNFT, "mintTo", unauthorizedRevert())

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.Equal(t, errkind.Unauthorized, errkind.KindOf(err))

	var missing *MissingRoleError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, account, missing.Caller)
	require.Nil(t, missing.Roles)
}

func TestResolveMintFunctionUnauthorizedCarriesRoles(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.Revert(first, contracts.MintableNFT, "mintTo", unauthorizedRevert())
	backend.Return(first, contracts.MintableNFT, "rolesOf", big.NewInt(0))

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.Equal(t, errkind.Unauthorized, errkind.KindOf(err))

	var missing *MissingRoleError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, 0, missing.Roles.Sign())
	require.Equal(t, 1, backend.CallCount(first, contracts.MintableNFT, "rolesOf"))
}

func TestResolveMintFunctionUnauthorizedButRoleHeld(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.Revert(first, contracts.MintableNFT, "mintTo", unauthorizedRevert())
	backend.Return(first, contracts.MintableNFT, "rolesOf", big.NewInt(contracts.MinterRole))

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.Equal(t, errkind.NoCompatibleFunction, errkind.KindOf(err))
}

func TestResolveMintFunctionNoCompatibleFunction(t *testing.T) {
	backend := chain.NewFakeBackend()

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.Equal(t, errkind.NoCompatibleFunction, errkind.KindOf(err))
	for _, fn := range DefaultMintFunctions {
		require.Equal(t, 1, backend.CallCount(first, contracts.MintableNFT, fn.Name))
	}
}

func TestResolveMintFunctionStopsOnNetworkError(t *testing.T) {
	backend := chain.NewFakeBackend()
	backend.Revert(first, contracts.MintableNFT, "mintTo", errors.New("dial tcp: connection refused"))

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, DefaultMintFunctions)
	require.Equal(t, errkind.NetworkError, errkind.KindOf(err))
	require.Zero(t, backend.CallCount(first, contracts.MintableNFT, "safeMint"))
}

func TestResolveMintFunctionEmptyList(t *testing.T) {
	backend := chain.NewFakeBackend()

	_, err := newResolver(backend).ResolveMintFunction(context.Background(), first, account, nil)
	require.Equal(t, errkind.NoCompatibleFunction, errkind.KindOf(err))
	require.Zero(t, backend.Calls())
}
