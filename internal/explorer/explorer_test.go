package explorer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	l := New("https://sepolia.etherscan.io/")
	hash := common.HexToHash("0x01")
	addr := common.HexToAddress("0x6D1BaA7951f26f600b4ABc3a9CF8F18aBf36fac1")

	require.Equal(t, "https://sepolia.etherscan.io/tx/"+hash.Hex(), l.Tx(hash))
	require.Equal(t, "https://sepolia.etherscan.io/address/0x6D1BaA7951f26f600b4ABc3a9CF8F18aBf36fac1", l.Address(addr))
	require.Equal(t, DefaultSepolia, New("").Base)
}
