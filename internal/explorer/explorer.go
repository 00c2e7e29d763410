// Package explorer builds block explorer links.
package explorer

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const DefaultSepolia = "https://sepolia.etherscan.io"

type Links struct {
	Base string
}

func New(base string) Links {
	if base == "" {
		base = DefaultSepolia
	}
	return Links{Base: strings.TrimRight(base, "/")}
}

func (l Links) Tx(hash common.Hash) string {
	return l.Base + "/tx/" + hash.Hex()
}

func (l Links) Address(addr common.Address) string {
	return l.Base + "/address/" + addr.Hex()
}
