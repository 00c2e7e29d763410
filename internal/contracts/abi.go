// Package contracts holds the ABIs of the contracts the minting flow talks to:
// the NFT collection, the LightAccount smart account, its factory and the
// ERC-4337 EntryPoint.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MintableNFTABI covers the read accessors used for display plus every mint
// entry point the resolver knows how to probe.
const MintableNFTABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"baseURI","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"rolesOf","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"roles","type":"uint256"}]},
	{"type":"function","name":"mintTo","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"safeMint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"grantRoles","stateMutability":"payable","inputs":[{"name":"user","type":"address"},{"name":"roles","type":"uint256"}],"outputs":[]}
]`

// LightAccountABI is the subset of LightAccount used to wrap calls.
const LightAccountABI = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

// LightAccountFactoryABI derives and deploys accounts from an owner and salt.
const LightAccountFactoryABI = `[
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]}
]`

// EntryPointABI is the subset of the v0.6 EntryPoint read by clients.
const EntryPointABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

// MinterRole is the OwnableRoles bit checked by mint entry points.
const MinterRole = 1

var (
	MintableNFT         = mustParse(MintableNFTABI)
	LightAccount        = mustParse(LightAccountABI)
	LightAccountFactory = mustParse(LightAccountFactoryABI)
	EntryPoint          = mustParse(EntryPointABI)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contracts: bad abi: " + err.Error())
	}
	return parsed
}
