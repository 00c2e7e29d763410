package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyProvider is a wallet backed by a single in-process private key. It never
// prompts, so RequestAccounts and Accounts always return the key's address.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewKeyProvider(hexKey string, chainID *big.Int) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (p *KeyProvider) Address() common.Address { return p.address }

func (p *KeyProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	var (
		value interface{}
		err   error
	)
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		value = []common.Address{p.address}
	case "eth_chainId":
		if p.chainID == nil {
			return &ProviderError{Code: CodeUnsupportedMethod, Message: "chain id unknown"}
		}
		value = (*hexutil.Big)(p.chainID)
	case "personal_sign":
		value, err = p.personalSign(params)
	default:
		return &ProviderError{Code: CodeUnsupportedMethod, Message: "unsupported method " + method}
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (p *KeyProvider) personalSign(params []interface{}) (hexutil.Bytes, error) {
	if len(params) != 2 {
		return nil, &ProviderError{Code: -32602, Message: "personal_sign expects [data, address]"}
	}
	data, ok := params[0].(hexutil.Bytes)
	if !ok {
		return nil, &ProviderError{Code: -32602, Message: "personal_sign: data must be bytes"}
	}
	account, ok := params[1].(common.Address)
	if !ok || account != p.address {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: "personal_sign: account not authorized"}
	}
	sig, err := crypto.Sign(accounts.TextHash(data), p.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
