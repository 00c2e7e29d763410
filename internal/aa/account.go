package aa

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"smartmint/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// Signer signs an EIP-191 personal message for account.
type Signer interface {
	SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error)
}

// Call is one contract call executed by the smart account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Account is a smart account able to submit calls as user operations.
type Account interface {
	Address() common.Address
	Owner() common.Address
	SendUserOperation(ctx context.Context, call Call) (common.Hash, error)
	WaitForUserOperation(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// dummySignature is a well-formed LightAccount signature used while the
// paymaster and bundler simulate validation.
var dummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// LightAccount is a handle to one owner's LightAccount v1.1.
type LightAccount struct {
	client  *Client
	owner   common.Address
	address common.Address
	signer  Signer
}

func (a *LightAccount) Address() common.Address { return a.address }
func (a *LightAccount) Owner() common.Address   { return a.owner }

// Deployed reports whether the account contract exists on chain yet.
func (a *LightAccount) Deployed(ctx context.Context) (bool, error) {
	code, err := a.client.backends.Node.CodeAt(ctx, a.address, nil)
	if err != nil {
		return false, fmt.Errorf("get account code: %w", err)
	}
	return len(code) > 0, nil
}

// BuildUserOperation returns a fully priced and signed operation executing
// call.
func (a *LightAccount) BuildUserOperation(ctx context.Context, call Call) (*UserOperation, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	callData, err := contracts.LightAccount.Pack("execute", call.To, value, call.Data)
	if err != nil {
		return nil, fmt.Errorf("pack execute: %w", err)
	}

	nonce, err := a.client.nonce(ctx, a.address)
	if err != nil {
		return nil, err
	}

	deployed, err := a.Deployed(ctx)
	if err != nil {
		return nil, err
	}
	var initCode []byte
	if !deployed {
		if initCode, err = a.client.initCode(a.owner); err != nil {
			return nil, err
		}
	}

	op := &UserOperation{
		Sender:    a.address,
		Nonce:     nonce,
		InitCode:  initCode,
		CallData:  callData,
		Signature: dummySignature,
	}

	if pm := a.client.backends.Paymaster; pm != nil {
		sp, err := pm.Sponsor(ctx, op, dummySignature)
		if err != nil {
			return nil, err
		}
		sp.Apply(op)
	} else if err := a.client.price(ctx, op); err != nil {
		return nil, err
	}

	hash, err := op.Hash(a.client.cfg.EntryPoint, a.client.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("hash user operation: %w", err)
	}
	sig, err := a.signer.SignMessage(ctx, a.owner, hash.Bytes())
	if err != nil {
		return nil, err
	}
	op.Signature = sig
	return op, nil
}

func (a *LightAccount) SendUserOperation(ctx context.Context, call Call) (common.Hash, error) {
	op, err := a.BuildUserOperation(ctx, call)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := a.client.backends.Bundler.SendUserOperation(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	a.client.logger.Info("user operation sent",
		zap.String("sender", a.address.Hex()),
		zap.String("to", call.To.Hex()),
		zap.String("userOpHash", hash.Hex()),
		zap.Bool("deploys", len(op.InitCode) > 0),
	)
	return hash, nil
}

// WaitForUserOperation polls the bundler until the operation is included or
// ctx is done.
func (a *LightAccount) WaitForUserOperation(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(a.client.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.client.backends.Bundler.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
