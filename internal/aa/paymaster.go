package aa

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Paymaster requests gas sponsorship from an Alchemy gas manager policy.
type Paymaster struct {
	client     *rpc.Client
	entryPoint common.Address
	policyID   string
}

func NewPaymaster(client *rpc.Client, entryPoint common.Address, policyID string) *Paymaster {
	return &Paymaster{client: client, entryPoint: entryPoint, policyID: policyID}
}

type sponsorRequest struct {
	PolicyID       string               `json:"policyId"`
	EntryPoint     common.Address       `json:"entryPoint"`
	DummySignature hexutil.Bytes        `json:"dummySignature"`
	UserOperation  partialUserOperation `json:"userOperation"`
}

type partialUserOperation struct {
	Sender   common.Address `json:"sender"`
	Nonce    *hexutil.Big   `json:"nonce"`
	InitCode hexutil.Bytes  `json:"initCode"`
	CallData hexutil.Bytes  `json:"callData"`
}

// Sponsorship carries paymasterAndData plus the gas and fee values the
// paymaster signed over.
type Sponsorship struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big  `json:"maxPriorityFeePerGas"`
}

// Sponsor asks the paymaster to cover op. dummySig must be a signature the
// account can parse so verification gas is estimated correctly.
func (p *Paymaster) Sponsor(ctx context.Context, op *UserOperation, dummySig []byte) (*Sponsorship, error) {
	req := sponsorRequest{
		PolicyID:       p.policyID,
		EntryPoint:     p.entryPoint,
		DummySignature: dummySig,
		UserOperation: partialUserOperation{
			Sender:   op.Sender,
			Nonce:    (*hexutil.Big)(orZero(op.Nonce)),
			InitCode: orEmpty(op.InitCode),
			CallData: orEmpty(op.CallData),
		},
	}
	var out Sponsorship
	if err := p.client.CallContext(ctx, &out, "alchemy_requestGasAndPaymasterAndData", req); err != nil {
		return nil, fmt.Errorf("alchemy_requestGasAndPaymasterAndData: %w", err)
	}
	if len(out.PaymasterAndData) == 0 {
		return nil, fmt.Errorf("paymaster returned empty paymasterAndData")
	}
	return &out, nil
}

// Apply copies the sponsored fields into op.
func (s *Sponsorship) Apply(op *UserOperation) {
	op.PaymasterAndData = s.PaymasterAndData
	if s.CallGasLimit != nil {
		op.CallGasLimit = s.CallGasLimit.ToInt()
	}
	if s.VerificationGasLimit != nil {
		op.VerificationGasLimit = s.VerificationGasLimit.ToInt()
	}
	if s.PreVerificationGas != nil {
		op.PreVerificationGas = s.PreVerificationGas.ToInt()
	}
	if s.MaxFeePerGas != nil {
		op.MaxFeePerGas = s.MaxFeePerGas.ToInt()
	}
	if s.MaxPriorityFeePerGas != nil {
		op.MaxPriorityFeePerGas = s.MaxPriorityFeePerGas.ToInt()
	}
}
