package aa

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Bundler is a JSON-RPC client for the ERC-4337 bundler namespace.
type Bundler struct {
	client     *rpc.Client
	entryPoint common.Address
}

func NewBundler(client *rpc.Client, entryPoint common.Address) *Bundler {
	return &Bundler{client: client, entryPoint: entryPoint}
}

func (b *Bundler) SendUserOperation(ctx context.Context, op *UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := b.client.CallContext(ctx, &hash, "eth_sendUserOperation", op, b.entryPoint); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendUserOperation: %w", err)
	}
	return hash, nil
}

func (b *Bundler) EstimateUserOperationGas(ctx context.Context, op *UserOperation) (*GasEstimate, error) {
	var est GasEstimate
	if err := b.client.CallContext(ctx, &est, "eth_estimateUserOperationGas", op, b.entryPoint); err != nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas: %w", err)
	}
	return &est, nil
}

// GetUserOperationReceipt returns nil without error while the operation is
// still pending.
func (b *Bundler) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, fmt.Errorf("eth_getUserOperationReceipt: %w", err)
	}
	return receipt, nil
}

func (b *Bundler) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var eps []common.Address
	if err := b.client.CallContext(ctx, &eps, "eth_supportedEntryPoints"); err != nil {
		return nil, fmt.Errorf("eth_supportedEntryPoints: %w", err)
	}
	return eps, nil
}

// CheckEntryPoint fails when the bundler does not serve the configured entry
// point.
func (b *Bundler) CheckEntryPoint(ctx context.Context) error {
	eps, err := b.SupportedEntryPoints(ctx)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		if ep == b.entryPoint {
			return nil
		}
	}
	return fmt.Errorf("bundler does not support entry point %s", b.entryPoint.Hex())
}
