package aa

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"smartmint/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Well-known Sepolia/mainnet deployments.
var (
	EntryPointV06         = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	LightAccountFactoryV1 = common.HexToAddress("0x00004EC70002a32400f8ae005A26081065620D20")
)

const defaultPollInterval = 2 * time.Second

type Config struct {
	EntryPoint   common.Address
	Factory      common.Address
	Salt         *big.Int
	ChainID      *big.Int
	PollInterval time.Duration
}

// FeeSource supplies EIP-1559 fee data for unsponsored operations.
// *ethclient.Client satisfies it.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type Backends struct {
	Node    bind.ContractCaller
	Bundler *Bundler
	// Paymaster is optional; without it operations pay their own gas and
	// Fees must be set.
	Paymaster *Paymaster
	Fees      FeeSource
}

// Client derives LightAccount addresses and hands out account handles.
type Client struct {
	cfg        Config
	backends   Backends
	logger     *zap.Logger
	factory    *bind.BoundContract
	entryPoint *bind.BoundContract

	mu        sync.Mutex
	addresses map[common.Address]common.Address
}

func NewClient(cfg Config, backends Backends, logger *zap.Logger) (*Client, error) {
	if backends.Node == nil {
		return nil, fmt.Errorf("node backend is required")
	}
	if backends.Bundler == nil {
		return nil, fmt.Errorf("bundler is required")
	}
	if backends.Paymaster == nil && backends.Fees == nil {
		return nil, fmt.Errorf("either a paymaster or a fee source is required")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.Salt == nil {
		cfg.Salt = new(big.Int)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		backends:   backends,
		logger:     logger,
		factory:    bind.NewBoundContract(cfg.Factory, contracts.LightAccountFactory, backends.Node, nil, nil),
		entryPoint: bind.NewBoundContract(cfg.EntryPoint, contracts.EntryPoint, backends.Node, nil, nil),
		addresses:  make(map[common.Address]common.Address),
	}, nil
}

func (c *Client) Bundler() *Bundler { return c.backends.Bundler }

func (c *Client) Sponsored() bool { return c.backends.Paymaster != nil }

// AccountAddress returns the counterfactual LightAccount address of owner.
// The factory is asked once per owner.
func (c *Client) AccountAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	c.mu.Lock()
	addr, ok := c.addresses[owner]
	c.mu.Unlock()
	if ok {
		return addr, nil
	}

	var out []interface{}
	if err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, "getAddress", owner, c.cfg.Salt); err != nil {
		return common.Address{}, fmt.Errorf("factory getAddress: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("factory getAddress: empty result")
	}
	addr, ok = out[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory getAddress: invalid address")
	}

	c.mu.Lock()
	c.addresses[owner] = addr
	c.mu.Unlock()
	return addr, nil
}

// Account returns a handle for owner's LightAccount. Nothing is deployed; the
// first user operation carries the factory initCode.
func (c *Client) Account(ctx context.Context, owner common.Address, signer Signer) (*LightAccount, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	addr, err := c.AccountAddress(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &LightAccount{client: c, owner: owner, address: addr, signer: signer}, nil
}

func (c *Client) nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.entryPoint.Call(&bind.CallOpts{Context: ctx}, &out, "getNonce", sender, new(big.Int)); err != nil {
		return nil, fmt.Errorf("entry point getNonce: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("entry point getNonce: empty result")
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("entry point getNonce: unexpected output")
	}
	return n, nil
}

func (c *Client) initCode(owner common.Address) ([]byte, error) {
	data, err := contracts.LightAccountFactory.Pack("createAccount", owner, c.cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("pack createAccount: %w", err)
	}
	return append(c.cfg.Factory.Bytes(), data...), nil
}

// price fills fees and gas limits for an operation nobody sponsors.
func (c *Client) price(ctx context.Context, op *UserOperation) error {
	tip, err := c.backends.Fees.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.backends.Fees.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	maxFee := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	op.MaxPriorityFeePerGas = tip
	op.MaxFeePerGas = maxFee

	est, err := c.backends.Bundler.EstimateUserOperationGas(ctx, op)
	if err != nil {
		return err
	}
	op.PreVerificationGas = est.PreVerificationGas.ToInt()
	op.VerificationGasLimit = est.VerificationGasLimit.ToInt()
	op.CallGasLimit = est.CallGasLimit.ToInt()
	return nil
}
