// Package app dials the chain, bundler, paymaster and wallet described by the
// configuration and builds the per-session components on top of them. The
// HTTP server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"smartmint/internal/aa"
	"smartmint/internal/chain"
	"smartmint/internal/config"
	"smartmint/internal/errkind"
	"smartmint/internal/explorer"
	"smartmint/internal/metrics"
	"smartmint/internal/mint"
	"smartmint/internal/nftdata"
	"smartmint/internal/resolver"
	"smartmint/internal/session"
	"smartmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Metrics  *metrics.Registry
	Eth      *ethclient.Client
	NFT      *chain.NFT
	Resolver *resolver.Resolver
	Reader   *nftdata.Reader
	Links    explorer.Links
	// Provider is nil when neither CHAIN_PRIVATE_KEY nor WALLET_RPC_URL is set.
	Provider wallet.Provider
	// AA is nil when no bundler is configured; reads still work.
	AA *aa.Client

	closers []func()
}

// New dials every configured endpoint. The node's chain id must match the
// configured one.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, m *metrics.Registry) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Links:   explorer.New(cfg.Chain.ExplorerURL),
	}

	cli, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	a.Eth = cli
	a.closers = append(a.closers, cli.Close)

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if chainID.Cmp(cfg.Chain.ChainID) != 0 {
		a.Close()
		return nil, fmt.Errorf("rpc serves chain %s, configured for %s", chainID, cfg.Chain.ChainID)
	}

	a.NFT = chain.NewNFT(cli)
	a.Resolver = resolver.New(a.NFT, logger.Named("resolver"), m)
	readerCfg := nftdata.DefaultConfig()
	readerCfg.BalanceTTL = cfg.Reader.BalanceTTL
	readerCfg.URITTL = cfg.Reader.URITTL
	readerCfg.BalanceRetries = cfg.Reader.BalanceRetries
	a.Reader = nftdata.NewReader(a.NFT, readerCfg, logger.Named("reader"), m)

	if err := a.openWallet(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.AA.BundlerURL != "" {
		if err := a.openAA(ctx, cli); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openWallet(ctx context.Context) error {
	switch {
	case a.Config.Chain.PrivateKey != "":
		p, err := wallet.NewKeyProvider(a.Config.Chain.PrivateKey, a.Config.Chain.ChainID)
		if err != nil {
			return err
		}
		a.Provider = p
		a.Logger.Info("using local key wallet", zap.String("eoa", p.Address().Hex()))
	case a.Config.Chain.WalletRPCURL != "":
		p, err := wallet.DialRPCProvider(ctx, a.Config.Chain.WalletRPCURL)
		if err != nil {
			return fmt.Errorf("dial wallet: %w", err)
		}
		a.Provider = p
		a.closers = append(a.closers, p.Close)
		a.Logger.Info("using remote wallet", zap.String("url", a.Config.Chain.WalletRPCURL))
	default:
		a.Logger.Warn("no wallet configured; connect and account creation will fail")
	}
	return nil
}

func (a *App) openAA(ctx context.Context, cli *ethclient.Client) error {
	cfg := a.Config.AA
	bundlerRPC, err := rpc.DialContext(ctx, cfg.BundlerURL)
	if err != nil {
		return fmt.Errorf("dial bundler: %w", err)
	}
	a.closers = append(a.closers, bundlerRPC.Close)

	backends := aa.Backends{
		Node:    cli,
		Bundler: aa.NewBundler(bundlerRPC, cfg.EntryPoint),
		Fees:    cli,
	}
	if cfg.PolicyID != "" {
		pmRPC := bundlerRPC
		if cfg.PaymasterURL != cfg.BundlerURL {
			pmRPC, err = rpc.DialContext(ctx, cfg.PaymasterURL)
			if err != nil {
				return fmt.Errorf("dial paymaster: %w", err)
			}
			a.closers = append(a.closers, pmRPC.Close)
		}
		backends.Paymaster = aa.NewPaymaster(pmRPC, cfg.EntryPoint, cfg.PolicyID)
	}

	client, err := aa.NewClient(aa.Config{
		EntryPoint:   cfg.EntryPoint,
		Factory:      cfg.Factory,
		Salt:         cfg.Salt,
		ChainID:      a.Config.Chain.ChainID,
		PollInterval: cfg.PollInterval,
	}, backends, a.Logger.Named("aa"))
	if err != nil {
		return err
	}
	if err := client.Bundler().CheckEntryPoint(ctx); err != nil {
		a.Logger.Warn("bundler entry point check failed", zap.Error(err))
	}
	if !client.Sponsored() {
		a.Logger.Warn("no paymaster policy; user operations pay their own gas")
	}
	a.AA = client
	return nil
}

// AccountFactory opens owner's LightAccount signed through the configured
// wallet.
func (a *App) AccountFactory() session.AccountFactory {
	return func(ctx context.Context, owner common.Address) (aa.Account, error) {
		if a.AA == nil {
			return nil, errkind.New(errkind.Unknown, "open smart account", config.ErrNoBundler)
		}
		if a.Provider == nil {
			return nil, errkind.New(errkind.NoWalletProvider, "open smart account", nil)
		}
		return a.AA.Account(ctx, owner, wallet.Signer{Provider: a.Provider})
	}
}

// NewSession returns an idle session bound to the configured wallet.
func (a *App) NewSession() *session.Session {
	return session.New(a.Provider, a.AccountFactory(), a.Logger.Named("session"), a.Metrics)
}

// NewWorkflow builds the mint workflow that submits from s's account.
func (a *App) NewWorkflow(s *session.Session) *mint.Workflow {
	return mint.NewWorkflow(s, a.Resolver, a.Reader, a.Links, mint.Config{
		Candidates:       a.Config.Mint.Candidates,
		InclusionTimeout: a.Config.Mint.InclusionTimeout,
	}, a.Logger.Named("mint"), a.Metrics)
}

// Ping checks the node is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.Eth == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := a.Eth.BlockNumber(ctx)
	return err
}

// Close releases every dialed connection in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
