package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID      int64  `json:"chainId"`
	Network      string `json:"network"`
	Explorer     string `json:"explorer"`
	DefaultImage string `json:"defaultImage"`
	Contracts    struct {
		EntryPoint          string   `json:"EntryPoint"`
		LightAccountFactory string   `json:"LightAccountFactory"`
		NFTCandidates       []string `json:"NFTCandidates"`
	} `json:"contracts"`
}

// AppConfig ties together deployment info and environment overrides.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	AA         AAConfig
	Mint       MintConfig
	Reader     ReaderConfig
	Log        LogConfig
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStore     string
	IdempotencyStorePath string
	PostgresDSN          string
}

type ChainConfig struct {
	ChainID      *big.Int
	RPCURL       string
	PrivateKey   string
	WalletRPCURL string
	ExplorerURL  string
	DefaultImage string
}

type AAConfig struct {
	BundlerURL   string
	PaymasterURL string
	PolicyID     string
	EntryPoint   common.Address
	Factory      common.Address
	Salt         *big.Int
	PollInterval time.Duration
}

type MintConfig struct {
	Candidates       []common.Address
	InclusionTimeout time.Duration
}

type ReaderConfig struct {
	BalanceTTL     time.Duration
	URITTL         time.Duration
	BalanceRetries int
}

type LogConfig struct {
	Level string
	File  string
}

const (
	defaultDeploymentsPath = "./deployments.json"
	defaultRPCURL          = "https://ethereum-sepolia-rpc.publicnode.com"
	defaultEntryPoint      = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	defaultFactory         = "0x00004EC70002a32400f8ae005A26081065620D20"
	defaultNFT             = "0x6D1BaA7951f26f600b4ABc3a9CF8F18aBf36fac1"
	defaultExplorer        = "https://sepolia.etherscan.io"
	defaultImage           = "https://images.unsplash.com/photo-1618005182384-a83a8bd57fbe?w=400&h=300&fit=crop&auto=format"
	sepoliaChainID         = 11155111
)

var idempotencyStores = map[string]bool{"memory": true, "file": true, "sqlite": true, "postgres": true}

// Load aggregates configuration from disk and environment. A missing
// deployments file falls back to the Sepolia defaults.
func Load() (*AppConfig, error) {
	deployCfg, err := loadDeployments(envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:           envOr("HMAC_SECRET", ""),
		HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 600)) * time.Second,
		IdempotencyStore:     strings.ToLower(envOr("IDEMPOTENCY_STORE", "memory")),
		IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "smartmint-idem.db")),
		PostgresDSN:          envOr("POSTGRES_DSN", ""),
	}

	chainID := deployCfg.ChainID
	if chainID == 0 {
		chainID = sepoliaChainID
	}
	chainCfg := ChainConfig{
		ChainID:      big.NewInt(int64(envOrInt("CHAIN_ID", int(chainID)))),
		RPCURL:       envOr("CHAIN_RPC_URL", defaultRPCURL),
		PrivateKey:   envOr("CHAIN_PRIVATE_KEY", ""),
		WalletRPCURL: envOr("WALLET_RPC_URL", ""),
		ExplorerURL:  envOr("EXPLORER_BASE_URL", firstNonEmpty(deployCfg.Explorer, defaultExplorer)),
		DefaultImage: envOr("NFT_DEFAULT_IMAGE", firstNonEmpty(deployCfg.DefaultImage, defaultImage)),
	}

	aaCfg := AAConfig{
		BundlerURL:   envOr("BUNDLER_RPC_URL", ""),
		PaymasterURL: envOr("PAYMASTER_RPC_URL", ""),
		PolicyID:     envOr("PAYMASTER_POLICY_ID", ""),
		EntryPoint:   common.HexToAddress(envOr("ENTRY_POINT", firstNonEmpty(deployCfg.Contracts.EntryPoint, defaultEntryPoint))),
		Factory:      common.HexToAddress(envOr("ACCOUNT_FACTORY", firstNonEmpty(deployCfg.Contracts.LightAccountFactory, defaultFactory))),
		Salt:         big.NewInt(int64(envOrInt("ACCOUNT_SALT", 0))),
		PollInterval: time.Duration(envOrInt("USEROP_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
	}
	if aaCfg.PaymasterURL == "" && aaCfg.PolicyID != "" {
		aaCfg.PaymasterURL = aaCfg.BundlerURL
	}

	candidates := deployCfg.Contracts.NFTCandidates
	if raw := envOr("NFT_CONTRACTS", ""); raw != "" {
		candidates = splitList(raw)
	}
	if len(candidates) == 0 {
		candidates = []string{defaultNFT}
	}
	mintCfg := MintConfig{
		InclusionTimeout: time.Duration(envOrInt("MINT_INCLUSION_TIMEOUT_SECONDS", 120)) * time.Second,
	}
	for _, c := range candidates {
		if !common.IsHexAddress(c) {
			return nil, fmt.Errorf("invalid nft contract address %q", c)
		}
		mintCfg.Candidates = append(mintCfg.Candidates, common.HexToAddress(c))
	}

	readerCfg := ReaderConfig{
		BalanceTTL:     time.Duration(envOrInt("NFT_BALANCE_TTL_SECONDS", 30)) * time.Second,
		URITTL:         time.Duration(envOrInt("NFT_URI_TTL_SECONDS", 300)) * time.Second,
		BalanceRetries: envOrInt("NFT_BALANCE_RETRIES", 2),
	}

	cfg := &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		AA:         aaCfg,
		Mint:       mintCfg,
		Reader:     readerCfg,
		Log: LogConfig{
			Level: envOr("LOG_LEVEL", "info"),
			File:  envOr("LOG_FILE", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values every command needs. Bundler settings are
// checked separately by the commands that submit user operations.
func (c *AppConfig) Validate() error {
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("API_HTTP_PORT out of range: %d", c.Service.HTTPPort)
	}
	if !idempotencyStores[c.Service.IdempotencyStore] {
		return fmt.Errorf("IDEMPOTENCY_STORE must be one of memory, file, sqlite, postgres")
	}
	if c.Service.IdempotencyStore == "postgres" && c.Service.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the postgres idempotency store")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL cannot be empty")
	}
	if c.Chain.ChainID.Sign() <= 0 {
		return fmt.Errorf("CHAIN_ID must be > 0")
	}
	if c.AA.EntryPoint == (common.Address{}) || c.AA.Factory == (common.Address{}) {
		return fmt.Errorf("entry point and account factory addresses are required")
	}
	if c.Mint.InclusionTimeout <= 0 {
		return fmt.Errorf("MINT_INCLUSION_TIMEOUT_SECONDS must be > 0")
	}
	if c.Reader.BalanceRetries < 0 {
		return fmt.Errorf("NFT_BALANCE_RETRIES cannot be negative")
	}
	return nil
}

var ErrNoBundler = errors.New("BUNDLER_RPC_URL is required to submit user operations")

// RequireBundler fails unless user operations can be submitted.
func (c *AppConfig) RequireBundler() error {
	if c.AA.BundlerURL == "" {
		return ErrNoBundler
	}
	return nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &DeploymentConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
