package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutDeploymentsFile(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(sepoliaChainID), cfg.Chain.ChainID.Int64())
	require.Equal(t, common.HexToAddress(defaultEntryPoint), cfg.AA.EntryPoint)
	require.Equal(t, common.HexToAddress(defaultFactory), cfg.AA.Factory)
	require.Equal(t, []common.Address{common.HexToAddress(defaultNFT)}, cfg.Mint.Candidates)
	require.Equal(t, 120*time.Second, cfg.Mint.InclusionTimeout)
	require.Equal(t, 30*time.Second, cfg.Reader.BalanceTTL)
	require.Equal(t, 5*time.Minute, cfg.Reader.URITTL)
	require.Equal(t, "memory", cfg.Service.IdempotencyStore)
	require.ErrorIs(t, cfg.RequireBundler(), ErrNoBundler)
}

func TestLoadDeploymentsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"chainId": 84532,
		"explorer": "https://sepolia.basescan.org",
		"contracts": {"NFTCandidates": ["0x00000000000000000000000000000000000000c1", "0x00000000000000000000000000000000000000c2"]}
	}`), 0o600))

	t.Setenv("DEPLOYMENTS_PATH", path)
	t.Setenv("BUNDLER_RPC_URL", "https://bundler.example")
	t.Setenv("PAYMASTER_POLICY_ID", "policy-1")
	t.Setenv("MINT_INCLUSION_TIMEOUT_SECONDS", "30")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(84532), cfg.Chain.ChainID.Int64())
	require.Equal(t, "https://sepolia.basescan.org", cfg.Chain.ExplorerURL)
	require.Len(t, cfg.Mint.Candidates, 2)
	require.Equal(t, 30*time.Second, cfg.Mint.InclusionTimeout)
	require.Equal(t, "https://bundler.example", cfg.AA.PaymasterURL, "policy without paymaster url uses the bundler endpoint")
	require.NoError(t, cfg.RequireBundler())

	t.Setenv("NFT_CONTRACTS", "0x00000000000000000000000000000000000000c3")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000c3")}, cfg.Mint.Candidates)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "missing.json"))

	t.Setenv("NFT_CONTRACTS", "not-an-address")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("NFT_CONTRACTS", "")
	t.Setenv("IDEMPOTENCY_STORE", "postgres")
	_, err = Load()
	require.ErrorContains(t, err, "POSTGRES_DSN")
}
