package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartmint/internal/aa"
	"smartmint/internal/auth"
	"smartmint/internal/chain"
	"smartmint/internal/config"
	"smartmint/internal/contracts"
	"smartmint/internal/explorer"
	"smartmint/internal/idempotency"
	"smartmint/internal/metrics"
	"smartmint/internal/mint"
	"smartmint/internal/nftdata"
	"smartmint/internal/resolver"
	"smartmint/internal/session"
	"smartmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	// Well-known development key; never funded on a public network.
	testKey      = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	defaultImage = "https://example.invalid/default.png"
)

var (
	collection = common.HexToAddress("0x6D1BaA7951f26f600b4ABc3a9CF8F18aBf36fac1")
	eoa        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	smartAcct  = common.HexToAddress("0x00000000000000000000000000000000000acc01")
)

type testEnv struct {
	backend  *chain.FakeBackend
	store    *idempotency.MemoryStore
	accounts []*aa.FakeAccount
	handler  http.Handler
	server   *Server
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	env := &testEnv{
		backend: chain.NewFakeBackend(),
		store:   idempotency.NewMemoryStore(),
	}
	env.backend.SetCode(collection, []byte{0x60, 0x80})
	env.backend.Return(collection, contracts.MintableNFT, "name", "Smart Wallet NFT")
	env.backend.Return(collection, contracts.MintableNFT, "symbol", "SWNFT")
	env.backend.Return(collection, contracts.MintableNFT, "totalSupply", big.NewInt(7))
	env.backend.Return(collection, contracts.MintableNFT, "mintTo", common.Big1)
	env.backend.Return(collection, contracts.MintableNFT, "balanceOf", big.NewInt(2))

	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HMACSecret:        secret,
			HMACClockSkew:     time.Minute,
			IdempotencyWindow: time.Minute,
		},
		Chain: config.ChainConfig{DefaultImage: defaultImage},
		Mint:  config.MintConfig{Candidates: []common.Address{collection}, InclusionTimeout: time.Second},
	}

	provider, err := wallet.NewKeyProvider(testKey, big.NewInt(11155111))
	require.NoError(t, err)

	nft := chain.NewNFT(env.backend)
	m := metrics.New()
	res := resolver.New(nft, nil, m)
	readerCfg := nftdata.DefaultConfig()
	readerCfg.RetryDelay = time.Millisecond
	reader := nftdata.NewReader(nft, readerCfg, nil, m)
	links := explorer.New(explorer.DefaultSepolia)

	factory := func(_ context.Context, owner common.Address) (aa.Account, error) {
		acc := aa.NewFakeAccount(owner, smartAcct)
		env.accounts = append(env.accounts, acc)
		return acc, nil
	}
	sessions := NewSessions(func() *Tab {
		s := session.New(provider, factory, nil, m)
		wf := mint.NewWorkflow(s, res, reader, links, mint.Config{
			Candidates:       cfg.Mint.Candidates,
			InclusionTimeout: cfg.Mint.InclusionTimeout,
		}, nil, m)
		return &Tab{Session: s, Workflow: wf}
	})

	env.server = NewServer(cfg, Deps{
		Sessions:  sessions,
		Store:     env.store,
		Reader:    reader,
		Inspector: nft,
		Resolver:  res,
		Links:     links,
		Metrics:   m,
	})
	env.handler = env.server.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signed(t *testing.T, path, sessionID string, body []byte, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	auth.SignRequest(req, testSecret, body, time.Now())
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	if idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idemKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) readyAccount(t *testing.T, sessionID string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/session/connect", sessionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/api/v1/session/account", sessionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/session/connect", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var connected connectResponse
	decode(t, rec, &connected)
	require.NotNil(t, connected.EOA)
	require.Equal(t, eoa, *connected.EOA)
	require.Equal(t, session.StatusIdle, connected.Session.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/session/account", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acc accountResponse
	decode(t, rec, &acc)
	require.Equal(t, eoa, acc.Owner)
	require.Equal(t, smartAcct, acc.Account)
	require.Equal(t, "https://sepolia.etherscan.io/address/"+smartAcct.Hex(), acc.AccountURL)

	// A second create for the same owner reuses the account.
	rec = env.do(t, http.MethodPost, "/api/v1/session/account", "", []byte(`{"owner":"`+eoa.Hex()+`"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.accounts, 1)

	var snap session.Snapshot
	decode(t, env.do(t, http.MethodGet, "/api/v1/session", "", nil, nil), &snap)
	require.Equal(t, session.StatusReady, snap.Status)
	require.Equal(t, smartAcct, *snap.Account)

	var reset session.Snapshot
	decode(t, env.do(t, http.MethodDelete, "/api/v1/session", "", nil, nil), &reset)
	require.Equal(t, session.StatusIdle, reset.Status)
	require.Nil(t, reset.Account)
}

func TestSessionsAreKeyedByHeader(t *testing.T) {
	env := newTestEnv(t, "")
	env.readyAccount(t, "tab-a")

	var snap session.Snapshot
	decode(t, env.do(t, http.MethodGet, "/api/v1/session", "tab-b", nil, nil), &snap)
	require.Equal(t, session.StatusIdle, snap.Status)

	decode(t, env.do(t, http.MethodGet, "/api/v1/session", "tab-a", nil, nil), &snap)
	require.Equal(t, session.StatusReady, snap.Status)
}

func TestCreateAccountRejectsBadOwner(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/session/account", "", []byte(`{"owner":"nope"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMintRequiresSignature(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.readyAccount(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/mint", "", []byte(`{}`), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, env.accounts[0].Sent())
}

func TestMintWithoutAccount(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.signed(t, "/api/v1/mint", "", []byte(`{}`), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	require.Equal(t, "NoSmartAccount", string(body.Kind))
}

func TestMintConfirmsInBackground(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.readyAccount(t, "")

	rec := env.signed(t, "/api/v1/mint", "", []byte(`{}`), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started mint.Attempt
	decode(t, rec, &started)
	require.Equal(t, mint.StatusProbing, started.Status)

	require.Eventually(t, func() bool {
		var latest mint.Attempt
		r := env.do(t, http.MethodGet, "/api/v1/mint", "", nil, nil)
		if r.Code != http.StatusOK || json.Unmarshal(r.Body.Bytes(), &latest) != nil {
			return false
		}
		return latest.ID == started.ID && latest.Status == mint.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, env.accounts[0].Sent(), 1)
}

func TestMintIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.readyAccount(t, "")

	first := env.signed(t, "/api/v1/mint", "", []byte(`{}`), "key-1")
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	require.Eventually(t, func() bool {
		return len(env.accounts[0].Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := env.signed(t, "/api/v1/mint", "", []byte(`{}`), "key-1")
	require.Equal(t, http.StatusAccepted, second.Code)
	require.JSONEq(t, first.Body.String(), second.Body.String())

	reused := env.signed(t, "/api/v1/mint", "", []byte(`{"other":true}`), "key-1")
	require.Equal(t, http.StatusUnprocessableEntity, reused.Code)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, env.accounts[0].Sent(), 1)
}

func TestGrantRoleValidatesTarget(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.readyAccount(t, "")

	rec := env.signed(t, "/api/v1/roles/grant", "", []byte(`{"target":"0x123"}`), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	target := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	rec = env.signed(t, "/api/v1/roles/grant", "", []byte(`{"target":"`+target.Hex()+`"}`), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res mint.GrantResult
	decode(t, rec, &res)
	require.Equal(t, target, res.Target)
	require.Equal(t, collection, res.Contract)
}

func TestNFTFallsBackToDefaultImage(t *testing.T) {
	env := newTestEnv(t, "")
	env.readyAccount(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/nft", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body nftResponse
	decode(t, rec, &body)
	require.Equal(t, uint64(2), body.Balance)
	require.Nil(t, body.BaseURI)
	require.Equal(t, defaultImage, body.Image)
	require.Equal(t, smartAcct, body.Owner)
	require.Equal(t, "https://sepolia.etherscan.io/address/"+collection.Hex(), body.ContractURL)
}

func TestNFTUsesBaseURI(t *testing.T) {
	env := newTestEnv(t, "")
	env.backend.Return(collection, contracts.MintableNFT, "baseURI", "ipfs://collection/")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	rec := env.do(t, http.MethodGet, "/api/v1/nft?owner="+owner.Hex(), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body nftResponse
	decode(t, rec, &body)
	require.NotNil(t, body.BaseURI)
	require.Equal(t, "ipfs://collection/", body.Image)
	require.Equal(t, owner, body.Owner)
}

func TestNFTWithoutAccount(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/nft", "", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestContractDebug(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/contract", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info chain.ContractInfo
	decode(t, rec, &info)
	require.True(t, info.HasCode)
	require.Equal(t, "Smart Wallet NFT", info.Name)
	require.Equal(t, "SWNFT", info.Symbol)
	require.Equal(t, "7", info.TotalSupply)
}

func TestHealthReportsDegradedRPC(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.rpcHealthFn = func(context.Context) error { return errors.New("dial tcp: connection refused") }

	rec := httptest.NewRecorder()
	env.server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.readyAccount(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "smartmint_session_creations_total")
}

func TestResetSessionDropsTab(t *testing.T) {
	env := newTestEnv(t, "")
	sessions := env.server.deps.Sessions

	env.readyAccount(t, "tab-a")
	require.Equal(t, 1, sessions.Len())
	rec := env.do(t, http.MethodDelete, "/api/v1/session", "tab-a", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, sessions.Len())

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("tab-%d", i)
		require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/session", id, nil, nil).Code)
		require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/session", id, nil, nil).Code)
	}
	require.Zero(t, sessions.Len())
}

func TestResetSessionKeepsTabWithMintInFlight(t *testing.T) {
	env := newTestEnv(t, testSecret)
	sessions := env.server.deps.Sessions
	env.readyAccount(t, "tab-a")

	release := make(chan struct{})
	env.accounts[0].WaitFunc = func(ctx context.Context, hash common.Hash) (*aa.Receipt, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &aa.Receipt{UserOpHash: hash, Sender: smartAcct, Success: true}, nil
	}

	rec := env.signed(t, "/api/v1/mint", "tab-a", []byte(`{}`), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	tab := sessions.Get("tab-a")
	require.Eventually(t, func() bool { return len(env.accounts[0].Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/session", "tab-a", nil, nil).Code)
	require.Equal(t, 1, sessions.Len())

	close(release)
	require.Eventually(t, func() bool { return !tab.Workflow.InFlight() }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/session", "tab-a", nil, nil).Code)
	require.Zero(t, sessions.Len())
}

func TestNFTBalanceRefreshedAfterMint(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.readyAccount(t, "")

	var before nftResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/nft", "", nil, nil), &before)
	require.Equal(t, uint64(2), before.Balance)

	// Cached until the mint confirms.
	env.backend.Return(collection, contracts.MintableNFT, "balanceOf", big.NewInt(3))
	var cached nftResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/nft", "", nil, nil), &cached)
	require.Equal(t, uint64(2), cached.Balance)

	rec := env.signed(t, "/api/v1/mint", "", []byte(`{}`), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		var latest mint.Attempt
		r := env.do(t, http.MethodGet, "/api/v1/mint", "", nil, nil)
		if r.Code != http.StatusOK || json.Unmarshal(r.Body.Bytes(), &latest) != nil {
			return false
		}
		return latest.Status == mint.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	var after nftResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/nft", "", nil, nil), &after)
	require.Equal(t, uint64(3), after.Balance)
}

func TestWriteHandlersRequireAuthenticatedContext(t *testing.T) {
	env := newTestEnv(t, "")
	env.readyAccount(t, "")

	// Handlers mounted outside the verifier must still refuse to act.
	rec := httptest.NewRecorder()
	env.server.handleMint(rec, httptest.NewRequest(http.MethodPost, "/api/v1/mint", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	target := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	rec = httptest.NewRecorder()
	env.server.handleGrantRole(rec, httptest.NewRequest(http.MethodPost, "/api/v1/roles/grant",
		bytes.NewReader([]byte(`{"target":"`+target.Hex()+`"}`))))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, env.accounts[0].Sent())
}
