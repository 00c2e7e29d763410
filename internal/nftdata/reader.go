// Package nftdata serves best-effort NFT display data (balance and base URI)
// from a short-lived cache in front of the chain.
package nftdata

import (
	"context"
	"math"
	"math/big"
	"sync"
	"time"

	"smartmint/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Source performs the underlying contract reads. *chain.NFT satisfies it.
type Source interface {
	BalanceOf(ctx context.Context, contract, owner common.Address) (*big.Int, error)
	BaseURI(ctx context.Context, contract common.Address) (string, error)
}

type Config struct {
	BalanceTTL     time.Duration
	URITTL         time.Duration
	BalanceRetries int
	URIRetries     int
	RetryDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BalanceTTL:     30 * time.Second,
		URITTL:         5 * time.Minute,
		BalanceRetries: 2,
		URIRetries:     1,
		RetryDelay:     500 * time.Millisecond,
	}
}

// State is what the reader currently knows about one (contract, owner).
type State struct {
	Balance       uint64    `json:"balance"`
	BaseURI       *string   `json:"baseURI"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
}

type balanceKey struct {
	contract common.Address
	owner    common.Address
}

type balanceEntry struct {
	value     uint64
	fetchedAt time.Time
}

type uriEntry struct {
	value     string
	fetchedAt time.Time
}

type Reader struct {
	source  Source
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu       sync.Mutex
	balances map[balanceKey]balanceEntry
	uris     map[common.Address]uriEntry
	// generation is bumped by Invalidate so reads that started earlier do not
	// repopulate the cache with a stale value.
	generation map[balanceKey]uint64
}

func NewReader(source Source, cfg Config, logger *zap.Logger, m *metrics.Registry) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		source:     source,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		balances:   make(map[balanceKey]balanceEntry),
		uris:       make(map[common.Address]uriEntry),
		generation: make(map[balanceKey]uint64),
	}
}

// ReadBalance returns the owner's token count, or 0 when every attempt fails.
func (r *Reader) ReadBalance(ctx context.Context, contract, owner common.Address) uint64 {
	k := balanceKey{contract: contract, owner: owner}

	r.mu.Lock()
	if e, ok := r.balances[k]; ok && r.now().Sub(e.fetchedAt) < r.cfg.BalanceTTL {
		r.mu.Unlock()
		r.metrics.IncCache("balance", true)
		return e.value
	}
	gen := r.generation[k]
	r.mu.Unlock()
	r.metrics.IncCache("balance", false)

	var bal *big.Int
	err := r.retry(ctx, r.cfg.BalanceRetries, func() error {
		var err error
		bal, err = r.source.BalanceOf(ctx, contract, owner)
		return err
	})
	if err != nil {
		r.logger.Warn("balance read failed",
			zap.String("contract", contract.Hex()),
			zap.String("owner", owner.Hex()),
			zap.Error(err))
		return 0
	}

	value := uint64(math.MaxUint64)
	if bal.IsUint64() {
		value = bal.Uint64()
	}

	r.mu.Lock()
	if r.generation[k] == gen {
		r.balances[k] = balanceEntry{value: value, fetchedAt: r.now()}
	}
	r.mu.Unlock()
	return value
}

// ReadBaseURI returns the collection's base URI; false when the accessor is
// missing, reverts, or returns an empty string.
func (r *Reader) ReadBaseURI(ctx context.Context, contract common.Address) (string, bool) {
	r.mu.Lock()
	if e, ok := r.uris[contract]; ok && r.now().Sub(e.fetchedAt) < r.cfg.URITTL {
		r.mu.Unlock()
		r.metrics.IncCache("baseURI", true)
		return e.value, e.value != ""
	}
	r.mu.Unlock()
	r.metrics.IncCache("baseURI", false)

	var uri string
	err := r.retry(ctx, r.cfg.URIRetries, func() error {
		var err error
		uri, err = r.source.BaseURI(ctx, contract)
		return err
	})
	if err != nil {
		r.logger.Debug("base uri unavailable", zap.String("contract", contract.Hex()), zap.Error(err))
		return "", false
	}

	r.mu.Lock()
	r.uris[contract] = uriEntry{value: uri, fetchedAt: r.now()}
	r.mu.Unlock()
	return uri, uri != ""
}

// Invalidate drops the cached balance of owner so the next read hits the chain.
func (r *Reader) Invalidate(contract, owner common.Address) {
	k := balanceKey{contract: contract, owner: owner}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.balances, k)
	r.generation[k]++
}

// State reports cached values only; it never touches the chain.
func (r *Reader) State(contract, owner common.Address) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s State
	if e, ok := r.balances[balanceKey{contract: contract, owner: owner}]; ok {
		s.Balance = e.value
		s.LastFetchedAt = e.fetchedAt
	}
	if e, ok := r.uris[contract]; ok && e.value != "" {
		uri := e.value
		s.BaseURI = &uri
		if e.fetchedAt.After(s.LastFetchedAt) {
			s.LastFetchedAt = e.fetchedAt
		}
	}
	return s
}

func (r *Reader) retry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}
	return err
}
