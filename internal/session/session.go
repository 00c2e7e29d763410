// Package session tracks one user's path from a connected EOA to a ready
// smart account.
package session

import (
	"context"
	"errors"
	"sync"

	"smartmint/internal/aa"
	"smartmint/internal/errkind"
	"smartmint/internal/metrics"
	"smartmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

var (
	ErrAccountExists = errors.New("a smart account for another owner already exists in this session")
	ErrSessionReset  = errors.New("session was reset while the account was being created")
	ErrNoOwner       = errors.New("owner address is required")
	ErrZeroAccount   = errors.New("account factory returned the zero address")
)

// AccountFactory opens the smart account controlled by owner.
type AccountFactory func(ctx context.Context, owner common.Address) (aa.Account, error)

// Snapshot is a copy of the session's observable state.
type Snapshot struct {
	Status    Status          `json:"status"`
	Owner     *common.Address `json:"owner,omitempty"`
	Account   *common.Address `json:"account,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind errkind.Kind    `json:"errorKind,omitempty"`
}

// Session is safe for concurrent use. Only its methods mutate its fields.
type Session struct {
	provider wallet.Provider
	factory  AccountFactory
	logger   *zap.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	owner   *common.Address
	account aa.Account
	status  Status
	lastErr *errkind.Error
	// epoch is bumped by Reset; a creation that started in an older epoch
	// is discarded when it finishes.
	epoch uint64
}

// New returns an idle session. provider may be nil when no wallet is
// configured.
func New(provider wallet.Provider, factory AccountFactory, logger *zap.Logger, m *metrics.Registry) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		provider: provider,
		factory:  factory,
		logger:   logger,
		metrics:  m,
		status:   StatusIdle,
	}
	return s
}

// ConnectEOA asks the wallet for access and records the first account.
// A rejection leaves the session untouched.
func (s *Session) ConnectEOA(ctx context.Context) (*common.Address, error) {
	const op = "connect wallet"
	if s.provider == nil {
		return nil, errkind.New(errkind.NoWalletProvider, op, nil)
	}
	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		return nil, errkind.Wrap(op, err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	owner := accounts[0]

	s.mu.Lock()
	if s.status == StatusIdle || s.status == StatusFailed {
		s.owner = &owner
	}
	s.mu.Unlock()

	s.logger.Info("wallet connected", zap.String("owner", owner.Hex()))
	return &owner, nil
}

// CurrentEOA returns the wallet's already authorized account without
// prompting, or nil.
func (s *Session) CurrentEOA(ctx context.Context) *common.Address {
	if s.provider == nil {
		return nil
	}
	accounts, err := s.provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return nil
	}
	owner := accounts[0]
	return &owner
}

// CreateSmartAccount derives owner's smart account. Once Ready, repeated calls
// for the same owner return the same account without touching the chain.
func (s *Session) CreateSmartAccount(ctx context.Context, owner common.Address) (aa.Account, error) {
	const op = "create smart account"
	if owner == (common.Address{}) {
		return nil, errkind.New(errkind.Unknown, op, ErrNoOwner)
	}

	s.mu.Lock()
	switch s.status {
	case StatusReady:
		acc := s.account
		s.mu.Unlock()
		if acc.Owner() != owner {
			return nil, errkind.New(errkind.Unknown, op, ErrAccountExists)
		}
		return acc, nil
	case StatusCreating:
		s.mu.Unlock()
		return nil, errkind.New(errkind.AlreadyInProgress, op, nil)
	case StatusFailed:
		s.lastErr = nil
	}
	s.status = StatusCreating
	s.owner = &owner
	epoch := s.epoch
	s.mu.Unlock()

	acc, err := s.factory(ctx, owner)
	if err == nil && acc.Address() == (common.Address{}) {
		err = ErrZeroAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Info("discarding smart account created before reset", zap.String("owner", owner.Hex()))
		return nil, errkind.New(errkind.Unknown, op, ErrSessionReset)
	}
	if err != nil {
		kerr := creationError(op, err)
		s.status = StatusFailed
		s.lastErr = kerr
		s.metrics.IncSession("failed")
		s.logger.Warn("smart account creation failed",
			zap.String("owner", owner.Hex()),
			zap.String("kind", string(kerr.Kind)),
			zap.Error(err))
		return nil, kerr
	}
	s.status = StatusReady
	s.account = acc
	s.metrics.IncSession("ready")
	s.logger.Info("smart account ready",
		zap.String("owner", owner.Hex()),
		zap.String("account", acc.Address().Hex()))
	return acc, nil
}

// creationError narrows a failure to the kinds account creation can report.
func creationError(op string, err error) *errkind.Error {
	kind := errkind.KindOf(err)
	switch kind {
	case errkind.UserRejected, errkind.InsufficientFunds, errkind.NetworkError:
	default:
		kind = errkind.Unknown
	}
	return errkind.New(kind, op, err)
}

// ClearError returns a Failed session to Idle. It is a no-op in any other
// state and never cancels an in-flight creation.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFailed {
		s.status = StatusIdle
		s.lastErr = nil
	}
}

// Reset forgets the owner and account.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.owner = nil
	s.account = nil
	s.status = StatusIdle
	s.lastErr = nil
}

// Account returns the smart account once the session is Ready.
func (s *Session) Account() (aa.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return nil, false
	}
	return s.account, true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Status: s.status}
	if s.owner != nil {
		owner := *s.owner
		snap.Owner = &owner
	}
	if s.account != nil {
		addr := s.account.Address()
		snap.Account = &addr
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Kind.Message()
		snap.ErrorKind = s.lastErr.Kind
	}
	return snap
}
