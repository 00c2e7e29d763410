// Package mint runs the sponsored mint: resolve a contract and entry point,
// submit one user operation from the session's smart account, and wait for
// it to be included.
package mint

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"smartmint/internal/aa"
	"smartmint/internal/contracts"
	"smartmint/internal/errkind"
	"smartmint/internal/explorer"
	"smartmint/internal/metrics"
	"smartmint/internal/resolver"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusProbing   Status = "probing"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

const DefaultInclusionTimeout = 120 * time.Second

var (
	ErrInclusionTimeout  = errors.New("user operation was not included in time")
	ErrOperationReverted = errors.New("user operation reverted")
)

// AccountSource hands out the smart account once one is ready.
// *session.Session satisfies it.
type AccountSource interface {
	Account() (aa.Account, bool)
}

// Resolver picks the contract and mint entry point. *resolver.Resolver
// satisfies it.
type Resolver interface {
	ResolveContract(ctx context.Context, candidates []common.Address) (common.Address, error)
	ResolveMintFunction(ctx context.Context, contract, caller common.Address, fns []resolver.FunctionSpec) (*resolver.Resolution, error)
}

// Invalidator drops cached reads after a successful mint. *nftdata.Reader
// satisfies it.
type Invalidator interface {
	Invalidate(contract, owner common.Address)
}

type Config struct {
	Candidates       []common.Address
	Functions        []resolver.FunctionSpec
	InclusionTimeout time.Duration
}

// Attempt is one mint request. It is terminal once Confirmed or Failed.
type Attempt struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Contract   *common.Address `json:"contract,omitempty"`
	Function   string          `json:"function,omitempty"`
	Args       []string        `json:"args,omitempty"`
	CallData   hexutil.Bytes   `json:"callData,omitempty"`
	UserOpHash *common.Hash    `json:"userOpHash,omitempty"`
	TxHash     *common.Hash    `json:"txHash,omitempty"`
	TxURL      string          `json:"txUrl,omitempty"`
	ErrorKind  errkind.Kind    `json:"errorKind,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func (a *Attempt) clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.Args = append([]string(nil), a.Args...)
	c.CallData = append(hexutil.Bytes(nil), a.CallData...)
	return &c
}

// Workflow allows at most one in-flight operation at a time.
type Workflow struct {
	accounts AccountSource
	resolver Resolver
	reader   Invalidator
	links    explorer.Links
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	inFlight atomic.Bool

	mu     sync.Mutex
	latest *Attempt
}

func NewWorkflow(accounts AccountSource, r Resolver, reader Invalidator, links explorer.Links, cfg Config, logger *zap.Logger, m *metrics.Registry) *Workflow {
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = DefaultInclusionTimeout
	}
	if len(cfg.Functions) == 0 {
		cfg.Functions = resolver.DefaultMintFunctions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		accounts: accounts,
		resolver: r,
		reader:   reader,
		links:    links,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Latest returns a copy of the most recent attempt, or nil.
func (w *Workflow) Latest() *Attempt {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest.clone()
}

// InFlight reports whether an operation is running.
func (w *Workflow) InFlight() bool {
	return w.inFlight.Load()
}

func (w *Workflow) acquire(op string) (aa.Account, error) {
	acc, ok := w.accounts.Account()
	if !ok {
		return nil, errkind.New(errkind.NoSmartAccount, op, nil)
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		return nil, errkind.New(errkind.AlreadyInProgress, op, nil)
	}
	return acc, nil
}

func (w *Workflow) begin() *Attempt {
	a := &Attempt{ID: uuid.NewString(), Status: StatusProbing, StartedAt: w.now()}
	w.mu.Lock()
	w.latest = a
	w.mu.Unlock()
	return a
}

// Mint runs a full attempt and returns it in its terminal state. The error is
// non-nil exactly when the attempt failed.
func (w *Workflow) Mint(ctx context.Context) (*Attempt, error) {
	acc, err := w.acquire("mint")
	if err != nil {
		return nil, err
	}
	defer w.inFlight.Store(false)

	a := w.begin()
	err = w.run(ctx, a, acc)
	return w.Latest(), err
}

// Start launches an attempt in the background and returns its Probing
// snapshot. The attempt outlives ctx's cancellation.
func (w *Workflow) Start(ctx context.Context) (*Attempt, error) {
	acc, err := w.acquire("mint")
	if err != nil {
		return nil, err
	}
	a := w.begin()
	snapshot := w.Latest()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer w.inFlight.Store(false)
		_ = w.run(bg, a, acc)
	}()
	return snapshot, nil
}

func (w *Workflow) update(a *Attempt, fn func(a *Attempt)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(a)
}

func (w *Workflow) fail(a *Attempt, err error) error {
	kind := errkind.KindOf(err)
	w.update(a, func(a *Attempt) {
		finished := w.now()
		a.Status = StatusFailed
		a.ErrorKind = kind
		a.Error = kind.Message()
		a.FinishedAt = &finished
	})
	w.metrics.IncMint(string(StatusFailed), string(kind))
	w.logger.Warn("mint failed",
		zap.String("attempt", a.ID),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return err
}

func (w *Workflow) run(ctx context.Context, a *Attempt, acc aa.Account) error {
	contract, err := w.resolver.ResolveContract(ctx, w.cfg.Candidates)
	if err != nil {
		return w.fail(a, err)
	}
	res, err := w.resolver.ResolveMintFunction(ctx, contract, acc.Address(), w.cfg.Functions)
	if err != nil {
		return w.fail(a, err)
	}
	w.update(a, func(a *Attempt) {
		a.Contract = &res.Contract
		a.Function = res.Function
		a.Args = formatArgs(res.Args)
		a.CallData = res.CallData
	})

	receipt, err := w.submit(ctx, a, acc, aa.Call{To: res.Contract, Data: res.CallData})
	if err != nil {
		return w.fail(a, err)
	}

	if w.reader != nil {
		w.reader.Invalidate(res.Contract, acc.Address())
	}
	w.confirm(a, receipt)
	w.logger.Info("mint confirmed",
		zap.String("attempt", a.ID),
		zap.String("contract", res.Contract.Hex()),
		zap.String("function", res.Function),
		zap.String("tx", receipt.TxHash().Hex()))
	return nil
}

// submit sends call and waits, bounded by the inclusion timeout, for a
// successful receipt.
func (w *Workflow) submit(ctx context.Context, a *Attempt, acc aa.Account, call aa.Call) (*aa.Receipt, error) {
	const op = "submit user operation"
	hash, err := acc.SendUserOperation(ctx, call)
	if err != nil {
		return nil, errkind.Wrap(op, err)
	}
	w.update(a, func(a *Attempt) {
		a.Status = StatusSubmitted
		a.UserOpHash = &hash
	})
	submitted := w.now()

	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.InclusionTimeout)
	defer cancel()
	receipt, err := acc.WaitForUserOperation(waitCtx, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errkind.New(errkind.NetworkError, "await inclusion", ErrInclusionTimeout)
		}
		return nil, errkind.Wrap("await inclusion", err)
	}
	w.metrics.ObserveInclusion(w.now().Sub(submitted))
	if !receipt.Success {
		cause := ErrOperationReverted
		if receipt.Reason != "" {
			cause = fmt.Errorf("%w: %s", ErrOperationReverted, receipt.Reason)
		}
		return nil, errkind.Wrap("await inclusion", cause)
	}
	return receipt, nil
}

func (w *Workflow) confirm(a *Attempt, receipt *aa.Receipt) {
	tx := receipt.TxHash()
	w.update(a, func(a *Attempt) {
		finished := w.now()
		a.Status = StatusConfirmed
		a.TxHash = &tx
		a.TxURL = w.links.Tx(tx)
		a.FinishedAt = &finished
	})
	w.metrics.IncMint(string(StatusConfirmed), "")
}

// GrantResult describes an included grantRoles operation.
type GrantResult struct {
	Contract   common.Address `json:"contract"`
	Target     common.Address `json:"target"`
	UserOpHash common.Hash    `json:"userOpHash"`
	TxHash     common.Hash    `json:"txHash"`
	TxURL      string         `json:"txUrl"`
}

// GrantMinterRole sends grantRoles(target, MINTER_ROLE) from the smart
// account. Only works when the account owns the collection.
func (w *Workflow) GrantMinterRole(ctx context.Context, target common.Address) (*GrantResult, error) {
	const op = "grant minter role"
	acc, err := w.acquire(op)
	if err != nil {
		return nil, err
	}
	defer w.inFlight.Store(false)

	contract, err := w.resolver.ResolveContract(ctx, w.cfg.Candidates)
	if err != nil {
		return nil, err
	}
	data, err := contracts.MintableNFT.Pack("grantRoles", target, big.NewInt(contracts.MinterRole))
	if err != nil {
		return nil, errkind.New(errkind.Unknown, op, err)
	}

	// The grant is not a mint, so it is not recorded as the latest attempt.
	scratch := &Attempt{ID: uuid.NewString(), Status: StatusProbing, StartedAt: w.now()}
	receipt, err := w.submit(ctx, scratch, acc, aa.Call{To: contract, Data: data})
	if err != nil {
		return nil, err
	}
	tx := receipt.TxHash()
	w.logger.Info("minter role granted",
		zap.String("contract", contract.Hex()),
		zap.String("target", target.Hex()),
		zap.String("tx", tx.Hex()))
	return &GrantResult{
		Contract:   contract,
		Target:     target,
		UserOpHash: *scratch.UserOpHash,
		TxHash:     tx,
		TxURL:      w.links.Tx(tx),
	}, nil
}

func formatArgs(args []interface{}) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		out = append(out, fmt.Sprint(arg))
	}
	return out
}
