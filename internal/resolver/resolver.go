// Package resolver finds a working NFT contract among configured candidates
// and the first mint entry point the caller is allowed to use on it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"smartmint/internal/contracts"
	"smartmint/internal/errkind"
	"smartmint/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Caller is the contract surface the resolver probes. *chain.NFT satisfies it.
type Caller interface {
	HasCode(ctx context.Context, address common.Address) (bool, error)
	Name(ctx context.Context, address common.Address) (string, error)
	Simulate(ctx context.Context, address, from common.Address, method string, args ...interface{}) error
	Pack(method string, args ...interface{}) ([]byte, error)
	RolesOf(ctx context.Context, address, user common.Address) (*big.Int, error)
}

// FunctionSpec is one candidate mint entry point.
type FunctionSpec struct {
	Name        string
	Description string
	Args        func(recipient common.Address) []interface{}
}

func recipientOnly(recipient common.Address) []interface{} {
	return []interface{}{recipient}
}

// DefaultMintFunctions is the probe order used when none is configured.
var DefaultMintFunctions = []FunctionSpec{
	{Name: "mintTo", Description: "mintTo(address)", Args: recipientOnly},
	{Name: "safeMint", Description: "safeMint(address)", Args: recipientOnly},
	{Name: "mint", Description: "mint(address)", Args: recipientOnly},
}

// Resolution is a probed, ready-to-send mint call.
type Resolution struct {
	Contract common.Address
	Function string
	Args     []interface{}
	CallData []byte
}

// MissingRoleError reports that a candidate reverted with an access control
// error for Caller. Roles is the bitmap rolesOf returned, nil when the
// contract does not expose it.
type MissingRoleError struct {
	Contract common.Address
	Caller   common.Address
	Roles    *big.Int
}

func (e *MissingRoleError) Error() string {
	if e.Roles != nil {
		return fmt.Sprintf("%s lacks the minter role on %s (roles %s)", e.Caller.Hex(), e.Contract.Hex(), e.Roles)
	}
	return fmt.Sprintf("%s lacks the minter role on %s", e.Caller.Hex(), e.Contract.Hex())
}

var (
	ErrNoCandidates = errors.New("no candidates")
	ErrNoCode       = errors.New("no contract code")
)

type Resolver struct {
	caller  Caller
	logger  *zap.Logger
	metrics *metrics.Registry
}

func New(caller Caller, logger *zap.Logger, m *metrics.Registry) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{caller: caller, logger: logger, metrics: m}
}

// ResolveContract returns the first candidate that has bytecode and answers
// name() without reverting. A candidate that cannot be reached ends the scan
// with NetworkError.
func (r *Resolver) ResolveContract(ctx context.Context, candidates []common.Address) (common.Address, error) {
	const op = "resolve contract"
	if len(candidates) == 0 {
		return common.Address{}, errkind.New(errkind.NoWorkingContract, op, ErrNoCandidates)
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return common.Address{}, errkind.New(errkind.NetworkError, op, err)
		}
		ok, err := r.caller.HasCode(ctx, candidate)
		if err != nil {
			r.probeFailed("contract", candidate, "getCode", err)
			if errkind.Classify(err) == errkind.NetworkError {
				return common.Address{}, errkind.New(errkind.NetworkError, op, err)
			}
			lastErr = err
			continue
		}
		if !ok {
			lastErr = fmt.Errorf("%s: %w", candidate.Hex(), ErrNoCode)
			r.probeFailed("contract", candidate, "getCode", ErrNoCode)
			continue
		}
		if _, err := r.caller.Name(ctx, candidate); err != nil {
			r.probeFailed("contract", candidate, "name", err)
			if errkind.Classify(err) == errkind.NetworkError {
				return common.Address{}, errkind.New(errkind.NetworkError, op, err)
			}
			lastErr = err
			continue
		}
		r.metrics.IncProbe("contract", "ok")
		return candidate, nil
	}
	return common.Address{}, errkind.New(errkind.NoWorkingContract, op, lastErr)
}

// ResolveMintFunction dry-runs each candidate as caller, in order, and returns
// the first one that does not revert. A probe that cannot reach the node ends
// the scan with NetworkError.
func (r *Resolver) ResolveMintFunction(ctx context.Context, contract, caller common.Address, fns []FunctionSpec) (*Resolution, error) {
	const op = "resolve mint function"
	if len(fns) == 0 {
		return nil, errkind.New(errkind.NoCompatibleFunction, op, ErrNoCandidates)
	}

	var (
		lastErr      error
		unauthorized bool
	)
	for _, fn := range fns {
		var args []interface{}
		if fn.Args != nil {
			args = fn.Args(caller)
		}
		err := r.caller.Simulate(ctx, contract, caller, fn.Name, args...)
		if err == nil {
			data, err := r.caller.Pack(fn.Name, args...)
			if err != nil {
				return nil, errkind.New(errkind.Unknown, op, err)
			}
			r.metrics.IncProbe("function", "ok")
			r.logger.Debug("mint function resolved",
				zap.String("contract", contract.Hex()),
				zap.String("function", fn.Name))
			return &Resolution{Contract: contract, Function: fn.Name, Args: args, CallData: data}, nil
		}

		lastErr = err
		r.probeFailed("function", contract, fn.Name, err)
		switch errkind.Classify(err) {
		case errkind.Unauthorized:
			unauthorized = true
		case errkind.NetworkError:
			return nil, errkind.New(errkind.NetworkError, op, err)
		}
	}

	if unauthorized {
		missing := &MissingRoleError{Contract: contract, Caller: caller}
		roles, err := r.caller.RolesOf(ctx, contract, caller)
		switch {
		case err != nil:
			r.logger.Debug("rolesOf unavailable", zap.String("contract", contract.Hex()), zap.Error(err))
		case new(big.Int).And(roles, big.NewInt(contracts.MinterRole)).Sign() != 0:
			// The caller holds the role, so the access revert came from elsewhere.
			return nil, errkind.New(errkind.NoCompatibleFunction, op, lastErr)
		default:
			missing.Roles = roles
		}
		return nil, errkind.New(errkind.Unauthorized, op, missing)
	}
	return nil, errkind.New(errkind.NoCompatibleFunction, op, lastErr)
}

func (r *Resolver) probeFailed(stage string, address common.Address, probe string, err error) {
	r.metrics.IncProbe(stage, "failed")
	r.logger.Debug("probe failed",
		zap.String("stage", stage),
		zap.String("address", address.Hex()),
		zap.String("probe", probe),
		zap.Error(err))
}
