// Package errkind holds the closed error taxonomy shared by the session,
// resolver and mint workflow, and the classifier that maps wallet, RPC and
// bundler failures onto it.
package errkind

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind names one failure class surfaced to callers.
type Kind string

const (
	NoWalletProvider     Kind = "NoWalletProvider"
	UserRejected         Kind = "UserRejected"
	InsufficientFunds    Kind = "InsufficientFunds"
	NetworkError         Kind = "NetworkError"
	NoWorkingContract    Kind = "NoWorkingContract"
	NoCompatibleFunction Kind = "NoCompatibleFunction"
	Unauthorized         Kind = "Unauthorized"
	AlreadyInProgress    Kind = "AlreadyInProgress"
	NoSmartAccount       Kind = "NoSmartAccount"
	Unknown              Kind = "Unknown"
)

// Message returns the user-facing text for a kind.
func (k Kind) Message() string {
	switch k {
	case NoWalletProvider:
		return "No wallet provider is configured. Connect a wallet to continue."
	case UserRejected:
		return "Request was rejected. Please try again and approve it."
	case InsufficientFunds:
		return "Insufficient funds to complete the operation."
	case NetworkError:
		return "Network error. Please check your connection and try again."
	case NoWorkingContract:
		return "No working NFT contract found."
	case NoCompatibleFunction:
		return "No compatible mint function found on this contract."
	case Unauthorized:
		return "This account is not allowed to mint. The contract owner must grant it the minter role."
	case AlreadyInProgress:
		return "An operation is already in progress."
	case NoSmartAccount:
		return "Smart account required. Create one before minting."
	default:
		return "Unexpected error."
	}
}

// Error carries a Kind plus the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err and wraps it. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return &Error{Kind: ke.Kind, Op: op, Err: err}
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the kind of err, classifying it when it is not already typed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Classify(err)
}

// EIP-1193 provider and EIP-1474 / ERC-4337 bundler error codes.
const (
	codeUserRejected      = 4001
	codeUnauthorized      = 4100
	codeDisconnected      = 4900
	codeChainDisconnected = 4901
	codeLimitExceeded     = -32005
	codeEntryPointReject  = -32500
	codePaymasterReject   = -32501
)

var unauthorizedSelectors = [][]byte{
	selector("Unauthorized()"),
	selector("AccessControlUnauthorizedAccount(address,bytes32)"),
	selector("OwnableUnauthorizedAccount(address)"),
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Classify maps an untyped error onto the taxonomy. Structured signals (RPC
// error codes, revert data, context and net errors) are checked before the
// message heuristics.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NetworkError
	}
	if IsUnauthorizedRevert(err) {
		return Unauthorized
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return UserRejected
		case codeUnauthorized:
			return Unauthorized
		case codeDisconnected, codeChainDisconnected, codeLimitExceeded:
			return NetworkError
		case codeEntryPointReject, codePaymasterReject:
			if k := classifyMessage(rpcErr.Error()); k != Unknown {
				return k
			}
			return Unknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}
	return classifyMessage(err.Error())
}

// IsUnauthorizedRevert reports whether err carries revert data for one of the
// common access-control custom errors.
func IsUnauthorizedRevert(err error) bool {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return false
	}
	data := revertData(dataErr.ErrorData())
	if len(data) < 4 {
		return false
	}
	for _, sel := range unauthorizedSelectors {
		if bytes.Equal(data[:4], sel) {
			return true
		}
	}
	return false
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	case hexutil.Bytes:
		return d
	}
	return nil
}

// classifyMessage is the fallback for providers that only return free text.
// It is locale dependent and only understands English messages.
func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "user rejected"), strings.Contains(m, "user denied"):
		return UserRejected
	case strings.Contains(m, "insufficient funds"), strings.Contains(m, "aa21"):
		return InsufficientFunds
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "missing role"):
		return Unauthorized
	case strings.Contains(m, "network"), strings.Contains(m, "fetch"),
		strings.Contains(m, "timeout"), strings.Contains(m, "connection refused"),
		strings.Contains(m, "no such host"), strings.Contains(m, "eof"):
		return NetworkError
	}
	return Unknown
}
