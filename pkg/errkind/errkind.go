// Package errkind classifies escrow pipeline failures so that callers can
// decide whether a retry is safe without parsing error strings.
package errkind

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// UserDeclined - wallet refused to sign, never retried.
	UserDeclined Kind = iota + 1
	// NetworkMismatch - connected chain differs from the configured chain.
	NetworkMismatch
	// InsufficientFunds - candidate balance below the stake amount.
	InsufficientFunds
	// InsufficientAuthorization - standing allowance below the stake amount.
	InsufficientAuthorization
	// ContractNotFound - no ledger deployed at the configured address.
	ContractNotFound
	// Transient - provider level failure (rate limit, timeout), safe to retry.
	Transient
	// Reverted - ledger rejected the transaction on-chain.
	Reverted
	// VerificationFailed - transaction succeeded but failed local sanity
	// checks, requires manual reconciliation.
	VerificationFailed
	// NoStakeFound - ledger holds no active stake for the candidate.
	NoStakeFound
	// NotAuthority - refund/forfeit attempted by a non-authority signer.
	NotAuthority
	// InvalidVerdict - verdict status/score outside the known domain.
	InvalidVerdict
)

var kindNames = map[Kind]string{
	UserDeclined:              "user declined",
	NetworkMismatch:           "network mismatch",
	InsufficientFunds:         "insufficient funds",
	InsufficientAuthorization: "insufficient authorization",
	ContractNotFound:          "contract not found",
	Transient:                 "transient rpc failure",
	Reverted:                  "transaction reverted",
	VerificationFailed:        "verification failed",
	NoStakeFound:              "no stake found",
	NotAuthority:              "not authority",
	InvalidVerdict:            "invalid verdict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind %d", int(k))
}

type Error struct {
	Kind  Kind
	TxRef string
	err   error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) WithTxRef(txRef string) *Error {
	e.TxRef = txRef
	return e
}

// KindOf returns the classification of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err may be retried below the orchestration
// layer. Only provider level failures qualify, policy failures never do.
func IsTransient(err error) bool {
	return Is(err, Transient)
}
