package escrow

import "errors"

var (
	ErrNoStakeFound          = errors.New("no stake found")
	ErrNotAuthority          = errors.New("caller is not the settlement authority")
	ErrStakeAlreadyLocked    = errors.New("candidate already has an active stake")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrWrongDestination      = errors.New("transaction destination is not the ledger address")
)
