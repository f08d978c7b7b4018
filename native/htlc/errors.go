package htlc

import "errors"

// Every guard failure maps onto exactly one of these values so callers can
// rely on errors.Is across the registry, engine and RPC boundary.
var (
	ErrUnauthorized      = errors.New("htlc: unauthorized")
	ErrAlreadyExists     = errors.New("htlc: already exists")
	ErrNotFound          = errors.New("htlc: not found")
	ErrExpired           = errors.New("htlc: expired")
	ErrInvalidPreimage   = errors.New("htlc: invalid preimage")
	ErrAlreadyCompleted  = errors.New("htlc: already completed")
	ErrAlreadyRefunded   = errors.New("htlc: already refunded")
	ErrInsufficientFunds = errors.New("htlc: insufficient funds")
	ErrTooEarly          = errors.New("htlc: too early")
	ErrInvalidInputList  = errors.New("htlc: invalid input list")
	ErrMismatchedLists   = errors.New("htlc: mismatched lists")
	ErrInvalidRecipient  = errors.New("htlc: invalid recipient")
)
