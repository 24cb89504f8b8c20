package ledger

import "github.com/iov-one/torasuri/errors"

var (
	// ErrInvalidPublicKey is returned when a value is not a Stellar account
	// address.
	ErrInvalidPublicKey = errors.Register(100, "invalid public key format")

	// ErrBadEnvelope is returned when a serialized envelope cannot be
	// decoded.
	ErrBadEnvelope = errors.Register(101, "bad envelope")

	// ErrHashMismatch is returned when two envelopes do not describe the
	// same transaction.
	ErrHashMismatch = errors.Register(102, "hash mismatch")

	// ErrInvalidAmount is returned for amounts that are not a positive
	// decimal with at most seven fractional digits.
	ErrInvalidAmount = errors.Register(103, "invalid amount")

	// ErrRejected is returned when the network refused a transaction.
	ErrRejected = errors.Register(104, "transaction rejected")
)
