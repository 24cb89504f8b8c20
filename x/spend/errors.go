package spend

import (
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
)

var (
	ErrNoTreasury            = errors.Register(160, "no treasury")
	ErrDestinationIsTreasury = errors.Register(161, "destination is the treasury")
	ErrNotAuthorized         = errors.Register(162, "not authorized")
	ErrSpendNotFound         = errors.Register(163, "spend not found")
	ErrNotCollecting         = errors.Register(164, "spend is not collecting signatures")
	ErrMissingSignature      = errors.Register(165, "missing signature")
	ErrNotSigner             = errors.Register(166, "not an eligible signer")
	ErrNoQuorum              = errors.Register(167, "quorum not reached")
	ErrNotProposer           = errors.Register(168, "not the proposer")
	ErrInsufficientSigners   = errors.Register(169, "not enough verified signers")
)

// Envelope related kinds are shared with the ledger package.
var (
	ErrBadEnvelope   = ledger.ErrBadEnvelope
	ErrHashMismatch  = ledger.ErrHashMismatch
	ErrInvalidAmount = ledger.ErrInvalidAmount
)
