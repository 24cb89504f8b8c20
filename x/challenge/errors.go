package challenge

import "github.com/iov-one/torasuri/errors"

var (
	ErrNoSuchChallenge        = errors.Register(150, "no such challenge")
	ErrChallengeExpired       = errors.Register(151, "challenge expired")
	ErrIdentityMismatch       = errors.Register(152, "identity mismatch")
	ErrMalformedOperation     = errors.Register(153, "malformed operation")
	ErrDomainMismatch         = errors.Register(154, "domain mismatch")
	ErrMissingServerSignature = errors.Register(155, "missing server signature")
	ErrMissingUserSignature   = errors.Register(156, "missing user signature")
	ErrMalformedEnvelope      = errors.Register(157, "malformed challenge envelope")
	ErrRateLimited            = errors.Register(158, "too many challenges")
)
