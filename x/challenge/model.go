package challenge

import (
	"strings"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
)

// Challenge is an outstanding proof of control attempt.
type Challenge struct {
	// Hash is the hex encoded content hash of the challenge transaction.
	Hash string
	// Envelope is the serialized challenge signed by the server.
	Envelope  string
	PublicKey string
	MemberID  string
	Domain    string
	CreatedAt torasuri.UnixTime
	ExpiresAt torasuri.UnixTime
}

var _ orm.Model = (*Challenge)(nil)

// Validate implements orm.Model.
func (c *Challenge) Validate() error {
	var errs error
	if len(c.Hash) != 64 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrModel, "hash must be 32 hex encoded bytes"))
	}
	if c.Envelope == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "envelope"))
	}
	if err := ledger.ValidatePublicKey(c.PublicKey); err != nil {
		errs = errors.Append(errs, err)
	}
	if c.MemberID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "member id"))
	}
	if !c.CreatedAt.Before(c.ExpiresAt) {
		errs = errors.Append(errs, errors.Wrap(errors.ErrState, "expires before created"))
	}
	return errs
}

// Expired returns true if the challenge cannot be used at given time.
func (c *Challenge) Expired(now torasuri.UnixTime) bool {
	return now > c.ExpiresAt
}

// DataName returns the name of the data entry that binds a challenge to a
// member within a domain.
func DataName(domain, memberID string) string {
	return domain + "|" + memberID + "|challenge"
}

func validateName(part, name string) error {
	if part == "" {
		return errors.Wrapf(errors.ErrEmpty, "%s", name)
	}
	if strings.Contains(part, "|") {
		return errors.Wrapf(errors.ErrInput, "%s must not contain |", name)
	}
	return nil
}
