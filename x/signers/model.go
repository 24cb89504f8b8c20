/*
Package signers is the registry of verified signer keys.

An entry exists per (treasury, member) and is written only after the member
proved control of the key with a challenge. Re-verifying replaces the key and
bumps the version.
*/
package signers

import (
	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
)

// Signer is a verified signer of a treasury.
type Signer struct {
	TreasuryID string
	MemberID   string
	PublicKey  string
	VerifiedAt torasuri.UnixTime
	CreatedAt  torasuri.UnixTime
	UpdatedAt  torasuri.UnixTime
	Version    uint32
}

var _ orm.VersionedModel = (*Signer)(nil)

// Validate implements orm.Model.
func (s *Signer) Validate() error {
	var errs error
	if s.TreasuryID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "treasury id"))
	}
	if s.MemberID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "member id"))
	}
	if err := ledger.ValidatePublicKey(s.PublicKey); err != nil {
		errs = errors.Append(errs, err)
	}
	if s.VerifiedAt.IsZero() {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "verified at"))
	}
	return errs
}

// GetVersion implements orm.VersionedModel.
func (s *Signer) GetVersion() uint32 { return s.Version }

// SetVersion implements orm.VersionedModel.
func (s *Signer) SetVersion(v uint32) { s.Version = v }
