package treasury

import (
	"fmt"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
)

// Multisig is the quorum policy of a treasury.
type Multisig struct {
	RequiredApprovals uint32
	TotalSigners      uint32
}

// Validate returns an error unless 1 <= required <= total.
func (m Multisig) Validate() error {
	if m.RequiredApprovals < 1 {
		return errors.Wrap(errors.ErrModel, "at least one approval is required")
	}
	if m.RequiredApprovals > m.TotalSigners {
		return errors.Wrapf(errors.ErrModel, "%d approvals required of %d signers", m.RequiredApprovals, m.TotalSigners)
	}
	return nil
}

// DefaultMultisig returns the policy suggested during setup for an admin and
// given number of additional signers: two thirds of all signers, rounded up.
func DefaultMultisig(additional int) Multisig {
	if additional < 0 {
		additional = 0
	}
	total := uint32(1 + additional)
	required := (2*total + 2) / 3
	if required < 1 {
		required = 1
	}
	return Multisig{RequiredApprovals: required, TotalSigners: total}
}

// Config is the policy of a single treasury.
type Config struct {
	TreasuryID string
	// PublicKey is the address of the Stellar account that owns the funds.
	PublicKey string
	AdminID   string
	// MicroThresholdCents is the largest amount, in cents of a lumen, that
	// is approved by a single signer.
	MicroThresholdCents int64
	AdditionalSignerIDs []string
	Multisig            Multisig
	CreatedAt           torasuri.UnixTime
}

var _ orm.Model = (*Config)(nil)

// Validate implements orm.Model.
func (c *Config) Validate() error {
	var errs error
	if c.TreasuryID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "treasury id"))
	}
	if err := ledger.ValidatePublicKey(c.PublicKey); err != nil {
		errs = errors.Append(errs, errors.Wrap(err, "public key"))
	}
	if c.AdminID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "admin id"))
	}
	if c.MicroThresholdCents < 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrAmount, "negative micro threshold"))
	}
	seen := make(map[string]struct{}, len(c.AdditionalSignerIDs))
	for _, id := range c.AdditionalSignerIDs {
		switch _, dup := seen[id]; {
		case id == "":
			errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "additional signer id"))
		case id == c.AdminID:
			errs = errors.Append(errs, errors.Wrap(errors.ErrDuplicate, "admin listed as additional signer"))
		case dup:
			errs = errors.Append(errs, errors.Wrapf(errors.ErrDuplicate, "additional signer %q", id))
		}
		seen[id] = struct{}{}
	}
	if err := c.Multisig.Validate(); err != nil {
		errs = errors.Append(errs, err)
	}
	if err := c.CreatedAt.Validate(); err != nil {
		errs = errors.Append(errs, errors.Wrap(err, "created at"))
	}
	return errs
}

// SignerIDs returns the identities eligible to approve a spend, admin first.
func (c *Config) SignerIDs() []string {
	ids := make([]string, 0, 1+len(c.AdditionalSignerIDs))
	ids = append(ids, c.AdminID)
	for _, id := range c.AdditionalSignerIDs {
		if id != c.AdminID {
			ids = append(ids, id)
		}
	}
	return ids
}

// QuorumRatio renders the policy as "required/total".
func (c *Config) QuorumRatio() string {
	return fmt.Sprintf("%d/%d", c.Multisig.RequiredApprovals, c.Multisig.TotalSigners)
}
