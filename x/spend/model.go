package spend

import (
	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
)

// Status is the lifecycle state of a spend. Collecting is the only non
// terminal state.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal returns true for every state a spend can never leave.
func (s Status) Terminal() bool {
	return s != StatusCollecting
}

func (s Status) valid() bool {
	switch s {
	case StatusCollecting, StatusSubmitted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Type classifies a spend by its amount.
type Type string

const (
	// Micro spends are at or below the treasury threshold and need a
	// single approval.
	Micro Type = "MICRO"
	// Major spends need the treasury quorum.
	Major Type = "MAJOR"
)

// Approval is an accepted signature of a signer.
type Approval struct {
	MemberID  string
	PublicKey string
}

// PendingSpend is a proposed payment out of a treasury.
type PendingSpend struct {
	ID          string
	TreasuryID  string
	ProposerID  string
	Destination string
	Memo        string
	// Amount in stroops.
	Amount      int64
	AmountCents int64
	Type        Type
	// RequiredApprovals is copied from the policy at creation.
	RequiredApprovals uint32
	// SignerPublicKeys are the keys eligible to approve, snapshotted at
	// creation.
	SignerPublicKeys []string
	// SignerMembers pairs every snapshotted key with the member it was
	// verified for.
	SignerMembers []Approval
	Approvals     []Approval
	// BaseEnvelope is the unsigned payment. AggregatedEnvelope is the
	// same transaction carrying all accepted signatures.
	BaseEnvelope       string
	AggregatedEnvelope string
	Status             Status
	SubmissionHash     string
	Error              string
	Title              string
	Description        string
	RecipientID        string
	CreatedAt          torasuri.UnixTime
	ExpiresAt          torasuri.UnixTime
	Version            uint32
}

var _ orm.VersionedModel = (*PendingSpend)(nil)

// Validate implements orm.Model.
func (p *PendingSpend) Validate() error {
	var errs error
	if p.ID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "id"))
	}
	if p.TreasuryID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "treasury id"))
	}
	if p.ProposerID == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "proposer id"))
	}
	if err := ledger.ValidatePublicKey(p.Destination); err != nil {
		errs = errors.Append(errs, errors.Wrap(err, "destination"))
	}
	if len(p.Memo) > ledger.MaxMemoLength {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "memo too long"))
	}
	if p.Amount <= 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrAmount, "must be positive"))
	}
	if p.Type != Micro && p.Type != Major {
		errs = errors.Append(errs, errors.Wrapf(errors.ErrModel, "type %q", p.Type))
	}
	if p.RequiredApprovals < 1 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrModel, "at least one approval required"))
	}
	if !p.Status.valid() {
		errs = errors.Append(errs, errors.Wrapf(errors.ErrModel, "status %q", p.Status))
	}
	if p.BaseEnvelope == "" || p.AggregatedEnvelope == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "envelope"))
	}
	seen := make(map[string]struct{}, len(p.Approvals))
	for _, a := range p.Approvals {
		if _, ok := seen[a.PublicKey]; ok {
			errs = errors.Append(errs, errors.Wrapf(errors.ErrDuplicate, "approval of %s", ledger.Short(a.PublicKey)))
		}
		seen[a.PublicKey] = struct{}{}
	}
	if !p.CreatedAt.Before(p.ExpiresAt) {
		errs = errors.Append(errs, errors.Wrap(errors.ErrState, "expires before created"))
	}
	return errs
}

// GetVersion implements orm.VersionedModel.
func (p *PendingSpend) GetVersion() uint32 { return p.Version }

// SetVersion implements orm.VersionedModel.
func (p *PendingSpend) SetVersion(v uint32) { p.Version = v }

// HasApproval returns true if given key approved this spend already.
func (p *PendingSpend) HasApproval(publicKey string) bool {
	for _, a := range p.Approvals {
		if a.PublicKey == publicKey {
			return true
		}
	}
	return false
}

// Eligible returns true if given key was in the signer snapshot.
func (p *PendingSpend) Eligible(publicKey string) bool {
	for _, k := range p.SignerPublicKeys {
		if k == publicKey {
			return true
		}
	}
	return false
}

// VerifiedAtCreation returns true if the member owned given key when the
// spend was created.
func (p *PendingSpend) VerifiedAtCreation(memberID, publicKey string) bool {
	for _, m := range p.SignerMembers {
		if m.MemberID == memberID && m.PublicKey == publicKey {
			return true
		}
	}
	return false
}

// Expired returns true if the validity window has passed at given time.
func (p *PendingSpend) Expired(now torasuri.UnixTime) bool {
	return now > p.ExpiresAt
}

// AmountString returns the amount in lumens.
func (p *PendingSpend) AmountString() string {
	return ledger.AmountString(p.Amount)
}

// Copy returns a deep copy.
func (p *PendingSpend) Copy() *PendingSpend {
	c := *p
	c.SignerPublicKeys = append([]string(nil), p.SignerPublicKeys...)
	c.SignerMembers = append([]Approval(nil), p.SignerMembers...)
	c.Approvals = append([]Approval(nil), p.Approvals...)
	return &c
}

// openEntry marks a collecting spend and its deadline. The sweeper scans
// these entries instead of the whole spend history.
type openEntry struct {
	ExpiresAt torasuri.UnixTime
}

var _ orm.Model = (*openEntry)(nil)

// Validate implements orm.Model.
func (o *openEntry) Validate() error {
	if o.ExpiresAt == 0 {
		return errors.Wrap(errors.ErrEmpty, "expires at")
	}
	return nil
}

// HasQuorum returns true once the spend has at least as many approvals as
// it requires.
func HasQuorum(p *PendingSpend) bool {
	return len(p.Approvals) >= int(p.RequiredApprovals)
}
