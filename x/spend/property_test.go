package spend

import (
	"testing"

	"github.com/iov-one/torasuri/ledger"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Actions applied to a spend by the lifecycle property.
const (
	actApproveAdmin = iota
	actApproveBob
	actApproveCarol
	actApproveStranger
	actFinalize
	actCancel
	actCount
)

var actionMembers = []string{"admin", "bob", "carol", "dave"}

func TestSpendLifecycleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("approvals are unique, eligible, grow monotonically and keep the content hash", prop.ForAll(
		func(actions []int) bool {
			f := newFixture(t)
			p := f.create(t, "500")
			base := contentHash(t, p.BaseEnvelope)

			prev := p
			for _, act := range actions {
				switch act {
				case actApproveAdmin, actApproveBob, actApproveCarol, actApproveStranger:
					m := actionMembers[act]
					_, _, _ = f.engine.AddSignature(ctx(), guild, p.ID, m, f.keys[m].Address(), f.sign(t, p, m))
				case actFinalize:
					_, _ = f.engine.FinalizeSubmit(ctx(), guild, p.ID)
				case actCancel:
					_, _ = f.engine.Cancel(ctx(), guild, p.ID, "admin")
				}

				cur, err := f.engine.Get(ctx(), guild, p.ID)
				if err != nil {
					return false
				}
				if err := cur.Validate(); err != nil {
					return false
				}
				if len(cur.Approvals) > len(cur.SignerPublicKeys) {
					return false
				}
				if len(cur.Approvals) < len(prev.Approvals) {
					return false
				}
				for i, a := range prev.Approvals {
					if cur.Approvals[i] != a {
						return false
					}
				}
				if contentHash(t, cur.AggregatedEnvelope) != base {
					return false
				}
				if prev.Status.Terminal() && (cur.Status != prev.Status || len(cur.Approvals) != len(prev.Approvals)) {
					return false
				}
				if cur.Status == StatusSubmitted && !HasQuorum(cur) {
					return false
				}
				if cur.HasApproval(f.keys["dave"].Address()) {
					return false
				}
				prev = cur
			}
			return len(f.submitter.Submitted()) <= 1
		},
		gen.SliceOf(gen.IntRange(0, actCount-1)),
	))

	properties.TestingRun(t)
}

func TestSpendClassificationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	f := newFixture(t)
	properties.Property("micro exactly when the amount is within the threshold", prop.ForAll(
		func(stroops int64) bool {
			p, err := f.engine.Create(ctx(), CreateRequest{
				TreasuryID:  guild,
				ProposerID:  "bob",
				Destination: f.destination.Address(),
				Amount:      ledger.AmountString(stroops),
			})
			if err != nil {
				return false
			}
			if ledger.Cents(stroops) <= 10000 {
				return p.Type == Micro && p.RequiredApprovals == 1
			}
			return p.Type == Major && p.RequiredApprovals == 2
		},
		gen.Int64Range(1, 1000*10000000),
	))

	properties.TestingRun(t)
}
