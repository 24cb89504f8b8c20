package spend

import (
	"testing"

	"github.com/iov-one/torasuri/ledger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSpendScenarios(t *testing.T) {
	Convey("Given a treasury with a 10000 cents threshold and a 2 of 3 quorum", t, func() {
		f := newFixture(t)

		Convey("A payment of half a lumen is a micro spend", func() {
			p := f.create(t, "0.5")
			So(p.Type, ShouldEqual, Micro)
			So(p.AmountCents, ShouldEqual, 50)
			So(p.RequiredApprovals, ShouldEqual, 1)
			So(HasQuorum(p), ShouldBeFalse)

			Convey("One approval reaches the quorum and it can be submitted", func() {
				p = f.approve(t, p, "bob")
				So(HasQuorum(p), ShouldBeTrue)

				p, err := f.engine.FinalizeSubmit(ctx(), guild, p.ID)
				So(err, ShouldBeNil)
				So(p.Status, ShouldEqual, StatusSubmitted)
				So(p.SubmissionHash, ShouldNotBeEmpty)
				So(f.submitter.Submitted(), ShouldHaveLength, 1)
			})
		})

		Convey("A payment of 500 lumens is a major spend", func() {
			p := f.create(t, "500")
			So(p.Type, ShouldEqual, Major)
			So(p.RequiredApprovals, ShouldEqual, 2)
			So(p.SignerPublicKeys, ShouldHaveLength, 3)

			Convey("A single approval is not enough", func() {
				p = f.approve(t, p, "admin")
				So(HasQuorum(p), ShouldBeFalse)

				_, err := f.engine.FinalizeSubmit(ctx(), guild, p.ID)
				So(ErrNoQuorum.Is(err), ShouldBeTrue)
				So(f.submitter.Submitted(), ShouldBeEmpty)

				Convey("A second approval completes it", func() {
					p = f.approve(t, p, "carol")
					So(HasQuorum(p), ShouldBeTrue)

					p, err := f.engine.FinalizeSubmit(ctx(), guild, p.ID)
					So(err, ShouldBeNil)
					So(p.Status, ShouldEqual, StatusSubmitted)

					submitted := f.submitter.Submitted()
					So(submitted, ShouldHaveLength, 1)
					So(submitted[0].Signatures(), ShouldHaveLength, 2)
					So(submitted[0].VerifiedBy(f.keys["admin"].Address()), ShouldBeTrue)
					So(submitted[0].VerifiedBy(f.keys["carol"].Address()), ShouldBeTrue)
				})
			})

			Convey("A signature over a different payment is refused", func() {
				forged, err := ledger.TestNet.BuildPayment(ledger.Payment{
					Source:      f.treasuryKey.Address(),
					Sequence:    100,
					Destination: f.keys["bob"].Address(),
					Amount:      5000000000,
					MinTime:     p.CreatedAt.Time(),
					MaxTime:     p.ExpiresAt.Time(),
				})
				So(err, ShouldBeNil)
				signed, err := forged.Sign(f.keys["bob"])
				So(err, ShouldBeNil)

				_, added, err := f.engine.AddSignature(ctx(), guild, p.ID, "bob", f.keys["bob"].Address(), signed.Raw())
				So(ErrHashMismatch.Is(err), ShouldBeTrue)
				So(added, ShouldBeFalse)

				stored, err := f.engine.Get(ctx(), guild, p.ID)
				So(err, ShouldBeNil)
				So(stored.Approvals, ShouldBeEmpty)
			})
		})

		Convey("A payment back to the treasury itself is refused", func() {
			_, err := f.engine.Create(ctx(), CreateRequest{
				TreasuryID:  guild,
				ProposerID:  "admin",
				Destination: f.treasuryKey.Address(),
				Amount:      "1",
			})
			So(ErrDestinationIsTreasury.Is(err), ShouldBeTrue)

			pending, err := f.engine.ListPending(ctx(), guild)
			So(err, ShouldBeNil)
			So(pending, ShouldBeEmpty)
		})
	})
}
