package spend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/torasuritest"
	"github.com/iov-one/torasuri/torasuritest/assert"
)

func ctx() context.Context {
	return context.Background()
}

func TestCreate(t *testing.T) {
	cases := map[string]struct {
		prepare   func(t *testing.T, f *fixture, req *CreateRequest)
		wantErr   *errors.Error
		wantType  Type
		wantQuota uint32
	}{
		"micro by admin": {
			prepare:   func(t *testing.T, f *fixture, req *CreateRequest) {},
			wantType:  Micro,
			wantQuota: 1,
		},
		"threshold is micro": {
			prepare:   func(t *testing.T, f *fixture, req *CreateRequest) { req.Amount = "100" },
			wantType:  Micro,
			wantQuota: 1,
		},
		"major by signer": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) {
				req.ProposerID = "bob"
				req.Amount = "100.005"
			},
			wantType:  Major,
			wantQuota: 2,
		},
		"largest amount is major": {
			prepare:   func(t *testing.T, f *fixture, req *CreateRequest) { req.Amount = "922337203685.4775807" },
			wantType:  Major,
			wantQuota: 2,
		},
		"unknown treasury": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) { req.TreasuryID = "nowhere" },
			wantErr: ErrNoTreasury,
		},
		"destination is treasury": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) { req.Destination = f.treasuryKey.Address() },
			wantErr: ErrDestinationIsTreasury,
		},
		"not a signer": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) { req.ProposerID = "dave" },
			wantErr: ErrNotAuthorized,
		},
		"invalid destination": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) { req.Destination = "GBAD" },
			wantErr: ledger.ErrInvalidPublicKey,
		},
		"invalid amount": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) { req.Amount = "-3" },
			wantErr: ErrInvalidAmount,
		},
		"not enough verified signers": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) {
				assert.Nil(t, f.registry.Remove(guild, "bob"))
				assert.Nil(t, f.registry.Remove(guild, "carol"))
				req.Amount = "1000"
			},
			wantErr: ErrInsufficientSigners,
		},
		"network down": {
			prepare: func(t *testing.T, f *fixture, req *CreateRequest) {
				f.submitter.SequenceErr = errors.Wrap(errors.ErrNetwork, "down")
			},
			wantErr: errors.ErrNetwork,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := CreateRequest{
				TreasuryID:  guild,
				ProposerID:  "admin",
				Destination: f.destination.Address(),
				Amount:      "0.5",
				Memo:        "a memo that is longer than twenty eight bytes",
				Title:       "Server costs",
			}
			tc.prepare(t, f, &req)

			p, err := f.engine.Create(ctx(), req)
			if tc.wantErr != nil {
				assert.IsErr(t, tc.wantErr, err)
				pending, err := f.engine.ListPending(ctx(), guild)
				assert.Nil(t, err)
				assert.Equal(t, 0, len(pending))
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tc.wantType, p.Type)
			assert.Equal(t, tc.wantQuota, p.RequiredApprovals)
			assert.Equal(t, StatusCollecting, p.Status)
			assert.Equal(t, 10, len(p.ID))
			assert.Equal(t, "a memo that is longer than t", p.Memo)
			assert.Equal(t, p.BaseEnvelope, p.AggregatedEnvelope)
			assert.Equal(t, 3, len(p.SignerPublicKeys))
			assert.Equal(t, 0, len(p.Approvals))
			assert.Equal(t, p.CreatedAt.Add(DefaultExpiry), p.ExpiresAt)

			got, err := f.engine.Get(ctx(), guild, p.ID)
			assert.Nil(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestAddSignature(t *testing.T) {
	cases := map[string]struct {
		// prepare returns the arguments of AddSignature for a fresh
		// major spend.
		prepare   func(t *testing.T, f *fixture, p *PendingSpend) (id, member, key, signed string)
		wantErr   *errors.Error
		wantAdded bool
		wantCount int
	}{
		"accepted": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantAdded: true,
			wantCount: 1,
		},
		"duplicate key is a no-op": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				f.approve(t, p, "bob")
				return p.ID, "bob", f.keys["bob"].Address(), "not even parsed"
			},
			wantAdded: false,
			wantCount: 1,
		},
		"unknown spend": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return "0000000000", "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantErr: ErrSpendNotFound,
		},
		"cancelled": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				_, err := f.engine.Cancel(ctx(), guild, p.ID, "admin")
				assert.Nil(t, err)
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantErr: ErrNotCollecting,
		},
		"window passed": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				f.clock.Advance(DefaultExpiry + time.Second)
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantErr: ErrNotCollecting,
		},
		"key not in snapshot": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				_, err := f.registry.Upsert(guild, "dave", f.keys["dave"].Address())
				assert.Nil(t, err)
				return p.ID, "dave", f.keys["dave"].Address(), f.sign(t, p, "dave")
			},
			wantErr: ErrNotSigner,
		},
		"snapshot key after re-verification": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				_, err := f.registry.Upsert(guild, "bob", torasuritest.NewKey(t).Address())
				assert.Nil(t, err)
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantAdded: true,
			wantCount: 1,
		},
		"new key after re-verification": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				kp := torasuritest.NewKey(t)
				_, err := f.registry.Upsert(guild, "bob", kp.Address())
				assert.Nil(t, err)
				return p.ID, "bob", kp.Address(), signRaw(t, p.BaseEnvelope, kp)
			},
			wantErr: ErrNotSigner,
		},
		"removed signer": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				assert.Nil(t, f.registry.Remove(guild, "bob"))
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantErr: ErrNotSigner,
		},
		"key of another member": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return p.ID, "carol", f.keys["bob"].Address(), f.sign(t, p, "bob")
			},
			wantErr: ErrNotSigner,
		},
		"bad envelope": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return p.ID, "bob", f.keys["bob"].Address(), "AAAA"
			},
			wantErr: ErrBadEnvelope,
		},
		"different payment": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				other := f.create(t, "999")
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, other, "bob")
			},
			wantErr: ErrHashMismatch,
		},
		"signed by another key": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "carol")
			},
			wantErr: ErrMissingSignature,
		},
		"unsigned": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) (string, string, string, string) {
				return p.ID, "bob", f.keys["bob"].Address(), p.BaseEnvelope
			},
			wantErr: ErrMissingSignature,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			p := f.create(t, "500")
			id, member, key, signed := tc.prepare(t, f, p)

			before, err := f.engine.Get(ctx(), guild, p.ID)
			assert.Nil(t, err)

			got, added, err := f.engine.AddSignature(ctx(), guild, id, member, key, signed)
			if tc.wantErr != nil {
				assert.IsErr(t, tc.wantErr, err)
				after, err := f.engine.Get(ctx(), guild, p.ID)
				assert.Nil(t, err)
				assert.Equal(t, before.Approvals, after.Approvals)
				assert.Equal(t, before.AggregatedEnvelope, after.AggregatedEnvelope)
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tc.wantAdded, added)
			assert.Equal(t, tc.wantCount, len(got.Approvals))
			assert.Equal(t, contentHash(t, got.BaseEnvelope), contentHash(t, got.AggregatedEnvelope))
			if !added {
				assert.Equal(t, before, got)
			}
		})
	}
}

func TestExpiredOnAccess(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "500")

	f.clock.Advance(time.Hour)
	_, _, err := f.engine.AddSignature(ctx(), guild, p.ID, "bob", f.keys["bob"].Address(), f.sign(t, p, "bob"))
	assert.IsErr(t, ErrNotCollecting, err)

	got, err := f.engine.Get(ctx(), guild, p.ID)
	assert.Nil(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestAggregation(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "500")

	p = f.approve(t, p, "bob")
	p = f.approve(t, p, "carol")

	env, err := ledger.TestNet.Parse(p.AggregatedEnvelope)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(env.Signatures()))
	if !env.VerifiedBy(f.keys["bob"].Address()) || !env.VerifiedBy(f.keys["carol"].Address()) {
		t.Fatal("aggregated envelope must carry both signatures")
	}
	assert.Equal(t, contentHash(t, p.BaseEnvelope), env.Hash())

	// A signer may send an envelope that carries signatures of others as
	// well, they are merged by hint and never duplicated.
	both := signRaw(t, p.AggregatedEnvelope, f.keys["admin"])
	p, added, err := f.engine.AddSignature(ctx(), guild, p.ID, "admin", f.keys["admin"].Address(), both)
	assert.Nil(t, err)
	assert.Equal(t, true, added)
	env, err = ledger.TestNet.Parse(p.AggregatedEnvelope)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(env.Signatures()))
}

func TestFinalizeSubmit(t *testing.T) {
	cases := map[string]struct {
		prepare    func(t *testing.T, f *fixture, p *PendingSpend)
		wantErr    *errors.Error
		wantStatus Status
		wantError  string
		wantCalls  int
	}{
		"submitted": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				p = f.approve(t, p, "bob")
				f.approve(t, p, "carol")
			},
			wantStatus: StatusSubmitted,
			wantCalls:  1,
		},
		"no quorum": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				f.approve(t, p, "bob")
			},
			wantErr:    ErrNoQuorum,
			wantStatus: StatusCollecting,
		},
		"rejected": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				p = f.approve(t, p, "bob")
				f.approve(t, p, "carol")
				f.submitter.Err = &ledger.SubmitError{TransactionCode: "tx_failed", OperationCodes: []string{"op_underfunded"}}
			},
			wantStatus: StatusFailed,
			wantError:  "tx_failed (op_underfunded)",
			wantCalls:  1,
		},
		"timed out": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				p = f.approve(t, p, "bob")
				f.approve(t, p, "carol")
				f.submitter.Block = true
			},
			wantStatus: StatusFailed,
			wantError:  "context deadline exceeded: timeout",
		},
		"cancelled is a no-op": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				p = f.approve(t, p, "bob")
				f.approve(t, p, "carol")
				_, err := f.engine.Cancel(ctx(), guild, p.ID, "admin")
				assert.Nil(t, err)
			},
			wantStatus: StatusCancelled,
		},
		"window passed": {
			prepare: func(t *testing.T, f *fixture, p *PendingSpend) {
				p = f.approve(t, p, "bob")
				f.approve(t, p, "carol")
				f.clock.Advance(time.Hour)
			},
			wantStatus: StatusExpired,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			p := f.create(t, "500")
			tc.prepare(t, f, p)

			got, err := f.engine.FinalizeSubmit(ctx(), guild, p.ID)
			if tc.wantErr != nil {
				assert.IsErr(t, tc.wantErr, err)
			} else {
				assert.Nil(t, err)
				assert.Equal(t, tc.wantStatus, got.Status)
				assert.Equal(t, tc.wantError, got.Error)
			}

			stored, err := f.engine.Get(ctx(), guild, p.ID)
			assert.Nil(t, err)
			assert.Equal(t, tc.wantStatus, stored.Status)
			assert.Equal(t, tc.wantCalls, len(f.submitter.Submitted()))

			if stored.Status == StatusSubmitted {
				assert.Equal(t, contentHash(t, stored.BaseEnvelope), f.submitter.Submitted()[0].Hash())
				assert.Equal(t, f.submitter.Submitted()[0].HashHex(), stored.SubmissionHash)
			}

			// Never submitted twice, terminal spends are returned
			// unchanged.
			if stored.Status.Terminal() {
				f.submitter.Err = nil
				f.submitter.Block = false
				again, err := f.engine.FinalizeSubmit(ctx(), guild, p.ID)
				assert.Nil(t, err)
				assert.Equal(t, stored, again)
				assert.Equal(t, tc.wantCalls, len(f.submitter.Submitted()))
			}
		})
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	byBob, err := f.engine.Create(ctx(), CreateRequest{
		TreasuryID:  guild,
		ProposerID:  "bob",
		Destination: f.destination.Address(),
		Amount:      "1",
	})
	assert.Nil(t, err)

	_, err = f.engine.Cancel(ctx(), guild, byBob.ID, "carol")
	assert.IsErr(t, ErrNotProposer, err)

	got, err := f.engine.Cancel(ctx(), guild, byBob.ID, "bob")
	assert.Nil(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Terminal spends are left alone, even for strangers.
	again, err := f.engine.Cancel(ctx(), guild, byBob.ID, "carol")
	assert.Nil(t, err)
	assert.Equal(t, got, again)

	// The admin may cancel any spend.
	other := f.create(t, "2")
	_, err = f.engine.Cancel(ctx(), guild, other.ID, "bob")
	assert.IsErr(t, ErrNotProposer, err)
	byBob2, err := f.engine.Create(ctx(), CreateRequest{
		TreasuryID:  guild,
		ProposerID:  "bob",
		Destination: f.destination.Address(),
		Amount:      "3",
	})
	assert.Nil(t, err)
	got, err = f.engine.Cancel(ctx(), guild, byBob2.ID, "admin")
	assert.Nil(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = f.engine.Cancel(ctx(), guild, "ffffffffff", "admin")
	assert.IsErr(t, ErrSpendNotFound, err)
}

func TestListings(t *testing.T) {
	f := newFixture(t)

	var created []*PendingSpend
	for i := 0; i < 4; i++ {
		created = append(created, f.create(t, "1"))
		f.clock.Advance(time.Second)
	}
	_, err := f.engine.Cancel(ctx(), guild, created[0].ID, "admin")
	assert.Nil(t, err)
	_, err = f.engine.Cancel(ctx(), guild, created[2].ID, "admin")
	assert.Nil(t, err)

	pending, err := f.engine.ListPending(ctx(), guild)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(pending))
	assert.Equal(t, created[3].ID, pending[0].ID)
	assert.Equal(t, created[1].ID, pending[1].ID)

	history, err := f.engine.ListHistory(ctx(), guild, 0)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(history))
	assert.Equal(t, created[2].ID, history[0].ID)
	assert.Equal(t, created[0].ID, history[1].ID)

	history, err = f.engine.ListHistory(ctx(), guild, 1)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(history))

	other, err := f.engine.ListPending(ctx(), "other")
	assert.Nil(t, err)
	assert.Equal(t, 0, len(other))

	// A spend is only visible within its own treasury.
	_, err = f.engine.Get(ctx(), "other", created[1].ID)
	assert.IsErr(t, ErrSpendNotFound, err)
}

func TestConcurrentApprovals(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "500")

	members := []string{"admin", "bob", "carol"}
	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		signed := f.sign(t, p, m)
		wg.Add(1)
		go func(i int, m, signed string) {
			defer wg.Done()
			_, _, errs[i] = f.engine.AddSignature(ctx(), guild, p.ID, m, f.keys[m].Address(), signed)
		}(i, m, signed)
	}
	wg.Wait()
	for _, err := range errs {
		assert.Nil(t, err)
	}

	got, err := f.engine.Get(ctx(), guild, p.ID)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(got.Approvals))
	env, err := ledger.TestNet.Parse(got.AggregatedEnvelope)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(env.Signatures()))
	assert.Equal(t, uint32(4), got.Version)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestStoreIsSourceOfTruth(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "500")
	p = f.approve(t, p, "bob")

	// A second engine over the same store sees the same state and
	// its writes are not lost by the first one.
	second := NewEngine(Config{Network: ledger.TestNet}, f.engine.db, f.treasuries, f.registry, f.submitter, f.clock, nil)
	got, err := second.Get(ctx(), guild, p.ID)
	assert.Nil(t, err)
	assert.Equal(t, p, got)

	_, _, err = second.AddSignature(ctx(), guild, p.ID, "carol", f.keys["carol"].Address(), f.sign(t, p, "carol"))
	assert.Nil(t, err)

	// The first engine still caches the old version, its write is
	// refused instead of overwriting the approval of carol.
	_, _, err = f.engine.AddSignature(ctx(), guild, p.ID, "admin", f.keys["admin"].Address(), f.sign(t, p, "admin"))
	assert.IsErr(t, errors.ErrConflict, err)

	// The conflict dropped the stale copy, a retry succeeds.
	got, added, err := f.engine.AddSignature(ctx(), guild, p.ID, "admin", f.keys["admin"].Address(), f.sign(t, p, "admin"))
	assert.Nil(t, err)
	assert.Equal(t, true, added)
	assert.Equal(t, 3, len(got.Approvals))
}

func TestHasQuorum(t *testing.T) {
	p := &PendingSpend{RequiredApprovals: 2}
	assert.Equal(t, false, HasQuorum(p))
	p.Approvals = append(p.Approvals, Approval{MemberID: "a", PublicKey: "A"})
	assert.Equal(t, false, HasQuorum(p))
	p.Approvals = append(p.Approvals, Approval{MemberID: "b", PublicKey: "B"})
	assert.Equal(t, true, HasQuorum(p))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 80))
	assert.Equal(t, "żó", truncate("żółw", 2))
}
