package spend

import (
	"testing"
	"time"

	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/store"
	"github.com/iov-one/torasuri/torasuritest"
	"github.com/iov-one/torasuri/torasuritest/assert"
	"github.com/iov-one/torasuri/x/signers"
	"github.com/iov-one/torasuri/x/treasury"
	"github.com/stellar/go/keypair"
)

const guild = "guild"

// fixture is a treasury of admin, bob and carol, all verified, with a
// 10000 cents micro threshold and a 2 of 3 quorum.
type fixture struct {
	clock      *torasuritest.Clock
	submitter  *torasuritest.Submitter
	treasuries *treasury.Provider
	registry   *signers.Registry
	engine     *Engine
	sweeper    *Sweeper

	treasuryKey *keypair.Full
	destination *keypair.Full
	keys        map[string]*keypair.Full
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	db := store.NewMemStore()
	f := &fixture{
		clock:       torasuritest.NewClock(time.Unix(1560000000, 0)),
		submitter:   torasuritest.NewSubmitter(),
		treasuries:  treasury.NewProvider(db),
		treasuryKey: torasuritest.NewKey(t),
		destination: torasuritest.NewKey(t),
		keys: map[string]*keypair.Full{
			"admin": torasuritest.NewKey(t),
			"bob":   torasuritest.NewKey(t),
			"carol": torasuritest.NewKey(t),
			"dave":  torasuritest.NewKey(t),
		},
	}
	f.registry = signers.NewRegistry(db, f.clock, nil)

	_, err := f.treasuries.Setup(treasury.SetupRequest{
		TreasuryID:          guild,
		PublicKey:           f.treasuryKey.Address(),
		AdminID:             "admin",
		MicroThresholdCents: 10000,
		AdditionalSignerIDs: []string{"bob", "carol"},
		RequiredApprovals:   2,
	}, f.clock.Now())
	assert.Nil(t, err)

	for _, member := range []string{"admin", "bob", "carol"} {
		_, err := f.registry.Upsert(guild, member, f.keys[member].Address())
		assert.Nil(t, err)
	}
	f.submitter.SetSequence(f.treasuryKey.Address(), 100)

	f.engine = NewEngine(Config{Network: ledger.TestNet, SubmitTimeout: time.Second}, db, f.treasuries, f.registry, f.submitter, f.clock, nil)
	f.sweeper = NewSweeper(f.engine)
	return f
}

// create opens a spend proposed by the admin.
func (f *fixture) create(t testing.TB, amount string) *PendingSpend {
	t.Helper()
	p, err := f.engine.Create(ctx(), CreateRequest{
		TreasuryID:  guild,
		ProposerID:  "admin",
		Destination: f.destination.Address(),
		Amount:      amount,
	})
	assert.Nil(t, err)
	return p
}

// sign returns the base envelope of given spend signed by the member key.
func (f *fixture) sign(t testing.TB, p *PendingSpend, member string) string {
	t.Helper()
	return signRaw(t, p.BaseEnvelope, f.keys[member])
}

func (f *fixture) approve(t testing.TB, p *PendingSpend, member string) *PendingSpend {
	t.Helper()
	updated, added, err := f.engine.AddSignature(ctx(), guild, p.ID, member, f.keys[member].Address(), f.sign(t, p, member))
	assert.Nil(t, err)
	if !added {
		t.Fatalf("approval of %s not added", member)
	}
	return updated
}

func signRaw(t testing.TB, raw string, kp *keypair.Full) string {
	t.Helper()
	env, err := ledger.TestNet.Parse(raw)
	assert.Nil(t, err)
	signed, err := env.Sign(kp)
	assert.Nil(t, err)
	return signed.Raw()
}

func contentHash(t testing.TB, raw string) [32]byte {
	t.Helper()
	env, err := ledger.TestNet.Parse(raw)
	assert.Nil(t, err)
	return env.Hash()
}
