package torasuritest

import (
	"testing"

	"github.com/stellar/go/keypair"
)

// NewKey returns a random Stellar keypair. It fails the test if the system
// source of randomness is broken.
func NewKey(t testing.TB) *keypair.Full {
	t.Helper()
	kp, err := keypair.Random()
	if err != nil {
		t.Fatalf("cannot create a keypair: %s", err)
	}
	return kp
}

// NewKeys returns n random keypairs.
func NewKeys(t testing.TB, n int) []*keypair.Full {
	t.Helper()
	keys := make([]*keypair.Full, n)
	for i := range keys {
		keys[i] = NewKey(t)
	}
	return keys
}
