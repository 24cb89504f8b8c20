package store

import (
	"testing"

	"github.com/iov-one/torasuri/torasuritest/assert"
	dbm "github.com/tendermint/tendermint/libs/db"
)

func TestTMStoreMemDB(t *testing.T) {
	testSuite{
		makeBase: func(t *testing.T) (KVStore, func()) {
			return NewTMStore(dbm.NewMemDB()), func() {}
		},
	}.run(t)
}

func TestTMStoreLevelDB(t *testing.T) {
	testSuite{
		makeBase: func(t *testing.T) (KVStore, func()) {
			db, err := OpenLevelDB("test", t.TempDir())
			assert.Nil(t, err)
			return db, func() { _ = db.Close() }
		},
	}.run(t)
}
