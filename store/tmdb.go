package store

import (
	"github.com/iov-one/torasuri/errors"
	dbm "github.com/tendermint/tendermint/libs/db"
)

// TMStore adapts a tendermint database to the KVStore interface. Tendermint
// databases panic on storage failures, those are turned into ErrDatabase.
type TMStore struct {
	db dbm.DB
}

var _ KVStore = (*TMStore)(nil)

// NewTMStore wraps given tendermint database.
func NewTMStore(db dbm.DB) *TMStore {
	return &TMStore{db: db}
}

// OpenLevelDB opens (or creates) a goleveldb database called name inside dir.
func OpenLevelDB(name, dir string) (store *TMStore, err error) {
	defer recoverDB(&err)
	db := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	return NewTMStore(db), nil
}

// Get returns the value stored under the key or nil.
func (s *TMStore) Get(key []byte) (value []byte, err error) {
	defer recoverDB(&err)
	return s.db.Get(key), nil
}

// Has returns true if the key exists.
func (s *TMStore) Has(key []byte) (ok bool, err error) {
	defer recoverDB(&err)
	return s.db.Has(key), nil
}

// Set writes the value under the key.
func (s *TMStore) Set(key, value []byte) (err error) {
	defer recoverDB(&err)
	s.db.SetSync(key, value)
	return nil
}

// Delete removes the key.
func (s *TMStore) Delete(key []byte) (err error) {
	defer recoverDB(&err)
	s.db.DeleteSync(key)
	return nil
}

// Iterator returns entries in [start, end) in ascending order.
func (s *TMStore) Iterator(start, end []byte) (it Iterator, err error) {
	defer recoverDB(&err)
	return &tmIterator{it: s.db.Iterator(start, end)}, nil
}

// ReverseIterator returns entries in [start, end) in descending order.
func (s *TMStore) ReverseIterator(start, end []byte) (it Iterator, err error) {
	defer recoverDB(&err)
	return &tmIterator{it: s.db.ReverseIterator(start, end)}, nil
}

// NewBatch returns an atomic batch of the underlying database.
func (s *TMStore) NewBatch() Batch {
	return &tmBatch{b: s.db.NewBatch()}
}

// Close releases the underlying database.
func (s *TMStore) Close() (err error) {
	defer recoverDB(&err)
	s.db.Close()
	return nil
}

type tmBatch struct {
	b dbm.Batch
}

func (b *tmBatch) Set(key, value []byte) (err error) {
	defer recoverDB(&err)
	b.b.Set(key, value)
	return nil
}

func (b *tmBatch) Delete(key []byte) (err error) {
	defer recoverDB(&err)
	b.b.Delete(key)
	return nil
}

func (b *tmBatch) Write() (err error) {
	defer recoverDB(&err)
	b.b.WriteSync()
	return nil
}

// tmIterator converts the Valid/Key/Value/Next cursor into our Next style.
type tmIterator struct {
	it      dbm.Iterator
	started bool
}

func (t *tmIterator) Next() (key, value []byte, err error) {
	defer recoverDB(&err)
	if t.started && t.it.Valid() {
		t.it.Next()
	}
	t.started = true
	if !t.it.Valid() {
		return nil, nil, errors.ErrIteratorDone
	}
	return copyBytes(t.it.Key()), copyBytes(t.it.Value()), nil
}

func (t *tmIterator) Release() {
	t.it.Close()
}

func recoverDB(err *error) {
	if r := recover(); r != nil {
		*err = errors.Wrapf(errors.ErrDatabase, "%v", r)
	}
}
