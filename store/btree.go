package store

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/iov-one/torasuri/errors"
)

const (
	// DefaultFreeListSize is the size we hold for free node in btree
	DefaultFreeListSize = btree.DefaultFreeListSize
)

var compare = bytes.Compare

// MemStore is a KVStore that keeps all data in an in-memory btree.
// There is no persistence here. It is safe for concurrent use.
type MemStore struct {
	mu sync.RWMutex
	bt *btree.BTree
}

var _ KVStore = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	free := btree.NewFreeList(DefaultFreeListSize)
	return &MemStore{
		bt: btree.NewWithFreeList(2, free),
	}
}

// Get returns the value stored under the key or nil.
func (m *MemStore) Get(key []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := m.bt.Get(bkey{key})
	if res == nil {
		return nil, nil
	}
	item, ok := res.(setItem)
	if !ok {
		return nil, errors.Wrapf(errors.ErrDatabase, "unknown item in btree: %#v", res)
	}
	return copyBytes(item.value), nil
}

// Has returns true if the key exists.
func (m *MemStore) Has(key []byte) (bool, error) {
	if key == nil {
		return false, errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bt.Has(bkey{key}), nil
}

// Set writes the value under the key.
func (m *MemStore) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bt.ReplaceOrInsert(newSetItem(copyBytes(key), copyBytes(value)))
	return nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (m *MemStore) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bt.Delete(bkey{key})
	return nil
}

// Iterator returns a snapshot of all entries in [start, end) in ascending
// order.
func (m *MemStore) Iterator(start, end []byte) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var data []Model
	collect := func(i btree.Item) bool {
		item := i.(setItem)
		if end != nil && compare(item.key, end) >= 0 {
			return false
		}
		data = append(data, Pair(copyBytes(item.key), copyBytes(item.value)))
		return true
	}
	if start == nil {
		m.bt.Ascend(collect)
	} else {
		m.bt.AscendGreaterOrEqual(bkey{start}, collect)
	}
	return newSliceIterator(data), nil
}

// ReverseIterator returns a snapshot of all entries in [start, end) in
// descending order.
func (m *MemStore) ReverseIterator(start, end []byte) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var data []Model
	collect := func(i btree.Item) bool {
		item := i.(setItem)
		if start != nil && compare(item.key, start) < 0 {
			return false
		}
		// end is exclusive
		if end != nil && compare(item.key, end) >= 0 {
			return true
		}
		data = append(data, Pair(copyBytes(item.key), copyBytes(item.value)))
		return true
	}
	if end == nil {
		m.bt.Descend(collect)
	} else {
		m.bt.DescendLessOrEqual(bkey{end}, collect)
	}
	return newSliceIterator(data), nil
}

// NewBatch returns a batch that applies all operations under a single lock.
func (m *MemStore) NewBatch() Batch {
	return &memBatch{store: m}
}

type memBatch struct {
	store *MemStore
	ops   []batchOp
}

type batchOp struct {
	delete bool
	key    []byte
	value  []byte
}

func (b *memBatch) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, batchOp{delete: true, key: copyBytes(key)})
	return nil
}

func (b *memBatch) Write() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			b.store.bt.Delete(bkey{op.key})
		} else {
			b.store.bt.ReplaceOrInsert(newSetItem(op.key, op.value))
		}
	}
	b.ops = nil
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

/////////////////////////////////////////////////////////
// Items to write to btree

// we enforce all data in our btree implements keyer so we
// can compare nicely
type keyer interface {
	Key() []byte
}

// bkey implements keyer and btree.Item
// and may be used for queries or embedded in data to store
type bkey struct {
	key []byte
}

var _ keyer = bkey{}
var _ btree.Item = bkey{}

func (k bkey) Key() []byte {
	return k.key
}

// Less returns true iff second argument is greater than first
//
// panics if the item to compare doesn't implement keyer.
func (k bkey) Less(item btree.Item) bool {
	cmp := item.(keyer).Key()
	return bytes.Compare(k.key, cmp) < 0
}

type setItem struct {
	bkey
	value []byte
}

func newSetItem(key, value []byte) setItem {
	return setItem{bkey{key}, value}
}
