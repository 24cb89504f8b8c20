package orm

import (
	"math"
	"sync"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
)

// VersionedBucket stores VersionedModel instances and refuses lost updates.
//
// Every write must present the version that was read. If the stored version
// differs, the write is rejected with ErrConflict and nothing is written.
// The check and the write happen under a bucket wide lock so that two writers
// in the same process cannot both succeed with the same version.
type VersionedBucket struct {
	Bucket
	mu *sync.Mutex
}

// NewVersionedBucket returns a bucket with compare-and-swap writes.
func NewVersionedBucket(name string) VersionedBucket {
	return VersionedBucket{
		Bucket: NewBucket(name),
		mu:     &sync.Mutex{},
	}
}

// Create stores a new entity. The model version must be zero and is set to 1.
// It returns ErrDuplicate if an entity with given key already exists.
func (b VersionedBucket) Create(db torasuri.KVStore, key []byte, m VersionedModel) error {
	return b.CreateIn(db, db, key, m)
}

// CreateIn works like Create but the existence check is done against db
// while the write goes to w. As with UpdateIn, the caller must not let
// another writer create the same key until w is flushed.
func (b VersionedBucket) CreateIn(db torasuri.ReadOnlyKVStore, w torasuri.SetDeleter, key []byte, m VersionedModel) error {
	if m.GetVersion() != 0 {
		return errors.Wrap(errors.ErrInput, "version is set on create")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch ok, err := b.Has(db, key); {
	case err != nil:
		return err
	case ok:
		return errors.Wrapf(errors.ErrDuplicate, "key %q", key)
	}
	return b.write(w, key, m, 1)
}

// Update persists the given model with its version incremented. The version
// of given model must match the latest stored version.
func (b VersionedBucket) Update(db torasuri.KVStore, key []byte, m VersionedModel) error {
	return b.UpdateIn(db, db, key, m)
}

// UpdateIn works like Update but the version check is done against db while
// the write goes to w, for example a batch that is written later.
// The lock is released before w is flushed, so the caller must not let
// another writer touch the same key until then.
func (b VersionedBucket) UpdateIn(db torasuri.ReadOnlyKVStore, w torasuri.SetDeleter, key []byte, m VersionedModel) error {
	current := m.GetVersion()
	if current == 0 {
		return errors.Wrap(errors.ErrEmpty, "version not set")
	}
	if current == math.MaxUint32 {
		return errors.Wrap(errors.ErrOverflow, "max version exceeded")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stored := newOf(m).(VersionedModel)
	if err := b.One(db, key, stored); err != nil {
		return err
	}
	if stored.GetVersion() != current {
		return errors.Wrapf(errors.ErrConflict, "stored version %d, got %d", stored.GetVersion(), current)
	}
	return b.write(w, key, m, current+1)
}

func (b VersionedBucket) write(w torasuri.SetDeleter, key []byte, m VersionedModel, version uint32) error {
	prev := m.GetVersion()
	m.SetVersion(version)
	if err := b.Put(w, key, m); err != nil {
		m.SetVersion(prev)
		return err
	}
	return nil
}
