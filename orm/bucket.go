package orm

import (
	"reflect"
	"regexp"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/store"
)

var (
	isBucketName = regexp.MustCompile(`^[a-z_]{3,10}$`).MatchString
)

// Bucket is a prefixed subspace of the DB that holds models of a single
// type.
//
// This is a generic building block that should generally
// be embedded in a type-safe wrapper to ensure all data
// is the same type.
type Bucket struct {
	name   string
	prefix []byte
}

// NewBucket creates a bucket to store data
func NewBucket(name string) Bucket {
	if !isBucketName(name) {
		panic("invalid bucket name: " + name)
	}
	return Bucket{
		name:   name,
		prefix: append([]byte(name), ':'),
	}
}

// Name returns the name of the bucket.
func (b Bucket) Name() string {
	return b.name
}

// DBKey is the full key we store in the db, including prefix.
func (b Bucket) DBKey(key []byte) []byte {
	res := make([]byte, 0, len(b.prefix)+len(key))
	res = append(res, b.prefix...)
	return append(res, key...)
}

// One query the database for a single model instance. Lookup is done by the
// primary key. Result is loaded into given destination model.
// This method returns ErrNotFound if the entity does not exist in the
// database.
func (b Bucket) One(db torasuri.ReadOnlyKVStore, key []byte, dest Model) error {
	if len(key) == 0 {
		return errors.Wrap(errors.ErrEmpty, "key")
	}
	raw, err := db.Get(b.DBKey(key))
	if err != nil {
		return errors.Wrap(err, "cannot load from the database")
	}
	if raw == nil {
		return errors.Wrapf(errors.ErrNotFound, "%T not in the store", dest)
	}
	return Unmarshal(raw, dest)
}

// Has returns true if an entity with given key exists.
func (b Bucket) Has(db torasuri.ReadOnlyKVStore, key []byte) (bool, error) {
	if len(key) == 0 {
		return false, errors.Wrap(errors.ErrEmpty, "key")
	}
	ok, err := db.Has(b.DBKey(key))
	if err != nil {
		return false, errors.Wrap(err, "cannot check the database")
	}
	return ok, nil
}

// Put validates and saves given model in the database.
func (b Bucket) Put(db torasuri.SetDeleter, key []byte, m Model) error {
	if len(key) == 0 {
		return errors.Wrap(errors.ErrEmpty, "key")
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "invalid model")
	}
	raw, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := db.Set(b.DBKey(key), raw); err != nil {
		return errors.Wrap(err, "cannot store in the database")
	}
	return nil
}

// Delete removes an entity with given primary key from the database.
// It returns ErrNotFound if an entity with given key does not exist.
func (b Bucket) Delete(db torasuri.KVStore, key []byte) error {
	switch ok, err := b.Has(db, key); {
	case err != nil:
		return err
	case !ok:
		return errors.Wrapf(errors.ErrNotFound, "key %q", key)
	}
	if err := db.Delete(b.DBKey(key)); err != nil {
		return errors.Wrap(err, "cannot delete from the database")
	}
	return nil
}

// Scan returns an iterator over all models whose key starts with given
// prefix. A nil prefix iterates over the whole bucket.
func (b Bucket) Scan(db torasuri.ReadOnlyKVStore, prefix []byte, reverse bool) (*ModelIterator, error) {
	start, end := store.PrefixRange(b.DBKey(prefix))
	var (
		it  torasuri.Iterator
		err error
	)
	if reverse {
		it, err = db.ReverseIterator(start, end)
	} else {
		it, err = db.Iterator(start, end)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot create iterator")
	}
	return &ModelIterator{iterator: it, bucketPrefix: b.prefix}, nil
}

// ModelIterator loads models one by one from an underlying store iterator.
type ModelIterator struct {
	iterator     torasuri.Iterator
	bucketPrefix []byte
}

// LoadNext moves the iterator to the next entry and loads its value into the
// passed destination. It returns the primary key of the entry. Once all
// entries are consumed, ErrIteratorDone is returned.
func (i *ModelIterator) LoadNext(dest Model) ([]byte, error) {
	key, value, err := i.iterator.Next()
	if err != nil {
		return nil, err
	}
	if err := Unmarshal(value, dest); err != nil {
		return nil, err
	}
	return key[len(i.bucketPrefix):], nil
}

// Release releases the Iterator.
func (i *ModelIterator) Release() {
	i.iterator.Release()
}

// newOf returns a fresh instance of the same type as given model pointer.
func newOf(m Model) Model {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface().(Model)
}
