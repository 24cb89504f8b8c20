package challenge

import (
	"context"
	"sync"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/orm"
	"github.com/tendermint/tendermint/libs/common"
)

// Store keeps outstanding challenges keyed by hash.
type Store interface {
	// Put stores a new challenge. It fails with ErrDuplicate if a
	// challenge with the same hash exists.
	Put(ctx context.Context, c *Challenge) error

	// Get returns the challenge with given hash or ErrNotFound.
	Get(ctx context.Context, hash string) (*Challenge, error)

	// Delete removes the challenge with given hash. Of two concurrent
	// calls for the same hash only one succeeds, the other fails with
	// ErrNotFound.
	Delete(ctx context.Context, hash string) error
}

// BucketStore is a Store backed by any key value store.
type BucketStore struct {
	db     torasuri.KVStore
	bucket orm.Bucket
	clock  torasuri.Clock

	// mu makes the existence check and the write of Put and Delete a
	// single step.
	mu sync.Mutex
}

var (
	_ Store           = (*BucketStore)(nil)
	_ torasuri.Ticker = (*BucketStore)(nil)
)

// NewBucketStore returns a store persisting challenges to given database.
func NewBucketStore(db torasuri.KVStore, clock torasuri.Clock) *BucketStore {
	if clock == nil {
		clock = torasuri.SystemClock{}
	}
	return &BucketStore{
		db:     db,
		bucket: orm.NewBucket("challenge"),
		clock:  clock,
	}
}

// Put implements Store.
func (s *BucketStore) Put(ctx context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ok, err := s.bucket.Has(s.db, []byte(c.Hash)); {
	case err != nil:
		return err
	case ok:
		return errors.Wrapf(errors.ErrDuplicate, "challenge %s", c.Hash)
	}
	return s.bucket.Put(s.db, []byte(c.Hash), c)
}

// Get implements Store.
func (s *BucketStore) Get(ctx context.Context, hash string) (*Challenge, error) {
	var c Challenge
	if err := s.bucket.One(s.db, []byte(hash), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete implements Store.
func (s *BucketStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bucket.Delete(s.db, []byte(hash))
}

// Tick removes all expired challenges. It implements torasuri.Ticker so
// that it can be scheduled next to the spend sweeper.
func (s *BucketStore) Tick(ctx context.Context) (*torasuri.TickResult, error) {
	now := torasuri.AsUnixTime(s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.bucket.Scan(s.db, nil, false)
	if err != nil {
		return nil, err
	}
	var expired [][]byte
	for {
		var c Challenge
		key, err := it.LoadNext(&c)
		if errors.ErrIteratorDone.Is(err) {
			break
		}
		if err != nil {
			it.Release()
			return nil, err
		}
		if c.Expired(now) {
			expired = append(expired, key)
		}
	}
	it.Release()

	res := &torasuri.TickResult{}
	if len(expired) == 0 {
		return res, nil
	}
	batch := s.db.NewBatch()
	for _, key := range expired {
		if err := batch.Delete(s.bucket.DBKey(key)); err != nil {
			return nil, errors.Wrap(err, "delete expired challenge")
		}
		res.Tags = append(res.Tags, common.KVPair{Key: []byte("challenge_expired"), Value: key})
	}
	if err := batch.Write(); err != nil {
		return nil, errors.Wrap(err, "write batch")
	}
	return res, nil
}
