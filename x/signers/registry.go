package signers

import (
	"sync"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
	"github.com/tendermint/tendermint/libs/log"
)

// Registry stores signers keyed by (treasury, member).
type Registry struct {
	db     torasuri.KVStore
	bucket orm.VersionedBucket
	clock  torasuri.Clock
	logger log.Logger

	// mu serializes writes so that a re-verification never races with a
	// removal of the same signer.
	mu sync.Mutex
}

// NewRegistry returns a registry persisting to given store.
func NewRegistry(db torasuri.KVStore, clock torasuri.Clock, logger log.Logger) *Registry {
	if clock == nil {
		clock = torasuri.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		db:     db,
		bucket: orm.NewVersionedBucket("signers"),
		clock:  clock,
		logger: logger.With("module", "signers"),
	}
}

// Get returns the signer of given member or ErrNotFound.
func (r *Registry) Get(treasuryID, memberID string) (*Signer, error) {
	key, err := orm.CompositeKey(treasuryID, memberID)
	if err != nil {
		return nil, err
	}
	var s Signer
	if err := r.bucket.One(r.db, key, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all signers of given treasury ordered by member id.
func (r *Registry) List(treasuryID string) ([]*Signer, error) {
	prefix, err := orm.ChildPrefix(treasuryID)
	if err != nil {
		return nil, err
	}
	it, err := r.bucket.Scan(r.db, prefix, false)
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var res []*Signer
	for {
		var s Signer
		switch _, err := it.LoadNext(&s); {
		case err == nil:
			res = append(res, &s)
		case errors.ErrIteratorDone.Is(err):
			return res, nil
		default:
			return nil, err
		}
	}
}

// Upsert records that given member proved control of given key. A new
// signer starts at version 1, every re-verification bumps the version.
func (r *Registry) Upsert(treasuryID, memberID, publicKey string) (*Signer, error) {
	if err := ledger.ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	key, err := orm.CompositeKey(treasuryID, memberID)
	if err != nil {
		return nil, err
	}
	now := torasuri.AsUnixTime(r.clock.Now())

	r.mu.Lock()
	defer r.mu.Unlock()

	var s Signer
	switch err := r.bucket.One(r.db, key, &s); {
	case errors.ErrNotFound.Is(err):
		s = Signer{
			TreasuryID: treasuryID,
			MemberID:   memberID,
			PublicKey:  publicKey,
			VerifiedAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := r.bucket.Create(r.db, key, &s); err != nil {
			return nil, errors.Wrap(err, "create signer")
		}
		r.logger.Info("signer added", "treasury", treasuryID, "member", memberID, "pk", ledger.Short(publicKey))
		return &s, nil
	case err != nil:
		return nil, err
	}

	s.PublicKey = publicKey
	s.VerifiedAt = now
	s.UpdatedAt = now
	if err := r.bucket.Update(r.db, key, &s); err != nil {
		return nil, errors.Wrap(err, "update signer")
	}
	r.logger.Info("signer re-verified", "treasury", treasuryID, "member", memberID, "pk", ledger.Short(publicKey), "version", s.Version)
	return &s, nil
}

// Remove deletes the signer of given member. It returns ErrNotFound if there
// is no such signer.
func (r *Registry) Remove(treasuryID, memberID string) error {
	key, err := orm.CompositeKey(treasuryID, memberID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.bucket.Delete(r.db, key); err != nil {
		return err
	}
	r.logger.Info("signer removed", "treasury", treasuryID, "member", memberID)
	return nil
}
