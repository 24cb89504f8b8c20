package treasury

import (
	"sync"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/orm"
)

// Bucket stores treasury configurations keyed by treasury id.
type Bucket struct {
	orm.Bucket
	mu *sync.Mutex
}

// NewBucket returns a bucket for treasury configurations.
func NewBucket() Bucket {
	return Bucket{
		Bucket: orm.NewBucket("treasury"),
		mu:     &sync.Mutex{},
	}
}

// Create stores a new configuration. A treasury is set up once, so it fails
// with ErrDuplicate if a configuration for that treasury exists already.
func (b Bucket) Create(db torasuri.KVStore, c *Config) error {
	key := []byte(c.TreasuryID)
	if len(key) == 0 {
		return errors.Wrap(errors.ErrEmpty, "treasury id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch ok, err := b.Has(db, key); {
	case err != nil:
		return err
	case ok:
		return errors.Wrapf(errors.ErrDuplicate, "treasury %q is already set up", c.TreasuryID)
	}
	return b.Put(db, key, c)
}

// Get returns the configuration of given treasury or ErrNotFound.
func (b Bucket) Get(db torasuri.ReadOnlyKVStore, treasuryID string) (*Config, error) {
	var c Config
	if err := b.One(db, []byte(treasuryID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all configurations ordered by treasury id.
func (b Bucket) List(db torasuri.ReadOnlyKVStore) ([]*Config, error) {
	it, err := b.Scan(db, nil, false)
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var res []*Config
	for {
		var c Config
		switch _, err := it.LoadNext(&c); {
		case err == nil:
			res = append(res, &c)
		case errors.ErrIteratorDone.Is(err):
			return res, nil
		default:
			return nil, err
		}
	}
}

// SetupRequest carries the answers of the treasury setup.
type SetupRequest struct {
	TreasuryID          string
	PublicKey           string
	AdminID             string
	MicroThresholdCents int64
	AdditionalSignerIDs []string
	// RequiredApprovals of zero selects DefaultMultisig.
	RequiredApprovals uint32
	// ServerKey is the key challenges are signed with. The treasury key
	// must differ from it.
	ServerKey string
}

// Setup creates the configuration described by given request.
func (b Bucket) Setup(db torasuri.KVStore, req SetupRequest, now time.Time) (*Config, error) {
	if req.ServerKey != "" && req.PublicKey == req.ServerKey {
		return nil, errors.Wrap(errors.ErrInput, "treasury key is the challenge server key")
	}
	policy := DefaultMultisig(len(req.AdditionalSignerIDs))
	if req.RequiredApprovals != 0 {
		policy.RequiredApprovals = req.RequiredApprovals
	}
	c := &Config{
		TreasuryID:          req.TreasuryID,
		PublicKey:           req.PublicKey,
		AdminID:             req.AdminID,
		MicroThresholdCents: req.MicroThresholdCents,
		AdditionalSignerIDs: append([]string(nil), req.AdditionalSignerIDs...),
		Multisig:            policy,
		CreatedAt:           torasuri.AsUnixTime(now),
	}
	if err := b.Create(db, c); err != nil {
		return nil, err
	}
	return c, nil
}
