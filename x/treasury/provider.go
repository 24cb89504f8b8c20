package treasury

import (
	"time"

	"github.com/iov-one/torasuri"
)

// Provider gives access to the configurations kept in a database.
type Provider struct {
	db     torasuri.KVStore
	bucket Bucket
}

// NewProvider returns a provider reading and writing given database.
func NewProvider(db torasuri.KVStore) *Provider {
	return &Provider{db: db, bucket: NewBucket()}
}

// Get returns the configuration of given treasury or ErrNotFound.
func (p *Provider) Get(treasuryID string) (*Config, error) {
	return p.bucket.Get(p.db, treasuryID)
}

// Setup creates a treasury. See Bucket.Setup.
func (p *Provider) Setup(req SetupRequest, now time.Time) (*Config, error) {
	return p.bucket.Setup(p.db, req, now)
}

// List returns all configured treasuries.
func (p *Provider) List() ([]*Config, error) {
	return p.bucket.List(p.db)
}
