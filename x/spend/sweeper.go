package spend

import (
	"context"
	"sort"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/tendermint/tendermint/libs/common"
)

// Sweeper moves collecting spends whose window passed to expired. It is
// meant to be run by a cron.Runner.
type Sweeper struct {
	engine *Engine
}

var _ torasuri.Ticker = (*Sweeper)(nil)

// NewSweeper returns a sweeper of the spends managed by given engine.
func NewSweeper(e *Engine) *Sweeper {
	return &Sweeper{engine: e}
}

// Tick expires all overdue spends in a single batch write.
func (s *Sweeper) Tick(ctx context.Context) (*torasuri.TickResult, error) {
	e := s.engine
	now := e.now()

	candidates, err := s.overdue(now)
	if err != nil {
		return nil, err
	}
	res := &torasuri.TickResult{}
	if len(candidates) == 0 {
		return res, nil
	}

	// Lock in key order. Engine operations hold a single lock at a time,
	// so a fixed order is enough to never deadlock.
	sort.Strings(candidates)
	for _, key := range candidates {
		defer e.locks.lock(key)()
	}

	batch := e.db.NewBatch()
	var (
		expired []*PendingSpend
		keys    [][]byte
		stale   int
	)
	for _, k := range candidates {
		key := []byte(k)
		// Re-read under the lock, the spend may have changed since the
		// scan.
		var p PendingSpend
		switch err := e.bucket.One(e.db, key, &p); {
		case errors.ErrNotFound.Is(err):
			// Zero status, dropped below as stale.
		case err != nil:
			return nil, errors.Wrap(err, "load spend")
		}
		if p.Status != StatusCollecting {
			// Index entry left behind by an interrupted write.
			if err := batch.Delete(e.open.DBKey(key)); err != nil {
				return nil, errors.Wrap(err, "drop index entry")
			}
			stale++
			continue
		}
		if !p.Expired(now) {
			continue
		}
		p.Status = StatusExpired
		if err := e.bucket.UpdateIn(e.db, batch, key, &p); err != nil {
			return nil, errors.Wrap(err, "expire spend")
		}
		if err := batch.Delete(e.open.DBKey(key)); err != nil {
			return nil, errors.Wrap(err, "drop index entry")
		}
		expired = append(expired, &p)
		keys = append(keys, key)
	}
	if len(expired) == 0 && stale == 0 {
		return res, nil
	}
	if err := batch.Write(); err != nil {
		return nil, errors.Wrap(err, "write batch")
	}

	for i, p := range expired {
		e.remember(keys[i], p)
		e.logger.Info("spend_expired", "treasury", p.TreasuryID, "id", p.ID)
		res.Tags = append(res.Tags, common.KVPair{Key: []byte("spend_expired"), Value: []byte(p.ID)})
	}
	return res, nil
}

// overdue returns the keys of collecting spends past their window. Only the
// collecting index is scanned, terminal history is never read.
func (s *Sweeper) overdue(now torasuri.UnixTime) ([]string, error) {
	e := s.engine
	it, err := e.open.Scan(e.db, nil, false)
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var keys []string
	for {
		var o openEntry
		key, err := it.LoadNext(&o)
		if errors.ErrIteratorDone.Is(err) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		if now > o.ExpiresAt {
			keys = append(keys, string(key))
		}
	}
}
