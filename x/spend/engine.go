package spend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/orm"
	"github.com/iov-one/torasuri/x/signers"
	"github.com/iov-one/torasuri/x/treasury"
	"github.com/tendermint/tendermint/libs/log"
)

const (
	// DefaultExpiry is the validity window of a new spend.
	DefaultExpiry = 15 * time.Minute

	// DefaultPageSize is the history length returned when no limit is
	// given.
	DefaultPageSize = 10

	// DefaultSubmitTimeout bounds every call to the network.
	DefaultSubmitTimeout = 30 * time.Second

	maxTitleLength       = 80
	maxDescriptionLength = 500
)

// Treasuries provides treasury configurations.
type Treasuries interface {
	Get(treasuryID string) (*treasury.Config, error)
}

// Signers provides verified signers.
type Signers interface {
	Get(treasuryID, memberID string) (*signers.Signer, error)
}

// Config configures an Engine.
type Config struct {
	Network       ledger.Network
	Expiry        time.Duration
	PageSize      int
	SubmitTimeout time.Duration
}

// Engine drives spends through their lifecycle. Every mutation of a spend
// happens under the lock of that spend and is persisted with a version
// check, so concurrent approvals of the same spend are never lost.
type Engine struct {
	db         torasuri.KVStore
	bucket     orm.VersionedBucket
	open       orm.Bucket
	treasuries Treasuries
	signers    Signers
	submitter  ledger.Submitter
	clock      torasuri.Clock
	logger     log.Logger
	conf       Config
	locks      *lockTable

	cacheMu sync.RWMutex
	cache   map[string]*PendingSpend
}

// NewEngine returns an engine persisting spends to given database.
func NewEngine(
	conf Config,
	db torasuri.KVStore,
	treasuries Treasuries,
	registry Signers,
	submitter ledger.Submitter,
	clock torasuri.Clock,
	logger log.Logger,
) *Engine {
	if conf.Network.Passphrase == "" {
		conf.Network = ledger.TestNet
	}
	if conf.Expiry <= 0 {
		conf.Expiry = DefaultExpiry
	}
	if conf.PageSize <= 0 {
		conf.PageSize = DefaultPageSize
	}
	if conf.SubmitTimeout <= 0 {
		conf.SubmitTimeout = DefaultSubmitTimeout
	}
	if clock == nil {
		clock = torasuri.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{
		db:         db,
		bucket:     orm.NewVersionedBucket("spend"),
		open:       orm.NewBucket("spend_open"),
		treasuries: treasuries,
		signers:    registry,
		submitter:  submitter,
		clock:      clock,
		logger:     logger.With("module", "spend"),
		conf:       conf,
		locks:      newLockTable(),
		cache:      make(map[string]*PendingSpend),
	}
}

// CreateRequest describes a new spend.
type CreateRequest struct {
	TreasuryID  string
	ProposerID  string
	Destination string
	// Amount is a decimal amount of lumens, for example "12.5".
	Amount      string
	Memo        string
	Title       string
	Description string
	RecipientID string
}

// Create opens a new spend collecting signatures.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*PendingSpend, error) {
	cfg, err := e.treasuries.Get(req.TreasuryID)
	switch {
	case errors.ErrNotFound.Is(err):
		return nil, errors.Wrapf(ErrNoTreasury, "treasury %q", req.TreasuryID)
	case err != nil:
		return nil, errors.Wrap(err, "load treasury")
	}
	if req.Destination == cfg.PublicKey {
		return nil, errors.Wrap(ErrDestinationIsTreasury, "destination")
	}
	if err := e.authorized(cfg, req.ProposerID); err != nil {
		return nil, err
	}
	if err := ledger.ValidatePublicKey(req.Destination); err != nil {
		return nil, errors.Wrap(err, "destination")
	}
	stroops, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	cents := ledger.Cents(stroops)
	kind, required := Micro, uint32(1)
	if cents > cfg.MicroThresholdCents {
		kind, required = Major, cfg.Multisig.RequiredApprovals
	}

	keys, members, err := e.snapshot(cfg)
	if err != nil {
		return nil, err
	}
	if len(keys) < int(required) {
		return nil, errors.Wrapf(ErrInsufficientSigners, "%d verified of %d required", len(keys), required)
	}

	seq, err := e.sequence(ctx, cfg.PublicKey)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	expires := now.Add(e.conf.Expiry)
	memo := ledger.TruncateMemo(req.Memo)
	env, err := e.conf.Network.BuildPayment(ledger.Payment{
		Source:      cfg.PublicKey,
		Sequence:    seq,
		Destination: req.Destination,
		Amount:      stroops,
		Memo:        memo,
		MinTime:     now,
		MaxTime:     expires,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build payment")
	}

	p := &PendingSpend{
		TreasuryID:         req.TreasuryID,
		ProposerID:         req.ProposerID,
		Destination:        req.Destination,
		Memo:               memo,
		Amount:             stroops,
		AmountCents:        cents,
		Type:               kind,
		RequiredApprovals:  required,
		SignerPublicKeys:   keys,
		SignerMembers:      members,
		BaseEnvelope:       env.Raw(),
		AggregatedEnvelope: env.Raw(),
		Status:             StatusCollecting,
		Title:              truncate(req.Title, maxTitleLength),
		Description:        truncate(req.Description, maxDescriptionLength),
		RecipientID:        req.RecipientID,
		CreatedAt:          torasuri.AsUnixTime(now),
		ExpiresAt:          torasuri.AsUnixTime(expires),
	}
	if err := e.insert(p); err != nil {
		return nil, err
	}
	e.logger.Info("spend_created",
		"treasury", p.TreasuryID, "id", p.ID, "proposer", p.ProposerID,
		"amount", p.AmountString(), "type", string(p.Type))
	return p.Copy(), nil
}

// AddSignature accepts a signed copy of the spend envelope from given
// signer. The second value is false if the key approved the spend already,
// in which case nothing changes.
func (e *Engine) AddSignature(ctx context.Context, treasuryID, id, memberID, publicKey, signedEnvelope string) (*PendingSpend, bool, error) {
	key, err := spendKey(treasuryID, id)
	if err != nil {
		return nil, false, err
	}
	defer e.locks.lock(string(key))()

	p, err := e.collecting(key)
	if err != nil {
		return nil, false, err
	}
	if p.HasApproval(publicKey) {
		return p, false, nil
	}
	if err := e.eligible(p, memberID, publicKey); err != nil {
		return nil, false, err
	}

	signed, err := e.conf.Network.Parse(signedEnvelope)
	if err != nil {
		return nil, false, errors.Wrap(err, "signed envelope")
	}
	base, err := e.conf.Network.Parse(p.BaseEnvelope)
	if err != nil {
		return nil, false, errors.Wrap(err, "base envelope")
	}
	if !signed.SameContent(base) {
		return nil, false, errors.Wrap(ErrHashMismatch, "signed envelope differs from the proposed payment")
	}
	if !signed.VerifiedBy(publicKey) {
		return nil, false, errors.Wrapf(ErrMissingSignature, "key %s", ledger.Short(publicKey))
	}

	aggregated, err := e.conf.Network.Parse(p.AggregatedEnvelope)
	if err != nil {
		return nil, false, errors.Wrap(err, "aggregated envelope")
	}
	merged, err := aggregated.Merge(signed)
	if err != nil {
		return nil, false, err
	}

	p.AggregatedEnvelope = merged.Raw()
	p.Approvals = append(p.Approvals, Approval{MemberID: memberID, PublicKey: publicKey})
	if err := e.update(key, p); err != nil {
		return nil, false, err
	}
	e.logger.Info("spend_signature_added",
		"treasury", treasuryID, "id", id, "member", memberID,
		"approvals", len(p.Approvals), "required", p.RequiredApprovals)
	return p.Copy(), true, nil
}

// FinalizeSubmit submits a spend that reached its quorum. It does nothing
// for a spend that is not collecting. A rejected or timed out submission
// moves the spend to failed and is never retried.
func (e *Engine) FinalizeSubmit(ctx context.Context, treasuryID, id string) (*PendingSpend, error) {
	key, err := spendKey(treasuryID, id)
	if err != nil {
		return nil, err
	}
	defer e.locks.lock(string(key))()

	p, err := e.load(key)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return p, nil
	}
	if p.Expired(e.now()) {
		if err := e.expire(key, p); err != nil {
			return nil, err
		}
		return p.Copy(), nil
	}
	if !HasQuorum(p) {
		return nil, errors.Wrapf(ErrNoQuorum, "%d of %d approvals", len(p.Approvals), p.RequiredApprovals)
	}

	env, err := e.conf.Network.Parse(p.AggregatedEnvelope)
	if err == nil {
		var hash string
		hash, err = e.submit(ctx, env)
		if err == nil {
			p.Status = StatusSubmitted
			p.SubmissionHash = hash
		}
	}
	if err != nil {
		p.Status = StatusFailed
		p.Error = ledger.Reason(err)
	}
	if uerr := e.update(key, p); uerr != nil {
		e.logger.Error("cannot store submission result", "treasury", treasuryID, "id", id, "status", string(p.Status), "err", uerr)
		return nil, uerr
	}

	if p.Status == StatusSubmitted {
		e.logger.Info("spend_submitted", "treasury", treasuryID, "id", id, "hash", p.SubmissionHash)
	} else {
		e.logger.Error("spend_submit_failed", "treasury", treasuryID, "id", id, "err", p.Error)
	}
	return p.Copy(), nil
}

// Cancel withdraws a collecting spend. Only the proposer and the treasury
// admin can cancel. Cancelling a terminal spend does nothing.
func (e *Engine) Cancel(ctx context.Context, treasuryID, id, byID string) (*PendingSpend, error) {
	key, err := spendKey(treasuryID, id)
	if err != nil {
		return nil, err
	}
	defer e.locks.lock(string(key))()

	p, err := e.load(key)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return p, nil
	}
	if byID != p.ProposerID {
		cfg, err := e.treasuries.Get(treasuryID)
		if err != nil && !errors.ErrNotFound.Is(err) {
			return nil, errors.Wrap(err, "load treasury")
		}
		if cfg == nil || cfg.AdminID != byID {
			return nil, errors.Wrapf(ErrNotProposer, "member %s", byID)
		}
	}

	p.Status = StatusCancelled
	if err := e.update(key, p); err != nil {
		return nil, err
	}
	e.logger.Info("spend_cancelled", "treasury", treasuryID, "id", id, "by", byID)
	return p.Copy(), nil
}

// Get returns a single spend.
func (e *Engine) Get(ctx context.Context, treasuryID, id string) (*PendingSpend, error) {
	key, err := spendKey(treasuryID, id)
	if err != nil {
		return nil, err
	}
	return e.load(key)
}

// ListPending returns the collecting spends of a treasury, newest first.
func (e *Engine) ListPending(ctx context.Context, treasuryID string) ([]*PendingSpend, error) {
	return e.list(treasuryID, func(p *PendingSpend) bool {
		return p.Status == StatusCollecting
	}, 0)
}

// ListHistory returns up to limit terminal spends of a treasury, newest
// first. A non positive limit selects the configured page size.
func (e *Engine) ListHistory(ctx context.Context, treasuryID string, limit int) ([]*PendingSpend, error) {
	if limit <= 0 {
		limit = e.conf.PageSize
	}
	return e.list(treasuryID, func(p *PendingSpend) bool {
		return p.Status.Terminal()
	}, limit)
}

func (e *Engine) list(treasuryID string, match func(*PendingSpend) bool, limit int) ([]*PendingSpend, error) {
	prefix, err := orm.ChildPrefix(treasuryID)
	if err != nil {
		return nil, err
	}
	it, err := e.bucket.Scan(e.db, prefix, false)
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var res []*PendingSpend
	for {
		var p PendingSpend
		_, err := it.LoadNext(&p)
		if errors.ErrIteratorDone.Is(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		if match(&p) {
			res = append(res, &p)
		}
	}
	sortNewestFirst(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func sortNewestFirst(spends []*PendingSpend) {
	sort.SliceStable(spends, func(i, j int) bool {
		if spends[i].CreatedAt != spends[j].CreatedAt {
			return spends[i].CreatedAt > spends[j].CreatedAt
		}
		return spends[i].ID > spends[j].ID
	})
}

// authorized returns ErrNotAuthorized unless given member is the admin or a
// verified signer of the treasury.
func (e *Engine) authorized(cfg *treasury.Config, memberID string) error {
	if memberID == "" {
		return errors.Wrap(ErrNotAuthorized, "anonymous")
	}
	if memberID == cfg.AdminID {
		return nil
	}
	switch _, err := e.signers.Get(cfg.TreasuryID, memberID); {
	case err == nil:
		return nil
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(ErrNotAuthorized, "member %s", memberID)
	default:
		return errors.Wrap(err, "load signer")
	}
}

// snapshot returns the verified keys of the admin and additional signers,
// together with the member each key was verified for.
func (e *Engine) snapshot(cfg *treasury.Config) ([]string, []Approval, error) {
	var (
		keys    []string
		members []Approval
	)
	seen := make(map[string]struct{})
	for _, id := range cfg.SignerIDs() {
		s, err := e.signers.Get(cfg.TreasuryID, id)
		switch {
		case errors.ErrNotFound.Is(err):
			continue
		case err != nil:
			return nil, nil, errors.Wrap(err, "load signer")
		}
		members = append(members, Approval{MemberID: id, PublicKey: s.PublicKey})
		if _, ok := seen[s.PublicKey]; ok {
			continue
		}
		seen[s.PublicKey] = struct{}{}
		keys = append(keys, s.PublicKey)
	}
	return keys, members, nil
}

// eligible checks that the key is in the snapshot and that the member is
// still a verified signer who owns the key, either now or at creation. A
// member that re-verified with a new key keeps approving with the key of
// the snapshot.
func (e *Engine) eligible(p *PendingSpend, memberID, publicKey string) error {
	if !p.Eligible(publicKey) {
		return errors.Wrapf(ErrNotSigner, "key %s is not eligible", ledger.Short(publicKey))
	}
	s, err := e.signers.Get(p.TreasuryID, memberID)
	switch {
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(ErrNotSigner, "member %s", memberID)
	case err != nil:
		return errors.Wrap(err, "load signer")
	}
	if s.PublicKey != publicKey && !p.VerifiedAtCreation(memberID, publicKey) {
		return errors.Wrapf(ErrNotSigner, "key %s does not belong to member %s", ledger.Short(publicKey), memberID)
	}
	return nil
}

func (e *Engine) sequence(ctx context.Context, account string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.conf.SubmitTimeout)
	defer cancel()
	seq, err := e.submitter.Sequence(ctx, account)
	if err != nil {
		return 0, errors.Wrap(err, "load treasury account")
	}
	return seq, nil
}

func (e *Engine) submit(ctx context.Context, env *ledger.Envelope) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.conf.SubmitTimeout)
	defer cancel()
	return e.submitter.Submit(ctx, env)
}

// collecting loads a spend that must still accept changes. A spend whose
// window passed is moved to expired.
func (e *Engine) collecting(key []byte) (*PendingSpend, error) {
	p, err := e.load(key)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, errors.Wrapf(ErrNotCollecting, "spend is %s", p.Status)
	}
	if p.Expired(e.now()) {
		if err := e.expire(key, p); err != nil {
			return nil, err
		}
		return nil, errors.Wrap(ErrNotCollecting, "spend expired")
	}
	return p, nil
}

func (e *Engine) expire(key []byte, p *PendingSpend) error {
	p.Status = StatusExpired
	if err := e.update(key, p); err != nil {
		return err
	}
	e.logger.Info("spend_expired", "treasury", p.TreasuryID, "id", p.ID)
	return nil
}

// load returns a private copy of the spend. The cache is consulted first.
func (e *Engine) load(key []byte) (*PendingSpend, error) {
	e.cacheMu.RLock()
	cached, ok := e.cache[string(key)]
	e.cacheMu.RUnlock()
	if ok {
		return cached.Copy(), nil
	}

	var p PendingSpend
	switch err := e.bucket.One(e.db, key, &p); {
	case errors.ErrNotFound.Is(err):
		return nil, errors.Wrap(ErrSpendNotFound, "no such spend")
	case err != nil:
		return nil, err
	}
	e.remember(key, &p)
	return p.Copy(), nil
}

func (e *Engine) insert(p *PendingSpend) error {
	for attempt := 0; ; attempt++ {
		id, err := newID()
		if err != nil {
			return err
		}
		p.ID = id
		key, err := spendKey(p.TreasuryID, p.ID)
		if err != nil {
			return err
		}
		unlock := e.locks.lock(string(key))
		err = e.create(key, p)
		unlock()
		if errors.ErrDuplicate.Is(err) && attempt < 3 {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "store spend")
		}
		e.remember(key, p)
		return nil
	}
}

// create writes a new spend together with its collecting index entry.
func (e *Engine) create(key []byte, p *PendingSpend) error {
	batch := e.db.NewBatch()
	if err := e.bucket.CreateIn(e.db, batch, key, p); err != nil {
		return err
	}
	if err := e.open.Put(batch, key, &openEntry{ExpiresAt: p.ExpiresAt}); err != nil {
		return err
	}
	return batch.Write()
}

// update persists given spend with a version check. On conflict the cached
// copy is dropped, so the next read loads the winner from the store.
func (e *Engine) update(key []byte, p *PendingSpend) error {
	if err := e.write(key, p); err != nil {
		e.forget(key)
		return errors.Wrap(err, "store spend")
	}
	e.remember(key, p)
	return nil
}

// write stores a spend. A spend leaving collecting is dropped from the
// collecting index in the same batch.
func (e *Engine) write(key []byte, p *PendingSpend) error {
	if !p.Status.Terminal() {
		return e.bucket.Update(e.db, key, p)
	}
	batch := e.db.NewBatch()
	if err := e.bucket.UpdateIn(e.db, batch, key, p); err != nil {
		return err
	}
	if err := batch.Delete(e.open.DBKey(key)); err != nil {
		return err
	}
	return batch.Write()
}

// remember caches a copy of given spend. Only collecting spends are kept,
// terminal ones are read from the store.
func (e *Engine) remember(key []byte, p *PendingSpend) {
	e.cacheMu.Lock()
	if p.Status.Terminal() {
		delete(e.cache, string(key))
	} else {
		e.cache[string(key)] = p.Copy()
	}
	e.cacheMu.Unlock()
}

func (e *Engine) forget(key []byte) {
	e.cacheMu.Lock()
	delete(e.cache, string(key))
	e.cacheMu.Unlock()
}

func (e *Engine) now() torasuri.UnixTime {
	return torasuri.AsUnixTime(e.clock.Now())
}

func spendKey(treasuryID, id string) ([]byte, error) {
	return orm.CompositeKey(treasuryID, id)
}

// newID returns 10 random hex characters.
func newID() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(errors.ErrHuman, "no randomness")
	}
	return hex.EncodeToString(b), nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
