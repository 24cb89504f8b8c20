package challenge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/x/signers"
	"github.com/stellar/go/keypair"
	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/time/rate"
)

// DefaultTTL is the lifetime of an issued challenge.
const DefaultTTL = 5 * time.Minute

// Config configures a Service.
type Config struct {
	Network ledger.Network
	// ServerKey signs every issued challenge. It must not be a treasury
	// key.
	ServerKey *keypair.Full
	TTL       time.Duration
	// Rate limits how many challenges a single member can request per
	// second. Zero disables the limit.
	Rate  rate.Limit
	Burst int
}

// Service issues and verifies challenges.
type Service struct {
	network ledger.Network
	server  *keypair.Full
	ttl     time.Duration
	store   Store
	clock   torasuri.Clock
	logger  log.Logger

	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService returns a service that keeps challenges in given store.
func NewService(conf Config, store Store, clock torasuri.Clock, logger log.Logger) (*Service, error) {
	if conf.ServerKey == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "server key")
	}
	if conf.Network.Passphrase == "" {
		return nil, errors.Wrap(errors.ErrEmpty, "network passphrase")
	}
	if conf.TTL <= 0 {
		conf.TTL = DefaultTTL
	}
	if conf.Burst <= 0 {
		conf.Burst = 1
	}
	if clock == nil {
		clock = torasuri.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		network:  conf.Network,
		server:   conf.ServerKey,
		ttl:      conf.TTL,
		store:    store,
		clock:    clock,
		logger:   logger.With("module", "challenge"),
		rate:     conf.Rate,
		burst:    conf.Burst,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// ServerAddress returns the public key challenges are signed with.
func (s *Service) ServerAddress() string {
	return s.server.Address()
}

// Issue creates a challenge binding given key to given member within
// domain. The returned challenge carries the envelope the member has to
// counter-sign.
func (s *Service) Issue(ctx context.Context, publicKey, memberID, domain string) (*Challenge, error) {
	if err := ledger.ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	if err := validateName(memberID, "member id"); err != nil {
		return nil, err
	}
	if err := validateName(domain, "domain"); err != nil {
		return nil, err
	}
	if !s.allow(memberID) {
		return nil, errors.Wrapf(ErrRateLimited, "member %s", memberID)
	}

	now := s.clock.Now()
	expires := now.Add(s.ttl)
	env, err := s.network.BuildChallenge(ledger.Challenge{
		Server:    s.server,
		Account:   publicKey,
		DataName:  DataName(domain, memberID),
		DataValue: []byte(publicKey),
		MinTime:   now,
		MaxTime:   expires,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build challenge")
	}

	c := &Challenge{
		Hash:      env.HashHex(),
		Envelope:  env.Raw(),
		PublicKey: publicKey,
		MemberID:  memberID,
		Domain:    domain,
		CreatedAt: torasuri.AsUnixTime(now),
		ExpiresAt: torasuri.AsUnixTime(expires),
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, errors.Wrap(err, "store challenge")
	}
	s.logger.Info("challenge created", "hash", c.Hash[:10], "pk", ledger.Short(publicKey), "member", memberID)
	return c, nil
}

// Verify checks a counter-signed challenge and consumes it. Any error leaves
// the challenge in place, except for ErrChallengeExpired which removes it.
func (s *Service) Verify(ctx context.Context, signedEnvelope, publicKey, memberID, domain string) error {
	env, err := s.network.Parse(signedEnvelope)
	if err != nil {
		return errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	hash := env.HashHex()

	c, err := s.store.Get(ctx, hash)
	switch {
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(ErrNoSuchChallenge, "hash %s", hash[:10])
	case err != nil:
		return errors.Wrap(err, "load challenge")
	}

	if c.Expired(torasuri.AsUnixTime(s.clock.Now())) {
		if err := s.store.Delete(ctx, hash); err != nil && !errors.ErrNotFound.Is(err) {
			s.logger.Error("cannot delete expired challenge", "hash", hash[:10], "err", err)
		}
		return errors.Wrapf(ErrChallengeExpired, "expired at %s", c.ExpiresAt)
	}
	if c.PublicKey != publicKey || c.MemberID != memberID {
		return errors.Wrap(ErrIdentityMismatch, "challenge was issued for another member or key")
	}

	entry, ok := env.DataEntry()
	if !ok {
		return errors.Wrap(ErrMalformedOperation, "expected a single manage data operation")
	}
	if !strings.HasPrefix(entry.Name, domain+"|") {
		return errors.Wrapf(ErrDomainMismatch, "operation %q", entry.Name)
	}
	if entry.Name != DataName(domain, memberID) || string(entry.Value) != publicKey || entry.Source != publicKey {
		return errors.Wrap(ErrMalformedOperation, "operation does not bind the claimed key")
	}

	if !env.VerifiedBy(s.server.Address()) {
		return errors.Wrap(ErrMissingServerSignature, "server")
	}
	if !env.VerifiedBy(publicKey) {
		return errors.Wrapf(ErrMissingUserSignature, "key %s", ledger.Short(publicKey))
	}

	// Deleting is the commit point. Of two concurrent verifications of
	// the same envelope only one can delete the record.
	switch err := s.store.Delete(ctx, hash); {
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(ErrNoSuchChallenge, "hash %s", hash[:10])
	case err != nil:
		return errors.Wrap(err, "consume challenge")
	}
	s.logger.Info("challenge verified", "hash", hash[:10], "pk", ledger.Short(publicKey), "member", memberID)
	return nil
}

// Registry is the part of the signer registry that Enroll writes to.
type Registry interface {
	Upsert(treasuryID, memberID, publicKey string) (*signers.Signer, error)
}

// Enroll verifies a counter-signed challenge and on success records the
// member as a signer of given treasury.
func (s *Service) Enroll(ctx context.Context, reg Registry, treasuryID, signedEnvelope, publicKey, memberID, domain string) (*signers.Signer, error) {
	if err := s.Verify(ctx, signedEnvelope, publicKey, memberID, domain); err != nil {
		return nil, err
	}
	signer, err := reg.Upsert(treasuryID, memberID, publicKey)
	if err != nil {
		return nil, errors.Wrap(err, "register signer")
	}
	return signer, nil
}

func (s *Service) allow(memberID string) bool {
	if s.rate == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[memberID]
	if !ok {
		l = rate.NewLimiter(s.rate, s.burst)
		s.limiters[memberID] = l
	}
	return l.AllowN(s.clock.Now(), 1)
}
