package torasuritest

import (
	"context"
	"sync"

	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
)

// Submitter is an in memory ledger.Submitter. It records every submitted
// envelope and answers with a configured result.
type Submitter struct {
	mu        sync.Mutex
	sequences map[string]int64
	submitted []*ledger.Envelope

	// Err is returned by Submit when set.
	Err error
	// SequenceErr is returned by Sequence when set.
	SequenceErr error
	// Block makes Submit wait for the context to finish.
	Block bool
}

var _ ledger.Submitter = (*Submitter)(nil)

// NewSubmitter returns a submitter that knows no accounts yet.
func NewSubmitter() *Submitter {
	return &Submitter{sequences: make(map[string]int64)}
}

// SetSequence sets the current sequence number of an account.
func (s *Submitter) SetSequence(account string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[account] = seq
}

// Sequence implements ledger.Submitter.
func (s *Submitter) Sequence(ctx context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SequenceErr != nil {
		return 0, s.SequenceErr
	}
	seq, ok := s.sequences[account]
	if !ok {
		return 0, errors.Wrapf(errors.ErrNotFound, "account %s", ledger.Short(account))
	}
	return seq, nil
}

// Submit implements ledger.Submitter.
func (s *Submitter) Submit(ctx context.Context, env *ledger.Envelope) (string, error) {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", errors.Wrap(errors.ErrTimeout, ctx.Err().Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, env)
	if s.Err != nil {
		return "", s.Err
	}
	return env.HashHex(), nil
}

// Submitted returns all envelopes passed to Submit.
func (s *Submitter) Submitted() []*ledger.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ledger.Envelope(nil), s.submitted...)
}
