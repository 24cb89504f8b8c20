package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iov-one/torasuri/errors"
	"github.com/stellar/go/clients/horizon"
)

// Horizon endpoints of the public networks.
const (
	PublicHorizonURL  = "https://horizon.stellar.org"
	TestNetHorizonURL = "https://horizon-testnet.stellar.org"
)

// DefaultTimeout bounds every call to the network.
const DefaultTimeout = 20 * time.Second

// Submitter is the part of the network the treasury talks to.
type Submitter interface {
	// Sequence returns the current sequence number of given account.
	Sequence(ctx context.Context, account string) (int64, error)

	// Submit sends a signed envelope to the network and returns the
	// transaction hash once it was applied.
	Submit(ctx context.Context, env *Envelope) (string, error)
}

// SubmitError carries the result codes of a rejected transaction.
type SubmitError struct {
	TransactionCode string
	OperationCodes  []string
	Detail          string
}

func (e *SubmitError) Error() string {
	return e.Reason()
}

// Cause returns ErrRejected so that the kind of a submit error can be
// checked with ErrRejected.Is.
func (e *SubmitError) Cause() error {
	return ErrRejected
}

// Reason returns a human readable description of the rejection.
func (e *SubmitError) Reason() string {
	switch {
	case e.TransactionCode != "" && len(e.OperationCodes) != 0:
		return fmt.Sprintf("%s (%s)", e.TransactionCode, strings.Join(e.OperationCodes, ", "))
	case e.TransactionCode != "":
		return e.TransactionCode
	case e.Detail != "":
		return e.Detail
	default:
		return "transaction rejected"
	}
}

// Reason extracts the most specific human readable failure description from
// given error. Result codes of a rejected transaction are preferred over the
// error message.
func Reason(err error) string {
	type causer interface {
		Cause() error
	}
	for e := err; e != nil; {
		if s, ok := e.(*SubmitError); ok {
			return s.Reason()
		}
		c, ok := e.(causer)
		if !ok {
			break
		}
		e = c.Cause()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Horizon is a Submitter backed by a Horizon server.
type Horizon struct {
	client  *horizon.Client
	timeout time.Duration
}

var _ Submitter = (*Horizon)(nil)

// NewHorizon returns a client of the Horizon server at given URL. Each call
// is bounded by timeout.
func NewHorizon(url string, timeout time.Duration) *Horizon {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Horizon{
		client: &horizon.Client{
			URL:  strings.TrimRight(url, "/"),
			HTTP: &http.Client{Timeout: timeout},
		},
		timeout: timeout,
	}
}

// HorizonURL returns the default Horizon endpoint of given network.
func HorizonURL(n Network) string {
	if n == PublicNet {
		return PublicHorizonURL
	}
	return TestNetHorizonURL
}

// Sequence implements Submitter.
func (h *Horizon) Sequence(ctx context.Context, account string) (int64, error) {
	var seq string
	err := h.call(ctx, func() error {
		acc, err := h.client.LoadAccount(account)
		if err != nil {
			return err
		}
		seq = acc.Sequence
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "load account %s", Short(account))
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrNetwork, "invalid sequence %q", seq)
	}
	return n, nil
}

// Submit implements Submitter.
func (h *Horizon) Submit(ctx context.Context, env *Envelope) (string, error) {
	var hash string
	err := h.call(ctx, func() error {
		res, err := h.client.SubmitTransaction(env.Raw())
		if err != nil {
			return rejection(err)
		}
		hash = res.Hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// call runs fn in its own goroutine because the Horizon client does not
// accept a context. The result of a call that outlives the deadline is
// discarded.
func (h *Horizon) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Wrapf(errors.ErrPanic, "%v", r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		if err == nil || ErrRejected.Is(err) {
			return err
		}
		return errors.Wrap(errors.ErrNetwork, err.Error())
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, ctx.Err().Error())
	}
}

func rejection(err error) error {
	herr, ok := err.(*horizon.Error)
	if !ok {
		return err
	}
	serr := &SubmitError{Detail: herr.Problem.Title}
	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		serr.TransactionCode = codes.TransactionCode
		serr.OperationCodes = codes.OperationCodes
	}
	return serr
}
