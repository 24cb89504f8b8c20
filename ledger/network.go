package ledger

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iov-one/torasuri/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

const (
	// BaseFee is the fee in stroops paid for every operation.
	BaseFee = 100

	// MaxMemoLength is the length limit of a text memo in bytes.
	MaxMemoLength = 28

	// maxDataLength is the length limit of a data entry name and value.
	maxDataLength = 64
)

// Network identifies a Stellar network by its passphrase. The passphrase is
// part of every transaction hash.
type Network struct {
	Passphrase string
}

var (
	// TestNet is the public Stellar test network.
	TestNet = Network{Passphrase: network.TestNetworkPassphrase}

	// PublicNet is the Stellar main network.
	PublicNet = Network{Passphrase: network.PublicNetworkPassphrase}
)

// NetworkByName returns the network for "PUBLIC" or "TESTNET".
func NetworkByName(name string) (Network, error) {
	switch strings.ToUpper(name) {
	case "PUBLIC":
		return PublicNet, nil
	case "TESTNET", "":
		return TestNet, nil
	default:
		return Network{}, errors.Wrapf(errors.ErrInput, "unknown network %q", name)
	}
}

// Parse decodes a base64 serialized transaction envelope.
func (n Network) Parse(raw string) (*Envelope, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(strings.TrimSpace(raw), &env); err != nil {
		return nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}
	return newEnvelope(n, env)
}

// Payment describes a single native asset payment from Source.
type Payment struct {
	Source string
	// Sequence is the current sequence number of the source account. The
	// transaction uses the next one.
	Sequence    int64
	Destination string
	// Amount in stroops.
	Amount  int64
	Memo    string
	MinTime time.Time
	MaxTime time.Time
}

// BuildPayment returns the unsigned envelope of given payment.
func (n Network) BuildPayment(p Payment) (*Envelope, error) {
	if err := ValidatePublicKey(p.Source); err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if err := ValidatePublicKey(p.Destination); err != nil {
		return nil, errors.Wrap(err, "destination")
	}
	if p.Amount <= 0 {
		return nil, errors.Wrap(ErrInvalidAmount, "must be positive")
	}
	if !p.MaxTime.After(p.MinTime) {
		return nil, errors.Wrap(errors.ErrInput, "empty validity window")
	}

	var dest xdr.AccountId
	if err := dest.SetAddress(p.Destination); err != nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	native, err := xdr.NewAsset(xdr.AssetTypeAssetTypeNative, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}
	body, err := xdr.NewOperationBody(xdr.OperationTypePayment, xdr.PaymentOp{
		Destination: dest,
		Asset:       native,
		Amount:      xdr.Int64(p.Amount),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}

	memo, err := textMemo(TruncateMemo(p.Memo))
	if err != nil {
		return nil, err
	}
	tx, err := transaction(p.Source, p.Sequence+1, p.MinTime, p.MaxTime, memo, xdr.Operation{Body: body})
	if err != nil {
		return nil, err
	}
	return newEnvelope(n, xdr.TransactionEnvelope{Tx: tx})
}

// Challenge describes a proof of control transaction. It is sourced at the
// server account with sequence number zero so it can never be applied to the
// ledger.
type Challenge struct {
	Server *keypair.Full
	// Account is the address whose control is being proven. It is the
	// source of the data operation.
	Account   string
	DataName  string
	DataValue []byte
	MinTime   time.Time
	MaxTime   time.Time
}

// BuildChallenge returns the challenge envelope signed by the server key.
func (n Network) BuildChallenge(c Challenge) (*Envelope, error) {
	if c.Server == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "server key")
	}
	if err := ValidatePublicKey(c.Account); err != nil {
		return nil, err
	}
	if c.DataName == "" || len(c.DataName) > maxDataLength {
		return nil, errors.Wrapf(errors.ErrInput, "data name must be 1 to %d bytes", maxDataLength)
	}
	if len(c.DataValue) > maxDataLength {
		return nil, errors.Wrapf(errors.ErrInput, "data value must be at most %d bytes", maxDataLength)
	}

	value := xdr.DataValue(c.DataValue)
	body, err := xdr.NewOperationBody(xdr.OperationTypeManageData, xdr.ManageDataOp{
		DataName:  xdr.String64(c.DataName),
		DataValue: &value,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}
	var opSource xdr.AccountId
	if err := opSource.SetAddress(c.Account); err != nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}

	memo, err := textMemo("")
	if err != nil {
		return nil, err
	}
	tx, err := transaction(c.Server.Address(), 0, c.MinTime, c.MaxTime, memo, xdr.Operation{
		SourceAccount: &opSource,
		Body:          body,
	})
	if err != nil {
		return nil, err
	}
	env, err := newEnvelope(n, xdr.TransactionEnvelope{Tx: tx})
	if err != nil {
		return nil, err
	}
	return env.Sign(c.Server)
}

func transaction(source string, seq int64, min, max time.Time, memo xdr.Memo, ops ...xdr.Operation) (xdr.Transaction, error) {
	var src xdr.AccountId
	if err := src.SetAddress(source); err != nil {
		return xdr.Transaction{}, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	return xdr.Transaction{
		SourceAccount: src,
		Fee:           xdr.Uint32(BaseFee * len(ops)),
		SeqNum:        xdr.SequenceNumber(seq),
		TimeBounds: &xdr.TimeBounds{
			MinTime: xdr.Uint64(min.Unix()),
			MaxTime: xdr.Uint64(max.Unix()),
		},
		Memo:       memo,
		Operations: ops,
	}, nil
}

func textMemo(text string) (xdr.Memo, error) {
	if text == "" {
		m, err := xdr.NewMemo(xdr.MemoTypeMemoNone, nil)
		return m, errors.Wrap(err, "memo")
	}
	m, err := xdr.NewMemo(xdr.MemoTypeMemoText, text)
	return m, errors.Wrap(err, "memo")
}

// TruncateMemo cuts given text to the text memo limit without splitting a
// UTF-8 sequence.
func TruncateMemo(text string) string {
	if len(text) <= MaxMemoLength {
		return text
	}
	cut := MaxMemoLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
