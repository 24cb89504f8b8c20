package ledger

import (
	"bytes"
	"encoding/hex"

	"github.com/iov-one/torasuri/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// Envelope is a parsed, possibly signed, transaction envelope together with
// its canonical content hash. The hash covers the transaction and the network
// passphrase but not the signatures.
type Envelope struct {
	network Network
	env     xdr.TransactionEnvelope
	hash    [32]byte
	raw     string
}

// Signature is a single decorated signature of an envelope.
type Signature struct {
	// Hint is the last four bytes of the signing public key.
	Hint  [4]byte
	Bytes []byte
}

func newEnvelope(n Network, env xdr.TransactionEnvelope) (*Envelope, error) {
	hash, err := network.HashTransaction(&env.Tx, n.Passphrase)
	if err != nil {
		return nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}
	raw, err := xdr.MarshalBase64(env)
	if err != nil {
		return nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}
	return &Envelope{network: n, env: env, hash: hash, raw: raw}, nil
}

// Raw returns the base64 serialized form.
func (e *Envelope) Raw() string {
	return e.raw
}

// Hash returns the canonical content hash.
func (e *Envelope) Hash() [32]byte {
	return e.hash
}

// HashHex returns the canonical content hash as a lowercase hex string.
func (e *Envelope) HashHex() string {
	return hex.EncodeToString(e.hash[:])
}

// SameContent returns true if both envelopes describe the same transaction.
func (e *Envelope) SameContent(other *Envelope) bool {
	return other != nil && e.hash == other.hash
}

// Source returns the transaction source account address.
func (e *Envelope) Source() string {
	return e.env.Tx.SourceAccount.Address()
}

// Signatures returns a copy of the signature list.
func (e *Envelope) Signatures() []Signature {
	sigs := make([]Signature, 0, len(e.env.Signatures))
	for _, s := range e.env.Signatures {
		sig := Signature{Hint: [4]byte(s.Hint)}
		sig.Bytes = append([]byte(nil), s.Signature...)
		sigs = append(sigs, sig)
	}
	return sigs
}

// Sign returns a copy of this envelope with a signature of given key
// appended.
func (e *Envelope) Sign(kp *keypair.Full) (*Envelope, error) {
	sig, err := kp.SignDecorated(e.hash[:])
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, err.Error())
	}
	return e.withSignatures(append(e.copySignatures(), sig))
}

// Merge returns a copy of this envelope extended with every signature of
// other whose hint is not present yet. Both envelopes must share the content
// hash, otherwise ErrHashMismatch is returned.
func (e *Envelope) Merge(other *Envelope) (*Envelope, error) {
	if !e.SameContent(other) {
		return nil, errors.Wrap(ErrHashMismatch, "cannot merge signatures")
	}
	sigs := e.copySignatures()
	for _, s := range other.env.Signatures {
		if !hasHint(sigs, s.Hint) {
			sigs = append(sigs, s)
		}
	}
	return e.withSignatures(sigs)
}

// VerifiedBy returns true if at least one signature verifies against given
// public key over the content hash.
func (e *Envelope) VerifiedBy(publicKey string) bool {
	kp, err := keypair.Parse(publicKey)
	if err != nil {
		return false
	}
	for _, s := range e.env.Signatures {
		if kp.Verify(e.hash[:], s.Signature) == nil {
			return true
		}
	}
	return false
}

// DataEntry is the content of a manage data operation.
type DataEntry struct {
	Name  string
	Value []byte
	// Source is the operation source account or an empty string when the
	// operation inherits the transaction source.
	Source string
}

// DataEntry returns the data entry of a transaction that consists of exactly
// one manage data operation. The second value is false for any other shape.
func (e *Envelope) DataEntry() (DataEntry, bool) {
	if len(e.env.Tx.Operations) != 1 {
		return DataEntry{}, false
	}
	op := e.env.Tx.Operations[0]
	data, ok := op.Body.GetManageDataOp()
	if !ok {
		return DataEntry{}, false
	}
	entry := DataEntry{Name: string(data.DataName)}
	if data.DataValue != nil {
		entry.Value = append([]byte(nil), (*data.DataValue)...)
	}
	if op.SourceAccount != nil {
		entry.Source = op.SourceAccount.Address()
	}
	return entry, true
}

func (e *Envelope) copySignatures() []xdr.DecoratedSignature {
	return append([]xdr.DecoratedSignature(nil), e.env.Signatures...)
}

func (e *Envelope) withSignatures(sigs []xdr.DecoratedSignature) (*Envelope, error) {
	env := e.env
	env.Signatures = sigs
	raw, err := xdr.MarshalBase64(env)
	if err != nil {
		return nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}
	return &Envelope{network: e.network, env: env, hash: e.hash, raw: raw}, nil
}

func hasHint(sigs []xdr.DecoratedSignature, hint xdr.SignatureHint) bool {
	for _, s := range sigs {
		if bytes.Equal(s.Hint[:], hint[:]) {
			return true
		}
	}
	return false
}
