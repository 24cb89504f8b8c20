package ledger

import (
	"github.com/iov-one/torasuri/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

// ValidatePublicKey returns ErrInvalidPublicKey unless given string is a
// well formed account address (G...).
func ValidatePublicKey(address string) error {
	if _, err := strkey.Decode(strkey.VersionByteAccountID, address); err != nil {
		return errors.Wrapf(ErrInvalidPublicKey, "%q", Short(address))
	}
	return nil
}

// ParseSeed returns the full keypair for given secret seed (S...).
func ParseSeed(seed string) (*keypair.Full, error) {
	kp, err := keypair.Parse(seed)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, "cannot parse seed")
	}
	full, ok := kp.(*keypair.Full)
	if !ok {
		return nil, errors.Wrap(errors.ErrInput, "address given instead of a seed")
	}
	return full, nil
}

// RandomKey returns a new random keypair.
func RandomKey() (*keypair.Full, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}
	return kp, nil
}

// Short returns the first six characters of a key, for logging.
func Short(key string) string {
	if len(key) <= 6 {
		return key
	}
	return key[:6]
}
