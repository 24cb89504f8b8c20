package orm

import (
	"github.com/iov-one/torasuri/errors"
	amino "github.com/tendermint/go-amino"
)

// cdc is the codec used to serialize all models. Models are concrete structs,
// so no type registration is needed.
var cdc = amino.NewCodec()

// Marshal serializes given model into its binary representation.
func Marshal(m Model) ([]byte, error) {
	raw, err := cdc.MarshalBinaryBare(m)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrModel, "marshal %T: %s", m, err)
	}
	return raw, nil
}

// Unmarshal loads the binary representation into given model.
func Unmarshal(raw []byte, dest Model) error {
	if err := cdc.UnmarshalBinaryBare(raw, dest); err != nil {
		return errors.Wrapf(errors.ErrModel, "unmarshal %T: %s", dest, err)
	}
	return nil
}
