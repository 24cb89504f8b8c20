package orm

import (
	"bytes"

	"github.com/iov-one/torasuri/errors"
)

const keySeparator = 0x00

// CompositeKey joins given parts into a single key. Parts must not be empty
// and must not contain a zero byte, so that the key of one entity is never a
// prefix match for another parent.
func CompositeKey(parts ...string) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range parts {
		if p == "" {
			return nil, errors.Wrapf(errors.ErrEmpty, "key part %d", i)
		}
		if bytes.IndexByte([]byte(p), keySeparator) >= 0 {
			return nil, errors.Wrapf(errors.ErrInput, "key part %d contains a separator", i)
		}
		if i > 0 {
			buf.WriteByte(keySeparator)
		}
		buf.WriteString(p)
	}
	return buf.Bytes(), nil
}

// ChildPrefix returns the scan prefix of all composite keys that start with
// given parts.
func ChildPrefix(parts ...string) ([]byte, error) {
	key, err := CompositeKey(parts...)
	if err != nil {
		return nil, err
	}
	return append(key, keySeparator), nil
}
