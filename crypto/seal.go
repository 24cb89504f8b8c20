/*
Package crypto protects secrets at rest.

A secret is sealed with AES-256-GCM under a key derived with PBKDF2-SHA256
from a passphrase, the owning member identity and a server wide secret. All
three are needed to open it again, so neither a leaked database nor a leaked
server secret alone reveals the plain text.
*/
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/iov-one/torasuri/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 iteration count of new sealed
	// secrets.
	DefaultIterations = 100000

	saltSize = 16
	keySize  = 32
	tagSize  = 16
)

// ErrSeal is returned when a secret cannot be sealed or opened.
var ErrSeal = errors.Register(120, "sealed secret")

// Sealed is an encrypted secret. All binary fields are base64 encoded.
type Sealed struct {
	IV     string `json:"iv"`
	Tag    string `json:"tag"`
	Cipher string `json:"cipher"`
	Salt   string `json:"salt"`
	// Iterations of PBKDF2. Zero means DefaultIterations.
	Iterations int `json:"iter,omitempty"`
}

// ParseSealed decodes a sealed secret from its JSON form.
func ParseSealed(raw string) (*Sealed, error) {
	var s Sealed
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errors.Wrap(ErrSeal, "invalid json")
	}
	return &s, nil
}

// String returns the JSON form.
func (s *Sealed) String() string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// Seal encrypts plain with a key derived from the passphrase, the member
// identity and the server secret.
func Seal(plain, passphrase, memberID, serverSecret string) (*Sealed, error) {
	salt, err := random(saltSize)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(passphrase, memberID, salt, serverSecret, DefaultIterations)
	if err != nil {
		return nil, err
	}
	iv, err := random(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	out := aead.Seal(nil, iv, []byte(plain), nil)
	body, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	return &Sealed{
		IV:         encode(iv),
		Tag:        encode(tag),
		Cipher:     encode(body),
		Salt:       encode(salt),
		Iterations: DefaultIterations,
	}, nil
}

// Open decrypts a sealed secret. It fails with ErrSeal if any of the
// inputs differs from the ones used to seal it.
func Open(s *Sealed, passphrase, memberID, serverSecret string) (string, error) {
	if s == nil {
		return "", errors.Wrap(errors.ErrEmpty, "sealed secret")
	}
	salt, err := decode(s.Salt, "salt")
	if err != nil {
		return "", err
	}
	iv, err := decode(s.IV, "iv")
	if err != nil {
		return "", err
	}
	tag, err := decode(s.Tag, "tag")
	if err != nil {
		return "", err
	}
	body, err := decode(s.Cipher, "cipher")
	if err != nil {
		return "", err
	}
	if len(tag) != tagSize {
		return "", errors.Wrap(ErrSeal, "invalid tag size")
	}

	iter := s.Iterations
	if iter == 0 {
		iter = DefaultIterations
	}
	aead, err := newAEAD(passphrase, memberID, salt, serverSecret, iter)
	if err != nil {
		return "", err
	}
	if len(iv) != aead.NonceSize() {
		return "", errors.Wrap(ErrSeal, "invalid iv size")
	}
	plain, err := aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", errors.Wrap(ErrSeal, "cannot decrypt")
	}
	return string(plain), nil
}

// deriveKey mixes the member identity into the password and the server
// secret into the salt.
func deriveKey(passphrase, memberID string, salt []byte, serverSecret string, iter int) []byte {
	password := []byte(passphrase + "::" + memberID)
	mixed := []byte(encode(salt) + "::" + serverSecret)
	return pbkdf2.Key(password, mixed, iter, keySize, sha256.New)
}

func newAEAD(passphrase, memberID string, salt []byte, serverSecret string, iter int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, memberID, salt, serverSecret, iter))
	if err != nil {
		return nil, errors.Wrap(ErrSeal, err.Error())
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(ErrSeal, err.Error())
	}
	return aead, nil
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(ErrSeal, "no randomness")
	}
	return b, nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s, field string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrSeal, "invalid %s encoding", field)
	}
	return b, nil
}
