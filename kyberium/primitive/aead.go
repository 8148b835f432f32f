package primitive

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

// AEAD algorithm names.
const (
	AES256GCM        = "AES-256-GCM"
	ChaCha20Poly1305 = "ChaCha20-Poly1305"
	DefaultAEAD      = AES256GCM
)

// Both variants use 256-bit keys and 96-bit nonces.
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// AEAD is an authenticated cipher with caller-managed nonces. The caller
// must never reuse a nonce under the same key.
type AEAD interface {
	Name() string
	KeySize() int
	NonceSize() int
	Overhead() int

	Seal(key, nonce, plaintext, additionalData []byte) ([]byte, error)
	Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

type stdAEAD struct {
	name string
	new  func(key []byte) (cipher.AEAD, error)
}

// NewAEAD returns the AEAD variant registered under name.
func NewAEAD(name string) (AEAD, error) {
	switch name {
	case AES256GCM, "":
		return &stdAEAD{name: AES256GCM, new: newGCM}, nil
	case ChaCha20Poly1305:
		return &stdAEAD{name: ChaCha20Poly1305, new: chacha20poly1305.New}, nil
	default:
		return nil, fmt.Errorf("primitive: unknown AEAD %q", name)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (a *stdAEAD) Name() string   { return a.name }
func (a *stdAEAD) KeySize() int   { return KeySize }
func (a *stdAEAD) NonceSize() int { return NonceSize }
func (a *stdAEAD) Overhead() int  { return TagSize }

// Seal encrypts and authenticates plaintext. Returns ciphertext || tag.
func (a *stdAEAD) Seal(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s key is %d bytes, want %d", a.name, len(key), KeySize)
	}
	if len(nonce) != NonceSize {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s nonce is %d bytes, want %d", a.name, len(nonce), NonceSize)
	}
	aead, err := a.new(key)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s: %v", a.name, err)
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open verifies and decrypts ciphertext. Every failure, including a
// truncated input or a nonce of the wrong size, is reported as
// kerr.ErrAuthFailure.
func (a *stdAEAD) Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s key is %d bytes, want %d", a.name, len(key), KeySize)
	}
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, kerr.Wrapf(kerr.ErrAuthFailure, "%s: malformed message", a.name)
	}
	aead, err := a.new(key)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s: %v", a.name, err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrAuthFailure, "%s: message authentication failed", a.name)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
