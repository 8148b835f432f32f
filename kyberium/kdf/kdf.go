// Package kdf implements the one-way key derivation used by every Kyberium
// chain: root chains, sending chains and receiving chains.
package kdf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

// KDF variant names.
const (
	HKDFSHA3 = "HKDF-SHA3-256"
	SHAKE256 = "SHAKE-256"
	Default  = HKDFSHA3
)

// ChainKeySize is the size of every root and chain key.
const ChainKeySize = 32

// MaxOutput bounds a single derivation.
const MaxOutput = 255 * 32

var (
	DefaultSalt = []byte("kyberium_default_salt")
	DefaultInfo = []byte("kyberium_default_info")

	labelStep    = []byte("kyberium ratchet step")
	labelRoot    = []byte("kyberium root")
	labelChains  = []byte("kyberium chains")
	saltRoot     = []byte("kyberium root salt")
	ErrBadLength = errors.New("kdf: invalid output length")
)

// KDF derives keys with the selected construction.
type KDF struct {
	name   string
	expand func(secret, salt, info, out []byte) error
}

// New returns the KDF variant registered under name.
func New(name string) (*KDF, error) {
	switch name {
	case HKDFSHA3, "":
		return &KDF{name: HKDFSHA3, expand: expandHKDF}, nil
	case SHAKE256:
		return &KDF{name: SHAKE256, expand: expandSHAKE}, nil
	default:
		return nil, fmt.Errorf("kdf: unknown KDF %q", name)
	}
}

// Name returns the variant name.
func (k *KDF) Name() string { return k.name }

// Derive expands secret into length bytes. A nil salt or info selects the
// package defaults.
func (k *KDF) Derive(secret, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > MaxOutput {
		return nil, ErrBadLength
	}
	if salt == nil {
		salt = DefaultSalt
	}
	if info == nil {
		info = DefaultInfo
	}
	out := make([]byte, length)
	if err := k.expand(secret, salt, info, out); err != nil {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s: %v", k.name, err)
	}
	return out, nil
}

// RatchetStep advances chainKey by one step, mixing in input, and returns
// the next chain key together with an outLen-byte output key. The previous
// chain key cannot be recovered from either result.
func (k *KDF) RatchetStep(chainKey, input []byte, outLen int) (next, out []byte, err error) {
	if len(chainKey) != ChainKeySize {
		return nil, nil, kerr.Wrapf(kerr.ErrInvalidKey, "kdf: chain key is %d bytes, want %d", len(chainKey), ChainKeySize)
	}
	if outLen <= 0 {
		return nil, nil, ErrBadLength
	}
	if input == nil {
		input = []byte{}
	}
	okm, err := k.Derive(input, chainKey, labelStep, ChainKeySize+outLen)
	if err != nil {
		return nil, nil, err
	}
	return okm[:ChainKeySize], okm[ChainKeySize:], nil
}

// DeriveRoot turns a KEM shared secret into a root key and a key
// confirmation key, both bound to transcript.
func (k *KDF) DeriveRoot(sharedSecret, transcript []byte) (root, confirm []byte, err error) {
	info := make([]byte, 0, len(labelRoot)+len(transcript))
	info = append(info, labelRoot...)
	info = append(info, transcript...)
	okm, err := k.Derive(sharedSecret, saltRoot, info, 2*ChainKeySize)
	if err != nil {
		return nil, nil, err
	}
	return okm[:ChainKeySize], okm[ChainKeySize:], nil
}

// Chains splits a root key into the initiator-to-responder and
// responder-to-initiator chain keys.
func (k *KDF) Chains(root []byte) (initiator, responder []byte, err error) {
	if len(root) != ChainKeySize {
		return nil, nil, kerr.Wrapf(kerr.ErrInvalidKey, "kdf: root key is %d bytes, want %d", len(root), ChainKeySize)
	}
	okm, err := k.Derive(root, nil, labelChains, 2*ChainKeySize)
	if err != nil {
		return nil, nil, err
	}
	return okm[:ChainKeySize], okm[ChainKeySize:], nil
}

func expandHKDF(secret, salt, info, out []byte) error {
	_, err := io.ReadFull(hkdf.New(sha3.New256, secret, salt, info), out)
	return err
}

// expandSHAKE absorbs length-prefixed fields so that no two distinct
// (secret, salt, info) triples share an encoding.
func expandSHAKE(secret, salt, info, out []byte) error {
	h := sha3.NewShake256()
	var n [4]byte
	for _, field := range [][]byte{salt, secret, info} {
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	binary.BigEndian.PutUint32(n[:], uint32(len(out)))
	h.Write(n[:])
	_, err := io.ReadFull(h, out)
	return err
}
