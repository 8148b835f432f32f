package primitive

import (
	"crypto/subtle"
	"runtime"
)

// KeyPair holds serialized key material. Private is owned by whoever
// holds the KeyPair and must be wiped when no longer needed.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// IsZero reports whether the pair holds no key material.
func (kp *KeyPair) IsZero() bool {
	return len(kp.Public) == 0 && len(kp.Private) == 0
}

// Wipe zeroes the private key and drops both halves.
func (kp *KeyPair) Wipe() {
	Wipe(kp.Private)
	kp.Private = nil
	kp.Public = nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(b)
}

// Clone returns a copy of b, or nil for a nil input.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
