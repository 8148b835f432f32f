package session

import (
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
)

// Keyring holds the asymmetric key material a session owns. It does no
// locking of its own; the owning session serializes access.
type Keyring struct {
	provider *primitive.Provider
	stats    *telemetry.Recorder

	KEM            primitive.KeyPair
	Sign           primitive.KeyPair
	PeerKEMPublic  []byte
	PeerSignPublic []byte
}

// NewKeyring returns a keyring with a fresh signature keypair.
func NewKeyring(provider *primitive.Provider, stats *telemetry.Recorder) (*Keyring, error) {
	kr := &Keyring{provider: provider, stats: stats}
	if err := kr.RotateSign(); err != nil {
		return nil, err
	}
	return kr, nil
}

// RotateKEM replaces the local KEM keypair.
func (kr *Keyring) RotateKEM() error {
	kp, err := kr.provider.KEM.GenerateKeyPair()
	if err != nil {
		return err
	}
	kr.KEM.Wipe()
	kr.KEM = kp
	return nil
}

// EnsureKEM generates a local KEM keypair if none exists.
func (kr *Keyring) EnsureKEM() error {
	if !kr.KEM.IsZero() {
		return nil
	}
	return kr.RotateKEM()
}

// RotateSign replaces the local signature keypair.
func (kr *Keyring) RotateSign() error {
	kp, err := kr.provider.Signer.GenerateKeyPair()
	if err != nil {
		return err
	}
	kr.Sign.Wipe()
	kr.Sign = kp
	return nil
}

// SetPeerKEMPublic records the peer KEM public key after checking its size.
func (kr *Keyring) SetPeerKEMPublic(pub []byte) error {
	if len(pub) != kr.provider.KEM.PublicKeySize() {
		return kerr.Wrapf(kerr.ErrInvalidKey, "session: peer KEM public key is %d bytes, want %d",
			len(pub), kr.provider.KEM.PublicKeySize())
	}
	kr.PeerKEMPublic = primitive.Clone(pub)
	return nil
}

// SetPeerSignPublic records the peer signature public key after checking its size.
func (kr *Keyring) SetPeerSignPublic(pub []byte) error {
	if len(pub) != kr.provider.Signer.PublicKeySize() {
		return kerr.Wrapf(kerr.ErrInvalidKey, "session: peer signature public key is %d bytes, want %d",
			len(pub), kr.provider.Signer.PublicKeySize())
	}
	kr.PeerSignPublic = primitive.Clone(pub)
	return nil
}

// SignMessage signs msg with the local signature key.
func (kr *Keyring) SignMessage(msg []byte) ([]byte, error) {
	if len(kr.Sign.Private) == 0 {
		return nil, kerr.Wrapf(kerr.ErrInvalidState, "session: no signature key")
	}
	done := kr.stats.Start(telemetry.OpSign)
	sig, err := kr.provider.Signer.Sign(msg, kr.Sign.Private)
	if err != nil {
		return nil, err
	}
	done()
	return sig, nil
}

// VerifyMessage checks sig over msg. A nil pub selects the peer signature
// key when known, otherwise the local one.
func (kr *Keyring) VerifyMessage(msg, sig, pub []byte) (bool, error) {
	if pub == nil {
		pub = kr.PeerSignPublic
	}
	if pub == nil {
		pub = kr.Sign.Public
	}
	done := kr.stats.Start(telemetry.OpVerify)
	ok, err := kr.provider.Signer.Verify(msg, sig, pub)
	if err != nil {
		return false, err
	}
	done()
	return ok, nil
}

// Wipe destroys all private key material and forgets the peer keys.
func (kr *Keyring) Wipe() {
	kr.KEM.Wipe()
	kr.Sign.Wipe()
	kr.PeerKEMPublic = nil
	kr.PeerSignPublic = nil
}
