package primitive

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/hybrid"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

// KEM algorithm names.
const (
	MLKEM1024      = "ML-KEM-1024"
	MLKEM768       = "ML-KEM-768"
	Kyber768X25519 = "Kyber768-X25519"
	DefaultKEM     = MLKEM1024
)

// KEM is a key encapsulation capability.
type KEM interface {
	Name() string
	// Description is the human readable family name used in banners.
	Description() string
	// SecurityLevel is the NIST category of the construction.
	SecurityLevel() int
	PublicKeySize() int
	PrivateKeySize() int
	CiphertextSize() int
	SharedSecretSize() int

	GenerateKeyPair() (KeyPair, error)
	Encapsulate(peerPublic []byte) (ciphertext, sharedSecret []byte, err error)
	Decapsulate(ciphertext, localPrivate []byte) ([]byte, error)
}

type circlKEM struct {
	scheme kem.Scheme
	name   string
	desc   string
	level  int
}

// NewKEM returns the KEM variant registered under name.
func NewKEM(name string) (KEM, error) {
	switch name {
	case MLKEM1024, "":
		return &circlKEM{scheme: mlkem1024.Scheme(), name: MLKEM1024, desc: "CRYSTALS-Kyber-1024 (ML-KEM-1024)", level: 5}, nil
	case MLKEM768:
		return &circlKEM{scheme: mlkem768.Scheme(), name: MLKEM768, desc: "CRYSTALS-Kyber-768 (ML-KEM-768)", level: 3}, nil
	case Kyber768X25519:
		return &circlKEM{scheme: hybrid.Kyber768X25519(), name: Kyber768X25519, desc: "X25519 + CRYSTALS-Kyber-768 (hybrid)", level: 3}, nil
	default:
		return nil, fmt.Errorf("primitive: unknown KEM %q", name)
	}
}

func (k *circlKEM) Name() string          { return k.name }
func (k *circlKEM) Description() string   { return k.desc }
func (k *circlKEM) SecurityLevel() int    { return k.level }
func (k *circlKEM) PublicKeySize() int    { return k.scheme.PublicKeySize() }
func (k *circlKEM) PrivateKeySize() int   { return k.scheme.PrivateKeySize() }
func (k *circlKEM) CiphertextSize() int   { return k.scheme.CiphertextSize() }
func (k *circlKEM) SharedSecretSize() int { return k.scheme.SharedKeySize() }

func (k *circlKEM) GenerateKeyPair() (KeyPair, error) {
	pk, sk, err := k.scheme.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s keygen: %v", k.name, err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s marshal public key: %v", k.name, err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s marshal private key: %v", k.name, err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func (k *circlKEM) Encapsulate(peerPublic []byte) (ct, ss []byte, err error) {
	defer recoverAs(&err, kerr.ErrInvalidKey)

	if len(peerPublic) != k.scheme.PublicKeySize() {
		return nil, nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s public key is %d bytes, want %d",
			k.name, len(peerPublic), k.scheme.PublicKeySize())
	}
	pk, err := k.scheme.UnmarshalBinaryPublicKey(peerPublic)
	if err != nil {
		return nil, nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s public key: %v", k.name, err)
	}
	ct, ss, err = k.scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s encapsulate: %v", k.name, err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret. ML-KEM uses implicit rejection,
// so a wrong key and a tampered ciphertext follow the same code path and
// both yield an unrelated secret rather than an error.
func (k *circlKEM) Decapsulate(ciphertext, localPrivate []byte) (ss []byte, err error) {
	defer recoverAs(&err, kerr.ErrInvalidCiphertext)

	if len(localPrivate) != k.scheme.PrivateKeySize() {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s private key is %d bytes, want %d",
			k.name, len(localPrivate), k.scheme.PrivateKeySize())
	}
	if len(ciphertext) != k.scheme.CiphertextSize() {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "%s ciphertext is %d bytes, want %d",
			k.name, len(ciphertext), k.scheme.CiphertextSize())
	}
	sk, err := k.scheme.UnmarshalBinaryPrivateKey(localPrivate)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s private key: %v", k.name, err)
	}
	ss, err = k.scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "%s decapsulate: %v", k.name, err)
	}
	return ss, nil
}

// recoverAs turns a panic raised on malformed peer input into an error of
// the given kind.
func recoverAs(err *error, sentinel error) {
	if r := recover(); r != nil {
		*err = kerr.Wrapf(sentinel, "rejected input: %v", r)
	}
}
