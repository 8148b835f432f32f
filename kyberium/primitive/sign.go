package primitive

import (
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

// Signature algorithm names.
const (
	MLDSA65          = "ML-DSA-65"
	MLDSA87          = "ML-DSA-87"
	Ed25519          = "Ed25519"
	DefaultSignature = MLDSA65
)

// Signer is a digital signature capability.
type Signer interface {
	Name() string
	Description() string
	PublicKeySize() int
	PrivateKeySize() int
	SignatureSize() int

	GenerateKeyPair() (KeyPair, error)
	Sign(message, private []byte) ([]byte, error)
	// Verify reports whether signature is valid. A mismatch is (false, nil);
	// an error is returned only for a malformed public key.
	Verify(message, signature, public []byte) (bool, error)
}

type circlSigner struct {
	scheme sign.Scheme
	name   string
	desc   string
}

// NewSigner returns the signature variant registered under name.
func NewSigner(name string) (Signer, error) {
	switch name {
	case MLDSA65, "":
		return &circlSigner{scheme: mldsa65.Scheme(), name: MLDSA65, desc: "CRYSTALS-Dilithium (ML-DSA-65)"}, nil
	case MLDSA87:
		return &circlSigner{scheme: mldsa87.Scheme(), name: MLDSA87, desc: "CRYSTALS-Dilithium (ML-DSA-87)"}, nil
	case Ed25519:
		return &circlSigner{scheme: ed25519.Scheme(), name: Ed25519, desc: "Ed25519 (classical)"}, nil
	default:
		return nil, fmt.Errorf("primitive: unknown signature scheme %q", name)
	}
}

func (s *circlSigner) Name() string        { return s.name }
func (s *circlSigner) Description() string { return s.desc }
func (s *circlSigner) PublicKeySize() int  { return s.scheme.PublicKeySize() }
func (s *circlSigner) PrivateKeySize() int { return s.scheme.PrivateKeySize() }
func (s *circlSigner) SignatureSize() int  { return s.scheme.SignatureSize() }

func (s *circlSigner) GenerateKeyPair() (KeyPair, error) {
	pk, sk, err := s.scheme.GenerateKey()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s keygen: %v", s.name, err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s marshal public key: %v", s.name, err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return KeyPair{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "%s marshal private key: %v", s.name, err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func (s *circlSigner) Sign(message, private []byte) (sig []byte, err error) {
	defer recoverAs(&err, kerr.ErrInvalidKey)

	if len(private) != s.scheme.PrivateKeySize() {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s private key is %d bytes, want %d",
			s.name, len(private), s.scheme.PrivateKeySize())
	}
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(private)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "%s private key: %v", s.name, err)
	}
	return s.scheme.Sign(sk, message, nil), nil
}

func (s *circlSigner) Verify(message, signature, public []byte) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, nil
		}
	}()

	if len(public) != s.scheme.PublicKeySize() {
		return false, kerr.Wrapf(kerr.ErrInvalidKey, "%s public key is %d bytes, want %d",
			s.name, len(public), s.scheme.PublicKeySize())
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return false, kerr.Wrapf(kerr.ErrInvalidKey, "%s public key: %v", s.name, err)
	}
	if len(signature) != s.scheme.SignatureSize() {
		return false, nil
	}
	return s.scheme.Verify(pk, message, signature, nil), nil
}
