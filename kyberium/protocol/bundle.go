package protocol

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
)

var (
	ErrBundlePeerIDMismatch = kerr.Wrapf(kerr.ErrAuthFailure, "bundle peerid does not match public key")
	ErrBundleBadSignature   = kerr.Wrapf(kerr.ErrAuthFailure, "bundle invalid signature")
	ErrBundleMissingKey     = kerr.Wrapf(kerr.ErrInvalidKey, "bundle missing public key")
)

const bundleLabel = "kyberium bundle v1"

// Bundle announces the keys a peer accepts sessions under. It is signed by
// the identity whose fingerprint is PeerID; the signature covers the
// deterministic CBOR encoding of every other field.
type Bundle struct {
	PeerID        identity.PeerID   `cbor:"1,keyasint" json:"peer_id"`
	KEMAlgorithm  string            `cbor:"2,keyasint" json:"kem_algorithm"`
	KEMPublicKey  []byte            `cbor:"3,keyasint" json:"kem_public_key"`
	SignAlgorithm string            `cbor:"4,keyasint" json:"sign_algorithm"`
	SignPublicKey []byte            `cbor:"5,keyasint" json:"sign_public_key"`
	TimestampSec  int64             `cbor:"6,keyasint" json:"timestamp_sec"`
	Nonce         []byte            `cbor:"7,keyasint" json:"nonce"`
	Capabilities  map[string]string `cbor:"8,keyasint,omitempty" json:"capabilities,omitempty"`
	Signature     []byte            `cbor:"9,keyasint,omitempty" json:"signature,omitempty"`
}

// NewBundle builds an unsigned bundle for kp announcing kemPublic.
func NewBundle(p *primitive.Provider, kp identity.Signer, kemPublic []byte, capabilities map[string]string) (*Bundle, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "bundle: %v", err)
	}
	// Copy caps to avoid external mutation.
	var capsCopy map[string]string
	if len(capabilities) > 0 {
		capsCopy = make(map[string]string, len(capabilities))
		for k, v := range capabilities {
			capsCopy[k] = v
		}
	}
	signPublic := kp.PublicKey()
	return &Bundle{
		PeerID:        identity.PeerIDFromPublicKey(signPublic),
		KEMAlgorithm:  p.KEM.Name(),
		KEMPublicKey:  primitive.Clone(kemPublic),
		SignAlgorithm: p.Signer.Name(),
		SignPublicKey: signPublic,
		TimestampSec:  time.Now().Unix(),
		Nonce:         nonce,
		Capabilities:  capsCopy,
	}, nil
}

// SigningBytes returns the bytes the signature covers.
func (b *Bundle) SigningBytes() ([]byte, error) {
	if len(b.SignPublicKey) == 0 || len(b.KEMPublicKey) == 0 {
		return nil, ErrBundleMissingKey
	}
	unsigned := *b
	unsigned.Signature = nil
	body, err := Marshal(&unsigned)
	if err != nil {
		return nil, err
	}
	return append([]byte(bundleLabel), body...), nil
}

// Sign signs b with kp, which must own b.PeerID.
func (b *Bundle) Sign(kp identity.Signer) error {
	if identity.PeerIDFromPublicKey(kp.PublicKey()) != b.PeerID {
		return ErrBundlePeerIDMismatch
	}
	toSign, err := b.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := kp.Sign(toSign)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// Verify checks that PeerID matches the signature key, that the algorithms
// match p, and that the signature is valid.
func (b *Bundle) Verify(p *primitive.Provider) error {
	if len(b.SignPublicKey) != p.Signer.PublicKeySize() || len(b.KEMPublicKey) != p.KEM.PublicKeySize() {
		return ErrBundleMissingKey
	}
	if b.KEMAlgorithm != p.KEM.Name() || b.SignAlgorithm != p.Signer.Name() {
		return kerr.Wrapf(kerr.ErrInvalidKey, "bundle: algorithms %s/%s, want %s/%s",
			b.KEMAlgorithm, b.SignAlgorithm, p.KEM.Name(), p.Signer.Name())
	}
	if identity.PeerIDFromPublicKey(b.SignPublicKey) != b.PeerID {
		return ErrBundlePeerIDMismatch
	}
	toVerify, err := b.SigningBytes()
	if err != nil {
		return err
	}
	ok, err := identity.Verify(p.Signer, b.SignPublicKey, toVerify, b.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBundleBadSignature
	}
	return nil
}

// Timestamp returns the bundle's issue time.
func (b *Bundle) Timestamp() time.Time { return time.Unix(b.TimestampSec, 0) }

func EncodeBundle(b *Bundle) ([]byte, error) {
	if len(b.Signature) == 0 {
		return nil, errors.New("bundle not signed")
	}
	return Marshal(b)
}

func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.PeerID.IsZero() {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "bundle missing peer_id")
	}
	return &b, nil
}
