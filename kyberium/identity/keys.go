package identity

import (
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
)

// Signer is anything that can sign under a single public key. *KeyPair
// satisfies it, and so does a live session through the engine.
type Signer interface {
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

var _ Signer = (*KeyPair)(nil)

// KeyPair is a long-term signing identity. Sessions rotate their own
// signature keys; a KeyPair is what a peer publishes bundles under.
type KeyPair struct {
	signer primitive.Signer
	keys   primitive.KeyPair
}

func GenerateKeyPair(signer primitive.Signer) (*KeyPair, error) {
	kp, err := signer.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &KeyPair{signer: signer, keys: kp}, nil
}

func NewKeyPair(signer primitive.Signer, publicKey, privateKey []byte) (*KeyPair, error) {
	if len(publicKey) != signer.PublicKeySize() {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "identity: public key is %d bytes, want %d", len(publicKey), signer.PublicKeySize())
	}
	if len(privateKey) != signer.PrivateKeySize() {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "identity: private key is %d bytes, want %d", len(privateKey), signer.PrivateKeySize())
	}
	return &KeyPair{
		signer: signer,
		keys: primitive.KeyPair{
			Public:  primitive.Clone(publicKey),
			Private: primitive.Clone(privateKey),
		},
	}, nil
}

func (kp *KeyPair) PeerID() PeerID {
	return PeerIDFromPublicKey(kp.keys.Public)
}

func (kp *KeyPair) PublicKey() []byte {
	return primitive.Clone(kp.keys.Public)
}

func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	if len(kp.keys.Private) == 0 {
		return nil, kerr.Wrapf(kerr.ErrInvalidState, "identity: key pair wiped")
	}
	return kp.signer.Sign(message, kp.keys.Private)
}

// Verify checks sig against publicKey with the given scheme.
func Verify(signer primitive.Signer, publicKey, message, sig []byte) (bool, error) {
	return signer.Verify(message, sig, publicKey)
}

// Wipe destroys the private key.
func (kp *KeyPair) Wipe() {
	kp.keys.Wipe()
}
