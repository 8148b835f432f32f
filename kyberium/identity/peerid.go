package identity

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

// PeerID is the stable identifier for a peer.
// It is defined as: PeerID = SHA3-256(SignaturePublicKey).
type PeerID [32]byte

func PeerIDFromPublicKey(signPublicKey []byte) PeerID {
	return PeerID(sha3.Sum256(signPublicKey))
}

// ParsePeerID decodes the hex form produced by String.
func ParsePeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, kerr.Wrapf(kerr.ErrInvalidKey, "identity: %v", err)
	}
	if len(b) != len(PeerID{}) {
		return PeerID{}, kerr.Wrapf(kerr.ErrInvalidKey, "identity: PeerID is %d bytes, want %d", len(b), len(PeerID{}))
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns the first 8 bytes in hex, for logs.
func (id PeerID) ShortString() string {
	return hex.EncodeToString(id[:8])
}

func (id PeerID) IsZero() bool {
	return id == PeerID{}
}
