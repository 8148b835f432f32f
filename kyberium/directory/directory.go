// Package directory publishes and resolves signed peer bundles, which is
// how an initiator learns a responder's KEM and signature public keys.
package directory

import (
	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/protocol"
)

var (
	ErrNotFound = kerr.Wrapf(kerr.ErrInvalidState, "peer not found")
	ErrStale    = kerr.Wrapf(kerr.ErrReplayOrGap, "bundle older than the one on record")
)

// Resolver is a generic bundle directory.
// Implementations can be backed by a key server, DHT, static lists, etc.
// Announce must reject bundles that fail verification.
type Resolver interface {
	Announce(b *protocol.Bundle) error
	Lookup(peerID identity.PeerID) (*protocol.Bundle, error)
	Remove(peerID identity.PeerID) error
	List() ([]*protocol.Bundle, error)
}
