package memory

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/directory"
	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/protocol"
)

// Store is an in-memory bundle directory.
// It is useful for tests, examples and embedding in applications.
type Store struct {
	provider *primitive.Provider
	mu       sync.RWMutex
	peers    map[identity.PeerID]*protocol.Bundle
}

var _ directory.Resolver = (*Store)(nil)

// New returns a store that verifies bundles against p.
func New(p *primitive.Provider) *Store {
	if p == nil {
		p = primitive.DefaultProvider()
	}
	return &Store{provider: p, peers: map[identity.PeerID]*protocol.Bundle{}}
}

// Announce stores b after verifying it. A bundle with an older timestamp
// than the one on record is rejected.
func (s *Store) Announce(b *protocol.Bundle) error {
	if err := b.Verify(s.provider); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Announce",
			"peer":     b.PeerID.ShortString(),
		}).WithError(err).Warn("bundle rejected")
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.peers[b.PeerID]; ok && cur.TimestampSec > b.TimestampSec {
		return directory.ErrStale
	}
	s.peers[b.PeerID] = cloneBundle(b)
	return nil
}

func (s *Store) Lookup(peerID identity.PeerID) (*protocol.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.peers[peerID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return cloneBundle(b), nil
}

func (s *Store) Remove(peerID identity.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peerID]; !ok {
		return directory.ErrNotFound
	}
	delete(s.peers, peerID)
	return nil
}

// List returns every bundle ordered by PeerID.
func (s *Store) List() ([]*protocol.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*protocol.Bundle, 0, len(s.peers))
	for _, b := range s.peers {
		out = append(out, cloneBundle(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeerID.String() < out[j].PeerID.String()
	})
	return out, nil
}

func cloneBundle(b *protocol.Bundle) *protocol.Bundle {
	c := *b
	c.KEMPublicKey = primitive.Clone(b.KEMPublicKey)
	c.SignPublicKey = primitive.Clone(b.SignPublicKey)
	c.Nonce = primitive.Clone(b.Nonce)
	c.Signature = primitive.Clone(b.Signature)
	if b.Capabilities != nil {
		c.Capabilities = make(map[string]string, len(b.Capabilities))
		for k, v := range b.Capabilities {
			c.Capabilities[k] = v
		}
	}
	return &c
}
