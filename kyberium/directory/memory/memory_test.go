package memory

import (
	"errors"
	"testing"

	"github.com/TheusHen/kyberium/kyberium/directory"
	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/protocol"
)

func newBundle(t *testing.T, p *primitive.Provider, kp *identity.KeyPair, caps map[string]string) *protocol.Bundle {
	t.Helper()
	kem, err := p.KEM.GenerateKeyPair()
	if err != nil {
		t.Fatalf("KEM GenerateKeyPair: %v", err)
	}
	b, err := protocol.NewBundle(p, kp, kem.Public, caps)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	if err := b.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return b
}

func TestStoreAnnounceLookup(t *testing.T) {
	p := primitive.DefaultProvider()
	kp, err := identity.GenerateKeyPair(p.Signer)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	s := New(p)
	b := newBundle(t, p, kp, map[string]string{"role": "seed"})
	if err := s.Announce(b); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	got, err := s.Lookup(kp.PeerID())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(got.KEMPublicKey) != string(b.KEMPublicKey) {
		t.Fatalf("unexpected bundle")
	}
	if got.Capabilities["role"] != "seed" {
		t.Fatalf("unexpected capabilities")
	}

	// Returned bundles are copies.
	got.Capabilities["role"] = "leech"
	got.KEMPublicKey[0] ^= 0xff
	again, _ := s.Lookup(kp.PeerID())
	if again.Capabilities["role"] != "seed" || again.KEMPublicKey[0] != b.KEMPublicKey[0] {
		t.Fatalf("store mutated through returned bundle")
	}
}

func TestStoreRejectsForgedBundle(t *testing.T) {
	p := primitive.DefaultProvider()
	kp, _ := identity.GenerateKeyPair(p.Signer)
	s := New(p)

	b := newBundle(t, p, kp, nil)
	b.KEMPublicKey[0] ^= 0x01
	if err := s.Announce(b); !errors.Is(err, kerr.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := s.Lookup(kp.PeerID()); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReplacesOnlyWithNewer(t *testing.T) {
	p := primitive.DefaultProvider()
	kp, _ := identity.GenerateKeyPair(p.Signer)
	s := New(p)

	first := newBundle(t, p, kp, map[string]string{"v": "1"})
	if err := s.Announce(first); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	newer := newBundle(t, p, kp, map[string]string{"v": "2"})
	newer.TimestampSec = first.TimestampSec + 10
	if err := newer.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.Announce(newer); err != nil {
		t.Fatalf("Announce newer: %v", err)
	}

	older := newBundle(t, p, kp, map[string]string{"v": "0"})
	older.TimestampSec = first.TimestampSec - 10
	if err := older.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.Announce(older); !errors.Is(err, directory.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	got, _ := s.Lookup(kp.PeerID())
	if got.Capabilities["v"] != "2" {
		t.Fatalf("expected newest bundle, got v=%s", got.Capabilities["v"])
	}
}

func TestStoreListRemove(t *testing.T) {
	p := primitive.DefaultProvider()
	s := New(p)
	var ids []identity.PeerID
	for i := 0; i < 3; i++ {
		kp, _ := identity.GenerateKeyPair(p.Signer)
		ids = append(ids, kp.PeerID())
		if err := s.Announce(newBundle(t, p, kp, nil)); err != nil {
			t.Fatalf("Announce: %v", err)
		}
	}

	list, err := s.List()
	if err != nil || len(list) != 3 {
		t.Fatalf("List: %d, %v", len(list), err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].PeerID.String() > list[i].PeerID.String() {
			t.Fatalf("List not ordered")
		}
	}

	if err := s.Remove(ids[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ids[0]); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, _ = s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(list))
	}
}
