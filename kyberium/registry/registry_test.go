package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kerr"
)

type fakeSession struct {
	closed atomic.Int32
}

func (f *fakeSession) Close() error {
	f.closed.Add(1)
	return nil
}

func TestRegisterLookupCleanup(t *testing.T) {
	r := New(0, nil)
	s := &fakeSession{}
	h, err := r.Register(s, KindTriple)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	got, kind, err := r.Lookup(h)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, KindTriple, kind)

	require.NoError(t, r.Cleanup(h))
	assert.Equal(t, int32(1), s.closed.Load())
	assert.Zero(t, r.Count())

	_, _, err = r.Lookup(h)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	assert.ErrorIs(t, r.Cleanup(h), kerr.ErrInvalidState)
	assert.Equal(t, int32(1), s.closed.Load())
}

func TestHandleParse(t *testing.T) {
	h, err := NewHandle()
	require.NoError(t, err)
	parsed, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHandle("not-a-handle")
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	_, err = ParseHandle("abcd")
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
}

func TestPeerIndex(t *testing.T) {
	r := New(0, nil)
	peer := identity.PeerIDFromPublicKey([]byte("peer key"))
	other := identity.PeerIDFromPublicKey([]byte("other key"))

	h1, err := r.Register(&fakeSession{}, KindClassic)
	require.NoError(t, err)
	h2, err := r.Register(&fakeSession{}, KindTriple)
	require.NoError(t, err)
	_, err = r.Register(&fakeSession{}, KindTriple)
	require.NoError(t, err)

	require.NoError(t, r.SetPeer(h1, peer))
	require.NoError(t, r.SetPeer(h2, peer))
	assert.ElementsMatch(t, []Handle{h1, h2}, r.FindByPeer(peer))
	assert.Empty(t, r.FindByPeer(other))

	inf, err := r.Info(h2)
	require.NoError(t, err)
	assert.Equal(t, peer, inf.Peer)
	assert.Equal(t, KindTriple, inf.Kind)

	assert.ErrorIs(t, r.SetPeer(Handle{}, peer), kerr.ErrInvalidState)
}

func TestSweepIdle(t *testing.T) {
	r := New(time.Minute, nil)
	stale := &fakeSession{}
	fresh := &fakeSession{}
	hs, err := r.Register(stale, KindClassic)
	require.NoError(t, err)
	hf, err := r.Register(fresh, KindClassic)
	require.NoError(t, err)

	assert.Zero(t, r.Sweep(time.Now()))

	// Move the stale entry back in time.
	r.mu.RLock()
	r.entries[hs].lastUsed.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	r.mu.RUnlock()

	assert.Equal(t, 1, r.Sweep(time.Now()))
	assert.Equal(t, int32(1), stale.closed.Load())
	assert.Zero(t, fresh.closed.Load())
	_, _, err = r.Lookup(hf)
	require.NoError(t, err)
	_, _, err = r.Lookup(hs)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)

	assert.Equal(t, 1, r.Sweep(time.Now().Add(2*time.Minute)))
	assert.Zero(t, r.Count())
}

func TestSweepDisabled(t *testing.T) {
	r := New(0, nil)
	_, err := r.Register(&fakeSession{}, KindClassic)
	require.NoError(t, err)
	assert.Zero(t, r.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, r.Count())
}

func TestCloseAll(t *testing.T) {
	r := New(0, nil)
	sessions := make([]*fakeSession, 5)
	for i := range sessions {
		sessions[i] = &fakeSession{}
		_, err := r.Register(sessions[i], KindTriple)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, r.CloseAll())
	assert.Zero(t, r.Count())
	for _, s := range sessions {
		assert.Equal(t, int32(1), s.closed.Load())
	}

	late := &fakeSession{}
	_, err := r.Register(late, KindClassic)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	assert.Zero(t, r.Count())
	assert.Zero(t, late.closed.Load())
}

func TestConcurrentCleanupClosesOnce(t *testing.T) {
	r := New(0, nil)
	s := &fakeSession{}
	h, err := r.Register(s, KindTriple)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Cleanup(h)
			_, _, _ = r.Lookup(h)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), s.closed.Load())
}
