package session

import (
	"bytes"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
)

func newClassicPair(t *testing.T) (initiator, responder *Classic) {
	t.Helper()
	var err error
	initiator, err = NewClassic(Options{})
	require.NoError(t, err)
	responder, err = NewClassic(Options{})
	require.NoError(t, err)

	pub, err := responder.InitSession()
	require.NoError(t, err)
	require.Equal(t, StateInitiated, responder.State())

	blob, err := initiator.InitSessionWithPeer(pub)
	require.NoError(t, err)
	require.Equal(t, StateEstablished, initiator.State())

	ok, err := responder.CompleteHandshake(blob)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateEstablished, responder.State())

	t.Cleanup(func() {
		_ = initiator.Close()
		_ = responder.Close()
	})
	return initiator, responder
}

func TestClassicHelloScenario(t *testing.T) {
	a, b := newClassicPair(t)

	ct, nonce, err := a.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)
	pt, err := b.Decrypt(ct, nonce, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))

	ct, nonce, err = b.Encrypt([]byte("hello back"), nil)
	require.NoError(t, err)
	pt, err = a.Decrypt(ct, nonce, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello back", string(pt))
}

func TestClassicHandshakeSymmetry(t *testing.T) {
	a, b := newClassicPair(t)
	assert.Equal(t, a.root, b.root)
	assert.Equal(t, RoleInitiator, a.Role())
	assert.Equal(t, RoleResponder, b.Role())
}

func TestClassicRoundTrip(t *testing.T) {
	a, b := newClassicPair(t)
	large := make([]byte, 12*1024)
	_, err := rand.Read(large)
	require.NoError(t, err)

	for _, pt := range [][]byte{{}, nil, []byte("x"), large} {
		for _, aad := range [][]byte{nil, []byte("associated")} {
			ct, nonce, err := a.Encrypt(pt, aad)
			require.NoError(t, err)
			got, err := b.Decrypt(ct, nonce, aad)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, bytes.Equal(pt, got))
		}
	}
}

func TestClassicNilAndEmptyAADAreEqual(t *testing.T) {
	a, b := newClassicPair(t)
	ct, nonce, err := a.Encrypt([]byte("m"), nil)
	require.NoError(t, err)
	pt, err := b.Decrypt(ct, nonce, []byte{})
	require.NoError(t, err)
	assert.Equal(t, "m", string(pt))
}

func TestClassicRejectsCorruption(t *testing.T) {
	a, b := newClassicPair(t)
	ct, nonce, err := a.Encrypt([]byte("payload"), []byte("aad"))
	require.NoError(t, err)

	for i := range ct {
		bad := append([]byte(nil), ct...)
		bad[i] ^= 0x04
		_, err := b.Decrypt(bad, nonce, []byte("aad"))
		assert.ErrorIs(t, err, kerr.ErrAuthFailure, "ciphertext byte %d", i)
	}
	for i := range nonce {
		bad := append([]byte(nil), nonce...)
		bad[i] ^= 0x01
		_, err := b.Decrypt(ct, bad, []byte("aad"))
		assert.ErrorIs(t, err, kerr.ErrAuthFailure, "nonce byte %d", i)
	}
	_, err = b.Decrypt(ct, nonce[:5], []byte("aad"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)
	_, err = b.Decrypt(ct, nonce, []byte("other"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	pt, err := b.Decrypt(ct, nonce, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = b.Decrypt(ct, nonce, []byte("aad"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure, "replay")
}

func TestClassicOutOfOrder(t *testing.T) {
	a, b := newClassicPair(t)
	type msg struct{ ct, nonce []byte }
	var msgs []msg
	for i := 1; i <= 5; i++ {
		ct, nonce, err := a.Encrypt([]byte{byte(i)}, nil)
		require.NoError(t, err)
		msgs = append(msgs, msg{ct, nonce})
	}
	for _, n := range []int{3, 1, 5, 2, 4} {
		pt, err := b.Decrypt(msgs[n-1].ct, msgs[n-1].nonce, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(n)}, pt)
	}
}

func TestClassicStateErrors(t *testing.T) {
	s, err := NewClassic(Options{})
	require.NoError(t, err)

	_, _, err = s.Encrypt([]byte("x"), nil)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	_, err = s.Decrypt([]byte("x"), make([]byte, 12), nil)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	ok, err := s.CompleteHandshake(make([]byte, 10))
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	assert.False(t, ok)
	_, _, err = s.Rekey()
	assert.ErrorIs(t, err, kerr.ErrInvalidState)

	_, err = s.InitSession()
	require.NoError(t, err)
	_, err = s.InitSession()
	assert.ErrorIs(t, err, kerr.ErrInvalidState)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err = s.Encrypt([]byte("x"), nil)
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
	_, err = s.Sign([]byte("x"))
	assert.ErrorIs(t, err, kerr.ErrInvalidState)
}

func TestClassicHandshakeRejectsTampering(t *testing.T) {
	a, err := NewClassic(Options{})
	require.NoError(t, err)
	b, err := NewClassic(Options{})
	require.NoError(t, err)

	pub, err := b.InitSession()
	require.NoError(t, err)

	_, err = a.InitSessionWithPeer(pub[:20])
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)

	blob, err := a.InitSessionWithPeer(pub)
	require.NoError(t, err)

	ok, err := b.CompleteHandshake(blob[:len(blob)-1])
	assert.False(t, ok)
	assert.ErrorIs(t, err, kerr.ErrInvalidCiphertext)

	bad := append([]byte(nil), blob...)
	bad[10] ^= 0x01
	ok, err = b.CompleteHandshake(bad)
	assert.False(t, ok)
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)
	assert.Equal(t, StateInitiated, b.State())

	ok, err = b.CompleteHandshake(blob)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassicCounterMonotonicUnderConcurrency(t *testing.T) {
	a, b := newClassicPair(t)

	const n = 64
	nonces := make(chan []byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, nonce, err := a.Encrypt([]byte("concurrent"), nil)
			if err != nil {
				t.Error(err)
				return
			}
			nonces <- nonce
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[string]bool)
	for nonce := range nonces {
		require.False(t, seen[string(nonce)], "nonce reused")
		seen[string(nonce)] = true
	}
	assert.Len(t, seen, n)
	sent, _ := a.Counters()
	assert.Equal(t, uint64(n), sent)
	_ = b
}

func TestClassicRekey(t *testing.T) {
	a, b := newClassicPair(t)

	// The responder does not know the initiator's KEM key yet.
	blob, ok, err := b.Rekey()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blob)

	ct, nonce, err := a.Encrypt([]byte("before"), nil)
	require.NoError(t, err)

	oldRoot := append([]byte(nil), a.root...)
	blob, ok, err = a.Rekey()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, oldRoot, a.root)
	assert.Equal(t, uint32(1), a.Epoch())

	ok, err = b.AcceptRekey(blob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.root, b.root)

	// Messages from the previous epoch no longer open.
	_, err = b.Decrypt(ct, nonce, nil)
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	ct, nonce, err = a.Encrypt([]byte("after"), nil)
	require.NoError(t, err)
	pt, err := b.Decrypt(ct, nonce, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", string(pt))

	// Replaying the rekey blob is rejected.
	ok, err = b.AcceptRekey(blob)
	assert.False(t, ok)
	assert.ErrorIs(t, err, kerr.ErrReplayOrGap)

	// Once the responder learns the initiator's KEM key it can rekey too.
	apub, err := a.KemPublicKey()
	require.NoError(t, err)
	require.NoError(t, b.SetPeerPublicKey(apub))
	blob, ok, err = b.Rekey()
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.AcceptRekey(blob)
	require.NoError(t, err)
	require.True(t, ok)

	ct, nonce, err = b.Encrypt([]byte("epoch two"), nil)
	require.NoError(t, err)
	pt, err = a.Decrypt(ct, nonce, nil)
	require.NoError(t, err)
	assert.Equal(t, "epoch two", string(pt))
}

func TestClassicRekeyRejectsTampering(t *testing.T) {
	a, b := newClassicPair(t)
	blob, ok, err := a.Rekey()
	require.NoError(t, err)
	require.True(t, ok)

	bad := append([]byte(nil), blob...)
	bad[len(bad)-1] ^= 0x01
	ok, err = b.AcceptRekey(bad)
	assert.False(t, ok)
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	ok, err = b.AcceptRekey(blob[:10])
	assert.False(t, ok)
	assert.ErrorIs(t, err, kerr.ErrInvalidCiphertext)
}

func TestClassicSignVerify(t *testing.T) {
	a, b := newClassicPair(t)
	msg := []byte("signed statement")

	sig, err := a.Sign(msg)
	require.NoError(t, err)

	ok, err := a.Verify(msg, sig, nil)
	require.NoError(t, err)
	assert.True(t, ok, "nil key falls back to own key")

	apub, err := a.SignPublicKey()
	require.NoError(t, err)
	ok, err = b.Verify(msg, sig, apub)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.SetPeerSignPublicKey(apub))
	ok, err = b.Verify(msg, sig, nil)
	require.NoError(t, err)
	assert.True(t, ok, "nil key selects the peer key")

	bad := append([]byte(nil), sig...)
	bad[0] ^= 0xff
	ok, err = b.Verify(msg, bad, apub)
	require.NoError(t, err)
	assert.False(t, ok)

	newPub, err := a.GenerateSignatureKeypair()
	require.NoError(t, err)
	assert.NotEqual(t, apub, newPub)
}

func TestClassicTelemetry(t *testing.T) {
	global := telemetry.NewRecorder(nil)
	a, err := NewClassic(Options{Stats: global})
	require.NoError(t, err)
	b, err := NewClassic(Options{Stats: global})
	require.NoError(t, err)
	pub, err := b.InitSession()
	require.NoError(t, err)
	blob, err := a.InitSessionWithPeer(pub)
	require.NoError(t, err)
	_, err = b.CompleteHandshake(blob)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ct, nonce, err := a.Encrypt([]byte("m"), nil)
		require.NoError(t, err)
		_, err = b.Decrypt(ct, nonce, nil)
		require.NoError(t, err)
	}
	_, err = a.Sign([]byte("m"))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), a.Stats().TotalEncryptions)
	assert.Equal(t, uint64(1), a.Stats().TotalSignatures)
	assert.Equal(t, uint64(3), b.Stats().TotalDecryptions)
	gs := global.Snapshot()
	assert.Equal(t, uint64(3), gs.TotalEncryptions)
	assert.Equal(t, uint64(3), gs.TotalDecryptions)

	require.NoError(t, a.Close())
	assert.Zero(t, a.Stats().TotalEncryptions)
	assert.Equal(t, uint64(3), global.Snapshot().TotalEncryptions)
}

func TestClassicCloseZeroizes(t *testing.T) {
	a, _ := newClassicPair(t)
	root := a.root
	priv := a.keys.Sign.Private
	kemPriv := a.keys.KEM.Private

	require.NoError(t, a.Close())
	assert.Equal(t, make([]byte, len(root)), root)
	assert.Equal(t, make([]byte, len(priv)), priv)
	assert.Equal(t, make([]byte, len(kemPriv)), kemPriv)
	assert.Equal(t, StateClosed, a.State())
}

func BenchmarkClassicEncrypt1KB(b *testing.B) {
	a, err := NewClassic(Options{})
	if err != nil {
		b.Fatal(err)
	}
	r, _ := NewClassic(Options{})
	pub, _ := r.InitSession()
	if _, err := a.InitSessionWithPeer(pub); err != nil {
		b.Fatal(err)
	}
	pt := make([]byte, 1024)
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = a.Encrypt(pt, nil)
	}
}
