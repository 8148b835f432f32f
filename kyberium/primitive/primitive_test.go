package primitive

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/kyberium/kyberium/kerr"
)

func TestKEMRoundTrip(t *testing.T) {
	for _, name := range []string{MLKEM1024, MLKEM768, Kyber768X25519} {
		t.Run(name, func(t *testing.T) {
			k, err := NewKEM(name)
			require.NoError(t, err)

			kp, err := k.GenerateKeyPair()
			require.NoError(t, err)
			assert.Len(t, kp.Public, k.PublicKeySize())
			assert.Len(t, kp.Private, k.PrivateKeySize())

			ct, ss1, err := k.Encapsulate(kp.Public)
			require.NoError(t, err)
			assert.Len(t, ct, k.CiphertextSize())
			assert.Len(t, ss1, k.SharedSecretSize())

			ss2, err := k.Decapsulate(ct, kp.Private)
			require.NoError(t, err)
			assert.Equal(t, ss1, ss2)
		})
	}
}

func TestKEMRejectsMalformedInput(t *testing.T) {
	k, err := NewKEM(MLKEM1024)
	require.NoError(t, err)
	kp, err := k.GenerateKeyPair()
	require.NoError(t, err)

	_, _, err = k.Encapsulate(kp.Public[:32])
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)

	_, err = k.Decapsulate(make([]byte, 10), kp.Private)
	assert.ErrorIs(t, err, kerr.ErrInvalidCiphertext)

	ct, _, err := k.Encapsulate(kp.Public)
	require.NoError(t, err)
	_, err = k.Decapsulate(ct, kp.Private[:100])
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)
}

func TestKEMImplicitRejection(t *testing.T) {
	k, err := NewKEM(MLKEM1024)
	require.NoError(t, err)
	kp, err := k.GenerateKeyPair()
	require.NoError(t, err)

	ct, ss, err := k.Encapsulate(kp.Public)
	require.NoError(t, err)
	ct[0] ^= 0x01

	got, err := k.Decapsulate(ct, kp.Private)
	require.NoError(t, err)
	assert.NotEqual(t, ss, got)

	other, err := k.GenerateKeyPair()
	require.NoError(t, err)
	ct[0] ^= 0x01
	got, err = k.Decapsulate(ct, other.Private)
	require.NoError(t, err)
	assert.NotEqual(t, ss, got)
}

func TestSignVerify(t *testing.T) {
	for _, name := range []string{MLDSA65, MLDSA87, Ed25519} {
		t.Run(name, func(t *testing.T) {
			s, err := NewSigner(name)
			require.NoError(t, err)
			kp, err := s.GenerateKeyPair()
			require.NoError(t, err)

			msg := []byte("authenticate me")
			sig, err := s.Sign(msg, kp.Private)
			require.NoError(t, err)
			assert.Len(t, sig, s.SignatureSize())

			ok, err := s.Verify(msg, sig, kp.Public)
			require.NoError(t, err)
			assert.True(t, ok)

			corrupted := append([]byte(nil), sig...)
			corrupted[len(corrupted)/2] ^= 0x80
			ok, err = s.Verify(msg, corrupted, kp.Public)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.Verify(msg, sig[:10], kp.Public)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.Verify([]byte("other message"), sig, kp.Public)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSignerRejectsMalformedKeys(t *testing.T) {
	s, err := NewSigner(MLDSA65)
	require.NoError(t, err)

	_, err = s.Sign([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)

	ok, err := s.Verify([]byte("x"), make([]byte, s.SignatureSize()), []byte("short"))
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)
	assert.False(t, ok)
}

func TestAEADRoundTrip(t *testing.T) {
	for _, name := range []string{AES256GCM, ChaCha20Poly1305} {
		t.Run(name, func(t *testing.T) {
			a, err := NewAEAD(name)
			require.NoError(t, err)

			key := randBytes(t, KeySize)
			nonce := randBytes(t, NonceSize)
			large := randBytes(t, 16*1024)

			for _, pt := range [][]byte{{}, []byte("hello"), large} {
				for _, aad := range [][]byte{nil, []byte("header")} {
					ct, err := a.Seal(key, nonce, pt, aad)
					require.NoError(t, err)
					assert.Len(t, ct, len(pt)+a.Overhead())

					got, err := a.Open(key, nonce, ct, aad)
					require.NoError(t, err)
					require.NotNil(t, got)
					assert.True(t, bytes.Equal(pt, got))
				}
			}
		})
	}
}

func TestAEADRejectsTampering(t *testing.T) {
	a, err := NewAEAD(AES256GCM)
	require.NoError(t, err)
	key := randBytes(t, KeySize)
	nonce := randBytes(t, NonceSize)

	ct, err := a.Seal(key, nonce, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	for i := range ct {
		bad := append([]byte(nil), ct...)
		bad[i] ^= 0x01
		_, err := a.Open(key, nonce, bad, []byte("aad"))
		assert.ErrorIs(t, err, kerr.ErrAuthFailure, "byte %d", i)
	}

	badNonce := append([]byte(nil), nonce...)
	badNonce[0] ^= 0x01
	_, err = a.Open(key, badNonce, ct, []byte("aad"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	_, err = a.Open(key, nonce[:8], ct, []byte("aad"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	_, err = a.Open(key, nonce, ct, nil)
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	_, err = a.Open(key, nonce, ct[:4], []byte("aad"))
	assert.ErrorIs(t, err, kerr.ErrAuthFailure)

	_, err = a.Seal(key[:16], nonce, []byte("x"), nil)
	assert.ErrorIs(t, err, kerr.ErrInvalidKey)
}

func TestUnknownAlgorithms(t *testing.T) {
	_, err := NewProvider("RSA", "", "")
	assert.Error(t, err)
	_, err = NewProvider("", "DSA", "")
	assert.Error(t, err)
	_, err = NewProvider("", "", "DES")
	assert.Error(t, err)

	p := DefaultProvider()
	assert.Equal(t, MLKEM1024, p.KEM.Name())
	assert.Equal(t, MLDSA65, p.Signer.Name())
	assert.Equal(t, AES256GCM, p.AEAD.Name())
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
	Wipe(nil)

	kp := KeyPair{Public: []byte{9}, Private: []byte{7, 7}}
	priv := kp.Private
	kp.Wipe()
	assert.True(t, kp.IsZero())
	assert.Equal(t, []byte{0, 0}, priv)

	assert.Nil(t, Clone(nil))
	src := []byte{5}
	c := Clone(src)
	c[0] = 6
	assert.Equal(t, byte(5), src[0])
}

func randBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func BenchmarkMLKEM1024Encapsulate(b *testing.B) {
	k, _ := NewKEM(MLKEM1024)
	kp, _ := k.GenerateKeyPair()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = k.Encapsulate(kp.Public)
	}
}

func BenchmarkMLDSA65Sign(b *testing.B) {
	s, _ := NewSigner(MLDSA65)
	kp, _ := s.GenerateKeyPair()
	msg := make([]byte, 256)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Sign(msg, kp.Private)
	}
}

func BenchmarkAEADSeal1KB(b *testing.B) {
	a, _ := NewAEAD(AES256GCM)
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	pt := make([]byte, 1024)
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = a.Seal(key, nonce, pt, nil)
	}
}
