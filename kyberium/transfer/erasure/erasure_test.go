package erasure

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	data := []byte("post-quantum erasure coding test data that spans multiple shards!")
	originalSize := len(data)

	shards, err := codec.EncodeData(data)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	if len(shards) != 14 {
		t.Fatalf("expected 14 shards, got %d", len(shards))
	}

	ok, err := codec.Verify(shards)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("verification failed")
	}

	// Lose 4 shards (the maximum we can lose)
	shards[0] = nil
	shards[5] = nil
	shards[10] = nil
	shards[13] = nil

	if err := codec.Reconstruct(shards, true); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ok, _ := codec.Verify(shards); !ok {
		t.Fatalf("parity not rebuilt")
	}

	recovered, err := codec.Join(shards, originalSize)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Fatalf("recovered data does not match original")
	}
}

func TestCodecReconstructDataOnly(t *testing.T) {
	codec, _ := NewCodec(4, 2)
	data := bytes.Repeat([]byte("abc"), 100)
	shards, err := codec.EncodeData(data)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	shards[1] = nil
	shards[4] = nil
	if err := codec.Reconstruct(shards, false); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	got, err := codec.Join(shards, len(data))
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Join: %v", err)
	}
}

func TestCodecTooManyLost(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	data := make([]byte, 1024)
	shards, _ := codec.EncodeData(data)

	// Lose 5 shards (more than parity allows)
	for i := 0; i < 5; i++ {
		shards[i] = nil
	}
	if err := codec.Reconstruct(shards, false); !errors.Is(err, ErrTooManyLost) {
		t.Fatalf("expected ErrTooManyLost, got %v", err)
	}
}

func TestCodecRejectsBadInput(t *testing.T) {
	for _, cfg := range [][2]int{{0, 4}, {10, 0}, {-1, 1}, {200, 100}} {
		if _, err := NewCodec(cfg[0], cfg[1]); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewCodec(%d, %d): expected ErrInvalidConfig, got %v", cfg[0], cfg[1], err)
		}
	}

	codec, _ := NewCodec(4, 2)
	shards, _ := codec.EncodeData(make([]byte, 400))
	shards[0] = shards[0][:10]
	if err := codec.Reconstruct(shards, false); !errors.Is(err, ErrShardSizeMismatch) {
		t.Fatalf("expected ErrShardSizeMismatch, got %v", err)
	}
	if err := codec.Reconstruct(shards[:3], false); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	good, _ := codec.EncodeData(make([]byte, 400))
	if _, err := codec.Join(good, 10_000); !errors.Is(err, ErrShortData) {
		t.Fatalf("expected ErrShortData, got %v", err)
	}
	if _, err := codec.EncodeData(nil); err == nil {
		t.Fatalf("expected error for empty data")
	}
}

func TestCodecSizes(t *testing.T) {
	codec, _ := NewCodec(10, 4)
	overhead := codec.Overhead()
	if overhead < 1.39 || overhead > 1.41 {
		t.Fatalf("unexpected overhead: %f", overhead)
	}
	if got := codec.ShardSize(101); got != 11 {
		t.Fatalf("ShardSize(101) = %d", got)
	}
	if got := codec.EncodedSize(100); got != 140 {
		t.Fatalf("EncodedSize(100) = %d", got)
	}
}

func BenchmarkEncode(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	data := make([]byte, 1024*1024) // 1 MB
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = codec.EncodeData(data)
	}
}

func BenchmarkReconstruct(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	data := make([]byte, 1024*1024)
	shards, _ := codec.EncodeData(data)

	template := make([][]byte, len(shards))
	copy(template[4:], shards[4:]) // lose first 4 shards

	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		work := make([][]byte, len(template))
		copy(work, template)
		_ = codec.Reconstruct(work, false)
	}
}
