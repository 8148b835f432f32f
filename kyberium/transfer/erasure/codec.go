package erasure

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost       = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig     = errors.New("erasure: invalid data/parity configuration")
	ErrShardSizeMismatch = errors.New("erasure: shard sizes do not match")
	ErrShortData         = errors.New("erasure: shards hold less than the requested size")
)

// Codec provides Reed-Solomon encoding/decoding.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a new erasure codec.
// dataShards: number of data shards
// parityShards: number of parity shards (can lose up to this many)
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 256 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

// DataShards returns the number of data shards.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the number of parity shards.
func (c *Codec) ParityShards() int { return c.parityShards }

// TotalShards returns the total number of shards (data + parity).
func (c *Codec) TotalShards() int { return c.dataShards + c.parityShards }

// EncodeData splits data into data shards, padding the last one, and
// computes parity. It returns all TotalShards shards.
func (c *Codec) EncodeData(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, reedsolomon.ErrShortData
	}
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Verify checks if the parity shards are consistent with data shards.
func (c *Codec) Verify(shards [][]byte) (bool, error) {
	if len(shards) != c.TotalShards() {
		return false, ErrInvalidConfig
	}
	return c.enc.Verify(shards)
}

// Reconstruct fills in missing shards. Missing shards are nil in the
// slice. Only the data shards are rebuilt unless withParity is set.
func (c *Codec) Reconstruct(shards [][]byte, withParity bool) error {
	if len(shards) != c.TotalShards() {
		return ErrInvalidConfig
	}
	present := 0
	size := -1
	for _, s := range shards {
		if s == nil {
			continue
		}
		present++
		if size >= 0 && len(s) != size {
			return ErrShardSizeMismatch
		}
		size = len(s)
	}
	if present < c.dataShards {
		return ErrTooManyLost
	}

	var err error
	if withParity {
		err = c.enc.Reconstruct(shards)
	} else {
		err = c.enc.ReconstructData(shards)
	}
	switch {
	case errors.Is(err, reedsolomon.ErrTooFewShards):
		return ErrTooManyLost
	case errors.Is(err, reedsolomon.ErrShardSize):
		return ErrShardSizeMismatch
	}
	return err
}

// Join joins data shards back into the original data.
// outSize is the original data size (before padding).
func (c *Codec) Join(shards [][]byte, outSize int) ([]byte, error) {
	data := make([]byte, 0, outSize)
	for i := 0; i < c.dataShards && len(data) < outSize; i++ {
		remaining := outSize - len(data)
		s := shards[i]
		if len(s) > remaining {
			s = s[:remaining]
		}
		data = append(data, s...)
	}
	if len(data) < outSize {
		return nil, ErrShortData
	}
	return data, nil
}

// ShardSize calculates the shard size for a given data size.
func (c *Codec) ShardSize(dataSize int) int {
	return (dataSize + c.dataShards - 1) / c.dataShards
}

// EncodedSize returns the total size of all shards for a given data size.
func (c *Codec) EncodedSize(dataSize int) int {
	return c.ShardSize(dataSize) * c.TotalShards()
}

// Overhead returns the storage overhead ratio (e.g., 1.4 for 10+4 config).
func (c *Codec) Overhead() float64 {
	return float64(c.TotalShards()) / float64(c.dataShards)
}
