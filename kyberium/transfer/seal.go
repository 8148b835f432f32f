package transfer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/protocol"
	"github.com/TheusHen/kyberium/kyberium/transfer/erasure"
	"github.com/TheusHen/kyberium/kyberium/triple"
)

var (
	ErrEmptyPayload         = errors.New("transfer: empty payload")
	ErrIntegrityCheckFailed = errors.New("transfer: integrity check failed")
	ErrBadManifest          = errors.New("transfer: malformed manifest")
)

var manifestAAD = []byte("kyberium transfer manifest")

// Config configures sealing. The manifest carries the resulting layout,
// so the opening side needs no matching configuration.
type Config struct {
	ChunkSize    int              // bytes per chunk (default: 256KB)
	Compression  CompressionLevel // compression level
	DataShards   int              // Reed-Solomon data shards
	ParityShards int              // shards that may be lost
	Workers      int              // parallel shard decryptions on open
}

// DefaultConfig returns a 10+4 layout with fast compression.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		Compression:  CompressionFast,
		DataShards:   10,
		ParityShards: 4,
		Workers:      4,
	}
}

func (c *Config) fixup() {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.DataShards <= 0 {
		c.DataShards = d.DataShards
	}
	if c.ParityShards <= 0 {
		c.ParityShards = d.ParityShards
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
}

// ChunkInfo describes one chunk inside the compressed stream.
type ChunkInfo struct {
	Compressed bool   `cbor:"1,keyasint"`
	Length     int    `cbor:"2,keyasint"`
	Hash       []byte `cbor:"3,keyasint"`
}

// Manifest describes a sealed payload. It travels as the first message.
type Manifest struct {
	Root         []byte      `cbor:"1,keyasint"`
	Size         int         `cbor:"2,keyasint"`
	StreamSize   int         `cbor:"3,keyasint"`
	DataShards   int         `cbor:"4,keyasint"`
	ParityShards int         `cbor:"5,keyasint"`
	Chunks       []ChunkInfo `cbor:"6,keyasint"`
}

func (m *Manifest) validate() error {
	if len(m.Root) != 32 || len(m.Chunks) == 0 || m.Size <= 0 || m.StreamSize <= 0 {
		return ErrBadManifest
	}
	stream := 0
	for _, c := range m.Chunks {
		if c.Length <= 0 || len(c.Hash) != 32 {
			return ErrBadManifest
		}
		stream += c.Length
	}
	if stream != m.StreamSize {
		return ErrBadManifest
	}
	return nil
}

// Envelope is a sealed payload: the manifest message and one message per
// shard. A receiver sets lost shards to nil.
type Envelope struct {
	Manifest *triple.Message
	Shards   []*triple.Message
}

// Encrypter is the sending side of a triple session.
type Encrypter interface {
	Encrypt(plaintext, aad []byte) (*triple.Message, error)
}

// Decrypter is the receiving side of a triple session. It must allow
// concurrent calls.
type Decrypter interface {
	DecryptMessage(m *triple.Message, aad []byte) ([]byte, error)
}

// Stats tracks sealing and opening.
type Stats struct {
	TotalBytes      atomic.Int64
	CompressedBytes atomic.Int64
	ShardsSealed    atomic.Int64
	ShardsOpened    atomic.Int64
	ShardsLost      atomic.Int64
}

// CompressionRatio returns the compression ratio (original / compressed).
func (s *Stats) CompressionRatio() float64 {
	comp := s.CompressedBytes.Load()
	if comp == 0 {
		return 1.0
	}
	return float64(s.TotalBytes.Load()) / float64(comp)
}

// Sealer seals payloads over a session.
type Sealer struct {
	sess    Encrypter
	config  Config
	chunker *Chunker
	codec   *erasure.Codec
	stats   Stats
}

func NewSealer(sess Encrypter, config Config) (*Sealer, error) {
	config.fixup()
	codec, err := erasure.NewCodec(config.DataShards, config.ParityShards)
	if err != nil {
		return nil, err
	}
	return &Sealer{
		sess:    sess,
		config:  config,
		chunker: NewChunker(config.ChunkSize),
		codec:   codec,
	}, nil
}

// Seal chunks, compresses and erasure-codes data, then encrypts the
// manifest followed by every shard.
func (s *Sealer) Seal(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	chunks := s.chunker.Split(data)
	hashes := make([][]byte, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	tree, err := BuildMerkleTree(hashes)
	if err != nil {
		return nil, err
	}

	man := &Manifest{
		Root:         tree.Root(),
		Size:         len(data),
		DataShards:   s.codec.DataShards(),
		ParityShards: s.codec.ParityShards(),
		Chunks:       make([]ChunkInfo, len(chunks)),
	}
	var stream bytes.Buffer
	for i, c := range chunks {
		cc := CompressChunk(c, s.config.Compression)
		stream.Write(cc.Data)
		man.Chunks[i] = ChunkInfo{Compressed: cc.Compressed, Length: len(cc.Data), Hash: cc.OrigHash}
	}
	man.StreamSize = stream.Len()

	shards, err := s.codec.EncodeData(stream.Bytes())
	if err != nil {
		return nil, err
	}
	manBytes, err := protocol.Marshal(man)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Shards: make([]*triple.Message, len(shards))}
	if env.Manifest, err = s.sess.Encrypt(manBytes, manifestAAD); err != nil {
		return nil, err
	}
	for i, shard := range shards {
		if env.Shards[i], err = s.sess.Encrypt(shard, shardAAD(man.Root, i)); err != nil {
			return nil, err
		}
		s.stats.ShardsSealed.Add(1)
	}

	s.stats.TotalBytes.Add(int64(len(data)))
	s.stats.CompressedBytes.Add(int64(man.StreamSize))
	logrus.WithFields(logrus.Fields{
		"function": "Seal",
		"size":     len(data),
		"chunks":   len(chunks),
		"shards":   len(shards),
		"root":     tree.RootHex()[:16],
	}).Debug("payload sealed")
	return env, nil
}

// Stats returns sealing statistics.
func (s *Sealer) Stats() *Stats { return &s.stats }

// Opener opens envelopes produced by a Sealer on the peer session.
type Opener struct {
	sess    Decrypter
	workers int
	stats   Stats
}

func NewOpener(sess Decrypter, workers int) *Opener {
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	return &Opener{sess: sess, workers: workers}
}

// Open decrypts the manifest and the available shards, rebuilds lost or
// rejected shards from parity, and returns the payload once its Merkle
// root matches the manifest.
func (o *Opener) Open(ctx context.Context, env *Envelope) ([]byte, error) {
	if env == nil || env.Manifest == nil {
		return nil, ErrBadManifest
	}
	manBytes, err := o.sess.DecryptMessage(env.Manifest, manifestAAD)
	if err != nil {
		return nil, err
	}
	var man Manifest
	if err := protocol.Unmarshal(manBytes, &man); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if err := man.validate(); err != nil {
		return nil, err
	}
	codec, err := erasure.NewCodec(man.DataShards, man.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if len(env.Shards) != codec.TotalShards() {
		return nil, fmt.Errorf("%w: %d shards, manifest says %d", ErrBadManifest, len(env.Shards), codec.TotalShards())
	}

	shards := make([][]byte, len(env.Shards))
	err = parallel(ctx, len(env.Shards), o.workers, func(i int) {
		m := env.Shards[i]
		if m == nil {
			o.stats.ShardsLost.Add(1)
			return
		}
		pt, err := o.sess.DecryptMessage(m, shardAAD(man.Root, i))
		if err != nil {
			o.stats.ShardsLost.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Open",
				"shard":    i,
				"kind":     kerr.KindOf(err).String(),
			}).Warn("shard rejected, treating as lost")
			return
		}
		shards[i] = pt
		o.stats.ShardsOpened.Add(1)
	})
	if err != nil {
		return nil, err
	}

	if err := codec.Reconstruct(shards, false); err != nil {
		return nil, err
	}
	stream, err := codec.Join(shards, man.StreamSize)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(man.Chunks))
	hashes := make([][]byte, len(man.Chunks))
	off := 0
	for i, info := range man.Chunks {
		c, err := DecompressChunk(CompressedChunk{
			Index:      i,
			Compressed: info.Compressed,
			Data:       stream[off : off+info.Length],
			OrigHash:   info.Hash,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrIntegrityCheckFailed, i, err)
		}
		off += info.Length
		chunks[i], hashes[i] = c, c.Hash
	}

	tree, err := BuildMerkleTree(hashes)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tree.Root(), man.Root) {
		return nil, ErrIntegrityCheckFailed
	}
	out := Reassemble(chunks)
	if len(out) != man.Size {
		return nil, ErrIntegrityCheckFailed
	}
	o.stats.TotalBytes.Add(int64(len(out)))
	o.stats.CompressedBytes.Add(int64(man.StreamSize))
	return out, nil
}

// Stats returns opening statistics.
func (o *Opener) Stats() *Stats { return &o.stats }

// shardAAD binds a shard to its payload and position.
func shardAAD(root []byte, index int) []byte {
	out := make([]byte, 0, len(root)+4)
	out = append(out, root...)
	return binary.BigEndian.AppendUint32(out, uint32(index))
}
