package transfer

import (
	"bytes"
	"io"
	"sort"
)

// DefaultChunkSize is the default chunk size (256 KB).
const DefaultChunkSize = 256 * 1024

// Chunker splits data into fixed-size chunks.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new chunker with the specified chunk size.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Chunk represents a single data chunk.
type Chunk struct {
	Index int
	Data  []byte
	Hash  []byte
}

// Split splits data into chunks and computes hashes. Chunks share memory
// with data.
func (c *Chunker) Split(data []byte) []Chunk {
	chunks := make([]Chunk, 0, (len(data)+c.chunkSize-1)/c.chunkSize)
	for i := 0; i < len(data); i += c.chunkSize {
		end := min(i+c.chunkSize, len(data))
		chunk := data[i:end]
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Data:  chunk,
			Hash:  HashChunk(chunk),
		})
	}
	return chunks
}

// SplitReader splits data from a reader into chunks.
func (c *Chunker) SplitReader(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk
	buf := make([]byte, c.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Data:  chunk,
				Hash:  HashChunk(chunk),
			})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// Reassemble combines chunks back into the original data.
func Reassemble(chunks []Chunk) []byte {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	size := 0
	for _, c := range sorted {
		size += len(c.Data)
	}
	out := make([]byte, 0, size)
	for _, c := range sorted {
		out = append(out, c.Data...)
	}
	return out
}
