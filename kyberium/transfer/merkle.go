package transfer

import (
	"bytes"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/sha3"
)

var (
	ErrMerkleEmpty      = errors.New("merkle: no chunks provided")
	ErrMerkleProofFail  = errors.New("merkle: proof verification failed")
	ErrMerkleIndexRange = errors.New("merkle: chunk index out of range")
)

// Leaves and interior nodes hash under different prefixes so a leaf can
// never be passed off as a node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// MerkleTree provides integrity verification for chunked data.
// The root travels in the transfer manifest.
type MerkleTree struct {
	count  int
	leaves [][]byte
	nodes  [][]byte // full binary tree stored as array
}

// BuildMerkleTree constructs a Merkle tree from chunk hashes as produced
// by HashChunk.
func BuildMerkleTree(chunkHashes [][]byte) (*MerkleTree, error) {
	if len(chunkHashes) == 0 {
		return nil, ErrMerkleEmpty
	}

	// Pad to power of 2
	n := 1
	for n < len(chunkHashes) {
		n *= 2
	}
	leaves := make([][]byte, n)
	for i := range leaves {
		if i < len(chunkHashes) {
			leaves[i] = hashNode(leafPrefix, chunkHashes[i], nil)
		} else {
			leaves[i] = hashNode(leafPrefix, nil, nil)
		}
	}

	// Leaves are at positions [n-1, 2n-2]
	nodes := make([][]byte, 2*n-1)
	copy(nodes[n-1:], leaves)
	for i := n - 2; i >= 0; i-- {
		nodes[i] = hashNode(nodePrefix, nodes[2*i+1], nodes[2*i+2])
	}

	return &MerkleTree{count: len(chunkHashes), leaves: leaves, nodes: nodes}, nil
}

// Root returns the Merkle root hash.
func (m *MerkleTree) Root() []byte { return bytes.Clone(m.nodes[0]) }

// RootHex returns the Merkle root as a hex string.
func (m *MerkleTree) RootHex() string { return hex.EncodeToString(m.nodes[0]) }

// Proof carries the sibling hashes from a chunk's leaf up to the root.
type Proof struct {
	ChunkIndex int
	ChunkHash  []byte
	Siblings   [][]byte // from leaf to root
	IsLeft     []bool   // true if sibling is on the left
}

// GenerateProof returns the proof for the chunk at chunkIndex. ChunkHash
// in the proof is the HashChunk value the tree was built from.
func (m *MerkleTree) GenerateProof(chunkIndex int, chunkHash []byte) (Proof, error) {
	if chunkIndex < 0 || chunkIndex >= m.count {
		return Proof{}, ErrMerkleIndexRange
	}
	if !bytes.Equal(hashNode(leafPrefix, chunkHash, nil), m.leaves[chunkIndex]) {
		return Proof{}, ErrMerkleProofFail
	}

	var siblings [][]byte
	var isLeft []bool
	idx := len(m.leaves) - 1 + chunkIndex
	for idx > 0 {
		sibling := idx + 1
		if idx%2 == 0 {
			sibling = idx - 1
		}
		siblings = append(siblings, m.nodes[sibling])
		isLeft = append(isLeft, idx%2 == 0)
		idx = (idx - 1) / 2
	}

	return Proof{
		ChunkIndex: chunkIndex,
		ChunkHash:  bytes.Clone(chunkHash),
		Siblings:   siblings,
		IsLeft:     isLeft,
	}, nil
}

// VerifyProof verifies a Merkle proof against the expected root.
func VerifyProof(proof Proof, expectedRoot []byte) error {
	if len(proof.Siblings) != len(proof.IsLeft) {
		return ErrMerkleProofFail
	}
	current := hashNode(leafPrefix, proof.ChunkHash, nil)
	for i, sibling := range proof.Siblings {
		if proof.IsLeft[i] {
			current = hashNode(nodePrefix, sibling, current)
		} else {
			current = hashNode(nodePrefix, current, sibling)
		}
	}
	if !bytes.Equal(current, expectedRoot) {
		return ErrMerkleProofFail
	}
	return nil
}

func hashNode(prefix byte, left, right []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{prefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// HashChunk computes the SHA3-256 hash of a data chunk.
func HashChunk(data []byte) []byte {
	h := sha3.Sum256(data)
	return h[:]
}
