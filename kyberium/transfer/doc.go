// Package transfer seals large payloads over a Triple Ratchet session.
//
// A payload is split into chunks, each chunk is LZ4-compressed when that
// helps, and the compressed stream is spread over Reed-Solomon data and
// parity shards. Every shard travels as its own ratchet message, so shards
// may arrive in any order and up to the parity count may be lost. A
// manifest message carries the SHA3 Merkle root over the chunks, which the
// receiver checks after reassembly.
package transfer
