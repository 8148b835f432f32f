// Package erasure provides Reed-Solomon erasure coding for sealed
// transfers.
//
// With 10 data shards and 4 parity shards, any 4 shards can be lost, or
// rejected as forged, and the payload is still fully recoverable.
package erasure
