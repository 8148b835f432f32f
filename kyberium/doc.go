// Package kyberium is a post-quantum secure-session engine.
//
// An Engine owns sessions and hands out opaque handles. Two session
// flavours exist: a classic session, a single ML-KEM handshake followed by
// symmetric AEAD chains, and the Triple Ratchet, which signs every message
// and ratchets a per-message chain on top of a signed KEM handshake.
// Sessions are destroyed deterministically with Cleanup, which zeroizes all
// key material before the handle becomes invalid.
package kyberium
