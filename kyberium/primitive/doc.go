// Package primitive is the capability boundary for the cryptographic
// primitives Kyberium builds on.
//
// Design goals:
//   - Post-quantum KEM (ML-KEM) and signatures (ML-DSA) via circl
//   - AEAD with caller-supplied nonces (AES-256-GCM, ChaCha20-Poly1305)
//   - Variants chosen once at config time, stateless afterwards
//   - Failure paths that never panic on hostile input
package primitive
