// Package triple implements the Triple Ratchet session: a signed
// post-quantum KEM handshake followed by per-message signatures over a
// symmetric ratchet in each direction.
//
// The initiator encapsulates against the responder's KEM public key and
// signs the ciphertext. The responder verifies that signature before it
// decapsulates. Both sides then derive the same root and split it into one
// root chain per direction. Every Message carries its number, nonce,
// signature and the sender's current signature public key, so messages may
// arrive out of order and signature keys may rotate without a new
// handshake.
//
// Rekey is directional. The sender encapsulates a fresh secret against the
// peer's KEM key, mixes it into its sending root chain and announces the
// message number from which the new chain applies.
package triple
