// Package ratchet provides continuous forward secrecy via symmetric key ratcheting.
//
// The ratchet advances the chain key once per message, so that compromise
// of the current chain key does not reveal past message keys.
//
// A Chain is the sending half and a Receiver the receiving half of one
// direction. Bidirectional sessions use one of each.
package ratchet
