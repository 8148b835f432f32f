// Package registry maps opaque handles to live sessions for callers that
// cannot hold Go pointers, such as a foreign-function binding.
//
// Cleanup and Sweep close sessions while holding the registry lock, so a
// handle never resolves to a session that is being zeroized.
package registry
