// Package kerr defines the failure kinds every Kyberium operation reports.
//
// Each error returned by the module wraps exactly one of the sentinel
// errors below, so callers can branch with errors.Is or KindOf.
package kerr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey        = errors.New("kyberium: invalid key")
	ErrInvalidCiphertext = errors.New("kyberium: invalid ciphertext")
	ErrAuthFailure       = errors.New("kyberium: authentication failed")
	ErrInvalidState      = errors.New("kyberium: invalid session state")
	ErrReplayOrGap       = errors.New("kyberium: message key unavailable")
	ErrPrimitiveFailure  = errors.New("kyberium: primitive failure")
)

// Kind is a stable discriminant for binding layers.
type Kind uint8

const (
	KindNone Kind = iota
	KindInvalidKey
	KindInvalidCiphertext
	KindAuthFailure
	KindInvalidState
	KindReplayOrGap
	KindPrimitiveFailure
	KindUnknown
)

var kinds = []struct {
	kind Kind
	err  error
}{
	// PrimitiveFailure first: it must surface even when wrapped together
	// with another kind.
	{KindPrimitiveFailure, ErrPrimitiveFailure},
	{KindInvalidKey, ErrInvalidKey},
	{KindInvalidCiphertext, ErrInvalidCiphertext},
	{KindAuthFailure, ErrAuthFailure},
	{KindInvalidState, ErrInvalidState},
	{KindReplayOrGap, ErrReplayOrGap},
}

// KindOf reports the failure kind wrapped by err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindInvalidKey:
		return "InvalidKey"
	case KindInvalidCiphertext:
		return "InvalidCiphertext"
	case KindAuthFailure:
		return "AuthFailure"
	case KindInvalidState:
		return "InvalidState"
	case KindReplayOrGap:
		return "ReplayOrGap"
	case KindPrimitiveFailure:
		return "PrimitiveFailure"
	default:
		return "Unknown"
	}
}

// Wrapf annotates sentinel with a formatted message.
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
