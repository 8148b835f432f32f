package session

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/ratchet"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
)

// Options configures a session. Zero values select defaults.
type Options struct {
	Provider *primitive.Provider
	KDF      *kdf.KDF
	// MaxSkip bounds the skipped-key cache and the largest accepted gap.
	MaxSkip int
	// Stats is the parent recorder that session metrics also feed.
	Stats  *telemetry.Recorder
	Logger *logrus.Entry
}

// Fixup fills in defaults.
func (o *Options) Fixup() error {
	if o.Provider == nil {
		o.Provider = primitive.DefaultProvider()
	}
	if o.KDF == nil {
		k, err := kdf.New(kdf.Default)
		if err != nil {
			return err
		}
		o.KDF = k
	}
	if o.MaxSkip <= 0 {
		o.MaxSkip = ratchet.DefaultMaxSkip
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return nil
}

// ChainParams returns the message key shape for chains built from o.
func (o *Options) ChainParams(withNonce bool) ratchet.Params {
	p := ratchet.Params{KDF: o.KDF, KeySize: o.Provider.AEAD.KeySize()}
	if withNonce {
		p.NonceSize = o.Provider.AEAD.NonceSize()
	}
	return p
}

// ID is a random session identifier.
type ID [16]byte

// NewID returns a fresh random ID.
func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "session: %v", err)
	}
	return id, nil
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 8 hex characters, for logs.
func (id ID) Short() string { return hex.EncodeToString(id[:4]) }
