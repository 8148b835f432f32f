package ratchet

import (
	"sync"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
)

var (
	ErrRatchetExhausted = kerr.Wrapf(kerr.ErrInvalidState, "ratchet: maximum index reached")
	ErrChainClosed      = kerr.Wrapf(kerr.ErrInvalidState, "ratchet: chain wiped")
)

const (
	// MaxIndex is the number of ratchet steps allowed before a rekey is required.
	MaxIndex = 1 << 32
)

// MessageKey is the single-use key material for one message.
type MessageKey struct {
	Index uint64
	Key   []byte
	Nonce []byte
}

// Wipe zeroes the key material.
func (mk *MessageKey) Wipe() {
	primitive.Wipe(mk.Key)
	primitive.Wipe(mk.Nonce)
	mk.Key, mk.Nonce = nil, nil
}

func (mk MessageKey) clone() MessageKey {
	return MessageKey{Index: mk.Index, Key: primitive.Clone(mk.Key), Nonce: primitive.Clone(mk.Nonce)}
}

// Params fixes the shape of the message keys a chain produces.
type Params struct {
	KDF       *kdf.KDF
	KeySize   int
	NonceSize int
}

func (p Params) outLen() int { return p.KeySize + p.NonceSize }

// step derives (nextChainKey, messageKey) from chainKey.
func (p Params) step(chainKey []byte, index uint64) ([]byte, MessageKey, error) {
	next, out, err := p.KDF.RatchetStep(chainKey, nil, p.outLen())
	if err != nil {
		return nil, MessageKey{}, err
	}
	mk := MessageKey{Index: index, Key: out[:p.KeySize:p.KeySize]}
	if p.NonceSize > 0 {
		mk.Nonce = out[p.KeySize:]
	}
	return next, mk, nil
}

// Chain is the sending half of a symmetric ratchet.
type Chain struct {
	mu       sync.Mutex
	params   Params
	chainKey []byte
	index    uint64
}

// NewChain creates a sending chain whose first message carries index start.
func NewChain(params Params, initialKey []byte, start uint64) (*Chain, error) {
	if len(initialKey) != kdf.ChainKeySize {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "ratchet: initial key must be %d bytes", kdf.ChainKeySize)
	}
	return &Chain{
		params:   params,
		chainKey: primitive.Clone(initialKey),
		index:    start,
	}, nil
}

// Next advances the ratchet and returns the key for the current message.
// The chain key is replaced before Next returns.
func (c *Chain) Next() (MessageKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainKey == nil {
		return MessageKey{}, ErrChainClosed
	}
	if c.index >= MaxIndex {
		return MessageKey{}, ErrRatchetExhausted
	}

	next, mk, err := c.params.step(c.chainKey, c.index)
	if err != nil {
		return MessageKey{}, err
	}
	primitive.Wipe(c.chainKey)
	c.chainKey = next
	c.index++
	return mk, nil
}

// Index returns the index the next message will carry.
func (c *Chain) Index() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Wipe zeroes the chain key. Later calls to Next fail.
func (c *Chain) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	primitive.Wipe(c.chainKey)
	c.chainKey = nil
}
