package ratchet

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
)

// DefaultMaxSkip bounds both the skipped-key cache and the largest forward
// gap a single message may open.
const DefaultMaxSkip = 1000

// OpenFunc decrypts one message with the supplied key. The key is wiped
// after the call returns.
type OpenFunc func(MessageKey) ([]byte, error)

// Receiver is the receiving half of a symmetric ratchet with tolerance for
// out-of-order delivery.
//
// Keys for skipped indices live in an insertion-ordered cache with its own
// lock. Entries are only ever peeked, so the least recently used entry is
// always the oldest inserted one, and overflow evicts it. Evicted keys are
// wiped.
type Receiver struct {
	mu       sync.RWMutex
	params   Params
	chainKey []byte
	next     uint64
	maxSkip  int
	skipped  *lru.Cache[uint64, MessageKey]
}

// NewReceiver creates a receiving chain that expects index start first.
func NewReceiver(params Params, initialKey []byte, start uint64, maxSkip int) (*Receiver, error) {
	if len(initialKey) != kdf.ChainKeySize {
		return nil, kerr.Wrapf(kerr.ErrInvalidKey, "ratchet: initial key must be %d bytes", kdf.ChainKeySize)
	}
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}
	cache, err := lru.NewWithEvict(maxSkip, func(_ uint64, mk MessageKey) {
		mk.Wipe()
	})
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrPrimitiveFailure, "ratchet: %v", err)
	}
	return &Receiver{
		params:   params,
		chainKey: primitive.Clone(initialKey),
		next:     start,
		maxSkip:  maxSkip,
		skipped:  cache,
	}, nil
}

// Open locates the key for index and hands it to open. Receiver state only
// changes when open succeeds, so a forged message can neither consume a
// cached key nor advance the chain.
func (r *Receiver) Open(index uint64, open OpenFunc) ([]byte, error) {
	r.mu.RLock()
	if r.chainKey == nil {
		r.mu.RUnlock()
		return nil, ErrChainClosed
	}
	if index < r.next {
		defer r.mu.RUnlock()
		return r.openSkipped(index, open)
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chainKey == nil {
		return nil, ErrChainClosed
	}
	if index < r.next {
		// Another goroutine advanced past index while the lock was released.
		return r.openSkipped(index, open)
	}
	return r.openAhead(index, open)
}

func (r *Receiver) openSkipped(index uint64, open OpenFunc) ([]byte, error) {
	cached, ok := r.skipped.Peek(index)
	if !ok {
		return nil, kerr.Wrapf(kerr.ErrReplayOrGap, "ratchet: no key for message %d", index)
	}
	mk := cached.clone()
	defer mk.Wipe()

	pt, err := open(mk)
	if err != nil {
		return nil, err
	}
	if !r.skipped.Remove(index) {
		return nil, kerr.Wrapf(kerr.ErrReplayOrGap, "ratchet: message %d already consumed", index)
	}
	cached.Wipe()
	return pt, nil
}

func (r *Receiver) openAhead(index uint64, open OpenFunc) ([]byte, error) {
	if index >= MaxIndex {
		return nil, kerr.Wrapf(kerr.ErrReplayOrGap, "ratchet: message %d beyond chain limit", index)
	}
	gap := index - r.next
	if gap > uint64(r.maxSkip) {
		return nil, kerr.Wrapf(kerr.ErrReplayOrGap, "ratchet: message %d skips %d keys, limit %d", index, gap, r.maxSkip)
	}

	pending := make([]MessageKey, 0, gap)
	discard := func() {
		for i := range pending {
			pending[i].Wipe()
		}
	}

	cur, owned := r.chainKey, false
	release := func() {
		if owned {
			primitive.Wipe(cur)
		}
	}
	for i := r.next; i < index; i++ {
		next, mk, err := r.params.step(cur, i)
		release()
		if err != nil {
			discard()
			return nil, err
		}
		pending = append(pending, mk)
		cur, owned = next, true
	}
	next, target, err := r.params.step(cur, index)
	release()
	if err != nil {
		discard()
		return nil, err
	}

	pt, err := open(target)
	target.Wipe()
	if err != nil {
		discard()
		primitive.Wipe(next)
		return nil, err
	}

	for _, mk := range pending {
		r.skipped.Add(mk.Index, mk)
	}
	if gap > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.Open",
			"index":    index,
			"skipped":  gap,
			"cached":   r.skipped.Len(),
		}).Debug("cached skipped message keys")
	}
	primitive.Wipe(r.chainKey)
	r.chainKey = next
	r.next = index + 1
	return pt, nil
}

// Next returns the index the receiver expects next.
func (r *Receiver) Next() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// Skipped returns the number of cached skipped keys.
func (r *Receiver) Skipped() int {
	return r.skipped.Len()
}

// Wipe zeroes the chain key and every cached key. Later calls to Open fail.
func (r *Receiver) Wipe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	primitive.Wipe(r.chainKey)
	r.chainKey = nil
	for _, k := range r.skipped.Keys() {
		if mk, ok := r.skipped.Peek(k); ok {
			mk.Wipe()
		}
	}
	r.skipped.Purge()
}
