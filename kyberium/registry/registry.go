package registry

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kerr"
)

var liveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "kyberium",
	Subsystem: "registry",
	Name:      "sessions",
	Help:      "Sessions currently held by registries, by kind.",
}, []string{"kind"})

// Handle is an opaque session reference handed to callers.
type Handle [16]byte

func NewHandle() (Handle, error) {
	var h Handle
	if _, err := rand.Read(h[:]); err != nil {
		return Handle{}, kerr.Wrapf(kerr.ErrPrimitiveFailure, "registry: %v", err)
	}
	return h, nil
}

func ParseHandle(s string) (Handle, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(Handle{}) {
		return Handle{}, kerr.Wrapf(kerr.ErrInvalidState, "registry: malformed handle %q", s)
	}
	var h Handle
	copy(h[:], b)
	return h, nil
}

func (h Handle) String() string { return hex.EncodeToString(h[:]) }

// Kind tells the session types apart.
type Kind uint8

const (
	KindClassic Kind = iota + 1
	KindTriple
)

func (k Kind) String() string {
	switch k {
	case KindClassic:
		return "classic"
	case KindTriple:
		return "triple"
	default:
		return "unknown"
	}
}

// Session is anything the registry can tear down. Close must zeroize.
type Session interface {
	Close() error
}

type entry struct {
	sess     Session
	kind     Kind
	peer     identity.PeerID
	created  time.Time
	lastUsed atomic.Int64 // unix nanoseconds
}

// Info describes a registered session.
type Info struct {
	Handle   Handle
	Kind     Kind
	Peer     identity.PeerID
	Created  time.Time
	LastUsed time.Time
}

// Registry maps handles to live sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	closed  bool
	idle    time.Duration
	log     *logrus.Entry
}

// New creates a registry. Sessions unused for longer than idle are removed
// by Sweep; idle <= 0 disables sweeping.
func New(idle time.Duration, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		entries: make(map[Handle]*entry),
		idle:    idle,
		log:     log,
	}
}

// Register stores s under a fresh handle. It fails once CloseAll has run;
// the caller still owns s then.
func (r *Registry) Register(s Session, kind Kind) (Handle, error) {
	h, err := NewHandle()
	if err != nil {
		return Handle{}, err
	}
	now := time.Now()
	e := &entry{sess: s, kind: kind, created: now}
	e.lastUsed.Store(now.UnixNano())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Handle{}, kerr.Wrapf(kerr.ErrInvalidState, "registry: closed")
	}
	r.entries[h] = e
	r.mu.Unlock()

	liveSessions.WithLabelValues(kind.String()).Inc()
	r.log.WithFields(logrus.Fields{
		"function": "Register",
		"handle":   h.String()[:8],
		"kind":     kind.String(),
	}).Debug("session registered")
	return h, nil
}

// Lookup returns the session for h and marks it used.
func (r *Registry) Lookup(h Handle) (Session, Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, 0, r.unknown(h)
	}
	e.lastUsed.Store(time.Now().UnixNano())
	return e.sess, e.kind, nil
}

// Info describes h.
func (r *Registry) Info(h Handle) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return Info{}, r.unknown(h)
	}
	return e.info(h), nil
}

// SetPeer associates h with a peer.
func (r *Registry) SetPeer(h Handle, peer identity.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return r.unknown(h)
	}
	e.peer = peer
	return nil
}

// FindByPeer returns the handles associated with peer, oldest first.
func (r *Registry) FindByPeer(peer identity.PeerID) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []Info
	for h, e := range r.entries {
		if e.peer == peer {
			found = append(found, e.info(h))
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Created.Before(found[j].Created) })
	out := make([]Handle, len(found))
	for i, inf := range found {
		out[i] = inf.Handle
	}
	return out
}

// Cleanup zeroizes the session behind h and invalidates the handle. Close
// runs under the registry lock, so no new lookup of h can succeed while
// the session is torn down.
func (r *Registry) Cleanup(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return r.unknown(h)
	}
	return r.remove(h, e, "cleanup")
}

// Sweep tears down every session idle since before now minus the idle
// timeout and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idle).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for h, e := range r.entries {
		if e.lastUsed.Load() < cutoff {
			_ = r.remove(h, e, "idle")
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CloseAll tears down every session and refuses later registrations.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := len(r.entries)
	for h, e := range r.entries {
		_ = r.remove(h, e, "shutdown")
	}
	return n
}

func (r *Registry) remove(h Handle, e *entry, reason string) error {
	delete(r.entries, h)
	liveSessions.WithLabelValues(e.kind.String()).Dec()
	err := e.sess.Close()
	r.log.WithFields(logrus.Fields{
		"function": "Cleanup",
		"handle":   h.String()[:8],
		"kind":     e.kind.String(),
		"reason":   reason,
	}).Info("session destroyed")
	return err
}

func (r *Registry) unknown(h Handle) error {
	return kerr.Wrapf(kerr.ErrInvalidState, "registry: unknown session handle %s", h.String()[:8])
}

func (e *entry) info(h Handle) Info {
	return Info{
		Handle:   h,
		Kind:     e.kind,
		Peer:     e.peer,
		Created:  e.created,
		LastUsed: time.Unix(0, e.lastUsed.Load()),
	}
}
