package kyberium

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/config"
	"github.com/TheusHen/kyberium/kyberium/directory"
	"github.com/TheusHen/kyberium/kyberium/identity"
	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/protocol"
	"github.com/TheusHen/kyberium/kyberium/registry"
	"github.com/TheusHen/kyberium/kyberium/session"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
	"github.com/TheusHen/kyberium/kyberium/triple"
)

// Handle references a session owned by an Engine.
type Handle = registry.Handle

// Mode selects the session flavour created by NewSession.
type Mode uint8

const (
	// ModeClassic is a one-shot KEM handshake followed by symmetric chains.
	ModeClassic Mode = iota + 1
	// ModeTriple is the signed Triple Ratchet.
	ModeTriple
)

func (m Mode) String() string {
	switch m {
	case ModeClassic:
		return "classic"
	case ModeTriple:
		return "triple"
	default:
		return "unknown"
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The configured level and output are applied
// to it. Without this option the engine logs through a private logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// keyed is the surface shared by both session flavours.
type keyed interface {
	registry.Session
	Sign(msg []byte) ([]byte, error)
	Verify(msg, sig, pub []byte) (bool, error)
	KemPublicKey() ([]byte, error)
	SignPublicKey() ([]byte, error)
	GenerateKemKeypair() ([]byte, error)
	GenerateSignatureKeypair() ([]byte, error)
	Stats() telemetry.Stats
}

// Engine owns every session it creates. All methods are safe for
// concurrent use; operations on one session are serialized by the session.
type Engine struct {
	cfg      *config.Config
	provider *primitive.Provider
	kdf      *kdf.KDF
	sessions *registry.Registry
	stats    *telemetry.Recorder
	logger   *logrus.Logger
	log      *logrus.Entry
	closed   atomic.Bool
}

// New builds an Engine from cfg. A nil cfg selects the defaults.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	} else if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	cfg.ApplyLogging(e.logger)
	e.log = e.logger.WithField("component", "kyberium")

	var err error
	if e.provider, err = cfg.Provider(); err != nil {
		return nil, err
	}
	if e.kdf, err = cfg.KDFInstance(); err != nil {
		return nil, err
	}
	e.stats = telemetry.NewRecorder(nil)
	e.sessions = registry.New(cfg.Idle(), e.log)

	e.log.WithFields(logrus.Fields{
		"function":  "New",
		"kem":       e.provider.KEM.Name(),
		"signature": e.provider.Signer.Name(),
		"aead":      e.provider.AEAD.Name(),
		"kdf":       e.kdf.Name(),
	}).Info("engine ready")
	return e, nil
}

// Provider returns the engine's primitive provider.
func (e *Engine) Provider() *primitive.Provider { return e.provider }

// Collector exposes the process-wide statistics to Prometheus.
func (e *Engine) Collector() *telemetry.Collector {
	return telemetry.NewCollector("kyberium", e.stats)
}

// NewSession creates a session and returns its handle.
func (e *Engine) NewSession(mode Mode) (Handle, error) {
	if e.closed.Load() {
		return Handle{}, kerr.Wrapf(kerr.ErrInvalidState, "kyberium: engine closed")
	}
	opts := session.Options{
		Provider: e.provider,
		KDF:      e.kdf,
		MaxSkip:  e.cfg.MaxSkippedKeys,
		Stats:    e.stats,
		Logger:   e.log,
	}
	var (
		s    registry.Session
		kind registry.Kind
		err  error
	)
	switch mode {
	case ModeClassic:
		s, err = session.NewClassic(opts)
		kind = registry.KindClassic
	case ModeTriple:
		s, err = triple.New(opts)
		kind = registry.KindTriple
	default:
		return Handle{}, kerr.Wrapf(kerr.ErrInvalidState, "kyberium: unknown session mode %d", mode)
	}
	if err != nil {
		return Handle{}, err
	}
	// Register fails once Close has emptied the registry.
	h, err := e.sessions.Register(s, kind)
	if err != nil {
		_ = s.Close()
		return Handle{}, err
	}
	return h, nil
}

// InitSession generates the local KEM keypair of a classic session and
// returns its public key for the peer.
func (e *Engine) InitSession(h Handle) ([]byte, error) {
	s, err := e.classic(h)
	if err != nil {
		return nil, err
	}
	return s.InitSession()
}

// InitSessionWithPeer encapsulates to peerPublic and returns the handshake
// blob for the peer's CompleteHandshake.
func (e *Engine) InitSessionWithPeer(h Handle, peerPublic []byte) ([]byte, error) {
	s, err := e.classic(h)
	if err != nil {
		return nil, err
	}
	return s.InitSessionWithPeer(peerPublic)
}

// CompleteHandshake finishes the responder side of a classic handshake.
func (e *Engine) CompleteHandshake(h Handle, blob []byte) (bool, error) {
	s, err := e.classic(h)
	if err != nil {
		return false, err
	}
	return s.CompleteHandshake(blob)
}

// Encrypt seals plaintext on a classic session.
func (e *Engine) Encrypt(h Handle, plaintext []byte) (ciphertext, nonce []byte, err error) {
	return e.EncryptWithAAD(h, plaintext, nil)
}

// EncryptWithAAD seals plaintext bound to aad on a classic session.
func (e *Engine) EncryptWithAAD(h Handle, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	s, err := e.classic(h)
	if err != nil {
		return nil, nil, err
	}
	return s.Encrypt(plaintext, aad)
}

// Decrypt opens a classic session ciphertext.
func (e *Engine) Decrypt(h Handle, ciphertext, nonce []byte) ([]byte, error) {
	return e.DecryptWithAAD(h, ciphertext, nonce, nil)
}

// DecryptWithAAD opens a classic session ciphertext bound to aad.
func (e *Engine) DecryptWithAAD(h Handle, ciphertext, nonce, aad []byte) ([]byte, error) {
	s, err := e.classic(h)
	if err != nil {
		return nil, err
	}
	return s.Decrypt(ciphertext, nonce, aad)
}

// Sign signs msg with the session's signature key.
func (e *Engine) Sign(h Handle, msg []byte) ([]byte, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	return s.Sign(msg)
}

// Verify checks sig over msg. A nil pub selects the pinned peer key and
// then the session's own key. A mismatch is (false, nil).
func (e *Engine) Verify(h Handle, msg, sig, pub []byte) (bool, error) {
	s, err := e.keyed(h)
	if err != nil {
		return false, err
	}
	return s.Verify(msg, sig, pub)
}

// InitTripleRatchet starts the initiator side of a Triple Ratchet.
func (e *Engine) InitTripleRatchet(h Handle, peerKemPublic, peerSignPublic []byte) (*triple.InitMessage, error) {
	s, err := e.triple(h)
	if err != nil {
		return nil, err
	}
	m, err := s.Init(peerKemPublic, peerSignPublic)
	if err != nil {
		return nil, err
	}
	e.bindPeer(h, peerSignPublic, "InitTripleRatchet")
	return m, nil
}

// CompleteTripleRatchetHandshake finishes the responder side of a Triple
// Ratchet. A bad signature is (false, ErrAuthFailure).
func (e *Engine) CompleteTripleRatchetHandshake(h Handle, kemCiphertext, kemSignature, peerSignPublic []byte) (bool, error) {
	s, err := e.triple(h)
	if err != nil {
		return false, err
	}
	ok, err := s.Complete(kemCiphertext, kemSignature, peerSignPublic)
	if ok {
		e.bindPeer(h, peerSignPublic, "CompleteTripleRatchetHandshake")
	}
	return ok, err
}

// InitTripleRatchetWithBundle verifies b and starts a Triple Ratchet
// against the keys it announces.
func (e *Engine) InitTripleRatchetWithBundle(h Handle, b *protocol.Bundle) (*triple.InitMessage, error) {
	if err := b.Verify(e.provider); err != nil {
		return nil, err
	}
	return e.InitTripleRatchet(h, b.KEMPublicKey, b.SignPublicKey)
}

// InitTripleRatchetFromDirectory resolves peer through r and starts a
// Triple Ratchet against the bundle on record.
func (e *Engine) InitTripleRatchetFromDirectory(h Handle, r directory.Resolver, peer identity.PeerID) (*triple.InitMessage, error) {
	b, err := r.Lookup(peer)
	if err != nil {
		return nil, err
	}
	return e.InitTripleRatchetWithBundle(h, b)
}

// Bundle returns a bundle announcing the session's KEM and signature
// public keys, signed with the session's signature key. A KEM keypair is
// generated on first use.
func (e *Engine) Bundle(h Handle, capabilities map[string]string) (*protocol.Bundle, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	kemPub, err := s.KemPublicKey()
	if err != nil {
		return nil, err
	}
	signPub, err := s.SignPublicKey()
	if err != nil {
		return nil, err
	}
	signer := sessionSigner{public: signPub, sess: s}
	b, err := protocol.NewBundle(e.provider, signer, kemPub, capabilities)
	if err != nil {
		return nil, err
	}
	if err := b.Sign(signer); err != nil {
		return nil, err
	}
	return b, nil
}

// Publish announces the session's bundle to r and returns the PeerID it is
// filed under.
func (e *Engine) Publish(h Handle, r directory.Resolver, capabilities map[string]string) (identity.PeerID, error) {
	b, err := e.Bundle(h, capabilities)
	if err != nil {
		return identity.PeerID{}, err
	}
	if err := r.Announce(b); err != nil {
		return identity.PeerID{}, err
	}
	e.log.WithFields(logrus.Fields{
		"function": "Publish",
		"peer":     b.PeerID.ShortString(),
	}).Debug("bundle announced")
	return b.PeerID, nil
}

// TripleEncrypt ratchets and seals plaintext.
func (e *Engine) TripleEncrypt(h Handle, plaintext []byte) (*triple.Message, error) {
	return e.TripleEncryptWithAAD(h, plaintext, nil)
}

// TripleEncryptWithAAD ratchets and seals plaintext bound to aad.
func (e *Engine) TripleEncryptWithAAD(h Handle, plaintext, aad []byte) (*triple.Message, error) {
	s, err := e.triple(h)
	if err != nil {
		return nil, err
	}
	return s.Encrypt(plaintext, aad)
}

// TripleDecrypt verifies and opens a ratchet message.
func (e *Engine) TripleDecrypt(h Handle, ciphertext, nonce, signature []byte, msgNum uint64, peerSignPublic []byte) ([]byte, error) {
	return e.TripleDecryptWithAAD(h, ciphertext, nonce, signature, msgNum, peerSignPublic, nil)
}

// TripleDecryptWithAAD verifies and opens a ratchet message bound to aad.
func (e *Engine) TripleDecryptWithAAD(h Handle, ciphertext, nonce, signature []byte, msgNum uint64, peerSignPublic, aad []byte) ([]byte, error) {
	s, err := e.triple(h)
	if err != nil {
		return nil, err
	}
	return s.Decrypt(ciphertext, nonce, signature, msgNum, peerSignPublic, aad)
}

// GenerateKemKeypair replaces the session's KEM keypair and returns the
// new public key. Private keys stay inside the session.
func (e *Engine) GenerateKemKeypair(h Handle) ([]byte, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	return s.GenerateKemKeypair()
}

// GenerateSignatureKeypair replaces the session's signature keypair and
// returns the new public key.
func (e *Engine) GenerateSignatureKeypair(h Handle) ([]byte, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	return s.GenerateSignatureKeypair()
}

// GetKemPublicKey returns the session's KEM public key, generating the
// keypair on first use.
func (e *Engine) GetKemPublicKey(h Handle) ([]byte, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	return s.KemPublicKey()
}

// GetSignaturePublicKey returns the session's current signature public key.
func (e *Engine) GetSignaturePublicKey(h Handle) ([]byte, error) {
	s, err := e.keyed(h)
	if err != nil {
		return nil, err
	}
	return s.SignPublicKey()
}

// Rekey refreshes the session with a new KEM secret and returns the opaque
// payload for the peer's AcceptRekey. ok is false when the peer's KEM
// public key is unknown.
func (e *Engine) Rekey(h Handle) (payload []byte, ok bool, err error) {
	s, kind, err := e.lookup(h)
	if err != nil {
		return nil, false, err
	}
	switch kind {
	case registry.KindClassic:
		return s.(*session.Classic).Rekey()
	case registry.KindTriple:
		m, sent, rerr := s.(*triple.Session).Rekey()
		if rerr != nil || !sent {
			return nil, sent, rerr
		}
		b, merr := protocol.EncodeRekey(m)
		if merr != nil {
			return nil, false, merr
		}
		return b, true, nil
	}
	return nil, false, e.kindErr(h, kind, "Rekey")
}

// AcceptRekey applies a payload produced by the peer's Rekey.
func (e *Engine) AcceptRekey(h Handle, payload []byte) (bool, error) {
	s, kind, err := e.lookup(h)
	if err != nil {
		return false, err
	}
	switch kind {
	case registry.KindClassic:
		return s.(*session.Classic).AcceptRekey(payload)
	case registry.KindTriple:
		m, err := protocol.DecodeRekey(payload)
		if err != nil {
			return false, err
		}
		return s.(*triple.Session).AcceptRekey(m)
	}
	return false, e.kindErr(h, kind, "AcceptRekey")
}

// SetPeerKemPublicKey records the peer's KEM public key so the responder
// side can Rekey.
func (e *Engine) SetPeerKemPublicKey(h Handle, pub []byte) error {
	s, kind, err := e.lookup(h)
	if err != nil {
		return err
	}
	switch kind {
	case registry.KindClassic:
		return s.(*session.Classic).SetPeerPublicKey(pub)
	case registry.KindTriple:
		return s.(*triple.Session).SetPeerKemPublicKey(pub)
	}
	return e.kindErr(h, kind, "SetPeerKemPublicKey")
}

// PerformanceStats returns the process-wide statistics.
func (e *Engine) PerformanceStats() telemetry.Stats { return e.stats.Snapshot() }

// SessionStats returns the statistics of one session.
func (e *Engine) SessionStats(h Handle) (telemetry.Stats, error) {
	s, err := e.keyed(h)
	if err != nil {
		return telemetry.Stats{}, err
	}
	return s.Stats(), nil
}

// SessionInfo describes a session without touching it.
func (e *Engine) SessionInfo(h Handle) (registry.Info, error) {
	return e.sessions.Info(h)
}

// PeerSessions returns the sessions bound to peer, oldest first.
func (e *Engine) PeerSessions(peer identity.PeerID) []Handle {
	return e.sessions.FindByPeer(peer)
}

// Cleanup zeroizes the session and invalidates h.
func (e *Engine) Cleanup(h Handle) error {
	return e.sessions.Cleanup(h)
}

// SweepIdle destroys sessions idle past the configured timeout and returns
// how many were removed.
func (e *Engine) SweepIdle() int {
	return e.sessions.Sweep(time.Now())
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int { return e.sessions.Count() }

// Close destroys every session. The engine refuses new sessions afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := e.sessions.CloseAll()
	e.log.WithFields(logrus.Fields{"function": "Close", "sessions": n}).Info("engine closed")
	return nil
}

// bindPeer records the peer behind h. The handle may have been cleaned up
// concurrently, which only costs the binding.
func (e *Engine) bindPeer(h Handle, peerSignPublic []byte, fn string) {
	if err := e.sessions.SetPeer(h, identity.PeerIDFromPublicKey(peerSignPublic)); err != nil {
		e.log.WithField("function", fn).WithError(err).Debug("peer binding dropped")
	}
}

// sessionSigner signs bundles with a session's key without exporting it.
type sessionSigner struct {
	public []byte
	sess   keyed
}

func (s sessionSigner) PublicKey() []byte { return s.public }

func (s sessionSigner) Sign(message []byte) ([]byte, error) { return s.sess.Sign(message) }

func (e *Engine) lookup(h Handle) (registry.Session, registry.Kind, error) {
	return e.sessions.Lookup(h)
}

func (e *Engine) keyed(h Handle) (keyed, error) {
	s, kind, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	k, ok := s.(keyed)
	if !ok {
		return nil, e.kindErr(h, kind, "keyed")
	}
	return k, nil
}

func (e *Engine) classic(h Handle) (*session.Classic, error) {
	s, kind, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	c, ok := s.(*session.Classic)
	if !ok {
		return nil, e.kindErr(h, kind, "classic")
	}
	return c, nil
}

func (e *Engine) triple(h Handle) (*triple.Session, error) {
	s, kind, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	t, ok := s.(*triple.Session)
	if !ok {
		return nil, e.kindErr(h, kind, "triple")
	}
	return t, nil
}

func (e *Engine) kindErr(h Handle, kind registry.Kind, want string) error {
	return kerr.Wrapf(kerr.ErrInvalidState, "kyberium: session %s is %s, want %s", h.String()[:8], kind, want)
}
