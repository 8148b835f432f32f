package session

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/ratchet"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
)

// State is the lifecycle state of a Classic session.
type State uint8

const (
	StateUnstarted State = iota
	StateInitiated
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateInitiated:
		return "Initiated"
	case StateEstablished:
		return "Established"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Role records which side of the handshake a session took.
type Role uint8

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "none"
	}
}

const (
	confirmSize = 32
	epochSize   = 4
)

var (
	labelConfirm = []byte("kyberium classic confirm")
	labelClassic = []byte("kyberium classic")
)

// Classic is a KEM-established session with one symmetric ratchet per
// direction.
//
// The handshake blob is kemCiphertext || confirm, where confirm is an
// HMAC-SHA3-256 under a key derived next to the root key. A rekey blob is
// epoch || kemCiphertext || confirm. Message nonces are epoch || index,
// which makes every (key, nonce) pair unique and lets the receiver find the
// key for out-of-order messages.
type Classic struct {
	mu    sync.Mutex
	opts  Options
	id    ID
	state State
	role  Role
	keys  *Keyring
	root  []byte
	epoch uint32
	send  *ratchet.Chain
	recv  *ratchet.Receiver

	sent     uint64
	received uint64

	stats *telemetry.Recorder
	log   *logrus.Entry
}

// NewClassic creates an Unstarted session with a fresh signature keypair.
func NewClassic(opts Options) (*Classic, error) {
	if err := opts.Fixup(); err != nil {
		return nil, err
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	stats := telemetry.NewRecorder(opts.Stats)
	keys, err := NewKeyring(opts.Provider, stats)
	if err != nil {
		return nil, err
	}
	return &Classic{
		opts:  opts,
		id:    id,
		keys:  keys,
		stats: stats,
		log:   opts.Logger.WithField("session", id.Short()),
	}, nil
}

// ID returns the session identifier.
func (s *Classic) ID() ID { return s.id }

// State returns the current lifecycle state.
func (s *Classic) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the handshake role, or RoleNone before the handshake.
func (s *Classic) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// InitSession generates the local KEM keypair and returns its public half
// for the peer to encapsulate against.
func (s *Classic) InitSession() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnstarted {
		return nil, s.stateErr("InitSession")
	}
	if err := s.keys.RotateKEM(); err != nil {
		return nil, err
	}
	s.state = StateInitiated
	s.log.WithField("function", "InitSession").Debug("local KEM keypair generated")
	return primitive.Clone(s.keys.KEM.Public), nil
}

// InitSessionWithPeer encapsulates against the peer's KEM public key and
// establishes the session as initiator. The returned blob must reach the
// peer's CompleteHandshake.
func (s *Classic) InitSessionWithPeer(peerPublic []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnstarted && s.state != StateInitiated {
		return nil, s.stateErr("InitSessionWithPeer")
	}
	if err := s.keys.SetPeerKEMPublic(peerPublic); err != nil {
		return nil, err
	}
	if err := s.keys.EnsureKEM(); err != nil {
		return nil, err
	}

	ct, ss, err := s.opts.Provider.KEM.Encapsulate(peerPublic)
	if err != nil {
		return nil, err
	}
	defer primitive.Wipe(ss)

	root, confirm, err := s.opts.KDF.DeriveRoot(ss, classicTranscript(peerPublic, ct))
	if err != nil {
		return nil, err
	}
	defer primitive.Wipe(confirm)

	if err := s.install(root, RoleInitiator, 0); err != nil {
		primitive.Wipe(root)
		return nil, err
	}
	s.state = StateEstablished
	s.log.WithFields(logrus.Fields{
		"function": "InitSessionWithPeer",
		"role":     s.role.String(),
	}).Info("classic session established")

	return append(ct, confirmTag(confirm, 0, ct)...), nil
}

// CompleteHandshake decapsulates the initiator's blob with the local KEM
// key and establishes the session as responder. It returns false together
// with a kerr error when the blob is malformed or fails confirmation.
func (s *Classic) CompleteHandshake(blob []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitiated {
		return false, s.stateErr("CompleteHandshake")
	}
	ctSize := s.opts.Provider.KEM.CiphertextSize()
	if len(blob) != ctSize+confirmSize {
		return false, kerr.Wrapf(kerr.ErrInvalidCiphertext, "session: handshake is %d bytes, want %d", len(blob), ctSize+confirmSize)
	}
	ct, tag := blob[:ctSize], blob[ctSize:]

	ss, err := s.opts.Provider.KEM.Decapsulate(ct, s.keys.KEM.Private)
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(ss)

	root, confirm, err := s.opts.KDF.DeriveRoot(ss, classicTranscript(s.keys.KEM.Public, ct))
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(confirm)

	if !hmac.Equal(tag, confirmTag(confirm, 0, ct)) {
		primitive.Wipe(root)
		s.log.WithField("function", "CompleteHandshake").Warn("handshake confirmation failed")
		return false, kerr.Wrapf(kerr.ErrAuthFailure, "session: handshake confirmation failed")
	}
	if err := s.install(root, RoleResponder, 0); err != nil {
		primitive.Wipe(root)
		return false, err
	}
	s.state = StateEstablished
	s.log.WithFields(logrus.Fields{
		"function": "CompleteHandshake",
		"role":     s.role.String(),
	}).Info("classic session established")
	return true, nil
}

// install adopts root and derives both chains. Callers hold s.mu.
func (s *Classic) install(root []byte, role Role, epoch uint32) error {
	initKey, respKey, err := s.opts.KDF.Chains(root)
	if err != nil {
		return err
	}
	defer primitive.Wipe(initKey)
	defer primitive.Wipe(respKey)

	sendKey, recvKey := initKey, respKey
	if role == RoleResponder {
		sendKey, recvKey = respKey, initKey
	}
	params := s.opts.ChainParams(false)
	send, err := ratchet.NewChain(params, sendKey, 0)
	if err != nil {
		return err
	}
	recv, err := ratchet.NewReceiver(params, recvKey, 0, s.opts.MaxSkip)
	if err != nil {
		send.Wipe()
		return err
	}

	if s.send != nil {
		s.send.Wipe()
	}
	if s.recv != nil {
		s.recv.Wipe()
	}
	primitive.Wipe(s.root)
	s.root, s.role, s.epoch = root, role, epoch
	s.send, s.recv = send, recv
	return nil
}

// Encrypt seals plaintext under a fresh message key. The nonce carries the
// epoch and chain index and must travel with the ciphertext.
func (s *Classic) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, nil, s.stateErr("Encrypt")
	}
	mk, err := s.send.Next()
	if err != nil {
		return nil, nil, err
	}
	defer mk.Wipe()

	nonce = make([]byte, primitive.NonceSize)
	binary.BigEndian.PutUint32(nonce[:epochSize], s.epoch)
	binary.BigEndian.PutUint64(nonce[epochSize:], mk.Index)

	ciphertext, err = s.opts.Provider.AEAD.Seal(mk.Key, nonce, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	s.sent++
	s.stats.Observe(telemetry.OpEncrypt, time.Since(begin))
	return ciphertext, nonce, nil
}

// Decrypt opens a message produced by the peer's Encrypt. Any problem with
// the nonce or ciphertext is reported as kerr.ErrAuthFailure.
func (s *Classic) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, s.stateErr("Decrypt")
	}
	if len(nonce) != primitive.NonceSize {
		return nil, kerr.Wrapf(kerr.ErrAuthFailure, "session: nonce is %d bytes", len(nonce))
	}
	epoch := binary.BigEndian.Uint32(nonce[:epochSize])
	index := binary.BigEndian.Uint64(nonce[epochSize:])
	if epoch != s.epoch {
		return nil, kerr.Wrapf(kerr.ErrAuthFailure, "session: message from epoch %d, current %d", epoch, s.epoch)
	}

	pt, err := s.recv.Open(index, func(mk ratchet.MessageKey) ([]byte, error) {
		return s.opts.Provider.AEAD.Open(mk.Key, nonce, ciphertext, aad)
	})
	if err != nil {
		if errors.Is(err, kerr.ErrPrimitiveFailure) {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"function": "Decrypt",
			"index":    index,
		}).Warn("message rejected")
		return nil, kerr.Wrapf(kerr.ErrAuthFailure, "session: message %d rejected: %v", index, err)
	}
	s.received++
	s.stats.Observe(telemetry.OpDecrypt, time.Since(begin))
	return pt, nil
}

// Rekey runs a fresh KEM round against the peer's KEM public key, mixes the
// new secret into the root and re-derives both chains. It returns the blob
// for the peer's AcceptRekey, or ok=false when the peer key is unknown.
func (s *Classic) Rekey() (blob []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, false, s.stateErr("Rekey")
	}
	if len(s.keys.PeerKEMPublic) == 0 {
		return nil, false, nil
	}
	ct, ss, err := s.opts.Provider.KEM.Encapsulate(s.keys.PeerKEMPublic)
	if err != nil {
		return nil, false, err
	}
	defer primitive.Wipe(ss)

	epoch := s.epoch + 1
	next, confirm, err := s.opts.KDF.RatchetStep(s.root, ss, confirmSize)
	if err != nil {
		return nil, false, err
	}
	defer primitive.Wipe(confirm)
	if err := s.install(next, s.role, epoch); err != nil {
		primitive.Wipe(next)
		return nil, false, err
	}

	blob = make([]byte, epochSize, epochSize+len(ct)+confirmSize)
	binary.BigEndian.PutUint32(blob, epoch)
	blob = append(blob, ct...)
	blob = append(blob, confirmTag(confirm, epoch, ct)...)

	s.log.WithFields(logrus.Fields{"function": "Rekey", "epoch": epoch}).Info("session rekeyed")
	return blob, true, nil
}

// AcceptRekey applies a rekey blob produced by the peer's Rekey.
func (s *Classic) AcceptRekey(blob []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return false, s.stateErr("AcceptRekey")
	}
	if len(s.keys.KEM.Private) == 0 {
		return false, nil
	}
	ctSize := s.opts.Provider.KEM.CiphertextSize()
	if len(blob) != epochSize+ctSize+confirmSize {
		return false, kerr.Wrapf(kerr.ErrInvalidCiphertext, "session: rekey is %d bytes, want %d", len(blob), epochSize+ctSize+confirmSize)
	}
	epoch := binary.BigEndian.Uint32(blob[:epochSize])
	ct := blob[epochSize : epochSize+ctSize]
	tag := blob[epochSize+ctSize:]
	if epoch != s.epoch+1 {
		return false, kerr.Wrapf(kerr.ErrReplayOrGap, "session: rekey to epoch %d, current %d", epoch, s.epoch)
	}

	ss, err := s.opts.Provider.KEM.Decapsulate(ct, s.keys.KEM.Private)
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(ss)

	next, confirm, err := s.opts.KDF.RatchetStep(s.root, ss, confirmSize)
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(confirm)
	if !hmac.Equal(tag, confirmTag(confirm, epoch, ct)) {
		primitive.Wipe(next)
		s.log.WithField("function", "AcceptRekey").Warn("rekey confirmation failed")
		return false, kerr.Wrapf(kerr.ErrAuthFailure, "session: rekey confirmation failed")
	}
	if err := s.install(next, s.role, epoch); err != nil {
		primitive.Wipe(next)
		return false, err
	}
	s.log.WithFields(logrus.Fields{"function": "AcceptRekey", "epoch": epoch}).Info("session rekeyed by peer")
	return true, nil
}

// SetPeerPublicKey records the peer's KEM public key, which a responder
// needs before it can initiate a rekey.
func (s *Classic) SetPeerPublicKey(pub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.stateErr("SetPeerPublicKey")
	}
	return s.keys.SetPeerKEMPublic(pub)
}

// SetPeerSignPublicKey records the key Verify uses by default.
func (s *Classic) SetPeerSignPublicKey(pub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.stateErr("SetPeerSignPublicKey")
	}
	return s.keys.SetPeerSignPublic(pub)
}

// Sign signs msg with the session's signature key.
func (s *Classic) Sign(msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("Sign")
	}
	return s.keys.SignMessage(msg)
}

// Verify checks sig over msg. A nil pub selects the peer signature key
// when known, otherwise the session's own key.
func (s *Classic) Verify(msg, sig, pub []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false, s.stateErr("Verify")
	}
	return s.keys.VerifyMessage(msg, sig, pub)
}

// KemPublicKey returns the local KEM public key, generating the keypair on
// first use.
func (s *Classic) KemPublicKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("KemPublicKey")
	}
	if err := s.keys.EnsureKEM(); err != nil {
		return nil, err
	}
	return primitive.Clone(s.keys.KEM.Public), nil
}

// SignPublicKey returns the local signature public key.
func (s *Classic) SignPublicKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("SignPublicKey")
	}
	return primitive.Clone(s.keys.Sign.Public), nil
}

// GenerateKemKeypair replaces the local KEM keypair and returns the new
// public key. The private key never leaves the session.
func (s *Classic) GenerateKemKeypair() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("GenerateKemKeypair")
	}
	if err := s.keys.RotateKEM(); err != nil {
		return nil, err
	}
	return primitive.Clone(s.keys.KEM.Public), nil
}

// GenerateSignatureKeypair replaces the local signature keypair and
// returns the new public key.
func (s *Classic) GenerateSignatureKeypair() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("GenerateSignatureKeypair")
	}
	if err := s.keys.RotateSign(); err != nil {
		return nil, err
	}
	return primitive.Clone(s.keys.Sign.Public), nil
}

// Counters returns the number of messages sent and received.
func (s *Classic) Counters() (sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.received
}

// Epoch returns the number of completed rekeys.
func (s *Classic) Epoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Stats returns the session's telemetry snapshot.
func (s *Classic) Stats() telemetry.Stats { return s.stats.Snapshot() }

// Close zeroizes every key the session holds and moves it to Closed.
// Close waits for in-flight operations and is idempotent.
func (s *Classic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.keys.Wipe()
	if s.send != nil {
		s.send.Wipe()
	}
	if s.recv != nil {
		s.recv.Wipe()
	}
	primitive.Wipe(s.root)
	s.root, s.send, s.recv = nil, nil, nil
	s.state = StateClosed
	s.stats.Reset()
	s.log.WithField("function", "Close").Debug("session keys destroyed")
	return nil
}

func (s *Classic) stateErr(op string) error {
	return kerr.Wrapf(kerr.ErrInvalidState, "session: %s not allowed in state %s", op, s.state)
}

func classicTranscript(responderPublic, ct []byte) []byte {
	h := sha3.New256()
	h.Write(labelClassic)
	h.Write(responderPublic)
	h.Write(ct)
	return h.Sum(nil)
}

func confirmTag(key []byte, epoch uint32, ct []byte) []byte {
	var e [epochSize]byte
	binary.BigEndian.PutUint32(e[:], epoch)
	m := hmac.New(sha3.New256, key)
	m.Write(labelConfirm)
	m.Write(e[:])
	m.Write(ct)
	return m.Sum(nil)
}
