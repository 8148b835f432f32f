package triple

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/ratchet"
	"github.com/TheusHen/kyberium/kyberium/session"
	"github.com/TheusHen/kyberium/kyberium/telemetry"
)

// State is the lifecycle state of a Triple Ratchet session.
type State uint8

const (
	StateIdle State = iota
	StateInitiating
	StateAwaitingResponse
	StateResponding
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitiating:
		return "Initiating"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateResponding:
		return "Responding"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

var labelTranscript = []byte("kyberium triple")

// Session is one end of a Triple Ratchet: a KEM handshake authenticated by
// signatures, a signature on every message and a symmetric ratchet per
// direction. Each direction also has its own root chain, which a Rekey
// advances with a fresh KEM secret.
//
// Locking: sendMu serializes everything that touches the sending chain.
// mu guards the remaining state; Encrypt and Decrypt hold it shared, state
// transitions hold it exclusively. The receiving chain and its skipped-key
// cache carry their own locks, so decrypts run alongside encrypts.
type Session struct {
	sendMu sync.Mutex
	mu     sync.RWMutex

	opts  session.Options
	id    session.ID
	state State
	role  session.Role
	keys  *session.Keyring

	root     []byte
	sendRoot []byte
	recvRoot []byte
	send     *ratchet.Chain
	recv     *ratchet.Receiver

	// prevRecv keeps the receiving chain replaced by the latest peer rekey
	// for messages numbered below recvFrom.
	prevRecv  *ratchet.Receiver
	recvFrom  uint64
	sendEpoch uint32
	recvEpoch uint32

	// pinnedAt is the message number that pinned the current peer
	// signature key. Older messages never displace it.
	pinnedAt    uint64
	pinnedByMsg bool

	stats *telemetry.Recorder
	log   *logrus.Entry
}

// New creates an Idle session with a fresh signature keypair.
func New(opts session.Options) (*Session, error) {
	if err := opts.Fixup(); err != nil {
		return nil, err
	}
	id, err := session.NewID()
	if err != nil {
		return nil, err
	}
	stats := telemetry.NewRecorder(opts.Stats)
	keys, err := session.NewKeyring(opts.Provider, stats)
	if err != nil {
		return nil, err
	}
	return &Session{
		opts:  opts,
		id:    id,
		keys:  keys,
		stats: stats,
		log:   opts.Logger.WithField("session", id.Short()),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() session.ID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Role returns the handshake role.
func (s *Session) Role() session.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Init starts the handshake as initiator: it encapsulates against the
// peer's KEM key, signs the ciphertext and derives both chains.
func (s *Session) Init(peerKemPublic, peerSignPublic []byte) (*InitMessage, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, s.stateErr("Init")
	}
	s.state = StateInitiating
	msg, err := s.initiate(peerKemPublic, peerSignPublic)
	if err != nil {
		s.state = StateIdle
		s.keys.PeerKEMPublic, s.keys.PeerSignPublic = nil, nil
		return nil, err
	}
	s.state = StateAwaitingResponse
	s.log.WithFields(logrus.Fields{
		"function": "Init",
		"role":     s.role.String(),
	}).Info("triple ratchet initiated")
	return msg, nil
}

func (s *Session) initiate(peerKemPublic, peerSignPublic []byte) (*InitMessage, error) {
	if err := s.keys.SetPeerKEMPublic(peerKemPublic); err != nil {
		return nil, err
	}
	if err := s.keys.SetPeerSignPublic(peerSignPublic); err != nil {
		return nil, err
	}
	ct, ss, err := s.opts.Provider.KEM.Encapsulate(peerKemPublic)
	if err != nil {
		return nil, err
	}
	defer primitive.Wipe(ss)

	sig, err := s.keys.SignMessage(ct)
	if err != nil {
		return nil, err
	}
	root, confirm, err := s.opts.KDF.DeriveRoot(ss, transcript(ct, s.keys.Sign.Public, peerSignPublic))
	if err != nil {
		return nil, err
	}
	primitive.Wipe(confirm)
	if err := s.install(root, session.RoleInitiator); err != nil {
		primitive.Wipe(root)
		return nil, err
	}
	return &InitMessage{
		KEMCiphertext: ct,
		KEMSignature:  sig,
		SignPublicKey: primitive.Clone(s.keys.Sign.Public),
	}, nil
}

// Complete finishes the handshake as responder. The signature over the KEM
// ciphertext is checked before anything is decapsulated; on failure the
// session stays Idle and Complete returns false with kerr.ErrAuthFailure.
func (s *Session) Complete(kemCiphertext, kemSignature, peerSignPublic []byte) (bool, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return false, s.stateErr("Complete")
	}
	if len(s.keys.KEM.Private) == 0 {
		return false, kerr.Wrapf(kerr.ErrInvalidState, "triple: no local KEM keypair")
	}
	if len(peerSignPublic) == 0 {
		return false, kerr.Wrapf(kerr.ErrInvalidKey, "triple: peer signature key required")
	}
	s.state = StateResponding
	if err := s.respond(kemCiphertext, kemSignature, peerSignPublic); err != nil {
		s.state = StateIdle
		s.keys.PeerSignPublic = nil
		return false, err
	}
	s.state = StateActive
	s.log.WithFields(logrus.Fields{
		"function": "Complete",
		"role":     s.role.String(),
	}).Info("triple ratchet established")
	return true, nil
}

func (s *Session) respond(ct, sig, peerSignPublic []byte) error {
	ok, err := s.keys.VerifyMessage(ct, sig, peerSignPublic)
	if err != nil {
		return err
	}
	if !ok {
		s.log.WithField("function", "Complete").Warn("handshake signature rejected")
		return kerr.Wrapf(kerr.ErrAuthFailure, "triple: handshake signature invalid")
	}
	ss, err := s.opts.Provider.KEM.Decapsulate(ct, s.keys.KEM.Private)
	if err != nil {
		return err
	}
	defer primitive.Wipe(ss)

	root, confirm, err := s.opts.KDF.DeriveRoot(ss, transcript(ct, peerSignPublic, s.keys.Sign.Public))
	if err != nil {
		return err
	}
	primitive.Wipe(confirm)
	if err := s.keys.SetPeerSignPublic(peerSignPublic); err != nil {
		primitive.Wipe(root)
		return err
	}
	if err := s.install(root, session.RoleResponder); err != nil {
		primitive.Wipe(root)
		return err
	}
	return nil
}

// install splits root into per-direction root chains and seeds the first
// sending and receiving chains from them. Callers hold both locks.
func (s *Session) install(root []byte, role session.Role) error {
	initRoot, respRoot, err := s.opts.KDF.Chains(root)
	if err != nil {
		return err
	}
	sendRoot, recvRoot := initRoot, respRoot
	if role == session.RoleResponder {
		sendRoot, recvRoot = respRoot, initRoot
	}
	defer primitive.Wipe(sendRoot)
	defer primitive.Wipe(recvRoot)

	nextSendRoot, sendKey, err := s.opts.KDF.RatchetStep(sendRoot, nil, kdf.ChainKeySize)
	if err != nil {
		return err
	}
	defer primitive.Wipe(sendKey)
	nextRecvRoot, recvKey, err := s.opts.KDF.RatchetStep(recvRoot, nil, kdf.ChainKeySize)
	if err != nil {
		primitive.Wipe(nextSendRoot)
		return err
	}
	defer primitive.Wipe(recvKey)

	params := s.opts.ChainParams(true)
	send, err := ratchet.NewChain(params, sendKey, 0)
	if err != nil {
		return err
	}
	recv, err := ratchet.NewReceiver(params, recvKey, 0, s.opts.MaxSkip)
	if err != nil {
		send.Wipe()
		return err
	}

	s.root, s.role = root, role
	s.sendRoot, s.recvRoot = nextSendRoot, nextRecvRoot
	s.send, s.recv = send, recv
	return nil
}

// Encrypt advances the sending chain by one step, seals plaintext and
// signs ciphertext || nonce || msgNum with the current signature key.
func (s *Session) Encrypt(plaintext, aad []byte) (*Message, error) {
	begin := time.Now()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateActive && s.state != StateAwaitingResponse {
		return nil, s.stateErr("Encrypt")
	}
	mk, err := s.send.Next()
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	ct, err := s.opts.Provider.AEAD.Seal(mk.Key, mk.Nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}
	nonce := primitive.Clone(mk.Nonce)
	sig, err := s.keys.SignMessage(signingBytes(ct, nonce, mk.Index))
	if err != nil {
		return nil, err
	}
	s.stats.Observe(telemetry.OpEncrypt, time.Since(begin))
	return &Message{
		Ciphertext:    ct,
		Nonce:         nonce,
		Signature:     sig,
		MsgNum:        mk.Index,
		SignPublicKey: primitive.Clone(s.keys.Sign.Public),
	}, nil
}

// Decrypt verifies the signature and then opens the message. A nil
// peerSignPublic selects the pinned peer key. A valid message signed with a
// different key pins that key, which is how peers rotate signature keys.
func (s *Session) Decrypt(ciphertext, nonce, signature []byte, msgNum uint64, peerSignPublic, aad []byte) ([]byte, error) {
	begin := time.Now()
	pt, pub, promote, err := s.open(ciphertext, nonce, signature, msgNum, peerSignPublic, aad)
	if err != nil {
		return nil, err
	}
	if pub != nil || promote {
		s.mu.Lock()
		if s.state != StateClosed {
			if pub != nil && s.newerThanPin(msgNum) && !bytes.Equal(pub, s.keys.PeerSignPublic) {
				s.keys.PeerSignPublic = pub
				s.pinnedAt, s.pinnedByMsg = msgNum, true
				s.log.WithFields(logrus.Fields{
					"function": "Decrypt",
					"msg_num":  msgNum,
				}).Info("peer signature key rotated")
			}
			if s.state == StateAwaitingResponse {
				s.state = StateActive
				s.log.WithField("function", "Decrypt").Debug("first response authenticated")
			}
		}
		s.mu.Unlock()
	}
	s.stats.Observe(telemetry.OpDecrypt, time.Since(begin))
	return pt, nil
}

// DecryptMessage is Decrypt for a whole Message.
func (s *Session) DecryptMessage(m *Message, aad []byte) ([]byte, error) {
	return s.Decrypt(m.Ciphertext, m.Nonce, m.Signature, m.MsgNum, m.SignPublicKey, aad)
}

func (s *Session) open(ct, nonce, sig []byte, msgNum uint64, peerSignPublic, aad []byte) (pt, rotated []byte, promote bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateActive && s.state != StateAwaitingResponse {
		return nil, nil, false, s.stateErr("Decrypt")
	}
	pub := peerSignPublic
	if pub == nil {
		pub = s.keys.PeerSignPublic
	}
	ok, err := s.keys.VerifyMessage(signingBytes(ct, nonce, msgNum), sig, pub)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		s.log.WithFields(logrus.Fields{
			"function": "Decrypt",
			"msg_num":  msgNum,
		}).Warn("message signature rejected")
		return nil, nil, false, kerr.Wrapf(kerr.ErrAuthFailure, "triple: signature on message %d invalid", msgNum)
	}

	recv := s.recv
	if msgNum < s.recvFrom {
		if s.prevRecv == nil {
			return nil, nil, false, kerr.Wrapf(kerr.ErrReplayOrGap, "triple: message %d predates the current chain", msgNum)
		}
		recv = s.prevRecv
	}
	pt, err = recv.Open(msgNum, func(mk ratchet.MessageKey) ([]byte, error) {
		return s.opts.Provider.AEAD.Open(mk.Key, nonce, ct, aad)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Decrypt",
			"msg_num":  msgNum,
			"kind":     kerr.KindOf(err).String(),
		}).Warn("message rejected")
		return nil, nil, false, err
	}
	if !bytes.Equal(pub, s.keys.PeerSignPublic) && s.newerThanPin(msgNum) {
		rotated = primitive.Clone(pub)
	}
	return pt, rotated, s.state == StateAwaitingResponse, nil
}

// newerThanPin reports whether a message numbered msgNum may replace the
// pinned peer signature key. Message numbers keep growing across rekeys, so
// the number alone orders messages in one direction.
func (s *Session) newerThanPin(msgNum uint64) bool {
	return !s.pinnedByMsg || msgNum > s.pinnedAt
}

// Rekey encapsulates a fresh secret to the peer's KEM key and moves this
// direction to a new sending chain. Numbering continues where the old
// chain stopped. It returns ok=false when the peer's KEM key is unknown.
func (s *Session) Rekey() (*RekeyMessage, bool, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive && s.state != StateAwaitingResponse {
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

	epoch := s.sendEpoch + 1
	from := s.send.Index()
	sig, err := s.keys.SignMessage(rekeySigningBytes(epoch, from, ct))
	if err != nil {
		return nil, false, err
	}
	nextRoot, chainKey, err := s.opts.KDF.RatchetStep(s.sendRoot, ss, kdf.ChainKeySize)
	if err != nil {
		return nil, false, err
	}
	defer primitive.Wipe(chainKey)
	send, err := ratchet.NewChain(s.opts.ChainParams(true), chainKey, from)
	if err != nil {
		primitive.Wipe(nextRoot)
		return nil, false, err
	}

	s.send.Wipe()
	primitive.Wipe(s.sendRoot)
	s.send, s.sendRoot, s.sendEpoch = send, nextRoot, epoch
	s.log.WithFields(logrus.Fields{
		"function": "Rekey",
		"epoch":    epoch,
		"from":     from,
	}).Info("sending chain rekeyed")
	return &RekeyMessage{
		Epoch:         epoch,
		FromMsgNum:    from,
		KEMCiphertext: ct,
		Signature:     sig,
		SignPublicKey: primitive.Clone(s.keys.Sign.Public),
	}, true, nil
}

// AcceptRekey applies the peer's RekeyMessage to the receiving direction.
// The message must be signed by the pinned peer key and carry the next
// epoch. It returns ok=false when this side has no KEM keypair to
// decapsulate with.
func (s *Session) AcceptRekey(m *RekeyMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive && s.state != StateAwaitingResponse {
		return false, s.stateErr("AcceptRekey")
	}
	if len(s.keys.KEM.Private) == 0 {
		return false, nil
	}
	if m.Epoch != s.recvEpoch+1 {
		return false, kerr.Wrapf(kerr.ErrReplayOrGap, "triple: rekey to epoch %d, current %d", m.Epoch, s.recvEpoch)
	}
	if m.FromMsgNum < s.recvFrom {
		return false, kerr.Wrapf(kerr.ErrReplayOrGap, "triple: rekey from message %d precedes %d", m.FromMsgNum, s.recvFrom)
	}
	ok, err := s.keys.VerifyMessage(m.SigningBytes(), m.Signature, s.keys.PeerSignPublic)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.WithField("function", "AcceptRekey").Warn("rekey signature rejected")
		return false, kerr.Wrapf(kerr.ErrAuthFailure, "triple: rekey signature invalid")
	}
	ss, err := s.opts.Provider.KEM.Decapsulate(m.KEMCiphertext, s.keys.KEM.Private)
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(ss)

	nextRoot, chainKey, err := s.opts.KDF.RatchetStep(s.recvRoot, ss, kdf.ChainKeySize)
	if err != nil {
		return false, err
	}
	defer primitive.Wipe(chainKey)
	recv, err := ratchet.NewReceiver(s.opts.ChainParams(true), chainKey, m.FromMsgNum, s.opts.MaxSkip)
	if err != nil {
		primitive.Wipe(nextRoot)
		return false, err
	}

	if s.prevRecv != nil {
		s.prevRecv.Wipe()
	}
	primitive.Wipe(s.recvRoot)
	s.prevRecv, s.recv = s.recv, recv
	s.recvRoot, s.recvFrom, s.recvEpoch = nextRoot, m.FromMsgNum, m.Epoch
	s.log.WithFields(logrus.Fields{
		"function": "AcceptRekey",
		"epoch":    m.Epoch,
		"from":     m.FromMsgNum,
	}).Info("receiving chain rekeyed")
	return true, nil
}

// RotateSignatureKey replaces the local signature keypair. Later messages
// carry the new public key and the peer pins it on first valid use.
func (s *Session) RotateSignatureKey() ([]byte, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, s.stateErr("RotateSignatureKey")
	}
	if err := s.keys.RotateSign(); err != nil {
		return nil, err
	}
	return primitive.Clone(s.keys.Sign.Public), nil
}

// GenerateSignatureKeypair is RotateSignatureKey.
func (s *Session) GenerateSignatureKeypair() ([]byte, error) {
	return s.RotateSignatureKey()
}

// GenerateKemKeypair replaces the local KEM keypair and returns its public key.
func (s *Session) GenerateKemKeypair() ([]byte, error) {
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

// KemPublicKey returns the local KEM public key, generating the keypair on
// first use.
func (s *Session) KemPublicKey() ([]byte, error) {
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
func (s *Session) SignPublicKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateClosed {
		return nil, s.stateErr("SignPublicKey")
	}
	return primitive.Clone(s.keys.Sign.Public), nil
}

// PeerSignPublicKey returns the pinned peer signature key, or nil.
func (s *Session) PeerSignPublicKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return primitive.Clone(s.keys.PeerSignPublic)
}

// SetPeerKemPublicKey records the peer's KEM key so a responder can rekey.
func (s *Session) SetPeerKemPublicKey(pub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.stateErr("SetPeerKemPublicKey")
	}
	return s.keys.SetPeerKEMPublic(pub)
}

// Sign signs msg with the session's signature key.
func (s *Session) Sign(msg []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateClosed {
		return nil, s.stateErr("Sign")
	}
	return s.keys.SignMessage(msg)
}

// Verify checks sig over msg. A nil pub selects the pinned peer key, or
// the session's own key before a peer is known.
func (s *Session) Verify(msg, sig, pub []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateClosed {
		return false, s.stateErr("Verify")
	}
	return s.keys.VerifyMessage(msg, sig, pub)
}

// Counters returns the next sending message number and the next expected
// receiving message number.
func (s *Session) Counters() (send, recv uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.send == nil || s.recv == nil {
		return 0, 0
	}
	return s.send.Index(), s.recv.Next()
}

// Stats returns the session's telemetry snapshot.
func (s *Session) Stats() telemetry.Stats { return s.stats.Snapshot() }

// Close zeroizes every key the session holds, including cached skipped
// keys, and moves it to Closed. It waits for in-flight operations.
func (s *Session) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.keys.Wipe()
	for _, r := range []*ratchet.Receiver{s.recv, s.prevRecv} {
		if r != nil {
			r.Wipe()
		}
	}
	if s.send != nil {
		s.send.Wipe()
	}
	for _, k := range [][]byte{s.root, s.sendRoot, s.recvRoot} {
		primitive.Wipe(k)
	}
	s.root, s.sendRoot, s.recvRoot = nil, nil, nil
	s.send, s.recv, s.prevRecv = nil, nil, nil
	s.state = StateClosed
	s.stats.Reset()
	s.log.WithField("function", "Close").Debug("session keys destroyed")
	return nil
}

func (s *Session) stateErr(op string) error {
	return kerr.Wrapf(kerr.ErrInvalidState, "triple: %s not allowed in state %s", op, s.state)
}

func transcript(ct, initiatorSignPublic, responderSignPublic []byte) []byte {
	h := sha3.New256()
	h.Write(labelTranscript)
	h.Write(ct)
	h.Write(initiatorSignPublic)
	h.Write(responderSignPublic)
	return h.Sum(nil)
}
