// Package session implements the LLP data plane: per-session encryption
// and decryption of records, replay rejection, keepalive scheduling and
// rekey. A Session is created once from a completed handshake.Result and
// owns that result's secret material exclusively from then on.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llpmimic/llp/internal/llpcrypto"
	"github.com/llpmimic/llp/internal/wire"
)

// State is the session's lifecycle state.
type State uint8

const (
	StateHandshaking State = iota
	StateActive
	StateRekeying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateRekeying:
		return "rekeying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Defaults for the configuration inputs enumerated in the external
// interface contract.
const (
	DefaultReplayWindowSize    = 256
	DefaultMaxTimestampDrift   = 300 * time.Second
	DefaultKeepaliveInterval   = 30 * time.Second
	DefaultKeepaliveTimeout    = 90 * time.Second
	DefaultRekeyPacketThreshold = 1 << 20
	DefaultSessionLifetime     = time.Hour
)

const rekeyInfo = "llp-rekey-v1"

// Errors returned by the session's send and receive paths. Per the error
// handling design, crypto/replay/timestamp failures in steady state are
// silent drops from the caller's perspective — only Send's state errors and
// CounterExhausted are meant to surface to the caller as real errors.
var (
	ErrNotEstablished   = errors.New("session: not established")
	ErrCounterExhausted = errors.New("session: send counter exhausted")
	ErrAuthenticationFailed = llpcrypto.ErrAuthenticationFailed
	ErrReplayOrOld          = ErrReplayedOrOld
	ErrWrongSession     = errors.New("session: record belongs to a different session")
	ErrFragmentationUnsupported = errors.New("session: fragmentation flags are reserved")
	ErrRekeyInProgress          = errors.New("session: rekey in progress, data sends are paused")
)

// Config carries the tunable parameters enumerated in the external
// configuration contract. Zero values fall back to the spec defaults.
type Config struct {
	ReplayWindowSize     uint64
	MaxTimestampDrift    time.Duration
	KeepaliveInterval    time.Duration
	KeepaliveTimeout     time.Duration
	RekeyPacketThreshold uint64
	SessionLifetime      time.Duration
	ProfileID            uint16
}

func (c Config) withDefaults() Config {
	if c.ReplayWindowSize == 0 {
		c.ReplayWindowSize = DefaultReplayWindowSize
	}
	if c.MaxTimestampDrift == 0 {
		c.MaxTimestampDrift = DefaultMaxTimestampDrift
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if c.RekeyPacketThreshold == 0 {
		c.RekeyPacketThreshold = DefaultRekeyPacketThreshold
	}
	if c.SessionLifetime == 0 {
		c.SessionLifetime = DefaultSessionLifetime
	}
	return c
}

// Session is the protected channel between one client/server pair after a
// successful handshake. A Session exclusively owns its key material,
// counters and replay state; it holds only its own session id, never a
// back-pointer to whatever table is tracking it.
type Session struct {
	id     uint64
	cfg    Config
	stateV atomic.Int32 // State, accessed atomically since keepalive/rekey timers read it concurrently

	keyMu sync.RWMutex
	key   [llpcrypto.KeySize]byte

	sendCounter atomic.Uint64
	recvCounter atomic.Uint64
	dropCounter atomic.Uint64

	recvMu   sync.Mutex
	window   *ReplayWindow

	lastRxMu sync.Mutex
	lastRx   time.Time
	lastTxMu sync.Mutex
	lastTx   time.Time

	packetsSinceRekey atomic.Uint64
	createdAt         time.Time
}

// New constructs an Active session from the handshake's result. It takes
// ownership of key material: after New returns, the caller must not use the
// handshake.Result's SessionKey again (the handshake package's own Zeroize
// only protects against a caller forgetting this).
func New(sessionID uint64, sessionKey [llpcrypto.KeySize]byte, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:     sessionID,
		cfg:    cfg,
		key:    sessionKey,
		window: NewReplayWindow(cfg.ReplayWindowSize),
	}
	s.stateV.Store(int32(StateActive))
	now := time.Now()
	s.lastRx = now
	s.lastTx = now
	s.createdAt = now
	return s
}

// ID returns the session's immutable session id.
func (s *Session) ID() uint64 { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.stateV.Load()) }

// SentCount returns the number of records (of any kind: data, keepalive, or
// control) this session has sent under its current key, for reporting by an
// external observer such as the admin API when the session closes. The
// count restarts at zero whenever AcceptRekey installs a new key.
func (s *Session) SentCount() uint64 { return s.sendCounter.Load() }

// ReceivedCount returns the number of records this session has accepted
// and successfully decrypted so far.
func (s *Session) ReceivedCount() uint64 { return s.recvCounter.Load() }

// DroppedCount returns the number of inbound records this session has
// rejected: malformed frames, replayed counters, or failed AEAD opens.
func (s *Session) DroppedCount() uint64 { return s.dropCounter.Load() }

func (s *Session) setState(st State) { s.stateV.Store(int32(st)) }

// Outbound is a record ready to hand to the mimicry wrapper / carrier.
type Outbound struct {
	Header  wire.Header
	Payload []byte // ciphertext || tag
}

// Send encrypts a plaintext IP payload (or a zero-length keepalive/control
// payload) into a wire record. The returned Outbound.Header.Flags always
// includes any flags requested by the caller.
func (s *Session) Send(plaintext []byte, flags wire.Flags) (Outbound, error) {
	switch s.State() {
	case StateClosed, StateHandshaking:
		return Outbound{}, ErrNotEstablished
	case StateRekeying:
		if flags.Has(wire.FlagData) {
			return Outbound{}, ErrRekeyInProgress
		}
	}

	counter := s.sendCounter.Add(1) - 1
	if counter == ^uint64(0) {
		return Outbound{}, ErrCounterExhausted
	}

	h := wire.Header{
		Version:   wire.Version,
		Flags:     flags,
		ProfileID: s.cfg.ProfileID,
		SessionID: s.id,
		Counter:   counter,
	}

	aad := make([]byte, wire.HeaderSize)
	h.Encode(aad)

	s.keyMu.RLock()
	key := s.key
	s.keyMu.RUnlock()

	nonce := computeNonce(s.id, counter)
	ciphertext, err := llpcrypto.Seal(key, nonce, aad, plaintext)
	if err != nil {
		return Outbound{}, fmt.Errorf("session: seal: %w", err)
	}

	s.touchTx()
	if flags.Has(wire.FlagData) {
		if n := s.packetsSinceRekey.Add(1); n >= s.cfg.RekeyPacketThreshold {
			s.setState(StateRekeying)
		}
	}

	return Outbound{Header: h, Payload: ciphertext}, nil
}

// NeedsRekey reports whether the packet threshold has been reached and a
// REKEY control record should be emitted.
func (s *Session) NeedsRekey() bool {
	return s.State() == StateRekeying
}

// Inbound is the result of successfully decrypting a received record.
type Inbound struct {
	Header    wire.Header
	Plaintext []byte
}

// DecodeErrorAction tells the caller what to do with a record that failed
// to decode or decrypt: per the error handling design, nearly all receive
// errors are silent drops, not session teardown.
type DecodeErrorAction uint8

const (
	// ActionDrop means: discard the record, keep the session alive.
	ActionDrop DecodeErrorAction = iota
	// ActionTeardown means: the session must be closed (wrong session id,
	// or the caller routed bytes from an unrelated session to this one).
	ActionTeardown
)

// Receive decodes and decrypts wire bytes produced for this session's id.
// Most failures are silent per-record drops (ActionDrop); only a session id
// mismatch — a caller bug routing another session's bytes here — calls for
// teardown.
func (s *Session) Receive(raw []byte) (Inbound, DecodeErrorAction, error) {
	rec, err := wire.Decode(raw)
	if err != nil {
		s.dropCounter.Add(1)
		return Inbound{}, ActionDrop, err
	}
	if rec.Header.SessionID != s.id {
		return Inbound{}, ActionTeardown, ErrWrongSession
	}
	if rec.Header.Flags.Has(wire.FlagFragment) || rec.Header.Flags.Has(wire.FlagLastFrag) {
		s.dropCounter.Add(1)
		return Inbound{}, ActionDrop, ErrFragmentationUnsupported
	}

	s.recvMu.Lock()
	acceptErr := s.window.Accept(rec.Header.Counter)
	s.recvMu.Unlock()
	if acceptErr != nil {
		s.dropCounter.Add(1)
		return Inbound{}, ActionDrop, acceptErr
	}

	aad := make([]byte, wire.HeaderSize)
	rec.Header.Encode(aad)
	nonce := computeNonce(rec.Header.SessionID, rec.Header.Counter)

	s.keyMu.RLock()
	key := s.key
	s.keyMu.RUnlock()

	plaintext, err := llpcrypto.Open(key, nonce, aad, rec.Payload)
	if err != nil {
		s.dropCounter.Add(1)
		return Inbound{}, ActionDrop, err
	}

	s.touchRx()
	s.recvCounter.Add(1)
	return Inbound{Header: rec.Header, Plaintext: plaintext}, ActionDrop, nil
}

func (s *Session) touchTx() {
	s.lastTxMu.Lock()
	s.lastTx = time.Now()
	s.lastTxMu.Unlock()
}

func (s *Session) touchRx() {
	s.lastRxMu.Lock()
	s.lastRx = time.Now()
	s.lastRxMu.Unlock()
}

// NeedsKeepalive reports whether enough time has elapsed since the last
// send that a zero-payload KEEPALIVE record should go out.
func (s *Session) NeedsKeepalive() bool {
	s.lastTxMu.Lock()
	last := s.lastTx
	s.lastTxMu.Unlock()
	return time.Since(last) >= s.cfg.KeepaliveInterval
}

// IdleTimedOut reports whether no record has been received for longer than
// the keepalive timeout; the caller should close and tear down.
func (s *Session) IdleTimedOut() bool {
	s.lastRxMu.Lock()
	last := s.lastRx
	s.lastRxMu.Unlock()
	return time.Since(last) >= s.cfg.KeepaliveTimeout
}

// LifetimeExpired reports whether the session has outlived its configured
// absolute lifetime, independent of idle or rekey timers; the caller should
// close and renegotiate rather than let an arbitrarily old session key
// persist.
func (s *Session) LifetimeExpired() bool {
	return s.cfg.SessionLifetime > 0 && time.Since(s.createdAt) >= s.cfg.SessionLifetime
}

// ValidateTimestamp checks a record-carried timestamp against the
// configured maximum clock drift.
func (s *Session) ValidateTimestamp(ts time.Time) error {
	drift := time.Since(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.MaxTimestampDrift {
		return fmt.Errorf("session: timestamp drift %s exceeds max %s", drift, s.cfg.MaxTimestampDrift)
	}
	return nil
}

// Close transitions the session to Closed and zeroizes its key material.
// Safe to call more than once.
func (s *Session) Close() {
	s.setState(StateClosed)
	s.keyMu.Lock()
	llpcrypto.ZeroizeArray32(&s.key)
	s.keyMu.Unlock()
}

// RekeyMaterial is the payload carried by an in-band REKEY control record,
// per the rekey design note: fresh_nonce(32) || hmac(old_key,
// "llp-rekey-v1" || fresh_nonce).
type RekeyMaterial struct {
	FreshNonce [32]byte
	Tag        [llpcrypto.HMACSize]byte
}

// Encode serializes RekeyMaterial to its wire form (32 + 32 bytes).
func (m RekeyMaterial) Encode() []byte {
	buf := make([]byte, 32+llpcrypto.HMACSize)
	copy(buf[:32], m.FreshNonce[:])
	copy(buf[32:], m.Tag[:])
	return buf
}

// DecodeRekeyMaterial parses RekeyMaterial from a REKEY record's plaintext.
func DecodeRekeyMaterial(buf []byte) (RekeyMaterial, error) {
	if len(buf) != 32+llpcrypto.HMACSize {
		return RekeyMaterial{}, fmt.Errorf("session: rekey material wrong size: %d", len(buf))
	}
	var m RekeyMaterial
	copy(m.FreshNonce[:], buf[:32])
	copy(m.Tag[:], buf[32:])
	return m, nil
}

// BeginRekey generates fresh rekey material under the current key, to be
// sent in a REKEY control record via Send.
func (s *Session) BeginRekey() (RekeyMaterial, error) {
	nonceBytes, err := llpcrypto.RandomBytes(32)
	if err != nil {
		return RekeyMaterial{}, fmt.Errorf("session: rekey nonce: %w", err)
	}
	var fresh [32]byte
	copy(fresh[:], nonceBytes)

	s.keyMu.RLock()
	key := s.key
	s.keyMu.RUnlock()

	tag := llpcrypto.HMACSHA256(key[:], append([]byte(rekeyInfo), fresh[:]...))
	var m RekeyMaterial
	m.FreshNonce = fresh
	copy(m.Tag[:], tag)
	return m, nil
}

// AcceptRekey verifies a peer's rekey material against the current key and,
// on success, derives and installs the new key, zeroizing the old one and
// resetting counters and the replay window.
func (s *Session) AcceptRekey(m RekeyMaterial) error {
	s.keyMu.RLock()
	oldKey := s.key
	s.keyMu.RUnlock()

	msg := append([]byte(rekeyInfo), m.FreshNonce[:]...)
	if !llpcrypto.VerifyHMAC(oldKey[:], msg, m.Tag[:]) {
		return errors.New("session: rekey tag mismatch")
	}

	mixedSalt := llpcrypto.BLAKE3Sum256(append(append([]byte{}, oldKey[:]...), m.FreshNonce[:]...))
	newKeyBytes, err := llpcrypto.HKDF(oldKey[:], mixedSalt[:], []byte(rekeyInfo), llpcrypto.KeySize)
	if err != nil {
		return fmt.Errorf("session: derive new key: %w", err)
	}

	s.keyMu.Lock()
	llpcrypto.ZeroizeArray32(&s.key)
	copy(s.key[:], newKeyBytes)
	s.keyMu.Unlock()
	llpcrypto.Zeroize(newKeyBytes)

	s.recvMu.Lock()
	s.window = NewReplayWindow(s.cfg.ReplayWindowSize)
	s.recvMu.Unlock()
	s.sendCounter.Store(0)
	s.packetsSinceRekey.Store(0)
	s.setState(StateActive)
	return nil
}

// MimicryProfileFromID maps a wire profile id to the daemon's notion of a
// mimicry profile name; kept here (not in wire) because only the session
// and mimicry layers need the mapping, and wire must stay a pure codec.
func MimicryProfileFromID(id uint16) string {
	switch id {
	case wire.ProfileNone:
		return "none"
	case wire.ProfileVkVideo:
		return "vk_video"
	case wire.ProfileYandexMusic:
		return "yandex_music"
	case wire.ProfileRuTube:
		return "rutube"
	default:
		return fmt.Sprintf("unknown(%d)", id)
	}
}
