// Package handshake drives the four-message authenticated key exchange that
// produces a session key and session id shared by a client and a server. On
// success the handshake's secret state is handed off whole to a new
// session; the handshake object never holds onto its secrets afterward.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/llpmimic/llp/internal/carrier"
	"github.com/llpmimic/llp/internal/llpcrypto"
)

// sessionKeyInfo is the HKDF info parameter for deriving the session key.
const sessionKeyInfo = "llp-session-key-v1"

// DefaultTimeout is the wall-clock deadline for completing a handshake
// before it is abandoned.
const DefaultTimeout = 10 * time.Second

// Errors a handshake participant can fail with. Per the error-handling
// design, any of these is fatal to the handshake: the caller zeroizes state
// and closes the carrier connection without retrying at this layer.
var (
	ErrWrongSize       = errors.New("handshake: message has wrong size")
	ErrUnexpectedType  = errors.New("handshake: unexpected message type")
	ErrInvalidPeerKey  = errors.New("handshake: invalid peer public key")
	ErrVerifyFailed    = errors.New("handshake: verify tag mismatch")
	ErrTimedOut        = errors.New("handshake: timed out")
)

// Result is the secret and public material produced by a completed
// handshake. The caller moves SessionKey into a new session and must not
// retain a copy; Zeroize clears it.
type Result struct {
	SessionID  uint64
	SessionKey [llpcrypto.KeySize]byte
	ProfileID  uint16
}

// Zeroize clears the session key from r in place.
func (r *Result) Zeroize() {
	llpcrypto.ZeroizeArray32(&r.SessionKey)
}

// SessionIDAllocator returns a session id unique across a server's
// concurrently live sessions. The server owns allocation; the handshake
// package only consumes it.
type SessionIDAllocator func() uint64

func deriveSessionKey(shared [llpcrypto.SharedSecretSize]byte, clientRandom, serverRandom [32]byte) ([llpcrypto.KeySize]byte, error) {
	salt := make([]byte, 0, 64)
	salt = append(salt, clientRandom[:]...)
	salt = append(salt, serverRandom[:]...)

	okm, err := llpcrypto.HKDF(shared[:], salt, []byte(sessionKeyInfo), llpcrypto.KeySize)
	if err != nil {
		return [llpcrypto.KeySize]byte{}, fmt.Errorf("handshake: derive session key: %w", err)
	}
	var key [llpcrypto.KeySize]byte
	copy(key[:], okm)
	llpcrypto.Zeroize(okm)
	return key, nil
}

// transcript returns the exact byte concatenation that both sides sign and
// verify: CLIENT_HELLO_bytes || SERVER_HELLO_bytes.
func transcript(clientHelloBytes, serverHelloBytes []byte) []byte {
	out := make([]byte, 0, len(clientHelloBytes)+len(serverHelloBytes))
	out = append(out, clientHelloBytes...)
	out = append(out, serverHelloBytes...)
	return out
}

// RunClient drives the client side of the handshake over conn: send
// CLIENT_HELLO, receive SERVER_HELLO, send CLIENT_VERIFY, receive and
// verify SERVER_VERIFY. ctx bounds the whole exchange; a zero deadline on
// ctx falls back to DefaultTimeout applied to conn directly.
func RunClient(ctx context.Context, conn *carrier.Conn, profileID uint16) (*Result, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("handshake: set deadline: %w", err)
	}

	clientKP, err := llpcrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("handshake: generate client ephemeral: %w", err)
	}
	defer llpcrypto.ZeroizeArray32(&clientKP.Priv)

	clientRandomBytes, err := llpcrypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("handshake: client random: %w", err)
	}
	var clientRandom [32]byte
	copy(clientRandom[:], clientRandomBytes)

	hello := ClientHello{ClientPub: clientKP.Pub, ClientRandom: clientRandom, ProfileID: profileID}
	helloBytes := hello.Encode()
	if err := conn.WriteFrame(helloBytes); err != nil {
		return nil, fmt.Errorf("handshake: send CLIENT_HELLO: %w", wrapTimeout(err))
	}

	serverHelloFrame, err := conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("handshake: receive SERVER_HELLO: %w", wrapTimeout(err))
	}
	serverHello, err := DecodeServerHello(serverHelloFrame)
	if err != nil {
		return nil, err
	}

	shared, err := llpcrypto.Agree(clientKP.Priv, serverHello.ServerPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", ErrInvalidPeerKey)
	}
	sessionKey, err := deriveSessionKey(shared, clientRandom, serverHello.ServerRandom)
	llpcrypto.Zeroize(shared[:])
	if err != nil {
		return nil, err
	}

	tr := transcript(helloBytes, serverHelloFrame)
	tag := llpcrypto.HMACSHA256(sessionKey[:], tr)
	var verify ClientVerify
	copy(verify.Tag[:], tag)
	if err := conn.WriteFrame(verify.Encode()); err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, fmt.Errorf("handshake: send CLIENT_VERIFY: %w", wrapTimeout(err))
	}

	serverVerifyFrame, err := conn.ReadFrame()
	if err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, fmt.Errorf("handshake: receive SERVER_VERIFY: %w", wrapTimeout(err))
	}
	serverVerify, err := DecodeServerVerify(serverVerifyFrame)
	if err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, err
	}
	if !llpcrypto.VerifyHMAC(sessionKey[:], tr, serverVerify.Tag[:]) {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, ErrVerifyFailed
	}

	return &Result{SessionID: serverHello.SessionID, SessionKey: sessionKey, ProfileID: profileID}, nil
}

// RunServer drives the server side of the handshake over conn: receive
// CLIENT_HELLO, send SERVER_HELLO, receive and verify CLIENT_VERIFY, send
// SERVER_VERIFY. allocID supplies the fresh session id.
func RunServer(ctx context.Context, conn *carrier.Conn, allocID SessionIDAllocator) (*Result, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("handshake: set deadline: %w", err)
	}

	clientHelloFrame, err := conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("handshake: receive CLIENT_HELLO: %w", wrapTimeout(err))
	}
	clientHello, err := DecodeClientHello(clientHelloFrame)
	if err != nil {
		return nil, err
	}

	serverKP, err := llpcrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("handshake: generate server ephemeral: %w", err)
	}
	defer llpcrypto.ZeroizeArray32(&serverKP.Priv)

	serverRandomBytes, err := llpcrypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("handshake: server random: %w", err)
	}
	var serverRandom [32]byte
	copy(serverRandom[:], serverRandomBytes)

	shared, err := llpcrypto.Agree(serverKP.Priv, clientHello.ClientPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", ErrInvalidPeerKey)
	}
	sessionKey, err := deriveSessionKey(shared, clientHello.ClientRandom, serverRandom)
	llpcrypto.Zeroize(shared[:])
	if err != nil {
		return nil, err
	}

	sessionID := allocID()
	serverHello := ServerHello{ServerPub: serverKP.Pub, ServerRandom: serverRandom, SessionID: sessionID}
	serverHelloBytes := serverHello.Encode()
	if err := conn.WriteFrame(serverHelloBytes); err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, fmt.Errorf("handshake: send SERVER_HELLO: %w", wrapTimeout(err))
	}

	tr := transcript(clientHelloFrame, serverHelloBytes)

	clientVerifyFrame, err := conn.ReadFrame()
	if err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, fmt.Errorf("handshake: receive CLIENT_VERIFY: %w", wrapTimeout(err))
	}
	clientVerify, err := DecodeClientVerify(clientVerifyFrame)
	if err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, err
	}
	if !llpcrypto.VerifyHMAC(sessionKey[:], tr, clientVerify.Tag[:]) {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, ErrVerifyFailed
	}

	serverTag := llpcrypto.HMACSHA256(sessionKey[:], tr)
	var serverVerify ServerVerify
	copy(serverVerify.Tag[:], serverTag)
	if err := conn.WriteFrame(serverVerify.Encode()); err != nil {
		llpcrypto.ZeroizeArray32(&sessionKey)
		return nil, fmt.Errorf("handshake: send SERVER_VERIFY: %w", wrapTimeout(err))
	}

	return &Result{SessionID: sessionID, SessionKey: sessionKey, ProfileID: clientHello.ProfileID}, nil
}

func wrapTimeout(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}
	return err
}
