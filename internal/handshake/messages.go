package handshake

import (
	"encoding/binary"
	"fmt"

	"github.com/llpmimic/llp/internal/llpcrypto"
)

// Message type identifiers, the first byte of every handshake message.
const (
	TypeClientHello uint8 = 1
	TypeServerHello uint8 = 2
	TypeClientVerify uint8 = 3
	TypeServerVerify uint8 = 4
)

// Wire sizes, normative per the handshake's byte-layout contract.
const (
	ClientHelloSize  = 1 + llpcrypto.KeySize + 32 + 2
	ServerHelloSize  = 1 + llpcrypto.KeySize + 32 + 8
	ClientVerifySize = 1 + llpcrypto.HMACSize
	ServerVerifySize = 1 + llpcrypto.HMACSize
)

// ClientHello is the first handshake message: type(1) || client_pub(32) ||
// client_random(32) || profile_id(2 BE).
type ClientHello struct {
	ClientPub    [llpcrypto.KeySize]byte
	ClientRandom [32]byte
	ProfileID    uint16
}

// Encode serializes a ClientHello to its exact 67-byte wire form.
func (m ClientHello) Encode() []byte {
	buf := make([]byte, ClientHelloSize)
	buf[0] = TypeClientHello
	copy(buf[1:33], m.ClientPub[:])
	copy(buf[33:65], m.ClientRandom[:])
	binary.BigEndian.PutUint16(buf[65:67], m.ProfileID)
	return buf
}

// DecodeClientHello parses a ClientHello, validating length and type tag
// before touching any field.
func DecodeClientHello(buf []byte) (ClientHello, error) {
	if len(buf) != ClientHelloSize {
		return ClientHello{}, fmt.Errorf("handshake: %w: CLIENT_HELLO", ErrWrongSize)
	}
	if buf[0] != TypeClientHello {
		return ClientHello{}, fmt.Errorf("handshake: %w: expected CLIENT_HELLO", ErrUnexpectedType)
	}
	var m ClientHello
	copy(m.ClientPub[:], buf[1:33])
	copy(m.ClientRandom[:], buf[33:65])
	m.ProfileID = binary.BigEndian.Uint16(buf[65:67])
	return m, nil
}

// ServerHello is the second handshake message: type(1) || server_pub(32) ||
// server_random(32) || session_id(8 BE).
type ServerHello struct {
	ServerPub    [llpcrypto.KeySize]byte
	ServerRandom [32]byte
	SessionID    uint64
}

// Encode serializes a ServerHello to its exact 73-byte wire form.
func (m ServerHello) Encode() []byte {
	buf := make([]byte, ServerHelloSize)
	buf[0] = TypeServerHello
	copy(buf[1:33], m.ServerPub[:])
	copy(buf[33:65], m.ServerRandom[:])
	binary.BigEndian.PutUint64(buf[65:73], m.SessionID)
	return buf
}

// DecodeServerHello parses a ServerHello.
func DecodeServerHello(buf []byte) (ServerHello, error) {
	if len(buf) != ServerHelloSize {
		return ServerHello{}, fmt.Errorf("handshake: %w: SERVER_HELLO", ErrWrongSize)
	}
	if buf[0] != TypeServerHello {
		return ServerHello{}, fmt.Errorf("handshake: %w: expected SERVER_HELLO", ErrUnexpectedType)
	}
	var m ServerHello
	copy(m.ServerPub[:], buf[1:33])
	copy(m.ServerRandom[:], buf[33:65])
	m.SessionID = binary.BigEndian.Uint64(buf[65:73])
	return m, nil
}

// ClientVerify is the third handshake message: type(1) || hmac_tag(32).
type ClientVerify struct {
	Tag [llpcrypto.HMACSize]byte
}

// Encode serializes a ClientVerify to its exact 33-byte wire form.
func (m ClientVerify) Encode() []byte {
	buf := make([]byte, ClientVerifySize)
	buf[0] = TypeClientVerify
	copy(buf[1:33], m.Tag[:])
	return buf
}

// DecodeClientVerify parses a ClientVerify.
func DecodeClientVerify(buf []byte) (ClientVerify, error) {
	if len(buf) != ClientVerifySize {
		return ClientVerify{}, fmt.Errorf("handshake: %w: CLIENT_VERIFY", ErrWrongSize)
	}
	if buf[0] != TypeClientVerify {
		return ClientVerify{}, fmt.Errorf("handshake: %w: expected CLIENT_VERIFY", ErrUnexpectedType)
	}
	var m ClientVerify
	copy(m.Tag[:], buf[1:33])
	return m, nil
}

// ServerVerify is the fourth handshake message: type(1) || hmac_tag(32).
type ServerVerify struct {
	Tag [llpcrypto.HMACSize]byte
}

// Encode serializes a ServerVerify to its exact 33-byte wire form.
func (m ServerVerify) Encode() []byte {
	buf := make([]byte, ServerVerifySize)
	buf[0] = TypeServerVerify
	copy(buf[1:33], m.Tag[:])
	return buf
}

// DecodeServerVerify parses a ServerVerify.
func DecodeServerVerify(buf []byte) (ServerVerify, error) {
	if len(buf) != ServerVerifySize {
		return ServerVerify{}, fmt.Errorf("handshake: %w: SERVER_VERIFY", ErrWrongSize)
	}
	if buf[0] != TypeServerVerify {
		return ServerVerify{}, fmt.Errorf("handshake: %w: expected SERVER_VERIFY", ErrUnexpectedType)
	}
	var m ServerVerify
	copy(m.Tag[:], buf[1:33])
	return m, nil
}
