// Package wire implements the LLP record codec: the fixed 24-byte header
// plus bounds-checked parsing of the variable-length payload that follows
// it. The codec is pure — no I/O, no allocation beyond the output buffer —
// so that it can sit on both the handshake path and the per-packet data
// path without surprising callers.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the LLP record header length in bytes.
	HeaderSize = 24

	// Version is the current LLP record version.
	Version = 1

	// MaxRecordSize bounds the total encoded record (header + payload) to
	// keep a single malformed length field from exhausting memory.
	MaxRecordSize = 65535

	// MaxPayloadSize is the largest payload (including the AEAD tag) that
	// fits under MaxRecordSize alongside a header.
	MaxPayloadSize = MaxRecordSize - HeaderSize
)

// Magic identifies an LLP record. It is the first four bytes of every
// header.
var Magic = [4]byte{'L', 'L', 'P', '1'}

// Mimicry profile identifiers, carried in the header's profile_id field and
// negotiated in CLIENT_HELLO.
const (
	ProfileNone         uint16 = 0
	ProfileVkVideo      uint16 = 1
	ProfileYandexMusic  uint16 = 2
	ProfileRuTube       uint16 = 3
)

// Flags is a bitfield of per-record markers.
type Flags uint8

const (
	FlagData      Flags = 1 << 0
	FlagControl   Flags = 1 << 1
	FlagFragment  Flags = 1 << 2
	FlagLastFrag  Flags = 1 << 3
	FlagAck       Flags = 1 << 4
	FlagKeepalive Flags = 1 << 5
	FlagRekey     Flags = 1 << 6
)

// knownFlags is the union of all flag bits this implementation understands.
// Decode rejects any header with bits set outside this mask.
const knownFlags = FlagData | FlagControl | FlagFragment | FlagLastFrag | FlagAck | FlagKeepalive | FlagRekey

// Has reports whether all bits in mask are set in f.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Header is the 24-byte LLP record header.
//
//	magic(4) | version(1) | flags(1) | profile_id(2 BE) | session_id(8 BE) | counter(8 BE)
type Header struct {
	Version    uint8
	Flags      Flags
	ProfileID  uint16
	SessionID  uint64
	Counter    uint64
}

// Errors returned by Decode. Each names exactly the bounds or format
// violation that a careful reader of §4.2 would expect; callers on the hot
// path match on these sentinels rather than parsing error strings.
var (
	ErrInsufficientData      = errors.New("wire: insufficient data for header")
	ErrBadMagic              = errors.New("wire: bad magic")
	ErrUnsupportedVersion    = errors.New("wire: unsupported version")
	ErrInvalidFlags          = errors.New("wire: invalid flags")
	ErrPayloadTooLarge       = errors.New("wire: payload too large")
)

// InsufficientDataError carries the exact shortfall so callers can log or
// test against it without string matching.
type InsufficientDataError struct {
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("wire: insufficient data: need %d bytes, have %d", e.Required, e.Available)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// Encode writes the header into buf, which must have length >= HeaderSize,
// and returns the number of bytes written.
func (h *Header) Encode(buf []byte) int {
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version
	buf[5] = uint8(h.Flags)
	binary.BigEndian.PutUint16(buf[6:8], h.ProfileID)
	binary.BigEndian.PutUint64(buf[8:16], h.SessionID)
	binary.BigEndian.PutUint64(buf[16:24], h.Counter)
	return HeaderSize
}

// DecodeHeader parses a Header from the front of buf. It validates bounds
// before reading any field beyond the length check itself, so a truncated
// or malformed buffer can never cause an out-of-bounds read.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &InsufficientDataError{Required: HeaderSize, Available: len(buf)}
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return Header{}, ErrBadMagic
	}
	version := buf[4]
	if version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	flags := Flags(buf[5])
	if flags&^knownFlags != 0 {
		return Header{}, ErrInvalidFlags
	}
	h := Header{
		Version:   version,
		Flags:     flags,
		ProfileID: binary.BigEndian.Uint16(buf[6:8]),
		SessionID: binary.BigEndian.Uint64(buf[8:16]),
		Counter:   binary.BigEndian.Uint64(buf[16:24]),
	}
	return h, nil
}

// Record is a complete LLP record: header plus the payload that follows it
// (ciphertext and authentication tag, not yet separated — the session layer
// owns that split since it requires the AEAD key).
type Record struct {
	Header  Header
	Payload []byte
}

// Encode serializes a record, validating the payload against MaxPayloadSize.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	h.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a complete record: header plus the remaining bytes as
// payload. The payload slice aliases buf; callers that retain it beyond the
// current read must copy.
func Decode(buf []byte) (Record, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Record{}, err
	}
	if len(buf)-HeaderSize > MaxPayloadSize {
		return Record{}, ErrPayloadTooLarge
	}
	return Record{Header: h, Payload: buf[HeaderSize:]}, nil
}
