package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Version:   Version,
		Flags:     FlagData,
		ProfileID: 1,
		SessionID: 0xDA44E0CCF7B21097,
		Counter:   42,
	}
	payload := []byte("some ciphertext and a tag")

	buf, err := Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header != h {
		t.Fatalf("header mismatch: got %+v want %+v", got.Header, h)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, payload)
	}
}

func TestDecodeHeaderExactAndOneShort(t *testing.T) {
	h := Header{Version: Version, Flags: FlagKeepalive, SessionID: 1, Counter: 1}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	if _, err := DecodeHeader(buf); err != nil {
		t.Fatalf("DecodeHeader at exact size: %v", err)
	}
	if _, err := DecodeHeader(buf[:HeaderSize-1]); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("DecodeHeader one byte short: got %v, want ErrInsufficientData", err)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := Header{Version: Version}
	h.Encode(buf)
	buf[0] ^= 0xFF

	if _, err := DecodeHeader(buf); err != ErrBadMagic {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestDecodeHeaderUnsupportedVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := Header{Version: Version}
	h.Encode(buf)
	buf[4] = 99

	if _, err := DecodeHeader(buf); err != ErrUnsupportedVersion {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeHeaderInvalidFlags(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := Header{Version: Version}
	h.Encode(buf)
	buf[5] = 0x80 // bit outside knownFlags

	if _, err := DecodeHeader(buf); err != ErrInvalidFlags {
		t.Fatalf("got %v, want ErrInvalidFlags", err)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	h := Header{Version: Version}
	oversized := make([]byte, MaxPayloadSize+1)

	if _, err := Encode(h, oversized); err != ErrPayloadTooLarge {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	h := Header{Version: Version}
	buf := make([]byte, HeaderSize+MaxPayloadSize+1)
	h.Encode(buf[:HeaderSize])

	if _, err := Decode(buf); err != ErrPayloadTooLarge {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagData | FlagKeepalive
	if !f.Has(FlagData) {
		t.Fatalf("expected FlagData set")
	}
	if f.Has(FlagRekey) {
		t.Fatalf("did not expect FlagRekey set")
	}
}
