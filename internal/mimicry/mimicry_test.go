package mimicry

import (
	"bytes"
	"strings"
	"testing"
)

func syntheticRecord(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	profiles := []Profile{ProfileVkVideo, ProfileYandexMusic, ProfileRuTube}
	record := syntheticRecord(256)

	for _, p := range profiles {
		t.Run(p.String(), func(t *testing.T) {
			envelope, err := p.Wrap(record)
			if err != nil {
				t.Fatalf("Wrap: %v", err)
			}
			if !bytes.HasPrefix(envelope, []byte("HTTP/1.1 ")) {
				t.Fatalf("envelope does not start with HTTP/1.1: %q", envelope[:20])
			}
			head := string(envelope[:bytes.Index(envelope, []byte("\r\n\r\n"))])
			if !strings.Contains(head, "Content-Length:") && !strings.Contains(head, "Transfer-Encoding: chunked") {
				t.Fatalf("envelope has neither Content-Length nor chunked encoding:\n%s", head)
			}

			got, err := p.Unwrap(envelope)
			if err != nil {
				t.Fatalf("Unwrap: %v", err)
			}
			if !bytes.Equal(got, record) {
				t.Fatalf("round trip mismatch: got %d bytes want %d bytes", len(got), len(record))
			}
		})
	}
}

func TestWrapUnwrapChunkedRoundTrip(t *testing.T) {
	// A record larger than the profile's chunk-size floor forces chunked
	// transfer-coding, per wrapVkVideo's chunked decision.
	record := syntheticRecord(80 * 1024)

	envelope, err := ProfileVkVideo.Wrap(record)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !bytes.Contains(envelope, []byte("Transfer-Encoding: chunked")) {
		t.Fatalf("expected chunked transfer-coding for an 80KiB VkVideo record")
	}

	got, err := ProfileVkVideo.Unwrap(envelope)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, record) {
		t.Fatalf("chunked round trip mismatch: got %d bytes want %d bytes", len(got), len(record))
	}
}

func TestNoneProfileIsIdentity(t *testing.T) {
	record := syntheticRecord(64)
	wrapped, err := ProfileNone.Wrap(record)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !bytes.Equal(wrapped, record) {
		t.Fatalf("ProfileNone.Wrap is not identity")
	}
	unwrapped, err := ProfileNone.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(unwrapped, record) {
		t.Fatalf("ProfileNone.Unwrap is not identity")
	}
}

func TestUnwrapFailsUniformlyOnDeviation(t *testing.T) {
	record := syntheticRecord(32)
	envelope, err := ProfileVkVideo.Wrap(record)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	cases := map[string][]byte{
		"truncated":         envelope[:len(envelope)-10],
		"garbage status":    bytes.Replace(envelope, []byte("HTTP/1.1 206"), []byte("NOTHTTP 206"), 1),
		"empty":             {},
		"missing header":    bytes.Replace(envelope, []byte("X-VK-Session"), []byte("X-Something-Else"), 1),
	}

	for name, malformed := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ProfileVkVideo.Unwrap(malformed); err != ErrMalformedEnvelope {
				t.Fatalf("got %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestParseProfile(t *testing.T) {
	cases := map[string]Profile{
		"none":         ProfileNone,
		"":             ProfileNone,
		"vk_video":     ProfileVkVideo,
		"yandex_music": ProfileYandexMusic,
		"rutube":       ProfileRuTube,
	}
	for name, want := range cases {
		got, err := ParseProfile(name)
		if err != nil {
			t.Fatalf("ParseProfile(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseProfile(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseProfile("bogus"); err != ErrUnknownProfile {
		t.Fatalf("ParseProfile(bogus) = %v, want ErrUnknownProfile", err)
	}
}
