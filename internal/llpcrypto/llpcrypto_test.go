package llpcrypto

import (
	"bytes"
	"testing"
)

func TestAgreeRoundTrip(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair a: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair b: %v", err)
	}

	secretA, err := Agree(a.Priv, b.Pub)
	if err != nil {
		t.Fatalf("Agree a->b: %v", err)
	}
	secretB, err := Agree(b.Priv, a.Pub)
	if err != nil {
		t.Fatalf("Agree b->a: %v", err)
	}
	if secretA != secretB {
		t.Fatalf("shared secrets differ: %x != %x", secretA, secretB)
	}
}

func TestAgreeRejectsZeroPeerPoint(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	var zero [KeySize]byte
	if _, err := Agree(kp.Priv, zero); err != ErrInvalidPeerPoint {
		t.Fatalf("Agree with zero peer point: got %v, want ErrInvalidPeerPoint", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [NonceSize]byte
	aad := []byte("header-bytes")
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := Open(key, nonce, aad, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestOpenRejectsBitFlips(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [NonceSize]byte
	aad := []byte("header-bytes")
	plaintext := []byte("payload")

	ct, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		corrupt := append([]byte(nil), ct...)
		corrupt[0] ^= 0x01
		if _, err := Open(key, nonce, aad, corrupt); err != ErrAuthenticationFailed {
			t.Fatalf("got %v, want ErrAuthenticationFailed", err)
		}
	})

	t.Run("flipped tag byte", func(t *testing.T) {
		corrupt := append([]byte(nil), ct...)
		corrupt[len(corrupt)-1] ^= 0x01
		if _, err := Open(key, nonce, aad, corrupt); err != ErrAuthenticationFailed {
			t.Fatalf("got %v, want ErrAuthenticationFailed", err)
		}
	})

	t.Run("flipped aad byte", func(t *testing.T) {
		corruptAAD := append([]byte(nil), aad...)
		corruptAAD[0] ^= 0x01
		if _, err := Open(key, nonce, corruptAAD, ct); err != ErrAuthenticationFailed {
			t.Fatalf("got %v, want ErrAuthenticationFailed", err)
		}
	})
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("shared-secret-material")
	salt := []byte("client-random-server-random")
	info := []byte("llp-session-key-v1")

	a, err := HKDF(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	b, err := HKDF(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("HKDF not deterministic for identical inputs")
	}

	c, err := HKDF(ikm, []byte("different-salt"), info, 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("HKDF produced identical output for different salts")
	}
}

func TestVerifyHMAC(t *testing.T) {
	key := []byte("session-key-material-32-bytes!!")
	msg := []byte("transcript bytes")
	tag := HMACSHA256(key, msg)

	if !VerifyHMAC(key, msg, tag) {
		t.Fatalf("VerifyHMAC rejected a valid tag")
	}

	corrupt := append([]byte(nil), tag...)
	corrupt[0] ^= 0x01
	if VerifyHMAC(key, msg, corrupt) {
		t.Fatalf("VerifyHMAC accepted a corrupted tag")
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroized: %d", i, v)
		}
	}
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("got length %d, want 32", len(b))
	}
}
