// Package llpcrypto wraps the primitive cryptographic operations used by the
// LLP handshake and session layer: X25519 Diffie-Hellman, HKDF-SHA256,
// ChaCha20-Poly1305 AEAD, HMAC-SHA256, BLAKE3 and a CSPRNG. Callers outside
// this package never touch a raw cipher or hash construction directly.
package llpcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size in bytes of an X25519 private or public key.
	KeySize = 32
	// SharedSecretSize is the size in bytes of a completed DH agreement.
	SharedSecretSize = 32
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag size.
	TagSize = chacha20poly1305.Overhead
	// HMACSize is the output size of HMAC-SHA256.
	HMACSize = sha256.Size
)

// ErrInvalidPeerPoint is returned by Agree when the peer's public point is
// all-zero or otherwise lands on the small-subgroup / identity point that
// X25519 must reject.
var ErrInvalidPeerPoint = errors.New("llpcrypto: invalid peer public point")

// ErrAuthenticationFailed is returned by Open on tag mismatch.
var ErrAuthenticationFailed = errors.New("llpcrypto: authentication failed")

// KeyPair is an ephemeral Curve25519 keypair. Generate one per connection
// attempt with GenerateKeyPair; never persist Priv to stable storage.
type KeyPair struct {
	Priv [KeySize]byte
	Pub  [KeySize]byte
}

// GenerateKeyPair produces a fresh ephemeral X25519 keypair from the system
// CSPRNG.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("llpcrypto: generate ephemeral: %w", err)
	}
	clamp(&kp.Priv)
	pub, err := curve25519.X25519(kp.Priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("llpcrypto: derive public point: %w", err)
	}
	copy(kp.Pub[:], pub)
	return kp, nil
}

func clamp(priv *[KeySize]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// Agree performs X25519(priv, peerPub) and rejects an all-zero result, which
// curve25519.X25519 itself does not reject but which indicates the peer sent
// a small-subgroup or identity point.
func Agree(priv [KeySize]byte, peerPub [KeySize]byte) (secret [SharedSecretSize]byte, err error) {
	if isAllZero(peerPub[:]) {
		return secret, ErrInvalidPeerPoint
	}
	out, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return secret, fmt.Errorf("llpcrypto: dh agree: %w", err)
	}
	if isAllZero(out) {
		return secret, ErrInvalidPeerPoint
	}
	copy(secret[:], out)
	return secret, nil
}

func isAllZero(b []byte) bool {
	var v byte
	for _, c := range b {
		v |= c
	}
	return v == 0
}

// HKDF derives outLen bytes of key material from ikm, salt and info using
// HKDF-SHA256.
func HKDF(ikm, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("llpcrypto: hkdf expand: %w", err)
	}
	return out, nil
}

// Seal performs ChaCha20-Poly1305 authenticated encryption, appending the
// 16-byte tag to the returned ciphertext.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("llpcrypto: new aead: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open performs ChaCha20-Poly1305 authenticated decryption. It returns
// ErrAuthenticationFailed on tag mismatch, never the underlying library
// error, so callers cannot distinguish failure reasons.
func Open(key [KeySize]byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("llpcrypto: new aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// HMACSHA256 computes HMAC-SHA256(key, msg).
func HMACSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

// VerifyHMAC compares a computed HMAC-SHA256(key, msg) against tag in
// constant time.
func VerifyHMAC(key, msg, tag []byte) bool {
	expected := HMACSHA256(key, msg)
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

// BLAKE3Sum256 hashes data with BLAKE3 and returns a 32-byte digest. It is
// used to mix rekey material, not as a general-purpose MAC.
func BLAKE3Sum256(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// RandomBytes fills and returns a new n-byte slice from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("llpcrypto: random bytes: %w", err)
	}
	return b, nil
}

// Zeroize overwrites b with zeros in place. Call it on every secret-bearing
// buffer (ephemeral privates, shared secrets, session keys) as soon as the
// buffer is no longer needed.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroizeArray32 overwrites a fixed-size 32-byte secret array in place.
func ZeroizeArray32(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}
