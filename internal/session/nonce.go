package session

import (
	"encoding/binary"

	"github.com/llpmimic/llp/internal/llpcrypto"
)

// computeNonce builds the 12-byte AEAD nonce: little-endian 8-byte counter
// concatenated with the little-endian low 32 bits of the session id. This
// guarantees a unique nonce for every record sent under one key as long as
// the counter invariant (strictly increasing, never reused) holds.
func computeNonce(sessionID, counter uint64) [llpcrypto.NonceSize]byte {
	var nonce [llpcrypto.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], counter)
	binary.LittleEndian.PutUint32(nonce[8:12], uint32(sessionID))
	return nonce
}
