// Package idgen derives connection identifiers for the provider's outgoing
// control connection and renders them for logging.
package idgen

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/keybase/saltpack/encoding/basex"
	uuid "github.com/satori/go.uuid"
)

// ConnID generates a fresh 64-bit connection identifier folded down from a
// random UUIDv4, the same way the teacher derives a stable identifier from
// key material via PairingSecret.DeriveUUID.
func ConnID() (uint64, error) {
	id := uuid.NewV4()
	return fold(id), nil
}

// fold XORs the high and low halves of a UUID into a single uint64, rather
// than truncating, so both halves of the random value affect the result.
func fold(id uuid.UUID) uint64 {
	hi := binary.BigEndian.Uint64(id[0:8])
	lo := binary.BigEndian.Uint64(id[8:16])
	return hi ^ lo
}

// Base62 renders a connection identifier as a short, loggable string.
func Base62(connID uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, connID)
	return basex.Base62StdEncoding.EncodeToString(buf)
}

// RandBase62 returns a random base62 token of nBytes random bytes, for a
// throwaway identifier (e.g. a debug session tag) not derived from a
// connection.
func RandBase62(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return basex.Base62StdEncoding.EncodeToString(buf), nil
}
