// Package wireid provides the connection identity generator used during
// the host-level Connect handshake, adapted from the teacher's internal
// pkg/guuid (itself distinct from the published github.com/Lzww0608/GUUID
// module used for engine instance IDs): a 16-byte identifier with an
// embedded timestamp for ordering, XOR-folded to the wire's 32-bit
// connection_id field (spec.md §6's Connect frame).
package wireid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// GUUID is a 16-byte globally unique identifier.
type GUUID [16]byte

// New generates a new GUUID using crypto/rand for high entropy.
func New() (GUUID, error) {
	var g GUUID
	_, err := rand.Read(g[:])
	if err != nil {
		return GUUID{}, fmt.Errorf("generate wire id: %w", err)
	}
	return g, nil
}

// NewWithTimestamp generates a GUUID with an embedded timestamp in its
// first 8 bytes for rough chronological ordering, followed by 8 random
// bytes.
func NewWithTimestamp() (GUUID, error) {
	var g GUUID

	timestamp := time.Now().UnixNano()
	binary.BigEndian.PutUint64(g[:8], uint64(timestamp))

	if _, err := rand.Read(g[8:]); err != nil {
		return GUUID{}, fmt.Errorf("generate timestamped wire id: %w", err)
	}
	return g, nil
}

// FromString parses a GUUID from its hex string representation, with or
// without hyphens.
func FromString(s string) (GUUID, error) {
	cleaned := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			cleaned = append(cleaned, s[i])
		}
	}

	if len(cleaned) != 32 {
		return GUUID{}, fmt.Errorf("invalid wire id string length: expected 32 hex chars, got %d", len(cleaned))
	}

	decoded, err := hex.DecodeString(string(cleaned))
	if err != nil {
		return GUUID{}, fmt.Errorf("invalid wire id string format: %w", err)
	}

	var g GUUID
	copy(g[:], decoded)
	return g, nil
}

// String returns the plain hex string representation.
func (g GUUID) String() string {
	return hex.EncodeToString(g[:])
}

// Bytes returns the raw byte slice.
func (g GUUID) Bytes() []byte {
	return g[:]
}

// IsZero reports whether g is the zero-valued GUUID.
func (g GUUID) IsZero() bool {
	for _, b := range g {
		if b != 0 {
			return false
		}
	}
	return true
}

// Timestamp extracts the embedded timestamp from a GUUID produced by
// NewWithTimestamp. It returns a meaningless value for a plain New GUUID.
func (g GUUID) Timestamp() time.Time {
	timestamp := binary.BigEndian.Uint64(g[:8])
	return time.Unix(0, int64(timestamp))
}

// Equal compares two GUUIDs for equality.
func (g GUUID) Equal(other GUUID) bool {
	return g == other
}

// Uint32 folds g down to a 32-bit value by XORing its four 4-byte lanes,
// for use as the Connect frame's connection_id (spec.md §6 fixes that
// field at 32 bits; the full GUUID carries more entropy than the wire
// format allows).
func (g GUUID) Uint32() uint32 {
	var v uint32
	for i := 0; i < 16; i += 4 {
		v ^= binary.BigEndian.Uint32(g[i : i+4])
	}
	return v
}

// Zero returns the zero-valued GUUID.
func Zero() GUUID {
	return GUUID{}
}
