// Package random draws high-entropy seeds for gameplay randomness.
//
// Dice rolls are evaluated from a seeded generator so a result is
// reproducible given its seed; the seeds themselves come from crypto/rand.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed returns a crypto-quality int64 seed.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
