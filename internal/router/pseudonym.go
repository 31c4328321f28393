package router

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Pseudonymizer derives stable user hashes with keyed BLAKE2b. Without the
// key the hash cannot be linked back to the identifier.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer builds a pseudonymizer. Keys longer than BLAKE2b allows
// are compressed first.
func NewPseudonymizer(key string) *Pseudonymizer {
	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum512(k)
		k = sum[:]
	}
	return &Pseudonymizer{key: k}
}

// Hash returns the hex pseudonym for id.
func (p *Pseudonymizer) Hash(id string) string {
	h, err := blake2b.New256(p.key)
	if err != nil {
		// Only reachable with an oversized key, which NewPseudonymizer prevents.
		panic(err)
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}
