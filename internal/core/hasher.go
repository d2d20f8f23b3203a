package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed seeds the hash chain before any operation is applied.
const GenesisHashSeed = "SynthLedger:genesis:v1"

// StateHasher maintains the operation log's hash chain:
//
//	state_hash(N) = SHA256(state_hash(N-1) || sequence(N) || digest(N))
//
// where digest(N) covers the full post-apply state. Replaying the same
// operations from the same genesis always reproduces the same chain, which
// is how replay verifies it rebuilt the exact state it started from.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher creates a hasher initialized with the genesis seed.
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash chains the next state hash and advances the head.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	buf := make([]byte, 0, 32+8+len(digest))
	buf = append(buf, h.prevHash[:]...)

	seqBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBytes, uint64(sequence))
	buf = append(buf, seqBytes...)
	buf = append(buf, digest...)

	hash := sha256.Sum256(buf)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain head.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain head, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
