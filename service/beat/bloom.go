package beat

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// maxK bounds the number of probes to what a single 32-byte digest can
// address (8 big-endian uint32 slots).
const maxK = 8

// Filter is the probabilistic membership structure the node attaches to
// each block event. "Maybe contains" checks can report false positives but
// never false negatives; a false negative is a node protocol defect.
type Filter struct {
	bits []byte
	k    int
}

// NewFilter wraps raw filter bits with k hash probes.
func NewFilter(bits []byte, k int) *Filter {
	if k < 1 {
		k = 1
	}
	if k > maxK {
		k = maxK
	}
	return &Filter{bits: bits, k: k}
}

// probes derives the bit positions for a key.
func (f *Filter) probes(key []byte) []uint32 {
	digest := blake2b.Sum256(key)
	nbits := uint32(len(f.bits) * 8)
	out := make([]uint32, f.k)
	for i := 0; i < f.k; i++ {
		out[i] = binary.BigEndian.Uint32(digest[i*4:]) % nbits
	}
	return out
}

// Contains reports whether the filter maybe-contains the key.
func (f *Filter) Contains(key []byte) bool {
	if len(f.bits) == 0 {
		return false
	}
	for _, pos := range f.probes(key) {
		if f.bits[pos/8]&(0x80>>(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Add sets the probe bits for a key. Used to build filters in tests and
// tooling; production filters come from the node.
func (f *Filter) Add(key []byte) {
	if len(f.bits) == 0 {
		return
	}
	for _, pos := range f.probes(key) {
		f.bits[pos/8] |= 0x80 >> (pos % 8)
	}
}
