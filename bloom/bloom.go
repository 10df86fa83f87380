// Package bloom implements the two-level Bloom filter construction used
// by the keychain: a fixed-size bit vector addressed by k independent
// hashes of a compressed key. Both the primary (per-bucket, stored in
// the index file) and secondary (per-record) filters share this type;
// what differs between them is only where their backing bytes live on
// disk and how many bits/hashes they're configured with.
//
// The k hashes are derived by treating successive, overlapping 8-byte
// windows of the key as little-endian uint64s and reducing modulo the
// bit-width. A key shorter than 8+(k-1) bytes wraps its window indices
// modulo the key length rather than running out of bytes.
package bloom

import (
	"encoding/binary"

	"github.com/nexuschain/keychain/bitops"
)

// Filter is a set-only Bloom filter view over a byte buffer. It never
// clears bits: Put-time inserts are the only mutation, matching
// spec.md §4.3 — false positives only cost an extra comparison, never
// correctness, so Erase/Restore never need to touch filter bits.
type Filter struct {
	bits []byte
	m    uint32
	k    uint8
}

// New allocates a fresh, zeroed filter with m bits and k hash functions.
func New(m uint32, k uint8) *Filter {
	return &Filter{
		bits: make([]byte, bitops.ByteLen(m)),
		m:    m,
		k:    k,
	}
}

// Wrap constructs a filter over an existing byte slice — e.g. a window
// into an index stripe or record slot that has just been read off disk.
// buf is used directly, not copied; mutations through Insert are visible
// to the caller's buffer. len(buf) must equal SizeBytes(m).
func Wrap(buf []byte, m uint32, k uint8) *Filter {
	return &Filter{bits: buf, m: m, k: k}
}

// SizeBytes returns the number of bytes a filter with m bits occupies.
func SizeBytes(m uint32) int {
	return bitops.ByteLen(m)
}

// windowHash computes the start'th overlapping 8-byte window of key as
// a little-endian uint64, wrapping the byte index modulo len(key) when
// the window would otherwise run past the end of a short key.
func windowHash(key []byte, start int) uint64 {
	n := len(key)
	var window [8]byte
	for j := 0; j < 8; j++ {
		window[j] = key[(start+j)%n]
	}
	return binary.LittleEndian.Uint64(window[:])
}

// positions returns the k bit indices a key maps to in an m-bit filter.
func positions(key []byte, k uint8, m uint32) []uint32 {
	idx := make([]uint32, k)
	for i := uint8(0); i < k; i++ {
		idx[i] = uint32(windowHash(key, int(i)) % uint64(m))
	}
	return idx
}

// Insert sets the k bits key hashes to. It is idempotent and never
// clears a bit that was previously set.
func (f *Filter) Insert(key []byte) {
	for _, p := range positions(key, f.k, f.m) {
		bitops.SetBit(f.bits, p)
	}
}

// Contains reports whether key may be a member. false is authoritative
// (the key was never inserted); true may be a false positive.
func (f *Filter) Contains(key []byte) bool {
	for _, p := range positions(key, f.k, f.m) {
		if !bitops.TestBit(f.bits, p) {
			return false
		}
	}
	return true
}

// SizeBytes returns the length of the backing buffer.
func (f *Filter) SizeBytes() int {
	return len(f.bits)
}

// RawView exposes the backing buffer for serialization. Callers must not
// resize it; bits may be mutated in place via Insert.
func (f *Filter) RawView() []byte {
	return f.bits
}
