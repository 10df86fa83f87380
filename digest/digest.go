// Package digest implements the one-way key compressor: a deterministic
// fold from an arbitrary-length key into a fixed-length digest used for
// bucketing and both Bloom filters. It is not cryptographic; its only
// requirements are uniform distribution of the leading bytes (consumed
// by the bucket indexer) and stability across platforms (hence the
// little-endian-free, byte-at-a-time XOR below).
package digest

import "errors"

// ErrEmptyKey is returned when Compress is given a zero-length key.
var ErrEmptyKey = errors.New("digest: empty key")

// Compress folds key into a size-byte digest by XOR-ing successive
// size-byte chunks of key into an accumulator, advancing the cursor by
// size each pass. A short final chunk XORs only the bytes it has.
func Compress(key []byte, size uint16) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	out := make([]byte, size)
	for off := 0; off < len(key); off += int(size) {
		end := off + int(size)
		if end > len(key) {
			end = len(key)
		}
		chunk := key[off:end]
		for i, b := range chunk {
			out[i] ^= b
		}
	}

	return out, nil
}
