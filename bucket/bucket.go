// Package bucket maps a compressed key to a bucket id. It is a pure
// function with no state: every hashmap file and the index file address
// the same bucket id at the same stripe/record offset.
package bucket

import "encoding/binary"

// Of interprets the first 8 bytes of a compressed key as a little-endian
// uint64 and reduces it modulo totalBuckets. If the compressed key is
// shorter than 8 bytes its byte indices wrap modulo its own length, the
// same convention bloom.Filter uses for its hash windows, so a short
// key_length still yields a well-defined, deterministic bucket id.
func Of(compressedKey []byte, totalBuckets uint32) uint32 {
	n := len(compressedKey)

	var window [8]byte
	for i := 0; i < 8; i++ {
		window[i] = compressedKey[i%n]
	}

	h := binary.LittleEndian.Uint64(window[:])
	return uint32(h % uint64(totalBuckets))
}
