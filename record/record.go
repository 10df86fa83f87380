// Package record implements the fixed-size on-disk codec for a single
// hashmap bucket slot and for an index-file stripe. Both layouts are
// plain byte-offset arithmetic with a trailing CRC32 — no headers, no
// variable-length fields — so that a slot/stripe write is always exactly
// one fixed-size write, per spec.md §4.8's "writing whole slots" crash
// mitigation.
package record

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/nexuschain/keychain/bloom"
)

// State is the lifecycle state of a bucket record slot (spec.md §3, §4.7).
type State byte

const (
	StateEmpty State = iota
	StateReady
	StateErased
	StateArchive
)

// ErrCorrupt means the slot/stripe's CRC32 did not match its bytes, or
// its length was wrong. It is internal to the core: callers of the
// keychain never see it — keychain logs it and treats the slot or stripe
// as empty, so a lookup that reaches it ends in NotFound, per spec.md §7.
var ErrCorrupt = errors.New("record: corrupt slot")

// Slot is the decoded form of one hashmap bucket record.
type Slot struct {
	State          State
	CompressedKey  []byte
	CurrentFile    uint16
	SecondaryBloom *bloom.Filter
	Payload        []byte // opaque SectorKey bytes, length == Layout.SectorKeyBytes
}

// Layout precomputes the fixed byte offsets of a hashmap record slot:
//
//	byte 0                  state
//	bytes 1..1+KeyLength    compressed key
//	next 2 bytes            current_file (uint16 LE)
//	next SecondaryBloomSize secondary bloom bits
//	next SectorKeyBytes     opaque SectorKey payload
//	next 4 bytes            CRC32 of everything above
type Layout struct {
	KeyLength            uint16
	SecondaryBloomBits   uint32
	SecondaryBloomHashes uint8
	SectorKeyBytes       uint32
}

func (l Layout) secondaryBloomSize() int {
	return bloom.SizeBytes(l.SecondaryBloomBits)
}

func (l Layout) keyOffset() int     { return 1 }
func (l Layout) fileOffset() int    { return l.keyOffset() + int(l.KeyLength) }
func (l Layout) bloomOffset() int   { return l.fileOffset() + 2 }
func (l Layout) payloadOffset() int { return l.bloomOffset() + l.secondaryBloomSize() }
func (l Layout) crcOffset() int     { return l.payloadOffset() + int(l.SectorKeyBytes) }

// Stride is the fixed byte length of one record slot, i.e. record_stride.
func (l Layout) Stride() int { return l.crcOffset() + 4 }

// Empty returns a zeroed slot with a freshly allocated secondary bloom,
// suitable as a scratch buffer for reading or as the basis for a new
// record before Put fills in its fields.
func (l Layout) Empty() Slot {
	return Slot{
		State:          StateEmpty,
		CompressedKey:  make([]byte, l.KeyLength),
		SecondaryBloom: bloom.New(l.SecondaryBloomBits, l.SecondaryBloomHashes),
		Payload:        make([]byte, l.SectorKeyBytes),
	}
}

// Encode serializes s into a freshly allocated Stride()-length buffer.
func (l Layout) Encode(s Slot) []byte {
	buf := make([]byte, l.Stride())

	buf[0] = byte(s.State)
	copy(buf[l.keyOffset():l.fileOffset()], s.CompressedKey)
	binary.LittleEndian.PutUint16(buf[l.fileOffset():l.bloomOffset()], s.CurrentFile)
	copy(buf[l.bloomOffset():l.payloadOffset()], s.SecondaryBloom.RawView())
	copy(buf[l.payloadOffset():l.crcOffset()], s.Payload)

	crc := crc32.ChecksumIEEE(buf[:l.crcOffset()])
	binary.LittleEndian.PutUint32(buf[l.crcOffset():], crc)

	return buf
}

// Decode parses a Stride()-length buffer into a Slot. A length mismatch
// or CRC32 mismatch returns ErrCorrupt; the caller (keychain) treats
// that exactly like an EMPTY/unmatched slot and keeps probing.
func (l Layout) Decode(buf []byte) (Slot, error) {
	if len(buf) != l.Stride() {
		return Slot{}, ErrCorrupt
	}

	want := binary.LittleEndian.Uint32(buf[l.crcOffset():])
	got := crc32.ChecksumIEEE(buf[:l.crcOffset()])
	if want != got {
		return Slot{}, ErrCorrupt
	}

	s := Slot{
		State:         State(buf[0]),
		CompressedKey: append([]byte(nil), buf[l.keyOffset():l.fileOffset()]...),
		CurrentFile:   binary.LittleEndian.Uint16(buf[l.fileOffset():l.bloomOffset()]),
		Payload:       append([]byte(nil), buf[l.payloadOffset():l.crcOffset()]...),
	}
	bloomBuf := append([]byte(nil), buf[l.bloomOffset():l.payloadOffset()]...)
	s.SecondaryBloom = bloom.Wrap(bloomBuf, l.SecondaryBloomBits, l.SecondaryBloomHashes)

	return s, nil
}

// Available implements check_hashmap_available: a slot is free to claim
// for file index f iff it is EMPTY and the bucket's current_file hint
// indicates no file at index >= f has ever held a record for this bucket.
func Available(s Slot, hint uint16, f uint16) bool {
	return s.State == StateEmpty && hint < f+1
}

// ReadCurrentFile reads the 2-byte little-endian current_file counter at
// offset within buf. The index stripe's hint and the per-record mirror
// field use this same encoding — both are "a uint16 at a known offset in
// a generic buffer", per original_source's get_current_file — though
// Layout and IndexLayout encode and decode it inline rather than through
// these helpers.
func ReadCurrentFile(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset : offset+2])
}

// WriteCurrentFile writes the 2-byte little-endian current_file counter
// at offset within buf.
func WriteCurrentFile(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:offset+2], v)
}

// IndexStripe is the decoded form of one bucket's slot in the index file:
// the primary bloom filter plus the bucket's current_file hint.
type IndexStripe struct {
	PrimaryBloom *bloom.Filter
	CurrentFile  uint16
}

// IndexLayout precomputes the fixed byte offsets of an index stripe:
//
//	bytes 0..PrimaryBloomSize  primary bloom bits
//	next 2 bytes               current_file hint (uint16 LE)
//	next 4 bytes               CRC32 of everything above
type IndexLayout struct {
	PrimaryBloomBits   uint32
	PrimaryBloomHashes uint8
}

func (l IndexLayout) primaryBloomSize() int { return bloom.SizeBytes(l.PrimaryBloomBits) }
func (l IndexLayout) fileOffset() int       { return l.primaryBloomSize() }
func (l IndexLayout) crcOffset() int        { return l.fileOffset() + 2 }

// Stride is the fixed byte length of one index stripe, i.e. index_stride.
func (l IndexLayout) Stride() int { return l.crcOffset() + 4 }

// Empty returns a zeroed index stripe with a freshly allocated primary
// bloom filter.
func (l IndexLayout) Empty() IndexStripe {
	return IndexStripe{
		PrimaryBloom: bloom.New(l.PrimaryBloomBits, l.PrimaryBloomHashes),
		CurrentFile:  0,
	}
}

// Encode serializes s into a freshly allocated Stride()-length buffer.
func (l IndexLayout) Encode(s IndexStripe) []byte {
	buf := make([]byte, l.Stride())

	copy(buf[:l.fileOffset()], s.PrimaryBloom.RawView())
	binary.LittleEndian.PutUint16(buf[l.fileOffset():l.crcOffset()], s.CurrentFile)

	crc := crc32.ChecksumIEEE(buf[:l.crcOffset()])
	binary.LittleEndian.PutUint32(buf[l.crcOffset():], crc)

	return buf
}

// Decode parses a Stride()-length buffer into an IndexStripe. As with
// Layout.Decode, a mismatch returns ErrCorrupt rather than panicking.
func (l IndexLayout) Decode(buf []byte) (IndexStripe, error) {
	if len(buf) != l.Stride() {
		return IndexStripe{}, ErrCorrupt
	}

	want := binary.LittleEndian.Uint32(buf[l.crcOffset():])
	got := crc32.ChecksumIEEE(buf[:l.crcOffset()])
	if want != got {
		return IndexStripe{}, ErrCorrupt
	}

	bloomBuf := append([]byte(nil), buf[:l.fileOffset()]...)
	return IndexStripe{
		PrimaryBloom: bloom.Wrap(bloomBuf, l.PrimaryBloomBits, l.PrimaryBloomHashes),
		CurrentFile:  binary.LittleEndian.Uint16(buf[l.fileOffset():l.crcOffset()]),
	}, nil
}
