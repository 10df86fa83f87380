// Package sectorkey defines the SectorKey contract the keychain core
// consumes but does not own. spec.md §6 treats SectorKey as opaque
// except for a leading state byte that mirrors the slot's own state
// field; everything else belongs to the sector database layer above
// this core.
package sectorkey

// SectorKey is the caller-supplied record the keychain indexes. RawKey
// is the arbitrary-length key used for compression/bucketing; it is
// never itself persisted. Payload is the opaque, fixed-length
// (sector_key_bytes) serialized form stored in the record slot; its
// first byte mirrors the slot's state.
type SectorKey struct {
	RawKey  []byte
	Payload []byte
}

// State returns the leading byte of Payload.
func (s SectorKey) State() byte {
	return s.Payload[0]
}

// WithPayload returns a copy of s with Payload replaced, leaving the
// caller's original SectorKey value untouched.
func (s SectorKey) WithPayload(payload []byte) SectorKey {
	return SectorKey{RawKey: s.RawKey, Payload: payload}
}
