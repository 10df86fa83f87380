package keychain

import (
	"errors"

	"github.com/nexuschain/keychain/digest"
)

// Error taxonomy (spec.md §7). Corrupt is intentionally not exported:
// it never escapes the core as a distinct kind, only as ErrNotFound plus
// a logged warning.
var (
	ErrNotFound     = errors.New("keychain: not found")
	ErrKeychainFull = errors.New("keychain: bucket full")
	ErrIoError      = errors.New("keychain: io error")
	// ErrEmptyKey is digest.ErrEmptyKey under the keychain's own name —
	// compress_key fails only on an empty input, for every operation.
	ErrEmptyKey = digest.ErrEmptyKey
)
