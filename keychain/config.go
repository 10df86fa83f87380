package keychain

import (
	"errors"

	"go.uber.org/zap"
)

// Config bundles every immutable input to a BinaryHashMap keychain. It is
// passed by value at construction, so the keychain holds its own copy,
// and never mutated afterwards,
// matching spec.md §9's rejection of global configuration/singletons.
type Config struct {
	BasePath string

	TotalBuckets uint32
	MaxHashmaps  uint16

	PrimaryBloomBits   uint32
	PrimaryBloomHashes uint8

	SecondaryBloomBits   uint32
	SecondaryBloomHashes uint8

	KeyLength      uint16
	SectorKeyBytes uint32

	FileHandleCacheSize int

	// Logger receives structured warnings about corrupt index stripes and
	// records. I/O errors are returned, not logged. Defaults to a no-op
	// logger if nil.
	Logger *zap.Logger
}

func (c Config) validate() error {
	if c.BasePath == "" {
		return errors.New("keychain: base path required")
	}
	if c.TotalBuckets == 0 {
		return errors.New("keychain: total buckets must be > 0")
	}
	if c.MaxHashmaps == 0 {
		return errors.New("keychain: max hashmaps must be > 0")
	}
	if c.KeyLength == 0 {
		return errors.New("keychain: key length must be > 0")
	}
	if c.SectorKeyBytes == 0 {
		return errors.New("keychain: sector key bytes must be > 0")
	}
	if c.PrimaryBloomBits == 0 || c.PrimaryBloomHashes == 0 {
		return errors.New("keychain: primary bloom bits and hashes must be > 0")
	}
	if c.SecondaryBloomBits == 0 || c.SecondaryBloomHashes == 0 {
		return errors.New("keychain: secondary bloom bits and hashes must be > 0")
	}
	if c.FileHandleCacheSize <= 0 {
		return errors.New("keychain: file handle cache size must be > 0")
	}
	return nil
}
