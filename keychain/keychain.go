// Package keychain implements the BinaryHashMap keychain: a persistent,
// on-disk keychain mapping arbitrary byte keys to fixed-size sector key
// records via a bucketed hashmap with per-bucket probing across a small
// number of hashmap files, guarded by a two-level Bloom filter.
package keychain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/nexuschain/keychain/bloom"
	"github.com/nexuschain/keychain/bucket"
	"github.com/nexuschain/keychain/digest"
	"github.com/nexuschain/keychain/filecache"
	"github.com/nexuschain/keychain/record"
	"github.com/nexuschain/keychain/sectorkey"
)

// Keychain is the capability set exposed by every keychain variant
// (spec.md §9's "inheritance" redesign: a capability abstraction rather
// than a base class). BinaryHashMap is the only concrete implementation
// specified here.
type Keychain interface {
	Get(ctx context.Context, rawKey []byte) (sectorkey.SectorKey, error)
	Put(ctx context.Context, key sectorkey.SectorKey) error
	Erase(ctx context.Context, rawKey []byte) error
	Restore(ctx context.Context, rawKey []byte) error
	Flush(ctx context.Context) error
	Initialize(ctx context.Context) error
	Close() error
}

const (
	indexFileName        = "_index.0"
	hashmapFileNameFormat = "_hashmap.%04d"
)

// BinaryHashMap is the bucketed on-disk hashmap keychain described in
// spec.md. All operations serialize on a single mutex covering index
// stripe access, hashmap-file probing, and the file handle cache, per
// spec.md §5.
type BinaryHashMap struct {
	mu sync.Mutex

	cfg       Config
	layout    record.Layout
	idxLayout record.IndexLayout
	log       *zap.Logger

	indexFile *os.File
	files     *filecache.Cache
}

var _ Keychain = (*BinaryHashMap)(nil)

// New constructs a BinaryHashMap keychain from cfg. Callers must call
// Initialize before using it.
func New(cfg Config) (*BinaryHashMap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	k := &BinaryHashMap{
		cfg: cfg,
		layout: record.Layout{
			KeyLength:            cfg.KeyLength,
			SecondaryBloomBits:   cfg.SecondaryBloomBits,
			SecondaryBloomHashes: cfg.SecondaryBloomHashes,
			SectorKeyBytes:       cfg.SectorKeyBytes,
		},
		idxLayout: record.IndexLayout{
			PrimaryBloomBits:   cfg.PrimaryBloomBits,
			PrimaryBloomHashes: cfg.PrimaryBloomHashes,
		},
		log: logger,
	}

	files, err := filecache.New(cfg.FileHandleCacheSize, k.openHashmapFile)
	if err != nil {
		return nil, err
	}
	k.files = files

	return k, nil
}

func (k *BinaryHashMap) indexPath() string {
	return filepath.Join(k.cfg.BasePath, indexFileName)
}

func (k *BinaryHashMap) hashmapPath(f uint16) string {
	return filepath.Join(k.cfg.BasePath, fmt.Sprintf(hashmapFileNameFormat, f))
}

// ensureHashmapFile preallocates the zeroed body of hashmap file f if it
// doesn't already exist, atomically so a crash mid-preallocation never
// leaves a half-written, non-zero file behind.
func (k *BinaryHashMap) ensureHashmapFile(f uint16) (string, error) {
	path := k.hashmapPath(f)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		size := int64(k.cfg.TotalBuckets) * int64(k.layout.Stride())
		if err := atomic.WriteFile(path, bytes.NewReader(make([]byte, size))); err != nil {
			return "", fmt.Errorf("%w: preallocating hashmap file %d: %v", ErrIoError, f, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("%w: statting hashmap file %d: %v", ErrIoError, f, err)
	}

	return path, nil
}

// openHashmapFile is the filecache.OpenFunc: it ensures the file exists
// and preallocated, then opens it. Called lazily by the LRU on a miss.
func (k *BinaryHashMap) openHashmapFile(f uint16) (*os.File, error) {
	path, err := k.ensureHashmapFile(f)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening hashmap file %d: %v", ErrIoError, f, err)
	}

	return file, nil
}

// Initialize creates base_path if missing, preallocates the index file
// and the first hashmap file, and opens the index handle for the
// keychain's lifetime. Remaining hashmap files are created lazily by the
// file handle cache as probing reaches them.
func (k *BinaryHashMap) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.MkdirAll(k.cfg.BasePath, 0o755); err != nil {
		return fmt.Errorf("%w: creating base path: %v", ErrIoError, err)
	}

	idxPath := k.indexPath()
	if _, err := os.Stat(idxPath); errors.Is(err, os.ErrNotExist) {
		size := int64(k.cfg.TotalBuckets) * int64(k.idxLayout.Stride())
		if err := atomic.WriteFile(idxPath, bytes.NewReader(make([]byte, size))); err != nil {
			return fmt.Errorf("%w: preallocating index file: %v", ErrIoError, err)
		}
	} else if err != nil {
		return fmt.Errorf("%w: statting index file: %v", ErrIoError, err)
	}

	f, err := os.OpenFile(idxPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening index file: %v", ErrIoError, err)
	}
	k.indexFile = f

	if _, err := k.ensureHashmapFile(0); err != nil {
		return err
	}

	return nil
}

func (k *BinaryHashMap) readIndexStripe(b uint32) (record.IndexStripe, error) {
	buf := make([]byte, k.idxLayout.Stride())
	off := int64(b) * int64(k.idxLayout.Stride())

	if _, err := k.indexFile.ReadAt(buf, off); err != nil {
		return record.IndexStripe{}, fmt.Errorf("%w: reading index stripe %d: %v", ErrIoError, b, err)
	}

	stripe, err := k.idxLayout.Decode(buf)
	if errors.Is(err, record.ErrCorrupt) {
		k.log.Warn("corrupt index stripe, treating as empty",
			zap.Uint32("bucket", b))
		return k.idxLayout.Empty(), nil
	}

	return stripe, nil
}

func (k *BinaryHashMap) writeIndexStripe(b uint32, s record.IndexStripe) error {
	buf := k.idxLayout.Encode(s)
	off := int64(b) * int64(k.idxLayout.Stride())

	if _, err := k.indexFile.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: writing index stripe %d: %v", ErrIoError, b, err)
	}

	return nil
}

func (k *BinaryHashMap) readRecord(f uint16, b uint32) (record.Slot, error) {
	h, err := k.files.Get(f)
	if err != nil {
		return record.Slot{}, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	h.Lock()
	defer h.Unlock()

	buf := make([]byte, k.layout.Stride())
	off := int64(b) * int64(k.layout.Stride())

	if _, err := h.File.ReadAt(buf, off); err != nil {
		return record.Slot{}, fmt.Errorf("%w: reading record (file %d bucket %d): %v", ErrIoError, f, b, err)
	}

	slot, err := k.layout.Decode(buf)
	if errors.Is(err, record.ErrCorrupt) {
		k.log.Warn("corrupt record, treating as empty slot",
			zap.Uint16("file", f), zap.Uint32("bucket", b))
		return k.layout.Empty(), nil
	}

	return slot, nil
}

func (k *BinaryHashMap) writeRecord(f uint16, b uint32, s record.Slot) error {
	h, err := k.files.Get(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	h.Lock()
	defer h.Unlock()

	buf := k.layout.Encode(s)
	off := int64(b) * int64(k.layout.Stride())

	if _, err := h.File.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: writing record (file %d bucket %d): %v", ErrIoError, f, b, err)
	}

	return nil
}

func (k *BinaryHashMap) compressAndBucket(rawKey []byte) ([]byte, uint32, error) {
	ck, err := digest.Compress(rawKey, k.cfg.KeyLength)
	if err != nil {
		return nil, 0, err
	}
	return ck, bucket.Of(ck, k.cfg.TotalBuckets), nil
}

// Get locates the sector key for rawKey. It returns ErrNotFound if the
// primary bloom rejects the key or no matching READY record is found
// within the bucket's current probe depth.
func (k *BinaryHashMap) Get(ctx context.Context, rawKey []byte) (sectorkey.SectorKey, error) {
	if err := ctx.Err(); err != nil {
		return sectorkey.SectorKey{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	ck, b, err := k.compressAndBucket(rawKey)
	if err != nil {
		return sectorkey.SectorKey{}, err
	}

	stripe, err := k.readIndexStripe(b)
	if err != nil {
		return sectorkey.SectorKey{}, err
	}

	if !stripe.PrimaryBloom.Contains(ck) {
		return sectorkey.SectorKey{}, ErrNotFound
	}

	probeLimit := min(stripe.CurrentFile, k.cfg.MaxHashmaps)

	for f := uint16(0); f < probeLimit; f++ {
		slot, err := k.readRecord(f, b)
		if err != nil {
			return sectorkey.SectorKey{}, err
		}

		if !slot.SecondaryBloom.Contains(ck) {
			continue
		}

		if slot.State == record.StateReady && bytes.Equal(slot.CompressedKey, ck) {
			return sectorkey.SectorKey{RawKey: rawKey, Payload: slot.Payload}, nil
		}

		if (slot.State == record.StateErased || slot.State == record.StateArchive) && bytes.Equal(slot.CompressedKey, ck) {
			continue
		}
	}

	return sectorkey.SectorKey{}, ErrNotFound
}

// Put writes key, overwriting an existing record with the same
// compressed key in place (last-writer-wins within the bucket), or
// claiming the first available slot across the bucket's probe sequence.
// Returns ErrKeychainFull if no slot is available within max_hashmaps.
func (k *BinaryHashMap) Put(ctx context.Context, key sectorkey.SectorKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	ck, b, err := k.compressAndBucket(key.RawKey)
	if err != nil {
		return err
	}

	stripe, err := k.readIndexStripe(b)
	if err != nil {
		return err
	}

	if !stripe.PrimaryBloom.Contains(ck) {
		stripe.PrimaryBloom.Insert(ck)
	}

	hint := stripe.CurrentFile
	found := false

	for f := uint16(0); f < k.cfg.MaxHashmaps; f++ {
		slot, err := k.readRecord(f, b)
		if err != nil {
			return err
		}

		switch {
		case (slot.State == record.StateReady || slot.State == record.StateErased) && bytes.Equal(slot.CompressedKey, ck):
			slot.State = record.StateReady
			slot.Payload = append([]byte(nil), key.Payload...)
			slot.SecondaryBloom.Insert(ck)

			if err := k.writeRecord(f, b, slot); err != nil {
				return err
			}
			found = true

		case record.Available(slot, hint, f):
			newSlot := record.Slot{
				State:          record.StateReady,
				CompressedKey:  ck,
				CurrentFile:    f + 1,
				SecondaryBloom: bloom.New(k.cfg.SecondaryBloomBits, k.cfg.SecondaryBloomHashes),
				Payload:        append([]byte(nil), key.Payload...),
			}
			newSlot.SecondaryBloom.Insert(ck)

			if err := k.writeRecord(f, b, newSlot); err != nil {
				return err
			}

			if f+1 > hint {
				hint = f + 1
			}
			found = true
		}

		if found {
			break
		}
	}

	if !found {
		return ErrKeychainFull
	}

	stripe.CurrentFile = hint

	return k.writeIndexStripe(b, stripe)
}

// Erase marks the record matching rawKey as ERASED (a tombstone),
// leaving Bloom bits untouched. Returns ErrNotFound if no matching
// record exists or it is already non-READY.
//
// Like Get, Erase re-probes from file 0 on every call rather than
// reusing a cached slot location from a preceding Get — the original
// keychain does the same and flags it as a spot worth optimizing later.
func (k *BinaryHashMap) Erase(ctx context.Context, rawKey []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	return k.locateAndTransition(rawKey, record.StateReady, record.StateErased)
}

// Restore reverses an Erase, flipping a matching ERASED record back to
// READY. Returns ErrNotFound if no matching ERASED record exists.
func (k *BinaryHashMap) Restore(ctx context.Context, rawKey []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	return k.locateAndTransition(rawKey, record.StateErased, record.StateReady)
}

// locateAndTransition scans the bucket's probe sequence for the slot
// whose compressed key matches rawKey (any state, stopping at the first
// such slot — bloom false positives for other keys keep scanning). If
// that slot is in fromState it is flipped to toState and rewritten;
// otherwise (wrong state, or no matching slot at all) it is ErrNotFound.
func (k *BinaryHashMap) locateAndTransition(rawKey []byte, fromState, toState record.State) error {
	ck, b, err := k.compressAndBucket(rawKey)
	if err != nil {
		return err
	}

	stripe, err := k.readIndexStripe(b)
	if err != nil {
		return err
	}

	if !stripe.PrimaryBloom.Contains(ck) {
		return ErrNotFound
	}

	probeLimit := min(stripe.CurrentFile, k.cfg.MaxHashmaps)

	for f := uint16(0); f < probeLimit; f++ {
		slot, err := k.readRecord(f, b)
		if err != nil {
			return err
		}

		if !slot.SecondaryBloom.Contains(ck) || !bytes.Equal(slot.CompressedKey, ck) {
			continue
		}

		if slot.State != fromState {
			return ErrNotFound
		}

		slot.State = toState

		return k.writeRecord(f, b, slot)
	}

	return ErrNotFound
}

// Flush syncs the index file and every cached hashmap file handle.
func (k *BinaryHashMap) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.indexFile.Sync(); err != nil {
		return fmt.Errorf("%w: syncing index file: %v", ErrIoError, err)
	}

	if err := k.files.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	return nil
}

// Close flushes and closes the index handle and every cached hashmap
// file handle.
func (k *BinaryHashMap) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var firstErr error

	if k.indexFile != nil {
		if err := k.indexFile.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrIoError, err)
		}
		if err := k.indexFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}

	if err := k.files.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
