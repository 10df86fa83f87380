package keychain

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nexuschain/keychain/sectorkey"
)

// testConfig mirrors spec.md §8's worked-example configuration:
// total_buckets=16, max_hashmaps=4, key_length=4, sector_key_bytes=8,
// primary bloom 64 bits/3 hashes, secondary bloom 32 bits/2 hashes.
func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		BasePath:             t.TempDir(),
		TotalBuckets:         16,
		MaxHashmaps:          4,
		PrimaryBloomBits:     64,
		PrimaryBloomHashes:   3,
		SecondaryBloomBits:   32,
		SecondaryBloomHashes: 2,
		KeyLength:            4,
		SectorKeyBytes:       8,
		FileHandleCacheSize:  4,
	}
}

func openKeychain(t *testing.T, cfg Config) *BinaryHashMap {
	t.Helper()

	kc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := kc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { kc.Close() })

	return kc
}

func payload(fill byte) []byte {
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = fill
	}
	buf[0] = byte(record_StateReadyForTest) // leading byte mirrors slot state, per sectorkey contract
	return buf
}

// record_StateReadyForTest avoids importing the record package into the
// test just to spell out a single constant value (StateReady == 1).
const record_StateReadyForTest = 1

func TestPutThenGetRoundTrip(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte{0xAA}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: want}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Payload, want) {
		t.Fatalf("Get payload = %x, want %x", got.Payload, want)
	}
}

func TestPutOverwriteIsLastWriterWins(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte("abc")
	v1 := []byte{1, 0, 0, 0, 0, 0, 0, 1}
	v2 := []byte{1, 0, 0, 0, 0, 0, 0, 2}

	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: v1}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: v2}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Payload, v2) {
		t.Fatalf("Get payload = %x, want %x (last writer)", got.Payload, v2)
	}
}

func TestPutSameValueTwiceIsIdempotent(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte("idempotent")
	v := payload(0x07)

	for i := 0; i < 2; i++ {
		if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: v}); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	got, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Payload, v) {
		t.Fatalf("Get payload = %x, want %x", got.Payload, v)
	}
}

func TestGetNeverWrittenKeyIsNotFound(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	if _, err := kc.Get(ctx, []byte("never-written")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEraseThenGetThenRestore(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte("erasable")
	v := payload(0x09)

	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: v}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kc.Erase(ctx, key); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, err := kc.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Erase: expected ErrNotFound, got %v", err)
	}
	if err := kc.Restore(ctx, key); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after Restore: %v", err)
	}
	if !bytes.Equal(got.Payload, v) {
		t.Fatalf("Get after Restore payload = %x, want %x", got.Payload, v)
	}
}

func TestEraseTwiceIsNotFoundTheSecondTime(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte("double-erase")
	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: payload(0x01)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kc.Erase(ctx, key); err != nil {
		t.Fatalf("first Erase: %v", err)
	}
	if err := kc.Erase(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Erase: expected ErrNotFound, got %v", err)
	}
}

func TestRestoreWithoutErasedRecordIsNotFound(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	key := []byte("never-erased")
	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: payload(0x01)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kc.Restore(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Restore on a READY record: expected ErrNotFound, got %v", err)
	}
}

func TestErasingOneKeyDoesNotAffectACollidingSibling(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	// With key_length=4, bucket = first byte mod 16, so 0x05 and 0x15
	// land in the same bucket (5) but are distinct compressed keys.
	k1 := []byte{0x05, 0, 0, 0}
	k2 := []byte{0x15, 0, 0, 1}
	v1 := payload(0x01)
	v2 := payload(0x02)

	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: k1, Payload: v1}); err != nil {
		t.Fatalf("Put k1: %v", err)
	}
	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: k2, Payload: v2}); err != nil {
		t.Fatalf("Put k2: %v", err)
	}

	if err := kc.Erase(ctx, k1); err != nil {
		t.Fatalf("Erase k1: %v", err)
	}

	got, err := kc.Get(ctx, k2)
	if err != nil {
		t.Fatalf("Get k2 after erasing k1: %v", err)
	}
	if !bytes.Equal(got.Payload, v2) {
		t.Fatalf("Get k2 payload = %x, want %x", got.Payload, v2)
	}
}

func TestBucketFillsToMaxHashmapsThenKeychainFull(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	// All five keys have first byte % 16 == 5, landing in bucket 5. With
	// max_hashmaps=4 the first four succeed, the fifth is KeychainFull.
	keys := [][]byte{
		{0x05, 0, 0, 0},
		{0x15, 0, 0, 1},
		{0x25, 0, 0, 2},
		{0x35, 0, 0, 3},
		{0x45, 0, 0, 4},
	}

	for i, k := range keys[:4] {
		if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: k, Payload: payload(byte(i + 1))}); err != nil {
			t.Fatalf("Put key %d: %v", i, err)
		}
	}

	if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: keys[4], Payload: payload(9)}); !errors.Is(err, ErrKeychainFull) {
		t.Fatalf("expected ErrKeychainFull for the fifth colliding key, got %v", err)
	}

	for i, k := range keys[:4] {
		got, err := kc.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get key %d: %v", i, err)
		}
		if got.Payload[1] != byte(i+1) {
			t.Fatalf("Get key %d payload[1] = %d, want %d", i, got.Payload[1], i+1)
		}
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	kc := openKeychain(t, testConfig(t))
	ctx := context.Background()

	err := kc.Put(ctx, sectorkey.SectorKey{RawKey: nil, Payload: payload(1)})
	if !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestReopenYieldsIdenticalResults(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	key := []byte("persists-across-reopen")
	v := payload(0x42)

	func() {
		kc, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := kc.Initialize(ctx); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		defer kc.Close()

		if err := kc.Put(ctx, sectorkey.SectorKey{RawKey: key, Payload: v}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := kc.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}()

	kc2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if err := kc2.Initialize(ctx); err != nil {
		t.Fatalf("Initialize (reopen): %v", err)
	}
	defer kc2.Close()

	got, err := kc2.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got.Payload, v) {
		t.Fatalf("Get after reopen payload = %x, want %x", got.Payload, v)
	}
}

func TestFlushIsSafeWithNoPriorWrites(t *testing.T) {
	kc := openKeychain(t, testConfig(t))

	if err := kc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
