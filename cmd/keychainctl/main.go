// Command keychainctl is a thin, single-shot CLI over a BinaryHashMap
// keychain: open it, run one operation, close it. It exists to give the
// core a runnable entrypoint, not as a feature of the keychain itself.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nexuschain/keychain/keychain"
	"github.com/nexuschain/keychain/sectorkey"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	fs := flag.NewFlagSet("keychainctl", flag.ContinueOnError)
	fs.SetOutput(errOut)

	basePath := fs.String("base-path", "./keychain-data", "directory holding the index and hashmap files")
	totalBuckets := fs.Uint32("total-buckets", 1024, "buckets per hashmap file")
	maxHashmaps := fs.Uint16("max-hashmaps", 4, "maximum number of hashmap files (probe depth)")
	primaryBits := fs.Uint32("primary-bloom-bits", 8192, "primary (index) bloom filter bit-width")
	primaryHashes := fs.Uint8("primary-bloom-hashes", 5, "primary bloom filter hash count")
	secondaryBits := fs.Uint32("secondary-bloom-bits", 256, "secondary (record) bloom filter bit-width")
	secondaryHashes := fs.Uint8("secondary-bloom-hashes", 3, "secondary bloom filter hash count")
	keyLength := fs.Uint16("key-length", 16, "compressed key length in bytes")
	sectorKeyBytes := fs.Uint32("sector-key-bytes", 64, "serialized sector key length in bytes")
	cacheSize := fs.Int("cache-size", 16, "open hashmap file handle LRU capacity")

	op := fs.String("op", "", "operation: get|put|erase|restore|flush")
	key := fs.String("key", "", "raw key bytes, as a hex string")
	valueHex := fs.String("value", "", "sector key payload bytes, as a hex string (put only)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *op == "" {
		fmt.Fprintln(errOut, "keychainctl: --op is required")
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(errOut, "keychainctl: failed to build logger:", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	cfg := keychain.Config{
		BasePath:             *basePath,
		TotalBuckets:         *totalBuckets,
		MaxHashmaps:          *maxHashmaps,
		PrimaryBloomBits:     *primaryBits,
		PrimaryBloomHashes:   *primaryHashes,
		SecondaryBloomBits:   *secondaryBits,
		SecondaryBloomHashes: *secondaryHashes,
		KeyLength:            *keyLength,
		SectorKeyBytes:       *sectorKeyBytes,
		FileHandleCacheSize:  *cacheSize,
		Logger:               logger,
	}

	kc, err := keychain.New(cfg)
	if err != nil {
		fmt.Fprintln(errOut, "keychainctl: failed to construct keychain:", err)
		return 1
	}

	ctx := context.Background()

	if err := kc.Initialize(ctx); err != nil {
		fmt.Fprintln(errOut, "keychainctl: failed to initialize keychain:", err)
		return 1
	}
	defer kc.Close() //nolint:errcheck

	rawKey, err := hex.DecodeString(*key)
	if err != nil && *key != "" {
		fmt.Fprintln(errOut, "keychainctl: --key must be hex:", err)
		return 2
	}

	switch *op {
	case "get":
		sk, err := kc.Get(ctx, rawKey)
		if err != nil {
			fmt.Fprintln(errOut, "keychainctl:", err)
			return 1
		}
		fmt.Fprintln(out, hex.EncodeToString(sk.Payload))

	case "put":
		payload, err := hex.DecodeString(*valueHex)
		if err != nil {
			fmt.Fprintln(errOut, "keychainctl: --value must be hex:", err)
			return 2
		}
		sk := sectorkey.SectorKey{RawKey: rawKey, Payload: payload}
		if err := kc.Put(ctx, sk); err != nil {
			fmt.Fprintln(errOut, "keychainctl:", err)
			return 1
		}

	case "erase":
		if err := kc.Erase(ctx, rawKey); err != nil {
			fmt.Fprintln(errOut, "keychainctl:", err)
			return 1
		}

	case "restore":
		if err := kc.Restore(ctx, rawKey); err != nil {
			fmt.Fprintln(errOut, "keychainctl:", err)
			return 1
		}

	case "flush":
		if err := kc.Flush(ctx); err != nil {
			fmt.Fprintln(errOut, "keychainctl:", err)
			return 1
		}

	default:
		fmt.Fprintln(errOut, "keychainctl: unknown --op", *op)
		return 2
	}

	return 0
}
