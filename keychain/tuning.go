package keychain

import bloomv3 "github.com/bits-and-blooms/bloom/v3"

// EstimateBloomParams recommends a (bits, hashes) pair for a Bloom
// filter expected to hold n keys at false-positive rate fp. It wraps
// bloom/v3's estimator purely for sizing advice; the keychain's actual primary/secondary filters stay on the
// spec-mandated raw byte buffer (bloom.Filter), not bloom/v3's own
// representation, since they must be embeddable as a fixed-size field
// inside an index stripe / record slot written with a single WriteAt.
func EstimateBloomParams(n uint, fp float64) (bits uint32, hashes uint8) {
	m, k := bloomv3.EstimateParameters(n, fp)
	return uint32(m), uint8(k)
}
