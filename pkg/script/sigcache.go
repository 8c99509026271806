package script

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
)

// SigCache implements a bounded least-recently-used cache of valid
// signatures.  Scripts of a transaction are often executed several times
// (mempool admission, block templates, block validation), so remembering the
// triples already proven valid skips the costly elliptic curve math on the
// following runs.
//
// Only valid signatures are ever added.  A cache entry commits to the
// signature hash, the signature and the public key, so an entry can never
// vouch for a different message or key.
type SigCache struct {
	valid lru.Cache
}

// NewSigCache creates and initializes a new instance of SigCache.  Its sole
// parameter 'maxEntries' represents the maximum number of entries allowed to
// exist in the SigCache at any particular moment.  Once the limit is reached,
// the least recently used entry is evicted.
func NewSigCache(maxEntries uint) *SigCache {
	return &SigCache{
		valid: lru.NewCache(maxEntries),
	}
}

// sigCacheKey derives the cache key of a (sighash, signature, pubkey) triple.
func sigCacheKey(sigHash chainhash.Hash, sig, pubKey []byte) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+2+len(sig)+len(pubKey))
	buf = append(buf, sigHash[:]...)
	buf = append(buf, byte(len(sig)))
	buf = append(buf, sig...)
	buf = append(buf, byte(len(pubKey)))
	buf = append(buf, pubKey...)
	return chainhash.HashH(buf)
}

// Exists returns true if an existing entry of 'sig' over 'sigHash' for public
// key 'pubKey' is found within the SigCache. Otherwise, false is returned.
//
// NOTE: This function is safe for concurrent access.
func (s *SigCache) Exists(sigHash chainhash.Hash, sig, pubKey []byte) bool {
	if s == nil {
		return false
	}
	return s.valid.Contains(sigCacheKey(sigHash, sig, pubKey))
}

// Add adds an entry for a signature over 'sigHash' under public key 'pubKey'
// to the signature cache.
//
// NOTE: This function is safe for concurrent access.
func (s *SigCache) Add(sigHash chainhash.Hash, sig, pubKey []byte) {
	if s == nil {
		return
	}
	s.valid.Add(sigCacheKey(sigHash, sig, pubKey))
}
