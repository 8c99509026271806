package script

import (
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
)

// genSigCacheEntry returns a valid signature triple derived from seed.
func genSigCacheEntry(t *testing.T, seed byte) (chainhash.Hash, []byte, []byte) {
	t.Helper()

	priv, pub := testKey(seed)
	msg := chainhash.HashH([]byte{seed})
	sig := crypto.SignECDSA(priv, msg[:])

	return msg, sig, pub.SerializeCompressed()
}

func TestSigCacheAddExists(t *testing.T) {
	t.Parallel()

	sigCache := NewSigCache(10)
	msg, sig, key := genSigCacheEntry(t, 0x01)

	require.False(t, sigCache.Exists(msg, sig, key))
	sigCache.Add(msg, sig, key)
	require.True(t, sigCache.Exists(msg, sig, key))

	// An entry only vouches for the exact triple it was added with.
	otherMsg, otherSig, otherKey := genSigCacheEntry(t, 0x02)
	require.False(t, sigCache.Exists(otherMsg, sig, key))
	require.False(t, sigCache.Exists(msg, otherSig, key))
	require.False(t, sigCache.Exists(msg, sig, otherKey))
}

func TestSigCacheEviction(t *testing.T) {
	t.Parallel()

	const maxEntries = 5
	sigCache := NewSigCache(maxEntries)

	type entry struct {
		msg      chainhash.Hash
		sig, key []byte
	}
	var entries []entry
	for i := 0; i < maxEntries+1; i++ {
		msg, sig, key := genSigCacheEntry(t, byte(i+1))
		entries = append(entries, entry{msg, sig, key})
	}

	for _, e := range entries[:maxEntries] {
		sigCache.Add(e.msg, e.sig, e.key)
	}

	// Touch the oldest entry so the second one becomes least recently
	// used.
	require.True(t, sigCache.Exists(entries[0].msg, entries[0].sig, entries[0].key))

	last := entries[maxEntries]
	sigCache.Add(last.msg, last.sig, last.key)

	require.True(t, sigCache.Exists(last.msg, last.sig, last.key))
	require.True(t, sigCache.Exists(entries[0].msg, entries[0].sig, entries[0].key))
	require.False(t, sigCache.Exists(entries[1].msg, entries[1].sig, entries[1].key))
}

func TestSigCacheNil(t *testing.T) {
	t.Parallel()

	var sigCache *SigCache
	msg, sig, key := genSigCacheEntry(t, 0x03)

	sigCache.Add(msg, sig, key)
	require.False(t, sigCache.Exists(msg, sig, key))
}

func TestSigCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	sigCache := NewSigCache(100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()

			msg := chainhash.HashH([]byte(fmt.Sprintf("msg_%d", seed)))
			sig := []byte{seed}
			key := []byte{seed, seed}
			for j := 0; j < 50; j++ {
				sigCache.Add(msg, sig, key)
				_ = sigCache.Exists(msg, sig, key)
			}
		}(byte(i))
	}
	wg.Wait()

	msg := chainhash.HashH([]byte("msg_3"))
	require.True(t, sigCache.Exists(msg, []byte{3}, []byte{3, 3}))
}
