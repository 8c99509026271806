// Package crypto collects the hash functions and secp256k1 primitives the
// script engine and the signers consume. Everything here is a thin layer
// over btcec, chainhash and x/crypto so callers never pick an
// implementation themselves.
package crypto

import (
	"crypto/sha1"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160"
)

// Tags used by the BIP0340/BIP0341 tagged hashes.
var (
	TagTapLeaf    = chainhash.TagTapLeaf
	TagTapBranch  = chainhash.TagTapBranch
	TagTapTweak   = chainhash.TagTapTweak
	TagTapSighash = chainhash.TagTapSighash
)

// Sha256 returns the SHA-256 digest of b.
func Sha256(b []byte) []byte {
	return chainhash.HashB(b)
}

// DoubleSha256 returns SHA-256(SHA-256(b)).
func DoubleSha256(b []byte) []byte {
	return chainhash.DoubleHashB(b)
}

// DoubleSha256H is DoubleSha256 returning a chainhash.Hash.
func DoubleSha256H(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// Ripemd160 returns the RIPEMD-160 digest of b.
func Ripemd160(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

// Hash160 returns RIPEMD160(SHA256(b)).
func Hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}

// Sha1 returns the SHA-1 digest of b. It only backs OP_SHA1.
func Sha1(b []byte) []byte {
	h := sha1.Sum(b)
	return h[:]
}

// TaggedHash implements the BIP0340 tagged hash:
// SHA256(SHA256(tag) || SHA256(tag) || msgs...).
func TaggedHash(tag []byte, msgs ...[]byte) chainhash.Hash {
	return *chainhash.TaggedHash(tag, msgs...)
}
