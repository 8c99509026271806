package signer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
)

// KeyStore resolves the private keys the signer needs.  Public keys are
// looked up in any of their serialized forms.
type KeyStore interface {
	// PrivKeyForPubKey returns the private key whose compressed,
	// uncompressed or x-only public key equals pubKey.
	PrivKeyForPubKey(pubKey []byte) (*btcec.PrivateKey, bool)

	// PrivKeyForHash returns the private key whose compressed or
	// uncompressed public key hashes (HASH160) to hash, along with the
	// serialization that matched.
	PrivKeyForHash(hash []byte) (*btcec.PrivateKey, []byte, bool)
}

// KeyRing is an in-memory KeyStore over a fixed set of private keys.
type KeyRing struct {
	keys []*btcec.PrivateKey
}

// NewKeyRing returns a KeyRing holding keys.
func NewKeyRing(keys ...*btcec.PrivateKey) *KeyRing {
	return &KeyRing{keys: keys}
}

// Add appends key to the ring.
func (k *KeyRing) Add(key *btcec.PrivateKey) {
	k.keys = append(k.keys, key)
}

// PrivKeyForPubKey implements KeyStore.
func (k *KeyRing) PrivKeyForPubKey(pubKey []byte) (*btcec.PrivateKey, bool) {
	for _, key := range k.keys {
		pub := key.PubKey()
		switch len(pubKey) {
		case 32:
			if bytes.Equal(crypto.XOnly(pub), pubKey) {
				return key, true
			}
		case 33:
			if bytes.Equal(pub.SerializeCompressed(), pubKey) {
				return key, true
			}
		case 65:
			if bytes.Equal(pub.SerializeUncompressed(), pubKey) {
				return key, true
			}
		}
	}
	return nil, false
}

// PrivKeyForHash implements KeyStore.
func (k *KeyRing) PrivKeyForHash(hash []byte) (*btcec.PrivateKey, []byte, bool) {
	for _, key := range k.keys {
		pub := key.PubKey()
		for _, serialized := range [][]byte{
			pub.SerializeCompressed(), pub.SerializeUncompressed(),
		} {
			if bytes.Equal(crypto.Hash160(serialized), hash) {
				return key, serialized, true
			}
		}
	}
	return nil, nil, false
}

var _ KeyStore = (*KeyRing)(nil)
