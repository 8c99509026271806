package crypto

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrInvalidTweak is returned when a taproot tweak lands outside the curve
// order or yields the point at infinity.
var ErrInvalidTweak = errors.New("invalid taproot tweak")

// ParsePubKey parses a compressed or uncompressed secp256k1 public key.
func ParsePubKey(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}

// ParseXOnlyPubKey parses a 32-byte BIP0340 public key.
func ParseXOnlyPubKey(b []byte) (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(b)
}

// XOnly returns the 32-byte BIP0340 serialization of key.
func XOnly(key *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(key)
}

// PrivKeyFromBytes returns the private key and its public key for the 32
// byte secret b.
func PrivKeyFromBytes(b []byte) (*btcec.PrivateKey, *btcec.PublicKey) {
	return btcec.PrivKeyFromBytes(b)
}

// SignECDSA produces a low-S, DER encoded signature over hash using the
// RFC6979 deterministic nonce.
func SignECDSA(key *btcec.PrivateKey, hash []byte) []byte {
	return ecdsa.Sign(key, hash).Serialize()
}

// VerifyECDSA checks a signature over hash against the serialized public key
// pubKey. When strict is set the signature must be DER encoded, otherwise the
// lenient BER parser is used.
func VerifyECDSA(sig, hash, pubKey []byte, strict bool) bool {
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	var signature *ecdsa.Signature
	if strict {
		signature, err = ecdsa.ParseDERSignature(sig)
	} else {
		signature, err = ecdsa.ParseSignature(sig)
	}
	if err != nil {
		return false
	}

	return signature.Verify(hash, key)
}

// SignSchnorr produces a 64-byte BIP0340 signature over hash.
func SignSchnorr(key *btcec.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := schnorr.Sign(key, hash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifySchnorr checks a 64-byte BIP0340 signature over hash against the
// 32-byte x-only public key.
func VerifySchnorr(sig, hash, xOnlyPubKey []byte) bool {
	key, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return false
	}

	signature, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}

	return signature.Verify(hash, key)
}

// TapTweakHash returns h_tapTweak(xonly(internalKey) || merkleRoot). An empty
// merkle root commits to a key path only output.
func TapTweakHash(internalKey *btcec.PublicKey, merkleRoot []byte) chainhash.Hash {
	return TaggedHash(TagTapTweak, XOnly(internalKey), merkleRoot)
}

// TweakPublicKey computes the taproot output key
// Q = P + h_tapTweak(P || merkleRoot)*G where P is internalKey lifted to an
// even y coordinate.
func TweakPublicKey(internalKey *btcec.PublicKey,
	merkleRoot []byte) (*btcec.PublicKey, error) {

	// Lift to the even y point that the x-only encoding designates.
	evenKey, err := schnorr.ParsePubKey(XOnly(internalKey))
	if err != nil {
		return nil, err
	}

	tweak := TapTweakHash(evenKey, merkleRoot)

	var tweakScalar secp.ModNScalar
	if overflow := tweakScalar.SetBytes((*[32]byte)(&tweak)); overflow != 0 {
		return nil, ErrInvalidTweak
	}

	var internalPoint, tweakPoint, outputPoint secp.JacobianPoint
	evenKey.AsJacobian(&internalPoint)
	secp.ScalarBaseMultNonConst(&tweakScalar, &tweakPoint)
	secp.AddNonConst(&internalPoint, &tweakPoint, &outputPoint)

	if outputPoint.Z.IsZero() {
		return nil, ErrInvalidTweak
	}
	outputPoint.ToAffine()

	return secp.NewPublicKey(&outputPoint.X, &outputPoint.Y), nil
}

// TweakPrivateKey applies the taproot tweak to a private key so that it
// signs for the output key returned by TweakPublicKey. The key is negated
// first when its public key has an odd y coordinate.
func TweakPrivateKey(key *btcec.PrivateKey,
	merkleRoot []byte) (*btcec.PrivateKey, error) {

	var scalar secp.ModNScalar
	scalar.Set(&key.Key)

	pub := key.PubKey().SerializeCompressed()
	if pub[0] == secp.PubKeyFormatCompressedOdd {
		scalar.Negate()
	}

	tweak := TaggedHash(TagTapTweak, pub[1:], merkleRoot)

	var tweakScalar secp.ModNScalar
	if overflow := tweakScalar.SetBytes((*[32]byte)(&tweak)); overflow != 0 {
		return nil, ErrInvalidTweak
	}

	scalar.Add(&tweakScalar)
	if scalar.IsZero() {
		return nil, ErrInvalidTweak
	}

	return secp.NewPrivateKey(&scalar), nil
}

// OutputKeyIsOdd reports whether the full public key has an odd y
// coordinate. Control blocks carry this bit.
func OutputKeyIsOdd(key *btcec.PublicKey) bool {
	return key.SerializeCompressed()[0] == secp.PubKeyFormatCompressedOdd
}
