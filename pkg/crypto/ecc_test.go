package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// TestSignECDSABIP143 signs the second input of the native P2WPKH example in
// BIP0143 and expects the exact signature published there.
func TestSignECDSABIP143(t *testing.T) {
	t.Parallel()

	key, pub := PrivKeyFromBytes(decodeHex(t,
		"619c335025c7f4012e556c2a58b2506e30b8511b53ade95ea316fd8c3286feb9"))
	require.Equal(t,
		"025476c2e83188368da1ff3e292e7acafcdb3566bb0ad253f62fc70f07aeee6357",
		hex.EncodeToString(pub.SerializeCompressed()),
	)

	sighash := decodeHex(t,
		"c37af31116d1b27caf68aae9e3ac82f1477929014d5b917657d0eb49478cb670")

	sig := SignECDSA(key, sighash)
	require.Equal(t,
		"304402203609e17b84f6a7d30c80bfa610b5b4542f32a8a0d5447a12fb1366d7f01cc44a0220573a954c4518331561406f90300e8f3358f51928d43c212a8caed02de67eebee",
		hex.EncodeToString(sig),
	)

	require.True(t, VerifyECDSA(sig, sighash, pub.SerializeCompressed(), true))
	require.True(t, VerifyECDSA(sig, sighash, pub.SerializeUncompressed(), false))

	sighash[0] ^= 0x01
	require.False(t, VerifyECDSA(sig, sighash, pub.SerializeCompressed(), true))
	require.False(t, VerifyECDSA(sig, sighash, []byte{0x02}, true))
	require.False(t, VerifyECDSA([]byte{0x30}, sighash, pub.SerializeCompressed(), true))
}

func TestSchnorrSignVerify(t *testing.T) {
	t.Parallel()

	key, pub := PrivKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))
	hash := Sha256([]byte("message"))

	sig, err := SignSchnorr(key, hash)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	require.True(t, VerifySchnorr(sig, hash, XOnly(pub)))

	bad := append([]byte(nil), sig...)
	bad[10] ^= 0xff
	require.False(t, VerifySchnorr(bad, hash, XOnly(pub)))
	require.False(t, VerifySchnorr(sig, hash, make([]byte, 31)))
}

// TestTweakPublicKeyVector checks the key path only output from the BIP0341
// wallet test vectors.
func TestTweakPublicKeyVector(t *testing.T) {
	t.Parallel()

	internal, err := ParseXOnlyPubKey(decodeHex(t,
		"d6889cb081036e0faefa3a35157ad71086b123b2b144b649798b494c300a961d"))
	require.NoError(t, err)

	output, err := TweakPublicKey(internal, nil)
	require.NoError(t, err)
	require.Equal(t,
		"53a1f6e454df1aa2776a2814a721372d6258050de330b3c6d10ee8f4e0dda343",
		hex.EncodeToString(XOnly(output)),
	)
}

func TestTweakMatchesReference(t *testing.T) {
	t.Parallel()

	merkleRoot := Sha256([]byte("root"))

	for i := byte(1); i <= 8; i++ {
		key, pub := PrivKeyFromBytes(bytes.Repeat([]byte{i}, 32))

		for _, root := range [][]byte{nil, merkleRoot} {
			output, err := TweakPublicKey(pub, root)
			require.NoError(t, err)

			want := txscript.ComputeTaprootOutputKey(pub, root)
			require.Equal(t,
				schnorr.SerializePubKey(want), XOnly(output),
			)
			require.Equal(t, want.SerializeCompressed()[0] == 0x03,
				OutputKeyIsOdd(output))

			tweaked, err := TweakPrivateKey(key, root)
			require.NoError(t, err)
			require.Equal(t, XOnly(output), XOnly(tweaked.PubKey()))

			// The tweaked key must produce signatures valid under the
			// output key.
			hash := Sha256([]byte{i})
			sig, err := SignSchnorr(tweaked, hash)
			require.NoError(t, err)
			require.True(t, VerifySchnorr(sig, hash, XOnly(output)))
		}
	}
}
