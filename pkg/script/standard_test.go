package script

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
)

func TestGetScriptClass(t *testing.T) {
	t.Parallel()

	_, pub := testKey(0x41)
	compressed := pub.SerializeCompressed()
	uncompressed := pub.SerializeUncompressed()
	hash20 := bytes.Repeat([]byte{0x20}, 20)
	hash32 := bytes.Repeat([]byte{0x32}, 32)

	mustScript := func(script []byte, err error) []byte {
		require.NoError(t, err)
		return script
	}

	tests := []struct {
		name     string
		script   []byte
		class    ScriptClass
		expected int
	}{
		{
			name:     "p2pk_compressed",
			script:   mustScript(PayToPubKeyScript(compressed)),
			class:    PubKeyTy,
			expected: 1,
		},
		{
			name:     "p2pk_uncompressed",
			script:   mustScript(PayToPubKeyScript(uncompressed)),
			class:    PubKeyTy,
			expected: 1,
		},
		{
			name:     "p2pkh",
			script:   mustScript(PayToPubKeyHashScript(hash20)),
			class:    PubKeyHashTy,
			expected: 2,
		},
		{
			name:     "p2sh",
			script:   mustScript(PayToScriptHashScript(hash20)),
			class:    ScriptHashTy,
			expected: 1,
		},
		{
			name:     "p2wpkh",
			script:   mustScript(PayToWitnessPubKeyHashScript(hash20)),
			class:    WitnessV0PubKeyHashTy,
			expected: 2,
		},
		{
			name:     "p2wsh",
			script:   mustScript(PayToWitnessScriptHashScript(hash32)),
			class:    WitnessV0ScriptHashTy,
			expected: 1,
		},
		{
			name:     "p2tr",
			script:   mustScript(PayToTaprootScript(crypto.XOnly(pub))),
			class:    WitnessV1TaprootTy,
			expected: 1,
		},
		{
			name:     "witness_v2",
			script:   append([]byte{OP_2, OP_DATA_2}, 0x01, 0x02),
			class:    WitnessUnknownTy,
			expected: -1,
		},
		{
			name:     "witness_v16",
			script:   append([]byte{OP_16, OP_DATA_32}, hash32...),
			class:    WitnessUnknownTy,
			expected: -1,
		},
		{
			name:     "witness_v1_short_program",
			script:   append([]byte{OP_1, OP_DATA_20}, hash20...),
			class:    NonStandardTy,
			expected: -1,
		},
		{
			name:     "witness_v0_bad_length",
			script:   append([]byte{OP_0, OP_DATA_21}, bytes.Repeat([]byte{1}, 21)...),
			class:    NonStandardTy,
			expected: -1,
		},
		{
			name: "multisig_2_of_3",
			script: mustScript(MultiSigScript(
				[][]byte{compressed, uncompressed, compressed}, 2,
			)),
			class:    MultiSigTy,
			expected: 3,
		},
		{
			name:     "nulldata_empty",
			script:   []byte{OP_RETURN},
			class:    NullDataTy,
			expected: -1,
		},
		{
			name:     "nulldata_payload",
			script:   mustScript(NullDataScript([]byte("scriptvm"))),
			class:    NullDataTy,
			expected: -1,
		},
		{
			name: "nulldata_too_big",
			script: append([]byte{OP_RETURN, OP_PUSHDATA1, 81},
				make([]byte, 81)...),
			class:    NonStandardTy,
			expected: -1,
		},
		{
			name:     "truncated",
			script:   []byte{OP_DATA_5, 0x01},
			class:    NonStandardTy,
			expected: -1,
		},
		{
			name:     "anyone_can_spend",
			script:   []byte{OP_TRUE},
			class:    NonStandardTy,
			expected: -1,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			class := GetScriptClass(test.script)
			require.Equal(tt, test.class, class, class.String())
			require.Equal(tt, test.expected, ExpectedInputs(test.script))

			s, err := ParseScript(Legacy, test.script)
			if err == nil {
				require.Equal(tt, test.class, s.Class())
			}
		})
	}
}

func TestScriptClassNames(t *testing.T) {
	t.Parallel()

	for class := NonStandardTy; class <= WitnessUnknownTy; class++ {
		class := class
		t.Run(fmt.Sprintf("%s_%d", class, class), func(tt *testing.T) {
			tt.Parallel()

			parsed, err := NewScriptClass(class.String())
			require.NoError(tt, err)
			require.Equal(tt, class, parsed)
		})
	}

	require.Equal(t, "Invalid", ScriptClass(200).String())
	_, err := NewScriptClass("p2foo")
	require.True(t, IsErrorCode(err, ErrNonStandardScript))
}

func TestTemplateConstructorErrors(t *testing.T) {
	t.Parallel()

	_, err := NullDataScript(make([]byte, MaxDataCarrierSize+1))
	require.True(t, IsErrorCode(err, ErrTooMuchNullData))

	_, err = MultiSigScript([][]byte{{0x02}}, 2)
	require.True(t, IsErrorCode(err, ErrTooManyRequiredSigs))

	_, err = PayToAddrScript(nil)
	require.True(t, IsErrorCode(err, ErrNonStandardScript))

	var nilAddr *btcutil.AddressPubKeyHash
	_, err = PayToAddrScript(nilAddr)
	require.True(t, IsErrorCode(err, ErrNonStandardScript))
}

func TestMultiSigExtraction(t *testing.T) {
	t.Parallel()

	var keys [][]byte
	for i := byte(0); i < 3; i++ {
		_, pub := testKey(0x50 + i)
		keys = append(keys, pub.SerializeCompressed())
	}

	script, err := MultiSigScript(keys, 2)
	require.NoError(t, err)

	numKeys, numSigs, err := CalcMultiSigStats(script)
	require.NoError(t, err)
	require.Equal(t, 3, numKeys)
	require.Equal(t, 2, numSigs)

	required, pubKeys, err := ExtractMultiSigPubKeys(script)
	require.NoError(t, err)
	require.Equal(t, 2, required)
	require.Equal(t, keys, pubKeys)

	_, _, err = CalcMultiSigStats([]byte{OP_TRUE})
	require.True(t, IsErrorCode(err, ErrNonStandardScript))

	sigScript, err := NewScriptBuilder().AddOp(OP_0).
		AddData(bytes.Repeat([]byte{0x30}, 71)).AddData(script).Script()
	require.NoError(t, err)
	require.True(t, IsMultisigSigScript(sigScript))
	require.False(t, IsMultisigSigScript([]byte{OP_0}))
}

func TestExtractPkScriptAddrs(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	_, pub := testKey(0x61)
	keyHash := crypto.Hash160(pub.SerializeCompressed())
	scriptHash := crypto.Sha256([]byte{OP_TRUE})

	p2pkh, err := btcutil.NewAddressPubKeyHash(keyHash, params)
	require.NoError(t, err)
	p2sh, err := btcutil.NewAddressScriptHashFromHash(keyHash, params)
	require.NoError(t, err)
	p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(keyHash, params)
	require.NoError(t, err)
	p2wsh, err := btcutil.NewAddressWitnessScriptHash(scriptHash, params)
	require.NoError(t, err)
	p2tr, err := btcutil.NewAddressTaproot(crypto.XOnly(pub), params)
	require.NoError(t, err)
	p2pk, err := btcutil.NewAddressPubKey(pub.SerializeCompressed(), params)
	require.NoError(t, err)

	tests := []struct {
		addr  btcutil.Address
		class ScriptClass
	}{
		{p2pkh, PubKeyHashTy},
		{p2sh, ScriptHashTy},
		{p2wpkh, WitnessV0PubKeyHashTy},
		{p2wsh, WitnessV0ScriptHashTy},
		{p2tr, WitnessV1TaprootTy},
		{p2pk, PubKeyTy},
	}

	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%s_%d", test.class, i), func(tt *testing.T) {
			tt.Parallel()

			pkScript, err := PayToAddrScript(test.addr)
			require.NoError(tt, err)

			class, addrs, required, err := ExtractPkScriptAddrs(
				pkScript, params,
			)
			require.NoError(tt, err)
			require.Equal(tt, test.class, class)
			require.Equal(tt, 1, required)
			require.Len(tt, addrs, 1)
			require.Equal(tt, test.addr.EncodeAddress(), addrs[0].EncodeAddress())
		})
	}

	class, addrs, required, err := ExtractPkScriptAddrs([]byte{OP_RETURN}, params)
	require.NoError(t, err)
	require.Equal(t, NullDataTy, class)
	require.Empty(t, addrs)
	require.Zero(t, required)
}

func TestWitnessProgramInfo(t *testing.T) {
	t.Parallel()

	program := bytes.Repeat([]byte{0x07}, 32)
	pkScript := append([]byte{OP_1, OP_DATA_32}, program...)

	require.True(t, IsWitnessProgram(pkScript))
	version, extracted, err := ExtractWitnessProgramInfo(pkScript)
	require.NoError(t, err)
	require.Equal(t, 1, version)
	require.Equal(t, program, extracted)
	require.Equal(t, program, ExtractPubKey(pkScript))

	// Programs must be between 2 and 40 bytes.
	require.False(t, IsWitnessProgram([]byte{OP_1, OP_DATA_1, 0x01}))
	require.False(t, IsWitnessProgram(append(
		[]byte{OP_1, OP_DATA_41}, make([]byte, 41)...,
	)))
	_, _, err = ExtractWitnessProgramInfo([]byte{OP_TRUE})
	require.Error(t, err)

	data, err := PushedData([]byte{OP_0, OP_DATA_2, 0xaa, 0xbb, OP_5})
	require.NoError(t, err)
	require.Equal(t, [][]byte{nil, {0xaa, 0xbb}}, data)
}
