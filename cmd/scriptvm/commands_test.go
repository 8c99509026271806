package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/interop"
	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/signer"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

const prevAmount = 250_000

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out

	args = append([]string{"scriptvm", "--log.level=error"}, args...)
	err := app.Run(args)
	return out.String(), err
}

type fixture struct {
	tx        *wire.Transaction
	prevOuts  *script.MultiPrevOutFetcher
	pkScripts [][]byte
	json      string
}

// newFixture signs a transaction spending a p2pkh, a p2wpkh and a p2tr
// output.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, pub := crypto.PrivKeyFromBytes(bytes.Repeat([]byte{0x31}, 32))
	pubKeyHash := crypto.Hash160(pub.SerializeCompressed())

	p2pkh, err := script.PayToPubKeyHashScript(pubKeyHash)
	require.NoError(t, err)
	p2wpkh, err := script.PayToWitnessPubKeyHashScript(pubKeyHash)
	require.NoError(t, err)
	outputKey, err := script.ComputeTaprootKeyNoScript(pub)
	require.NoError(t, err)
	p2tr, err := script.PayToTaprootScript(crypto.XOnly(outputKey))
	require.NoError(t, err)

	f := &fixture{
		tx:        wire.NewTransaction(2),
		prevOuts:  script.NewMultiPrevOutFetcher(nil),
		pkScripts: [][]byte{p2pkh, p2wpkh, p2tr},
	}

	var (
		descs    []*signer.SignDescriptor
		jsonOuts []interop.PrevOut
	)
	for i, pkScript := range f.pkScripts {
		hash := chainhash.HashH([]byte{0xcc, byte(i)})
		outPoint := wire.NewOutPoint(&hash, uint32(i))
		f.tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

		prevOut := wire.NewTxOut(prevAmount, pkScript)
		f.prevOuts.AddPrevOut(*outPoint, prevOut)
		descs = append(descs, &signer.SignDescriptor{
			InputIndex:         i,
			Output:             prevOut,
			TaprootInternalKey: pub,
		})
		jsonOuts = append(jsonOuts, interop.PrevOut{
			Txid:         hash.String(),
			Vout:         uint32(i),
			ScriptPubKey: hex.EncodeToString(pkScript),
			Amount:       0.0025,
		})
	}
	f.tx.AddTxOut(wire.NewTxOut(prevAmount*3-2000, p2tr))

	require.NoError(t, signer.New(signer.NewKeyRing(key)).SignTx(
		f.tx, f.prevOuts, descs,
	))

	raw, err := json.Marshal(jsonOuts)
	require.NoError(t, err)
	f.json = string(raw)

	return f
}

func TestDecode(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--network=regtest", "decode", f.tx.Hex())
	require.NoError(t, err)

	var res btcjson.TxRawResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, f.tx.TxHash().String(), res.Txid)
	require.Len(t, res.Vin, 3)
	require.True(t, strings.HasPrefix(res.Vout[0].ScriptPubKey.Address, "bcrt1p"))

	packet, err := interop.ToPsbt(f.tx, f.prevOuts)
	require.NoError(t, err)
	encoded, err := packet.B64Encode()
	require.NoError(t, err)

	out, err = run(t, "decode", "--psbt", encoded)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, f.tx.TxHash().String(), res.Txid)
	require.True(t, strings.HasPrefix(res.Vout[0].ScriptPubKey.Address, "bc1p"))

	_, err = run(t, "decode", "00")
	require.ErrorContains(t, err, "decoding transaction")

	_, err = run(t, "decode")
	require.ErrorContains(t, err, "argument missing")
}

func TestDisasm(t *testing.T) {
	pubKeyHash := bytes.Repeat([]byte{0xab}, 20)
	p2pkh, err := script.PayToPubKeyHashScript(pubKeyHash)
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    []string
		asm     string
		invalid bool
	}{
		{
			name: "p2pkh",
			args: []string{hex.EncodeToString(p2pkh)},
			asm: "OP_DUP OP_HASH160 " + hex.EncodeToString(pubKeyHash) +
				" OP_EQUALVERIFY OP_CHECKSIG",
		},
		{
			name: "legacy reserved",
			args: []string{"50"},
			asm:  "OP_RESERVED",
		},
		{
			name: "tapscript success",
			args: []string{"--version", "tapscript", "50"},
			asm:  "OP_SUCCESS80",
		},
		{
			name:    "truncated push",
			args:    []string{"4c"},
			asm:     "[error]",
			invalid: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			out, err := run(tt, append([]string{"disasm"}, test.args...)...)
			require.Equal(tt, test.asm, strings.TrimSpace(out))
			if test.invalid {
				require.Error(tt, err)
				return
			}
			require.NoError(tt, err)
		})
	}

	_, err = run(t, "disasm", "--version", "v9", "51")
	require.ErrorContains(t, err, "unknown script version")
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	var pubKeys [][]byte
	for i := byte(1); i <= 3; i++ {
		_, pub := crypto.PrivKeyFromBytes(bytes.Repeat([]byte{i}, 32))
		pubKeys = append(pubKeys, pub.SerializeCompressed())
	}
	multisig, err := script.MultiSigScript(pubKeys, 2)
	require.NoError(t, err)

	tests := []struct {
		pkScript []byte
		class    string
		reqSigs  int
		addrs    int
	}{
		{f.pkScripts[0], "pubkeyhash", 1, 1},
		{f.pkScripts[1], "witness_v0_keyhash", 1, 1},
		{f.pkScripts[2], "witness_v1_taproot", 1, 1},
		{multisig, "multisig", 2, 3},
		{[]byte{script.OP_RETURN}, "nulldata", 0, 0},
	}

	for _, test := range tests {
		test := test
		t.Run(test.class, func(tt *testing.T) {
			out, err := run(tt, "classify", hex.EncodeToString(test.pkScript))
			require.NoError(tt, err)

			var res classifyResult
			require.NoError(tt, json.Unmarshal([]byte(out), &res))
			require.Equal(tt, test.class, res.Type)
			require.Equal(tt, test.reqSigs, res.ReqSigs)
			require.Len(tt, res.Addresses, test.addrs)
		})
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "verify", "--prevouts", f.json, f.tx.Hex())
	require.NoError(t, err)

	var res verifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Valid)
	require.Equal(t, f.tx.TxHash().String(), res.Txid)
	require.Len(t, res.Inputs, 3)
	require.Equal(t, "witness_v1_taproot", res.Inputs[2].Class)

	// The prevouts may come from a file, or from a PSBT.
	path := filepath.Join(t.TempDir(), "prevouts.json")
	require.NoError(t, os.WriteFile(path, []byte(f.json), 0o600))
	_, err = run(t, "--verify.flags=consensus", "--verify.workers=1",
		"verify", "--prevouts", path, f.tx.Hex())
	require.NoError(t, err)

	packet, err := interop.ToPsbt(f.tx, f.prevOuts)
	require.NoError(t, err)
	encoded, err := packet.B64Encode()
	require.NoError(t, err)
	_, err = run(t, "verify", "--psbt", encoded)
	require.NoError(t, err)

	// Without the prevouts no input can be checked.
	out, err = run(t, "verify", f.tx.Hex())
	require.ErrorContains(t, err, "3 of 3 inputs invalid")
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.False(t, res.Valid)
	require.Contains(t, res.Inputs[0].Error, "missing previous output")

	tampered := f.tx.Copy()
	tampered.TxOut[0].Value--
	out, err = run(t, "verify", "--prevouts", f.json, tampered.Hex())
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	for _, in := range res.Inputs {
		require.False(t, in.Valid, "input %d", in.Index)
		require.NotEmpty(t, in.Error)
	}

	_, err = run(t, "verify", "--prevouts", "[{", f.tx.Hex())
	require.ErrorContains(t, err, "decoding prevouts")
}

func TestSighash(t *testing.T) {
	f := newFixture(t)
	hashCache := script.NewSighashCache(f.tx, f.prevOuts)

	legacy, err := script.CalcSignatureHash(
		f.pkScripts[0], script.SigHashAll, f.tx, 0,
	)
	require.NoError(t, err)
	segwit, err := script.CalcWitnessSigHash(
		f.pkScripts[1], hashCache, script.SigHashNone, f.tx, 1, prevAmount,
	)
	require.NoError(t, err)
	taproot, err := script.CalcTaprootSignatureHash(
		hashCache, script.SigHashDefault, f.tx, 2, f.prevOuts,
	)
	require.NoError(t, err)
	tests := []struct {
		name   string
		args   []string
		digest []byte
	}{
		{
			name:   "legacy",
			args:   []string{"--input=0"},
			digest: legacy,
		},
		{
			name:   "segwit v0",
			args:   []string{"--input=1", "--hashtype=NONE"},
			digest: segwit,
		},
		{
			name:   "taproot key path",
			args:   []string{"--input=2", "--hashtype=DEFAULT"},
			digest: taproot,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			args := append([]string{"sighash", "--prevouts", f.json},
				test.args...)
			out, err := run(tt, append(args, f.tx.Hex())...)
			require.NoError(tt, err)
			require.Equal(tt, hex.EncodeToString(test.digest),
				strings.TrimSpace(out))
		})
	}

	// A tapscript digest of the first input, as if it spent a taproot
	// output with the leaf.
	var jsonOuts []interop.PrevOut
	require.NoError(t, json.Unmarshal([]byte(f.json), &jsonOuts))
	jsonOuts[0].ScriptPubKey = hex.EncodeToString(f.pkScripts[2])
	taprootOuts, err := json.Marshal(jsonOuts)
	require.NoError(t, err)

	tapscriptPrevOuts := script.NewMultiPrevOutFetcher(nil)
	tapscriptPrevOuts.Merge(f.prevOuts)
	tapscriptPrevOuts.AddPrevOut(
		f.tx.TxIn[0].PreviousOutPoint,
		wire.NewTxOut(prevAmount, f.pkScripts[2]),
	)
	leaf := []byte{script.OP_TRUE}
	tapscript, err := script.CalcTapscriptSignaturehash(
		script.NewSighashCache(f.tx, tapscriptPrevOuts),
		script.SigHashSingle|script.SigHashAnyOneCanPay, f.tx, 0,
		tapscriptPrevOuts, script.NewBaseTapLeaf(leaf),
	)
	require.NoError(t, err)

	out, err := run(t, "sighash", "--prevouts", string(taprootOuts),
		"--hashtype=SINGLE|ANYONECANPAY", "--leaf",
		hex.EncodeToString(leaf), f.tx.Hex())
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(tapscript), strings.TrimSpace(out))

	_, err = run(t, "sighash", "--prevouts", f.json, "--input=3", f.tx.Hex())
	require.ErrorContains(t, err, "out of range")

	_, err = run(t, "sighash", "--hashtype=ALL", f.tx.Hex())
	require.ErrorContains(t, err, "unknown previous output")

	_, err = run(t, "sighash", "--prevouts", f.json, "--hashtype=SOME",
		f.tx.Hex())
	require.ErrorContains(t, err, "unknown sighash type")
}
