package script

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	btcdwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// bip143UnsignedTx is the unsigned native P2WPKH transaction from the
// BIP0143 examples.
const bip143UnsignedTx = "0100000002fff7f7881a8099afa6940d42d1e7f6362bec3817" +
	"1ea3edf433541db4e4ad969f0000000000eeffffffef51e1b804cc89d182d279655c3a" +
	"a89e815b1b309fe287d9b2b55d57b90ec68a0100000000ffffffff02202cb206000000" +
	"001976a9148280b37df378db99f66f85c95a783a76ac7a6d5988ac9093510d00000000" +
	"1976a9143bde42dbee7e4dbe6a21b2d50ce2f0167faa815988ac11000000"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// toMsgTx converts tx to its btcd representation through the wire format.
func toMsgTx(t *testing.T, tx *wire.Transaction) *btcdwire.MsgTx {
	t.Helper()

	msgTx := &btcdwire.MsgTx{}
	require.NoError(t, msgTx.Deserialize(bytes.NewReader(tx.Bytes())))
	return msgTx
}

func TestBIP143SigHash(t *testing.T) {
	t.Parallel()

	tx, err := wire.NewTransactionFromHex(bip143UnsignedTx)
	require.NoError(t, err)

	pkScript := mustHex(t, "00141d0f172a0ecb48aee1be1f2687d2963ae33f71a1")
	hashCache := NewSighashCache(tx, nil)

	sigHash, err := CalcWitnessSigHash(
		pkScript, hashCache, SigHashAll, tx, 1, 600_000_000,
	)
	require.NoError(t, err)
	require.Equal(t,
		"c37af31116d1b27caf68aae9e3ac82f1477929014d5b917657d0eb49478cb670",
		hex.EncodeToString(sigHash),
	)

	midstate := hashCache.segwitV0()
	require.Equal(t,
		"96b827c8483d4e9b96712b6713a7b68d6e8003a781feba36c31143470b4efd37",
		hex.EncodeToString(midstate.hashPrevOuts[:]),
	)
	require.Equal(t,
		"52b0a642eea2fb7ae638c36f6252b6750293dbe574a806984b8e4d8548339a3b",
		hex.EncodeToString(midstate.hashSequence[:]),
	)
	require.Equal(t,
		"863ef3e1a92afbfdb97f31ad0fc7683ee943e9abcf2501590ff8f6551f47e5e5",
		hex.EncodeToString(midstate.hashOutputs[:]),
	)

	// The expanded P2PKH script code yields the same digest.
	p2pkh := mustHex(t, "76a9141d0f172a0ecb48aee1be1f2687d2963ae33f71a188ac")
	sigHash2, err := CalcWitnessSigHash(
		p2pkh, nil, SigHashAll, tx, 1, 600_000_000,
	)
	require.NoError(t, err)
	require.Equal(t, sigHash, sigHash2)
}

func TestLegacySigHashSingleOutOfRange(t *testing.T) {
	t.Parallel()

	tx := newSpendTx()
	tx.TxIn = append(tx.TxIn, &wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 1},
	})

	for _, hashType := range []SigHashType{
		SigHashSingle, SigHashSingle | SigHashAnyOneCanPay,
	} {
		sigHash, err := CalcSignatureHash([]byte{OP_TRUE}, hashType, tx, 1)
		require.NoError(t, err)

		var expected chainhash.Hash
		expected[0] = 0x01
		require.Equal(t, expected[:], sigHash)
	}

	// BIP0341 rejects the same request.
	fetcher := NewCannedPrevOutputFetcher([]byte{OP_TRUE}, 1)
	_, err := CalcTaprootSignatureHash(
		nil, SigHashSingle, tx, 1, fetcher,
	)
	require.True(t, IsErrorCode(err, ErrInvalidSigHashType), "%v", err)
}

// sigHashTestTx returns a transaction with three inputs spending mixed
// output types and two outputs, plus the matching prevout fetchers.
func sigHashTestTx(t *testing.T) (*wire.Transaction, *MultiPrevOutFetcher,
	txscript.PrevOutputFetcher) {

	t.Helper()

	tx := &wire.Transaction{
		Version:  2,
		LockTime: 700_000,
	}
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	btcdPrevOuts := make(map[btcdwire.OutPoint]*btcdwire.TxOut)

	pkScripts := [][]byte{
		mustHex(t, "76a9148280b37df378db99f66f85c95a783a76ac7a6d5988ac"),
		mustHex(t, "00141d0f172a0ecb48aee1be1f2687d2963ae33f71a1"),
		mustHex(t, "5120"+
			"79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"),
	}
	for i, pkScript := range pkScripts {
		var hash chainhash.Hash
		hash[0] = byte(i + 1)
		outPoint := wire.OutPoint{Hash: hash, Index: uint32(i)}
		tx.TxIn = append(tx.TxIn, &wire.TxIn{
			PreviousOutPoint: outPoint,
			Sequence:         wire.Sequence(0xfffffffd - i),
		})

		amount := uint64(100_000 * (i + 1))
		prevOuts[outPoint] = wire.NewTxOut(amount, pkScript)
		btcdPrevOuts[btcdwire.OutPoint{Hash: hash, Index: uint32(i)}] =
			btcdwire.NewTxOut(int64(amount), pkScript)
	}
	tx.TxOut = []*wire.TxOut{
		wire.NewTxOut(150_000, pkScripts[0]),
		wire.NewTxOut(140_000, pkScripts[2]),
	}

	return tx, NewMultiPrevOutFetcher(prevOuts),
		txscript.NewMultiPrevOutFetcher(btcdPrevOuts)
}

// TestSigHashMatchesBtcd compares every sighash algorithm against btcd's
// txscript for all hash types and input indices.
func TestSigHashMatchesBtcd(t *testing.T) {
	t.Parallel()

	tx, fetcher, btcdFetcher := sigHashTestTx(t)
	msgTx := toMsgTx(t, tx)

	hashCache := NewSighashCache(tx, fetcher)
	btcdHashes := txscript.NewTxSigHashes(msgTx, btcdFetcher)

	scriptCode := mustHex(t, "76a9148280b37df378db99f66f85c95a783a76ac7a6d5988ac")
	tapLeaf := NewBaseTapLeaf([]byte{OP_TRUE})
	btcdTapLeaf := txscript.NewBaseTapLeaf([]byte{OP_TRUE})

	hashTypes := []SigHashType{
		SigHashAll, SigHashNone, SigHashSingle,
		SigHashAll | SigHashAnyOneCanPay,
		SigHashNone | SigHashAnyOneCanPay,
		SigHashSingle | SigHashAnyOneCanPay,
	}

	for _, hashType := range hashTypes {
		hashType := hashType
		for idx := range tx.TxIn {
			idx := idx
			name := fmt.Sprintf("%s_%d", hashType, idx)
			t.Run(name, func(tt *testing.T) {
				tt.Parallel()

				btcdType := txscript.SigHashType(hashType)

				legacy, err := CalcSignatureHash(
					scriptCode, hashType, tx, idx,
				)
				require.NoError(tt, err)
				expected, err := txscript.CalcSignatureHash(
					scriptCode, btcdType, msgTx, idx,
				)
				require.NoError(tt, err)
				require.Equal(tt, expected, legacy, "legacy")

				amount := int64(100_000 * (idx + 1))
				v0, err := CalcWitnessSigHash(
					scriptCode, hashCache, hashType, tx, idx,
					uint64(amount),
				)
				require.NoError(tt, err)
				expected, err = txscript.CalcWitnessSigHash(
					scriptCode, btcdHashes, btcdType, msgTx, idx,
					amount,
				)
				require.NoError(tt, err)
				require.Equal(tt, expected, v0, "bip143")

				v1, err := CalcTaprootSignatureHash(
					hashCache, hashType, tx, idx, fetcher,
				)
				expected, expectedErr := txscript.CalcTaprootSignatureHash(
					btcdHashes, btcdType, msgTx, idx, btcdFetcher,
				)
				if expectedErr != nil {
					require.Error(tt, err)
					return
				}
				require.NoError(tt, err)
				require.Equal(tt, expected, v1, "bip341")

				leaf, err := CalcTapscriptSignaturehash(
					hashCache, hashType, tx, idx, fetcher, tapLeaf,
				)
				require.NoError(tt, err)
				expected, err = txscript.CalcTapscriptSignaturehash(
					btcdHashes, btcdType, msgTx, idx, btcdFetcher,
					btcdTapLeaf,
				)
				require.NoError(tt, err)
				require.Equal(tt, expected, leaf, "bip342")
			})
		}
	}

	t.Run("default", func(tt *testing.T) {
		tt.Parallel()

		v1, err := CalcTaprootSignatureHash(
			hashCache, SigHashDefault, tx, 2, fetcher,
		)
		require.NoError(tt, err)
		expected, err := txscript.CalcTaprootSignatureHash(
			btcdHashes, txscript.SigHashDefault, msgTx, 2, btcdFetcher,
		)
		require.NoError(tt, err)
		require.Equal(tt, expected, v1)

		// DEFAULT commits to a different hash type byte than ALL.
		all, err := CalcTaprootSignatureHash(
			hashCache, SigHashAll, tx, 2, fetcher,
		)
		require.NoError(tt, err)
		require.NotEqual(tt, all, v1)
	})
}

func TestTaprootSigHashOptions(t *testing.T) {
	t.Parallel()

	tx, fetcher, _ := sigHashTestTx(t)
	hashCache := NewSighashCache(tx, fetcher)

	base, err := CalcTaprootSignatureHash(
		hashCache, SigHashDefault, tx, 2, fetcher,
	)
	require.NoError(t, err)

	annexed, err := CalcTaprootSignatureHash(
		hashCache, SigHashDefault, tx, 2, fetcher,
		WithAnnex([]byte{TaprootAnnexTag, 0x01}),
	)
	require.NoError(t, err)
	require.NotEqual(t, base, annexed)

	tapLeaf := NewBaseTapLeaf([]byte{OP_TRUE})
	blank, err := CalcTapscriptSignaturehash(
		hashCache, SigHashDefault, tx, 2, fetcher, tapLeaf,
	)
	require.NoError(t, err)

	leafHash := tapLeaf.TapHash()
	explicit, err := CalcTaprootSignatureHash(
		hashCache, SigHashDefault, tx, 2, fetcher,
		WithBaseTapscriptVersion(blankCodeSepValue, leafHash[:]),
	)
	require.NoError(t, err)
	require.Equal(t, blank, explicit)

	codeSep, err := CalcTaprootSignatureHash(
		hashCache, SigHashDefault, tx, 2, fetcher,
		WithBaseTapscriptVersion(0, leafHash[:]),
	)
	require.NoError(t, err)
	require.NotEqual(t, blank, codeSep)

	// Hash types outside of the BIP0341 set are rejected.
	_, err = CalcTaprootSignatureHash(hashCache, 0x04, tx, 2, fetcher)
	require.True(t, IsErrorCode(err, ErrInvalidSigHashType))

	// Missing previous outputs are reported rather than hashed.
	partial := NewMultiPrevOutFetcher(nil)
	_, err = CalcTaprootSignatureHash(nil, SigHashDefault, tx, 0, partial)
	require.Error(t, err)
}

func TestSigHashCacheSharedAcrossInputs(t *testing.T) {
	t.Parallel()

	tx, fetcher, _ := sigHashTestTx(t)
	shared := NewSighashCache(tx, fetcher)

	for idx := range tx.TxIn {
		cached, err := CalcTaprootSignatureHash(
			shared, SigHashAll, tx, idx, fetcher,
		)
		require.NoError(t, err)

		fresh, err := CalcTaprootSignatureHash(
			nil, SigHashAll, tx, idx, fetcher,
		)
		require.NoError(t, err)
		require.Equal(t, fresh, cached)
	}
}

func TestSigHashTypeNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hashType SigHashType
		name     string
	}{
		{SigHashDefault, "DEFAULT"},
		{SigHashAll, "ALL"},
		{SigHashNone, "NONE"},
		{SigHashSingle, "SINGLE"},
		{SigHashAll | SigHashAnyOneCanPay, "ALL|ANYONECANPAY"},
		{SigHashSingle | SigHashAnyOneCanPay, "SINGLE|ANYONECANPAY"},
	}

	for _, test := range tests {
		require.Equal(t, test.name, test.hashType.String())

		parsed, err := ParseSigHashType(test.name)
		require.NoError(t, err)
		require.Equal(t, test.hashType, parsed)
	}

	_, err := ParseSigHashType("SOME")
	require.Error(t, err)
}
