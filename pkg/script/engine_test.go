// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package script

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// newSpendTx returns a one input, one output transaction spending the zero
// outpoint.
func newSpendTx() *wire.Transaction {
	return &wire.Transaction{
		Version: 1,
		TxIn: []*wire.TxIn{
			{
				PreviousOutPoint: wire.OutPoint{
					Hash:  chainhash.Hash{},
					Index: 0,
				},
			},
		},
		TxOut: []*wire.TxOut{
			{
				Value:    1000,
				PkScript: []byte{OP_TRUE},
			},
		},
	}
}

func TestEngineOpcodes(t *testing.T) {
	t.Parallel()

	type testCase struct {
		valid   bool
		errCode ErrorCode
		flags   ScriptFlags
		tx      *wire.Transaction
		stack   [][]byte
	}

	type fixture struct {
		name   string
		script *ScriptBuilder
		cases  []testCase
	}

	lockedTx := newSpendTx()
	lockedTx.LockTime = 600
	lockedTx.TxIn[0].Sequence = 0

	finalTx := newSpendTx()
	finalTx.LockTime = 600
	finalTx.TxIn[0].Sequence = wire.MaxTxInSequenceNum

	relativeTx := newSpendTx()
	relativeTx.Version = 2
	relativeTx.TxIn[0].Sequence = wire.RelativeBlocksSequence(10)

	tests := []fixture{
		{
			name:   "OP_ADD",
			script: NewScriptBuilder().AddOp(OP_ADD).AddOp(OP_5).AddOp(OP_EQUAL),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{0x02}, {0x03}},
				},
				{
					valid:   false,
					errCode: ErrEvalFalse,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x02}, {0x02}},
				},
				{
					// Five byte operands are out of range for
					// arithmetic.
					valid:   false,
					errCode: ErrNumberTooBig,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x01, 0x00, 0x00, 0x00, 0x01}, {0x03}},
				},
			},
		},
		{
			name: "OP_IF_ELSE",
			script: NewScriptBuilder().
				AddOp(OP_IF).
				AddOp(OP_2).
				AddOp(OP_ELSE).
				AddOp(OP_3).
				AddOp(OP_ENDIF).
				AddOp(OP_3).
				AddOp(OP_EQUAL),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{}},
				},
				{
					valid:   false,
					errCode: ErrEvalFalse,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x01}},
				},
				{
					// Non minimal true values are rejected by
					// policy.
					valid:   false,
					errCode: ErrMinimalIf,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x02}},
				},
				{
					valid:   false,
					errCode: ErrMinimalIf,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x00}},
				},
				{
					// Consensus only interprets the value.
					valid: true,
					flags: ConsensusVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{0x00}},
				},
			},
		},
		{
			name: "NESTED_NOTIF",
			script: NewScriptBuilder().
				AddOp(OP_NOTIF).
				AddOp(OP_IF).
				AddOp(OP_RETURN).
				AddOp(OP_ELSE).
				AddOp(OP_7).
				AddOp(OP_ENDIF).
				AddOp(OP_ELSE).
				AddOp(OP_RETURN).
				AddOp(OP_ENDIF),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{}, {}},
				},
				{
					valid:   false,
					errCode: ErrEarlyReturn,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x01}, {}},
				},
			},
		},
		{
			name:   "UNBALANCED_IF",
			script: NewScriptBuilder().AddOp(OP_IF).AddOp(OP_1),
			cases: []testCase{
				{
					valid:   false,
					errCode: ErrUnbalancedConditional,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x01}},
				},
			},
		},
		{
			name: "OP_CAT_UNEXECUTED",
			script: NewScriptBuilder().
				AddOp(OP_0).
				AddOp(OP_IF).
				AddOp(OP_CAT).
				AddOp(OP_ENDIF).
				AddOp(OP_1),
			cases: []testCase{
				{
					// Disabled opcodes fail even in a
					// branch that is not taken.
					valid:   false,
					errCode: ErrDisabledOpcode,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
				},
			},
		},
		{
			name:   "OP_MUL",
			script: NewScriptBuilder().AddOp(OP_MUL).AddOp(OP_6).AddOp(OP_EQUAL),
			cases: []testCase{
				{
					valid:   false,
					errCode: ErrDisabledOpcode,
					flags:   ConsensusVerifyFlags,
					tx:      newSpendTx(),
					stack:   [][]byte{{0x02}, {0x03}},
				},
			},
		},
		{
			name: "OP_SHA256",
			script: NewScriptBuilder().
				AddData([]byte("abc")).
				AddOp(OP_SHA256).
				AddData(crypto.Sha256([]byte("abc"))).
				AddOp(OP_EQUAL),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
				},
			},
		},
		{
			name: "OP_HASH160",
			script: NewScriptBuilder().
				AddOp(OP_HASH160).
				AddData(crypto.Hash160([]byte{0x01, 0x02})).
				AddOp(OP_EQUALVERIFY).
				AddOp(OP_1),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{0x01, 0x02}},
				},
				{
					valid:   false,
					errCode: ErrInvalidStackOperation,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
				},
			},
		},
		{
			name: "OP_CHECKLOCKTIMEVERIFY",
			script: NewScriptBuilder().
				AddInt64(500).
				AddOp(OP_CHECKLOCKTIMEVERIFY).
				AddOp(OP_DROP).
				AddOp(OP_1),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    lockedTx,
				},
				{
					// A final sequence disables the lock
					// time.
					valid:   false,
					errCode: ErrUnsatisfiedLockTime,
					flags:   StandardVerifyFlags,
					tx:      finalTx,
				},
			},
		},
		{
			name: "OP_CHECKSEQUENCEVERIFY",
			script: NewScriptBuilder().
				AddInt64(10).
				AddOp(OP_CHECKSEQUENCEVERIFY).
				AddOp(OP_DROP).
				AddOp(OP_1),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    relativeTx,
				},
				{
					// Version 1 transactions do not enable
					// relative lock times.
					valid:   false,
					errCode: ErrUnsatisfiedLockTime,
					flags:   StandardVerifyFlags,
					tx:      lockedTx,
				},
			},
		},
		{
			name:   "OP_NOP10",
			script: NewScriptBuilder().AddOp(OP_NOP10).AddOp(OP_1),
			cases: []testCase{
				{
					valid:   false,
					errCode: ErrDiscourageUpgradableNOPs,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
				},
				{
					valid: true,
					flags: ConsensusVerifyFlags,
					tx:    newSpendTx(),
				},
			},
		},
		{
			name:   "CLEAN_STACK",
			script: NewScriptBuilder().AddOp(OP_1).AddOp(OP_1),
			cases: []testCase{
				{
					valid:   false,
					errCode: ErrCleanStack,
					flags:   StandardVerifyFlags,
					tx:      newSpendTx(),
				},
				{
					valid: true,
					flags: ConsensusVerifyFlags,
					tx:    newSpendTx(),
				},
			},
		},
		{
			name: "ALTSTACK",
			script: NewScriptBuilder().
				AddOp(OP_TOALTSTACK).
				AddOp(OP_DROP).
				AddOp(OP_FROMALTSTACK).
				AddOp(OP_4).
				AddOp(OP_EQUAL),
			cases: []testCase{
				{
					valid: true,
					flags: StandardVerifyFlags,
					tx:    newSpendTx(),
					stack: [][]byte{{0x09}, {0x04}},
				},
			},
		},
	}

	for _, test := range tests {
		test := test
		for caseIndex, c := range test.cases {
			c := c
			t.Run(fmt.Sprintf("%s_%d", test.name, caseIndex), func(tt *testing.T) {
				tt.Parallel()

				pkScript, err := test.script.Script()
				require.NoError(tt, err)

				engine, err := NewEngine(
					pkScript, c.tx, 0, c.flags, NewSigCache(100),
					nil, 0, NewCannedPrevOutputFetcher(pkScript, 0),
				)
				require.NoError(tt, err)

				if len(c.stack) > 0 {
					engine.SetStack(c.stack)
				}

				err = engine.Execute()
				if c.valid {
					require.NoError(tt, err)
					return
				}

				require.Error(tt, err)
				if c.errCode != 0 {
					require.True(tt, IsErrorCode(err, c.errCode),
						"unexpected error: %v", err)
				}
			})
		}
	}
}

func TestCheckSignatureEncoding(t *testing.T) {
	t.Parallel()

	highS := append([]byte{0x30, 0x25, 0x02, 0x01, 0x01, 0x02, 0x20, 0x7f},
		bytes.Repeat([]byte{0xff}, 31)...)

	tests := []struct {
		name    string
		sig     []byte
		flags   ScriptFlags
		errCode ErrorCode
		valid   bool
	}{
		{
			name:  "minimal",
			sig:   []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
			flags: StandardVerifyFlags,
			valid: true,
		},
		{
			name:  "unchecked without flags",
			sig:   []byte{0x31},
			valid: true,
		},
		{
			name:    "too short",
			sig:     []byte{0x30, 0x05, 0x02, 0x01, 0x01, 0x02, 0x00},
			flags:   StandardVerifyFlags,
			errCode: ErrSigTooShort,
		},
		{
			name:    "too long",
			sig:     bytes.Repeat([]byte{0x30}, 73),
			flags:   StandardVerifyFlags,
			errCode: ErrSigTooLong,
		},
		{
			name:    "sequence id",
			sig:     []byte{0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
			flags:   StandardVerifyFlags,
			errCode: ErrSigInvalidSeqID,
		},
		{
			name:    "data length",
			sig:     []byte{0x30, 0x07, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
			flags:   StandardVerifyFlags,
			errCode: ErrSigInvalidDataLen,
		},
		{
			name:    "zero R",
			sig:     []byte{0x30, 0x06, 0x02, 0x00, 0x02, 0x02, 0x01, 0x01},
			flags:   StandardVerifyFlags,
			errCode: ErrSigZeroRLen,
		},
		{
			name: "padded R",
			sig: []byte{
				0x30, 0x07, 0x02, 0x02, 0x00, 0x01, 0x02, 0x01, 0x01,
			},
			flags:   StandardVerifyFlags,
			errCode: ErrSigTooMuchRPadding,
		},
		{
			name:    "negative S",
			sig:     []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x81},
			flags:   StandardVerifyFlags,
			errCode: ErrSigNegativeS,
		},
		{
			name:    "high S",
			sig:     highS,
			flags:   StandardVerifyFlags,
			errCode: ErrSigHighS,
		},
		{
			name:  "high S without low S rule",
			sig:   highS,
			flags: ScriptVerifyDERSignatures,
			valid: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			vm := &Engine{flags: test.flags}
			err := vm.checkSignatureEncoding(test.sig)
			if test.valid {
				require.NoError(tt, err)
				return
			}
			require.True(tt, IsErrorCode(err, test.errCode),
				"unexpected error: %v", err)
		})
	}
}

// signLegacy signs input idx of tx over the legacy sighash of subScript.
func signLegacy(t *testing.T, key *btcec.PrivateKey, subScript []byte,
	hashType SigHashType, tx *wire.Transaction, idx int) []byte {

	t.Helper()

	hash, err := CalcSignatureHash(subScript, hashType, tx, idx)
	require.NoError(t, err)

	return append(crypto.SignECDSA(key, hash), byte(hashType))
}

func TestCheckMultiSigSignatureOrder(t *testing.T) {
	t.Parallel()

	keys := make([]*btcec.PrivateKey, 3)
	pubKeys := make([][]byte, 3)
	for i := range keys {
		keys[i], _ = crypto.PrivKeyFromBytes(
			bytes.Repeat([]byte{byte(i + 1)}, 32),
		)
		pubKeys[i] = keys[i].PubKey().SerializeCompressed()
	}

	pkScript, err := MultiSigScript(pubKeys, 2)
	require.NoError(t, err)

	tests := []struct {
		name    string
		signers []int
		valid   bool
	}{
		{name: "key_order", signers: []int{0, 1}, valid: true},
		{name: "reverse_order", signers: []int{1, 0}, valid: true},
		{name: "outer_keys", signers: []int{0, 2}, valid: true},
		{name: "outer_keys_reversed", signers: []int{2, 0}, valid: true},
		{name: "last_keys_reversed", signers: []int{2, 1}, valid: true},
		{name: "duplicate_signer", signers: []int{1, 1}, valid: false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			tx := newSpendTx()
			builder := NewScriptBuilder().AddOp(OP_0)
			for _, signer := range test.signers {
				sig := signLegacy(
					tt, keys[signer], pkScript, SigHashAll, tx, 0,
				)
				builder.AddData(sig)
			}
			sigScript, err := builder.Script()
			require.NoError(tt, err)
			tx.TxIn[0].SignatureScript = sigScript

			engine, err := NewEngine(
				pkScript, tx, 0, ConsensusVerifyFlags, nil, nil, 0, nil,
			)
			require.NoError(tt, err)

			err = engine.Execute()
			if test.valid {
				require.NoError(tt, err)
			} else {
				require.True(tt, IsErrorCode(err, ErrEvalFalse),
					"unexpected error: %v", err)
			}
		})
	}

	t.Run("too_few_signatures", func(tt *testing.T) {
		tt.Parallel()

		tx := newSpendTx()
		sig := signLegacy(tt, keys[0], pkScript, SigHashAll, tx, 0)
		sigScript, err := NewScriptBuilder().AddOp(OP_0).AddData(sig).Script()
		require.NoError(tt, err)
		tx.TxIn[0].SignatureScript = sigScript

		engine, err := NewEngine(
			pkScript, tx, 0, ConsensusVerifyFlags, nil, nil, 0, nil,
		)
		require.NoError(tt, err)
		require.Error(tt, engine.Execute())
	})

	t.Run("null_dummy", func(tt *testing.T) {
		tt.Parallel()

		tx := newSpendTx()
		sigA := signLegacy(tt, keys[0], pkScript, SigHashAll, tx, 0)
		sigB := signLegacy(tt, keys[1], pkScript, SigHashAll, tx, 0)
		sigScript, err := NewScriptBuilder().
			AddOp(OP_1).AddData(sigA).AddData(sigB).Script()
		require.NoError(tt, err)
		tx.TxIn[0].SignatureScript = sigScript

		engine, err := NewEngine(
			pkScript, tx, 0, ConsensusVerifyFlags, nil, nil, 0, nil,
		)
		require.NoError(tt, err)
		require.True(tt, IsErrorCode(engine.Execute(), ErrSigNullDummy))
	})
}

func TestPayToPubKeyHashSpend(t *testing.T) {
	t.Parallel()

	key, pub := crypto.PrivKeyFromBytes(bytes.Repeat([]byte{0x42}, 32))
	pubKey := pub.SerializeCompressed()

	pkScript, err := PayToPubKeyHashScript(crypto.Hash160(pubKey))
	require.NoError(t, err)

	tx := newSpendTx()
	sig := signLegacy(t, key, pkScript, SigHashAll, tx, 0)
	sigScript, err := NewScriptBuilder().AddData(sig).AddData(pubKey).Script()
	require.NoError(t, err)
	tx.TxIn[0].SignatureScript = sigScript

	sigCache := NewSigCache(10)
	for i := 0; i < 2; i++ {
		engine, err := NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, sigCache, nil, 0, nil,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())
	}

	// Changing the output invalidates the SIGHASH_ALL signature.
	tx.TxOut[0].Value++
	engine, err := NewEngine(
		pkScript, tx, 0, StandardVerifyFlags, sigCache, nil, 0, nil,
	)
	require.NoError(t, err)
	require.True(t, IsErrorCode(engine.Execute(), ErrNullFail))
}

func TestPayToScriptHashSpend(t *testing.T) {
	t.Parallel()

	redeemScript, err := NewScriptBuilder().
		AddOp(OP_ADD).AddOp(OP_9).AddOp(OP_EQUAL).Script()
	require.NoError(t, err)

	pkScript, err := PayToScriptHashScript(crypto.Hash160(redeemScript))
	require.NoError(t, err)

	tests := []struct {
		name     string
		operands []int64
		redeem   []byte
		valid    bool
	}{
		{name: "matching_sum", operands: []int64{4, 5}, redeem: redeemScript, valid: true},
		{name: "wrong_sum", operands: []int64{4, 4}, redeem: redeemScript, valid: false},
		{name: "wrong_redeem_script", operands: []int64{4, 5}, redeem: []byte{OP_1}, valid: false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			builder := NewScriptBuilder()
			for _, operand := range test.operands {
				builder.AddInt64(operand)
			}
			sigScript, err := builder.AddData(test.redeem).Script()
			require.NoError(tt, err)

			tx := newSpendTx()
			tx.TxIn[0].SignatureScript = sigScript

			engine, err := NewEngine(
				pkScript, tx, 0, StandardVerifyFlags, nil, nil, 0, nil,
			)
			require.NoError(tt, err)

			err = engine.Execute()
			if test.valid {
				require.NoError(tt, err)
				return
			}
			require.Error(tt, err)
		})
	}
}

// TestPayToScriptHashEmptySigScript checks that a P2SH output spent with an
// empty signature script fails cleanly even when the stack was primed by the
// caller, since there is no signature script stack to take the redeem script
// from.
func TestPayToScriptHashEmptySigScript(t *testing.T) {
	t.Parallel()

	redeemScript := []byte{OP_TRUE}
	pkScript, err := PayToScriptHashScript(crypto.Hash160(redeemScript))
	require.NoError(t, err)

	engine, err := NewEngine(
		pkScript, newSpendTx(), 0, StandardVerifyFlags, nil, nil, 0, nil,
	)
	require.NoError(t, err)
	engine.SetStack([][]byte{redeemScript})

	require.NotPanics(t, func() {
		err = engine.Execute()
	})
	require.Error(t, err)
	require.True(t, IsErrorCode(err, ErrEvalFalse), "unexpected error: %v", err)
}

func TestWitnessV0Spends(t *testing.T) {
	t.Parallel()

	key, pub := crypto.PrivKeyFromBytes(bytes.Repeat([]byte{0x07}, 32))
	pubKey := pub.SerializeCompressed()
	const amount = 50_000

	t.Run("p2wpkh", func(tt *testing.T) {
		tt.Parallel()

		pkScript, err := PayToWitnessPubKeyHashScript(crypto.Hash160(pubKey))
		require.NoError(tt, err)

		tx := newSpendTx()
		fetcher := NewCannedPrevOutputFetcher(pkScript, amount)
		hashCache := NewSighashCache(tx, fetcher)

		hash, err := CalcWitnessSigHash(
			pkScript, hashCache, SigHashAll, tx, 0, amount,
		)
		require.NoError(tt, err)
		sig := append(crypto.SignECDSA(key, hash), byte(SigHashAll))
		tx.TxIn[0].Witness = wire.TxWitness{sig, pubKey}

		engine, err := NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, hashCache,
			amount, fetcher,
		)
		require.NoError(tt, err)
		require.NoError(tt, engine.Execute())

		// The amount is committed to.
		engine, err = NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, nil,
			amount+1, fetcher,
		)
		require.NoError(tt, err)
		require.Error(tt, engine.Execute())
	})

	t.Run("p2wsh", func(tt *testing.T) {
		tt.Parallel()

		witnessScript, err := NewScriptBuilder().
			AddData(pubKey).AddOp(OP_CHECKSIG).Script()
		require.NoError(tt, err)

		pkScript, err := PayToWitnessScriptHashScript(
			crypto.Sha256(witnessScript),
		)
		require.NoError(tt, err)

		tx := newSpendTx()
		hash, err := CalcWitnessSigHash(
			witnessScript, nil, SigHashAll, tx, 0, amount,
		)
		require.NoError(tt, err)
		sig := append(crypto.SignECDSA(key, hash), byte(SigHashAll))
		tx.TxIn[0].Witness = wire.TxWitness{sig, witnessScript}

		engine, err := NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, nil, amount, nil,
		)
		require.NoError(tt, err)
		require.NoError(tt, engine.Execute())

		// A witness script that does not hash to the program is
		// rejected before execution.
		tx.TxIn[0].Witness = wire.TxWitness{sig, append(witnessScript, OP_NOP)}
		engine, err = NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, nil, amount, nil,
		)
		require.NoError(tt, err)
		require.True(tt, IsErrorCode(engine.Execute(), ErrWitnessProgramMismatch))
	})

	t.Run("p2sh_p2wpkh", func(tt *testing.T) {
		tt.Parallel()

		witnessProgram, err := PayToWitnessPubKeyHashScript(
			crypto.Hash160(pubKey),
		)
		require.NoError(tt, err)
		pkScript, err := PayToScriptHashScript(crypto.Hash160(witnessProgram))
		require.NoError(tt, err)

		tx := newSpendTx()
		hash, err := CalcWitnessSigHash(
			witnessProgram, nil, SigHashAll, tx, 0, amount,
		)
		require.NoError(tt, err)
		sig := append(crypto.SignECDSA(key, hash), byte(SigHashAll))

		sigScript, err := NewScriptBuilder().AddData(witnessProgram).Script()
		require.NoError(tt, err)
		tx.TxIn[0].SignatureScript = sigScript
		tx.TxIn[0].Witness = wire.TxWitness{sig, pubKey}

		engine, err := NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, nil, amount, nil,
		)
		require.NoError(tt, err)
		require.NoError(tt, engine.Execute())
	})

	t.Run("native_program_with_sig_script", func(tt *testing.T) {
		tt.Parallel()

		pkScript, err := PayToWitnessPubKeyHashScript(crypto.Hash160(pubKey))
		require.NoError(tt, err)

		tx := newSpendTx()
		tx.TxIn[0].SignatureScript = []byte{OP_1}
		tx.TxIn[0].Witness = wire.TxWitness{{0x01}, pubKey}

		_, err = NewEngine(
			pkScript, tx, 0, StandardVerifyFlags, nil, nil, amount, nil,
		)
		require.True(tt, IsErrorCode(err, ErrWitnessMalleated))
	})
}

func TestUnknownWitnessVersion(t *testing.T) {
	t.Parallel()

	pkScript, err := NewScriptBuilder().
		AddOp(OP_2).AddData(bytes.Repeat([]byte{0xaa}, 32)).Script()
	require.NoError(t, err)

	tx := newSpendTx()
	tx.TxIn[0].Witness = wire.TxWitness{{0x01}}

	engine, err := NewEngine(
		pkScript, tx, 0, ConsensusVerifyFlags, nil, nil, 0, nil,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())

	engine, err = NewEngine(
		pkScript, tx, 0, StandardVerifyFlags, nil, nil, 0, nil,
	)
	require.NoError(t, err)
	require.True(t, IsErrorCode(
		engine.Execute(), ErrDiscourageUpgradableWitnessProgram,
	))
}

func TestNewEngineErrors(t *testing.T) {
	t.Parallel()

	tx := newSpendTx()

	_, err := NewEngine([]byte{OP_1}, tx, 1, StandardVerifyFlags, nil, nil, 0, nil)
	require.True(t, IsErrorCode(err, ErrInvalidIndex))

	_, err = NewEngine(nil, tx, 0, StandardVerifyFlags, nil, nil, 0, nil)
	require.True(t, IsErrorCode(err, ErrEvalFalse))

	_, err = NewEngine(
		[]byte{OP_1}, tx, 0, ScriptVerifyCleanStack, nil, nil, 0, nil,
	)
	require.True(t, IsErrorCode(err, ErrInvalidFlags))

	_, err = NewEngine(
		[]byte{OP_PUSHDATA1, 0x05, 0x01}, tx, 0, StandardVerifyFlags,
		nil, nil, 0, nil,
	)
	require.True(t, IsErrorCode(err, ErrMalformedPush))

	tx.TxIn[0].Witness = wire.TxWitness{{0x01}}
	_, err = NewEngine([]byte{OP_1}, tx, 0, StandardVerifyFlags, nil, nil, 0, nil)
	require.True(t, IsErrorCode(err, ErrWitnessUnexpected))
}

func TestDebugEngineSteps(t *testing.T) {
	t.Parallel()

	pkScript, err := NewScriptBuilder().
		AddOp(OP_2).AddOp(OP_3).AddOp(OP_ADD).AddOp(OP_5).AddOp(OP_EQUAL).
		Script()
	require.NoError(t, err)

	var steps []*StepInfo
	engine, err := NewDebugEngine(
		pkScript, newSpendTx(), 0, StandardVerifyFlags, nil, nil, 0, nil,
		func(info *StepInfo) error {
			steps = append(steps, info)
			return nil
		},
	)
	require.NoError(t, err)

	pc, err := engine.DisasmPC()
	require.NoError(t, err)
	require.Equal(t, "01:0000: OP_2", pc)

	dis, err := engine.DisasmScript(1)
	require.NoError(t, err)
	require.Contains(t, dis, "01:0002: OP_ADD")

	require.NoError(t, engine.Execute())

	// One callback for the initial state and one per opcode.
	require.Len(t, steps, 6)
	require.Equal(t, [][]byte{{0x02}, {0x03}}, steps[2].Stack)
	require.Equal(t, [][]byte{{0x05}}, steps[3].Stack)
	require.Equal(t, 5, steps[5].OpcodeIndex)
}

func TestParseVerifyFlags(t *testing.T) {
	t.Parallel()

	flags, err := ParseVerifyFlags("standard")
	require.NoError(t, err)
	require.Equal(t, StandardVerifyFlags, flags)

	flags, err = ParseVerifyFlags("Consensus")
	require.NoError(t, err)
	require.Equal(t, ConsensusVerifyFlags, flags)
	require.Zero(t, flags&ScriptVerifyCleanStack)

	_, err = ParseVerifyFlags("lenient")
	require.Error(t, err)
}
