package verifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/signer"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

func TestMultisigAnySignerOrder(t *testing.T) {
	t.Parallel()

	var (
		keys    []*btcec.PrivateKey
		pubKeys [][]byte
	)
	for i := byte(0); i < 3; i++ {
		key, pub := testKey(0x40 + i)
		keys = append(keys, key)
		pubKeys = append(pubKeys, pub.SerializeCompressed())
	}

	multisig, err := script.MultiSigScript(pubKeys, 2)
	require.NoError(t, err)
	p2sh, err := script.PayToScriptHashScript(crypto.Hash160(multisig))
	require.NoError(t, err)

	tests := []struct {
		name     string
		pkScript []byte
		redeem   []byte
	}{
		{name: "bare", pkScript: multisig},
		{name: "p2sh", pkScript: p2sh, redeem: multisig},
	}

	for _, test := range tests {
		test := test
		// spend builds the unlocking script from signatures of the given
		// keys, in the given order.
		spend := func(tt *testing.T, signers ...int) *Result {
			tx, prevOuts := fundedTx(tt, test.pkScript)

			scriptCode := test.pkScript
			if test.redeem != nil {
				scriptCode = test.redeem
			}
			sigHash, err := script.CalcSignatureHash(
				scriptCode, script.SigHashAll, tx, 0,
			)
			require.NoError(tt, err)

			builder := script.NewScriptBuilder().AddOp(script.OP_0)
			for _, i := range signers {
				sig := crypto.SignECDSA(keys[i], sigHash)
				builder.AddData(append(sig, byte(script.SigHashAll)))
			}
			if test.redeem != nil {
				builder.AddData(test.redeem)
			}
			tx.TxIn[0].SignatureScript, err = builder.Script()
			require.NoError(tt, err)

			result, err := New().Verify(context.Background(), tx, prevOuts)
			require.NoError(tt, err)
			return result
		}

		for i := range keys {
			i := i
			for j := range keys {
				j := j
				if i == j {
					continue
				}

				name := fmt.Sprintf("%s_%d_%d", test.name, i, j)
				t.Run(name, func(tt *testing.T) {
					tt.Parallel()

					result := spend(tt, i, j)
					require.True(tt, result.Valid(), "%v", result.Err())
				})
			}

			name := fmt.Sprintf("%s_only_%d", test.name, i)
			t.Run(name, func(tt *testing.T) {
				tt.Parallel()

				require.False(tt, spend(tt, i).Valid())
			})
		}
	}
}

func TestSingleAnyoneCanPay(t *testing.T) {
	t.Parallel()

	payerKey, payerPub := testKey(0x50)
	otherKey, otherPub := testKey(0x51)

	p2pkh, err := script.PayToPubKeyHashScript(
		crypto.Hash160(payerPub.SerializeCompressed()),
	)
	require.NoError(t, err)
	p2wpkh, err := script.PayToWitnessPubKeyHashScript(
		crypto.Hash160(payerPub.SerializeCompressed()),
	)
	require.NoError(t, err)
	otherScript, err := script.PayToWitnessPubKeyHashScript(
		crypto.Hash160(otherPub.SerializeCompressed()),
	)
	require.NoError(t, err)
	outputKey, err := script.ComputeTaprootKeyNoScript(payerPub)
	require.NoError(t, err)
	p2tr, err := script.PayToTaprootScript(crypto.XOnly(outputKey))
	require.NoError(t, err)

	for _, pkScript := range [][]byte{p2pkh, p2wpkh, p2tr} {
		pkScript := pkScript
		class := script.GetScriptClass(pkScript)
		t.Run(class.String(), func(tt *testing.T) {
			tt.Parallel()

			tx, prevOuts := fundedTx(tt, pkScript)
			keys := signer.NewKeyRing(payerKey, otherKey)

			err := signer.New(keys).SignTx(tx, prevOuts, []*signer.SignDescriptor{{
				Output:             prevOuts.FetchPrevOutput(tx.TxIn[0].PreviousOutPoint),
				HashType:           script.SigHashSingle | script.SigHashAnyOneCanPay,
				TaprootInternalKey: payerPub,
			}})
			require.NoError(tt, err)

			// Someone else adds an input and an output of their own.
			hash := chainhash.HashH([]byte("other"))
			outPoint := wire.NewOutPoint(&hash, 7)
			tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
			tx.AddTxOut(wire.NewTxOut(prevAmount/4, otherScript))
			prevOuts.AddPrevOut(*outPoint, wire.NewTxOut(prevAmount, otherScript))

			err = signer.New(keys).SignTx(tx, prevOuts, []*signer.SignDescriptor{{
				InputIndex: 1,
				Output:     prevOuts.FetchPrevOutput(*outPoint),
			}})
			require.NoError(tt, err)

			result, err := New().Verify(context.Background(), tx, prevOuts)
			require.NoError(tt, err)
			require.True(tt, result.Valid(), "%v", result.Err())

			// Altering the output paired with the signed input breaks
			// its signature.
			tx.TxOut[0].Value--
			result, err = New().Verify(context.Background(), tx, prevOuts)
			require.NoError(tt, err)
			require.False(tt, result.Valid())
			require.Error(tt, result.Inputs[0].Err)
		})
	}
}
