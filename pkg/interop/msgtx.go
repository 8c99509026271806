// Package interop converts between this module's transaction model and the
// representations used by the wider btcd ecosystem: btcd's wire.MsgTx, the
// txscript previous output fetcher, PSBT packets and the node RPC JSON
// returned by decoderawtransaction.
package interop

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// ToMsgTx copies tx into a btcd transaction.  It fails if an output value
// does not fit btcd's signed amount.
func ToMsgTx(tx *wire.Transaction) (*btcwire.MsgTx, error) {
	msgTx := btcwire.NewMsgTx(tx.Version)
	msgTx.LockTime = uint32(tx.LockTime)

	for _, txIn := range tx.TxIn {
		var witness btcwire.TxWitness
		for _, item := range txIn.Witness {
			witness = append(witness, cloneBytes(item))
		}

		msgTx.AddTxIn(&btcwire.TxIn{
			PreviousOutPoint: toBtcdOutPoint(txIn.PreviousOutPoint),
			SignatureScript:  cloneBytes(txIn.SignatureScript),
			Witness:          witness,
			Sequence:         uint32(txIn.Sequence),
		})
	}

	for i, txOut := range tx.TxOut {
		out, err := toBtcdTxOut(txOut)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		msgTx.AddTxOut(out)
	}

	return msgTx, nil
}

// FromMsgTx copies a btcd transaction.  Negative output values are
// rejected.
func FromMsgTx(msgTx *btcwire.MsgTx) (*wire.Transaction, error) {
	tx := wire.NewTransaction(msgTx.Version)
	tx.LockTime = wire.LockTime(msgTx.LockTime)

	for _, txIn := range msgTx.TxIn {
		var witness wire.TxWitness
		for _, item := range txIn.Witness {
			witness = append(witness, cloneBytes(item))
		}

		outPoint := fromBtcdOutPoint(txIn.PreviousOutPoint)
		in := wire.NewTxIn(&outPoint, cloneBytes(txIn.SignatureScript), witness)
		in.Sequence = wire.Sequence(txIn.Sequence)
		tx.AddTxIn(in)
	}

	for i, txOut := range msgTx.TxOut {
		out, err := fromBtcdTxOut(txOut)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		tx.AddTxOut(out)
	}

	return tx, nil
}

func toBtcdOutPoint(op wire.OutPoint) btcwire.OutPoint {
	return btcwire.OutPoint{Hash: op.Hash, Index: op.Index}
}

func fromBtcdOutPoint(op btcwire.OutPoint) wire.OutPoint {
	return wire.OutPoint{Hash: op.Hash, Index: op.Index}
}

func toBtcdTxOut(txOut *wire.TxOut) (*btcwire.TxOut, error) {
	if txOut.Value > math.MaxInt64 {
		return nil, fmt.Errorf("value %d overflows int64", txOut.Value)
	}
	return btcwire.NewTxOut(int64(txOut.Value), cloneBytes(txOut.PkScript)), nil
}

func fromBtcdTxOut(txOut *btcwire.TxOut) (*wire.TxOut, error) {
	if txOut.Value < 0 {
		return nil, fmt.Errorf("negative value %d", txOut.Value)
	}
	return wire.NewTxOut(uint64(txOut.Value), cloneBytes(txOut.PkScript)), nil
}

// cloneBytes copies b, keeping nil and empty slices apart.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// txscriptFetcher serves btcd's txscript from a script.PrevOutputFetcher.
type txscriptFetcher struct {
	fetcher script.PrevOutputFetcher
}

// FetchPrevOutput implements txscript.PrevOutputFetcher.  Outputs whose value
// does not fit btcd's amount type are reported as unknown.
func (f *txscriptFetcher) FetchPrevOutput(op btcwire.OutPoint) *btcwire.TxOut {
	txOut := f.fetcher.FetchPrevOutput(fromBtcdOutPoint(op))
	if txOut == nil {
		return nil
	}

	out, err := toBtcdTxOut(txOut)
	if err != nil {
		return nil
	}
	return out
}

// ToTxscriptFetcher adapts fetcher for use with btcd's txscript package.
func ToTxscriptFetcher(fetcher script.PrevOutputFetcher) txscript.PrevOutputFetcher {
	return &txscriptFetcher{fetcher: fetcher}
}

// scriptFetcher serves this module's script engine from a btcd fetcher.
type scriptFetcher struct {
	fetcher txscript.PrevOutputFetcher
}

// FetchPrevOutput implements script.PrevOutputFetcher.
func (f *scriptFetcher) FetchPrevOutput(op wire.OutPoint) *wire.TxOut {
	txOut := f.fetcher.FetchPrevOutput(toBtcdOutPoint(op))
	if txOut == nil {
		return nil
	}

	out, err := fromBtcdTxOut(txOut)
	if err != nil {
		return nil
	}
	return out
}

// FromTxscriptFetcher adapts a btcd txscript fetcher for use with the script
// engine and sighash functions of this module.
func FromTxscriptFetcher(fetcher txscript.PrevOutputFetcher) script.PrevOutputFetcher {
	return &scriptFetcher{fetcher: fetcher}
}
