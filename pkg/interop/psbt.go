package interop

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

var (
	// ErrPrevTxMismatch is returned when a non-witness UTXO of a PSBT input
	// is not the transaction the input spends.
	ErrPrevTxMismatch = errors.New("non-witness utxo does not match " +
		"previous outpoint")

	// ErrMalformedWitness is returned when a final script witness of a
	// PSBT input cannot be decoded.
	ErrMalformedWitness = errors.New("malformed final script witness")
)

// FromPsbt returns the transaction held by packet, with the final script
// sigs and witnesses of finalized inputs applied, together with the
// previous outputs the packet carries.  Inputs without UTXO information are
// absent from the returned fetcher.
func FromPsbt(packet *psbt.Packet) (*wire.Transaction,
	*script.MultiPrevOutFetcher, error) {

	tx, err := FromMsgTx(packet.UnsignedTx)
	if err != nil {
		return nil, nil, err
	}
	if len(packet.Inputs) != len(tx.TxIn) {
		return nil, nil, fmt.Errorf("packet has %d inputs, transaction %d",
			len(packet.Inputs), len(tx.TxIn))
	}

	prevOuts := script.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range tx.TxIn {
		in := &packet.Inputs[idx]

		if len(in.FinalScriptSig) > 0 {
			txIn.SignatureScript = cloneBytes(in.FinalScriptSig)
		}
		if len(in.FinalScriptWitness) > 0 {
			witness, err := readWitness(in.FinalScriptWitness)
			if err != nil {
				return nil, nil, fmt.Errorf("input %d: %w", idx, err)
			}
			txIn.Witness = witness
		}

		prevOut, err := psbtPrevOut(in, txIn.PreviousOutPoint)
		if err != nil {
			return nil, nil, fmt.Errorf("input %d: %w", idx, err)
		}
		if prevOut != nil {
			prevOuts.AddPrevOut(txIn.PreviousOutPoint, prevOut)
		}
	}

	return tx, prevOuts, nil
}

// psbtPrevOut returns the output spent by an input, preferring the witness
// UTXO over the full previous transaction.
func psbtPrevOut(in *psbt.PInput, op wire.OutPoint) (*wire.TxOut, error) {
	switch {
	case in.WitnessUtxo != nil:
		return fromBtcdTxOut(in.WitnessUtxo)

	case in.NonWitnessUtxo != nil:
		prevTx := in.NonWitnessUtxo
		if prevTx.TxHash() != op.Hash ||
			int(op.Index) >= len(prevTx.TxOut) {

			return nil, fmt.Errorf("%w: %v", ErrPrevTxMismatch, op)
		}
		return fromBtcdTxOut(prevTx.TxOut[op.Index])
	}

	return nil, nil
}

// readWitness decodes a witness stack in its wire encoding.
func readWitness(raw []byte) (wire.TxWitness, error) {
	count, n, err := wire.DecodeVarInt(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWitness, err)
	}
	raw = raw[n:]

	// Each item takes at least one byte.
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: %d items in %d bytes",
			ErrMalformedWitness, count, len(raw))
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, n, err := wire.DecodeVarBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v",
				ErrMalformedWitness, i, err)
		}
		witness = append(witness, cloneBytes(item))
		raw = raw[n:]
	}
	if len(raw) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes",
			ErrMalformedWitness, len(raw))
	}

	return witness, nil
}

// ToPsbt builds a PSBT for tx.  Every input gets the witness UTXO prevOuts
// knows for it, and inputs that already carry a script sig or witness are
// recorded as finalized.
func ToPsbt(tx *wire.Transaction,
	prevOuts script.PrevOutputFetcher) (*psbt.Packet, error) {

	// The unsigned transaction of a packet must not carry any scripts.
	unsigned := tx.Copy()
	for _, txIn := range unsigned.TxIn {
		txIn.SignatureScript = nil
		txIn.Witness = nil
	}
	msgTx, err := ToMsgTx(unsigned)
	if err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for idx, txIn := range tx.TxIn {
		in := &packet.Inputs[idx]

		if prevOuts != nil {
			prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
			if prevOut != nil {
				in.WitnessUtxo, err = toBtcdTxOut(prevOut)
				if err != nil {
					return nil, fmt.Errorf("input %d: %w", idx, err)
				}
			}
		}

		if len(txIn.SignatureScript) > 0 {
			in.FinalScriptSig = cloneBytes(txIn.SignatureScript)
		}
		if len(txIn.Witness) > 0 {
			buf.Reset()
			err = psbt.WriteTxWitness(&buf, txIn.Witness)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", idx, err)
			}
			in.FinalScriptWitness = cloneBytes(buf.Bytes())
		}
	}

	return packet, nil
}
