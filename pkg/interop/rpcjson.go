package interop

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// ErrTxidMismatch is returned when the hex of a decoded RPC transaction does
// not hash to the txid it is reported under.
var ErrTxidMismatch = errors.New("txid does not match transaction hex")

// ChainParams returns the network parameters addresses are encoded with.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "main", "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// DecodeRawTransaction renders tx the way a node's decoderawtransaction RPC
// does.  Addresses are encoded for params.
func DecodeRawTransaction(tx *wire.Transaction,
	params *chaincfg.Params) *btcjson.TxRawResult {

	return &btcjson.TxRawResult{
		Hex:      tx.Hex(),
		Txid:     tx.TxHash().String(),
		Hash:     tx.WitnessHash().String(),
		Size:     int32(tx.SerializeSize()),
		Vsize:    int32(tx.VirtualSize()),
		Weight:   int32(tx.Weight()),
		Version:  uint32(tx.Version),
		LockTime: uint32(tx.LockTime),
		Vin:      rawVin(tx),
		Vout:     rawVout(tx, params),
	}
}

func rawVin(tx *wire.Transaction) []btcjson.Vin {
	vin := make([]btcjson.Vin, 0, len(tx.TxIn))

	if tx.IsCoinBase() {
		txIn := tx.TxIn[0]
		return append(vin, btcjson.Vin{
			Coinbase: hex.EncodeToString(txIn.SignatureScript),
			Sequence: uint32(txIn.Sequence),
			Witness:  witnessToHex(txIn.Witness),
		})
	}

	for _, txIn := range tx.TxIn {
		// An unparsable script sig still disassembles up to the failure.
		asm, _ := script.DisasmString(txIn.SignatureScript)

		vin = append(vin, btcjson.Vin{
			Txid: txIn.PreviousOutPoint.Hash.String(),
			Vout: txIn.PreviousOutPoint.Index,
			ScriptSig: &btcjson.ScriptSig{
				Asm: asm,
				Hex: hex.EncodeToString(txIn.SignatureScript),
			},
			Sequence: uint32(txIn.Sequence),
			Witness:  witnessToHex(txIn.Witness),
		})
	}

	return vin
}

func witnessToHex(witness wire.TxWitness) []string {
	if len(witness) == 0 {
		return nil
	}

	items := make([]string, 0, len(witness))
	for _, item := range witness {
		items = append(items, hex.EncodeToString(item))
	}
	return items
}

func rawVout(tx *wire.Transaction, params *chaincfg.Params) []btcjson.Vout {
	vout := make([]btcjson.Vout, 0, len(tx.TxOut))
	for i, txOut := range tx.TxOut {
		vout = append(vout, btcjson.Vout{
			Value:        btcutil.Amount(txOut.Value).ToBTC(),
			N:            uint32(i),
			ScriptPubKey: scriptPubKeyResult(txOut.PkScript, params),
		})
	}
	return vout
}

func scriptPubKeyResult(pkScript []byte,
	params *chaincfg.Params) btcjson.ScriptPubKeyResult {

	asm, _ := script.DisasmString(pkScript)
	result := btcjson.ScriptPubKeyResult{
		Asm:  asm,
		Hex:  hex.EncodeToString(pkScript),
		Type: script.GetScriptClass(pkScript).String(),
	}

	// Scripts that cannot be parsed have no addresses.
	class, addrs, reqSigs, err := script.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) == 0 {
		return result
	}

	if class == script.MultiSigTy {
		result.ReqSigs = int32(reqSigs)
		for _, addr := range addrs {
			result.Addresses = append(result.Addresses, addr.EncodeAddress())
		}
		return result
	}
	result.Address = addrs[0].EncodeAddress()

	return result
}

// FromRawResult rebuilds a transaction from its RPC JSON form.  The hex
// field is authoritative when present.  Otherwise the transaction is rebuilt
// from the decoded fields, which only succeeds if every script hex is
// present.
func FromRawResult(res *btcjson.TxRawResult) (*wire.Transaction, error) {
	if res.Hex != "" {
		tx, err := wire.NewTransactionFromHex(res.Hex)
		if err != nil {
			return nil, err
		}
		if res.Txid != "" && tx.TxHash().String() != res.Txid {
			return nil, fmt.Errorf("%w: %s", ErrTxidMismatch, res.Txid)
		}
		return tx, nil
	}

	tx := wire.NewTransaction(int32(res.Version))
	tx.LockTime = wire.LockTime(res.LockTime)

	for i, vin := range res.Vin {
		vin := vin
		txIn, err := txInFromVin(&vin)
		if err != nil {
			return nil, fmt.Errorf("vin %d: %w", i, err)
		}
		tx.AddTxIn(txIn)
	}

	for i, vout := range res.Vout {
		amount, err := btcutil.NewAmount(vout.Value)
		if err != nil {
			return nil, fmt.Errorf("vout %d: %w", i, err)
		}
		if amount < 0 {
			return nil, fmt.Errorf("vout %d: negative value %v", i, amount)
		}
		pkScript, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return nil, fmt.Errorf("vout %d: %w", i, err)
		}
		tx.AddTxOut(wire.NewTxOut(uint64(amount), pkScript))
	}

	return tx, nil
}

func txInFromVin(vin *btcjson.Vin) (*wire.TxIn, error) {
	var (
		outPoint  *wire.OutPoint
		sigScript []byte
		err       error
	)
	if vin.Coinbase != "" {
		outPoint = wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex)
		sigScript, err = hex.DecodeString(vin.Coinbase)
		if err != nil {
			return nil, err
		}
	} else {
		hash, err := chainhash.NewHashFromStr(vin.Txid)
		if err != nil {
			return nil, err
		}
		outPoint = wire.NewOutPoint(hash, vin.Vout)

		if vin.ScriptSig != nil {
			sigScript, err = hex.DecodeString(vin.ScriptSig.Hex)
			if err != nil {
				return nil, err
			}
		}
	}

	var witness wire.TxWitness
	for _, item := range vin.Witness {
		b, err := hex.DecodeString(item)
		if err != nil {
			return nil, err
		}
		witness = append(witness, b)
	}

	txIn := wire.NewTxIn(outPoint, sigScript, witness)
	txIn.Sequence = wire.Sequence(vin.Sequence)
	return txIn, nil
}

// PrevOut is a previous output in the JSON form nodes accept for the
// prevtxs argument of their signing RPCs.  Amount is in BTC.
type PrevOut struct {
	Txid         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
}

// ParsePrevOuts decodes a JSON array of PrevOut into a fetcher.
func ParsePrevOuts(data []byte) (*script.MultiPrevOutFetcher, error) {
	var prevOuts []PrevOut
	if err := json.Unmarshal(data, &prevOuts); err != nil {
		return nil, err
	}

	fetcher := script.NewMultiPrevOutFetcher(nil)
	for i, prevOut := range prevOuts {
		hash, err := chainhash.NewHashFromStr(prevOut.Txid)
		if err != nil {
			return nil, fmt.Errorf("prevout %d: %w", i, err)
		}
		pkScript, err := hex.DecodeString(prevOut.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("prevout %d: %w", i, err)
		}
		amount, err := btcutil.NewAmount(prevOut.Amount)
		if err != nil {
			return nil, fmt.Errorf("prevout %d: %w", i, err)
		}
		if amount < 0 {
			return nil, fmt.Errorf("prevout %d: negative amount", i)
		}

		fetcher.AddPrevOut(
			*wire.NewOutPoint(hash, prevOut.Vout),
			wire.NewTxOut(uint64(amount), pkScript),
		)
	}

	return fetcher, nil
}
