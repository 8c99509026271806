package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ArkLabsHQ/scriptvm/pkg/interop"
	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/verifier"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

var (
	psbtFlag = cli.BoolFlag{
		Name:  "psbt",
		Usage: "The transaction argument is a base64 encoded PSBT.",
	}

	prevOutsFlag = cli.StringFlag{
		Name: "prevouts",
		Usage: "The outputs spent by the transaction, as a JSON array " +
			"of {txid, vout, scriptPubKey, amount} or the path of " +
			"a file holding one.",
	}
)

func printJSON(ctx *cli.Context, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "%s\n", b)
	return err
}

// firstArg returns the single positional argument of a command.
func firstArg(ctx *cli.Context, name string) (string, error) {
	if !ctx.Args().Present() {
		return "", fmt.Errorf("%s argument missing", name)
	}
	return strings.TrimSpace(ctx.Args().First()), nil
}

// readTx decodes the transaction argument.  A PSBT also yields the previous
// outputs it carries, which are merged with the --prevouts flag if the
// command has one.
func readTx(ctx *cli.Context) (*wire.Transaction, *script.MultiPrevOutFetcher,
	error) {

	arg, err := firstArg(ctx, "transaction")
	if err != nil {
		return nil, nil, err
	}

	var (
		tx       *wire.Transaction
		prevOuts = script.NewMultiPrevOutFetcher(nil)
	)
	if ctx.Bool(psbtFlag.Name) {
		packet, err := psbt.NewFromRawBytes(strings.NewReader(arg), true)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding psbt: %w", err)
		}
		tx, prevOuts, err = interop.FromPsbt(packet)
		if err != nil {
			return nil, nil, err
		}
	} else {
		tx, err = wire.NewTransactionFromHex(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding transaction: %w", err)
		}
	}

	if ctx.IsSet(prevOutsFlag.Name) {
		extra, err := readPrevOuts(ctx.String(prevOutsFlag.Name))
		if err != nil {
			return nil, nil, err
		}
		prevOuts.Merge(extra)
	}

	return tx, prevOuts, nil
}

func readPrevOuts(arg string) (*script.MultiPrevOutFetcher, error) {
	data := []byte(strings.TrimSpace(arg))
	if len(data) > 0 && data[0] != '[' {
		var err error
		data, err = os.ReadFile(arg)
		if err != nil {
			return nil, err
		}
	}

	prevOuts, err := interop.ParsePrevOuts(data)
	if err != nil {
		return nil, fmt.Errorf("decoding prevouts: %w", err)
	}
	return prevOuts, nil
}

func decodeHexArg(ctx *cli.Context, name string) ([]byte, error) {
	arg, err := firstArg(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return b, nil
}

var decodeCommand = cli.Command{
	Name:      "decode",
	Usage:     "Decode a transaction into node RPC JSON.",
	ArgsUsage: "rawtx",
	Flags:     []cli.Flag{psbtFlag},
	Action:    decodeTx,
}

func decodeTx(ctx *cli.Context) error {
	tx, _, err := readTx(ctx)
	if err != nil {
		return err
	}

	return printJSON(ctx, interop.DecodeRawTransaction(
		tx, getConfig(ctx).ChainParams,
	))
}

var disasmCommand = cli.Command{
	Name:      "disasm",
	Usage:     "Disassemble a script.",
	ArgsUsage: "script_hex",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "version",
			Value: script.Legacy.String(),
			Usage: "The script version: legacy, witness_v0 or tapscript.",
		},
	},
	Action: disasm,
}

func disasm(ctx *cli.Context) error {
	raw, err := decodeHexArg(ctx, "script")
	if err != nil {
		return err
	}
	version, err := script.ParseScriptVersion(ctx.String("version"))
	if err != nil {
		return err
	}

	asm, err := script.DisasmVersionString(version, raw)
	fmt.Fprintln(ctx.App.Writer, asm)
	return err
}

type classifyResult struct {
	Type      string   `json:"type"`
	ReqSigs   int      `json:"reqSigs,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

var classifyCommand = cli.Command{
	Name:      "classify",
	Usage:     "Classify an output script and extract its addresses.",
	ArgsUsage: "script_hex",
	Action:    classify,
}

func classify(ctx *cli.Context) error {
	pkScript, err := decodeHexArg(ctx, "script")
	if err != nil {
		return err
	}

	class, addrs, reqSigs, err := script.ExtractPkScriptAddrs(
		pkScript, getConfig(ctx).ChainParams,
	)
	if err != nil {
		return err
	}

	result := classifyResult{Type: class.String(), ReqSigs: reqSigs}
	for _, addr := range addrs {
		result.Addresses = append(result.Addresses, addr.EncodeAddress())
	}
	return printJSON(ctx, result)
}

type inputVerdict struct {
	Index int    `json:"index"`
	Class string `json:"class"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type verifyResult struct {
	Txid   string         `json:"txid"`
	Valid  bool           `json:"valid"`
	Inputs []inputVerdict `json:"inputs"`
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "Verify every input of a transaction.",
	ArgsUsage: "rawtx",
	Flags:     []cli.Flag{psbtFlag, prevOutsFlag},
	Action:    verify,
}

func verify(ctx *cli.Context) error {
	tx, prevOuts, err := readTx(ctx)
	if err != nil {
		return err
	}

	cfg := getConfig(ctx)
	result, err := verifier.New(cfg.VerifierOptions()...).Verify(
		context.Background(), tx, prevOuts,
	)
	if err != nil {
		return err
	}

	resp := verifyResult{
		Txid:  result.TxID.String(),
		Valid: result.Valid(),
	}
	invalid := 0
	for _, in := range result.Inputs {
		verdict := inputVerdict{
			Index: in.Index,
			Class: in.Class.String(),
			Valid: in.Err == nil,
		}
		if in.Err != nil {
			verdict.Error = in.Err.Error()
			invalid++
		}
		resp.Inputs = append(resp.Inputs, verdict)
	}

	log.WithFields(log.Fields{
		"txid":    resp.Txid,
		"inputs":  len(resp.Inputs),
		"invalid": invalid,
	}).Info("verified transaction")

	if err := printJSON(ctx, resp); err != nil {
		return err
	}
	if !resp.Valid {
		return fmt.Errorf("transaction %s: %d of %d inputs invalid",
			resp.Txid, invalid, len(resp.Inputs))
	}
	return nil
}

var sighashCommand = cli.Command{
	Name:  "sighash",
	Usage: "Compute the signature hash of a transaction input.",
	Description: "The digest algorithm follows the output being spent: " +
		"BIP341 for taproot, BIP143 for native and nested segwit v0 " +
		"and the legacy algorithm otherwise.",
	ArgsUsage: "rawtx",
	Flags: []cli.Flag{
		psbtFlag,
		prevOutsFlag,
		cli.IntFlag{
			Name:  "input",
			Usage: "The index of the input.",
		},
		cli.StringFlag{
			Name:  "hashtype",
			Value: "ALL",
			Usage: "The sighash type, e.g. ALL or SINGLE|ANYONECANPAY.",
		},
		cli.StringFlag{
			Name: "script",
			Usage: "The script code to sign for legacy and segwit v0 " +
				"inputs.  Defaults to the redeem or witness script " +
				"found in the input.",
		},
		cli.StringFlag{
			Name:  "leaf",
			Usage: "The tapscript leaf of a taproot script path spend.",
		},
		cli.StringFlag{
			Name:  "annex",
			Usage: "The annex of a taproot spend, including its 0x50 tag.",
		},
	},
	Action: sighash,
}

var errNoScriptCode = errors.New("no script code: set --script")

func sighash(ctx *cli.Context) error {
	tx, prevOuts, err := readTx(ctx)
	if err != nil {
		return err
	}

	idx := ctx.Int("input")
	if idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("input %d out of range", idx)
	}
	hashType, err := script.ParseSigHashType(ctx.String("hashtype"))
	if err != nil {
		return err
	}

	txIn := tx.TxIn[idx]
	prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("unknown previous output %v", txIn.PreviousOutPoint)
	}

	var scriptCode, leaf, annex []byte
	for name, dst := range map[string]*[]byte{
		"script": &scriptCode, "leaf": &leaf, "annex": &annex,
	} {
		if !ctx.IsSet(name) {
			continue
		}
		if *dst, err = hex.DecodeString(ctx.String(name)); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}

	digest, err := calcSighash(
		tx, idx, prevOut, prevOuts, hashType, scriptCode, leaf, annex,
	)
	if err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, hex.EncodeToString(digest))
	return nil
}

func calcSighash(tx *wire.Transaction, idx int, prevOut *wire.TxOut,
	prevOuts script.PrevOutputFetcher, hashType script.SigHashType,
	scriptCode, leaf, annex []byte) ([]byte, error) {

	hashCache := script.NewSighashCache(tx, prevOuts)
	txIn := tx.TxIn[idx]

	program := prevOut.PkScript
	if script.GetScriptClass(program) == script.ScriptHashTy {
		pushes, err := script.PushedData(txIn.SignatureScript)
		if err != nil || len(pushes) == 0 {
			if scriptCode == nil {
				return nil, errNoScriptCode
			}
			return script.CalcSignatureHash(scriptCode, hashType, tx, idx)
		}
		program = pushes[len(pushes)-1]
	}

	switch script.GetScriptClass(program) {
	case script.WitnessV1TaprootTy:
		var opts []script.TaprootSigHashOption
		if annex != nil {
			opts = append(opts, script.WithAnnex(annex))
		}
		if leaf != nil {
			return script.CalcTapscriptSignaturehash(
				hashCache, hashType, tx, idx, prevOuts,
				script.NewBaseTapLeaf(leaf), opts...,
			)
		}
		return script.CalcTaprootSignatureHash(
			hashCache, hashType, tx, idx, prevOuts, opts...,
		)

	case script.WitnessV0PubKeyHashTy:
		if scriptCode == nil {
			scriptCode = program
		}
		return script.CalcWitnessSigHash(
			scriptCode, hashCache, hashType, tx, idx, prevOut.Value,
		)

	case script.WitnessV0ScriptHashTy:
		if scriptCode == nil && len(txIn.Witness) > 0 {
			scriptCode = txIn.Witness[len(txIn.Witness)-1]
		}
		if scriptCode == nil {
			return nil, errNoScriptCode
		}
		return script.CalcWitnessSigHash(
			scriptCode, hashCache, hashType, tx, idx, prevOut.Value,
		)
	}

	if scriptCode == nil {
		scriptCode = program
	}
	return script.CalcSignatureHash(scriptCode, hashType, tx, idx)
}
