// Package signer produces unlocking scripts and witnesses for the standard
// output templates: pay-to-pubkey, pay-to-pubkey-hash, bare multisig, P2SH
// (including nested segwit), P2WPKH, P2WSH and taproot key and script path
// spends.
package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

var (
	// ErrMissingKey is returned when the key store lacks a private key
	// the output requires.
	ErrMissingKey = errors.New("missing private key")

	// ErrMissingRedeemScript is returned for P2SH outputs signed without
	// the redeem script they commit to.
	ErrMissingRedeemScript = errors.New("missing redeem script")

	// ErrMissingWitnessScript is returned for P2WSH outputs signed without
	// the witness script they commit to.
	ErrMissingWitnessScript = errors.New("missing witness script")

	// ErrMissingTaprootInfo is returned for taproot outputs signed
	// without an internal key and script tree committing to the output
	// key.
	ErrMissingTaprootInfo = errors.New("missing taproot internal key or tree")

	// ErrMissingPrevOut is returned when the previous output of an input
	// is unknown.
	ErrMissingPrevOut = errors.New("missing previous output")

	// ErrUnsupportedScript is returned for output scripts the signer has
	// no template for.
	ErrUnsupportedScript = errors.New("unsupported script")

	// ErrInvalidInputIndex is returned when a descriptor points past the
	// inputs of the transaction.
	ErrInvalidInputIndex = errors.New("invalid input index")
)

// SignDescriptor houses the information needed to sign a single input.
type SignDescriptor struct {
	// InputIndex is the input of the transaction to sign.
	InputIndex int

	// Output is the previous output the input spends.  Both the script
	// and the value must be set; segwit signatures commit to the value.
	Output *wire.TxOut

	// HashType is the sighash type of the produced signatures.
	// SigHashDefault signs taproot inputs with the implicit default type
	// and every other input with SigHashAll.
	HashType script.SigHashType

	// RedeemScript is the script a P2SH output commits to.
	RedeemScript []byte

	// WitnessScript is the script a P2WSH output commits to.
	WitnessScript []byte

	// TaprootInternalKey is the untweaked key of a taproot output.
	TaprootInternalKey *btcec.PublicKey

	// TapTree is the script tree of a taproot output.  It is nil for
	// outputs that commit to no scripts.
	TapTree *script.IndexedTapScriptTree

	// TapLeaf selects a script path spend of the given leaf.  When nil,
	// the output is spent through the key path.
	TapLeaf *script.TapLeaf
}

// Signer signs transaction inputs with the keys of a KeyStore.  Signing
// mutates the unlocking script and witness of one input at a time, so a
// transaction must not be signed from several goroutines at once.
type Signer struct {
	keys KeyStore
}

// New returns a Signer backed by keys.
func New(keys KeyStore) *Signer {
	return &Signer{keys: keys}
}

// SignTx signs every input described by descs.  prevOuts must know the
// previous output of every input when taproot inputs are signed; when nil it
// is built from the descriptors.
func (s *Signer) SignTx(tx *wire.Transaction, prevOuts script.PrevOutputFetcher,
	descs []*SignDescriptor) error {

	if prevOuts == nil {
		fetcher := script.NewMultiPrevOutFetcher(nil)
		for _, desc := range descs {
			if desc.InputIndex < 0 || desc.InputIndex >= len(tx.TxIn) {
				return fmt.Errorf("%w: %d", ErrInvalidInputIndex,
					desc.InputIndex)
			}
			if desc.Output == nil {
				continue
			}
			fetcher.AddPrevOut(
				tx.TxIn[desc.InputIndex].PreviousOutPoint,
				desc.Output,
			)
		}
		prevOuts = fetcher
	}

	// The midstates only cover outpoints, sequences, outputs and previous
	// outputs, none of which signing changes, so one cache serves every
	// input.
	hashCache := script.NewSighashCache(tx, prevOuts)
	for _, desc := range descs {
		err := s.SignInput(tx, prevOuts, hashCache, desc)
		if err != nil {
			return fmt.Errorf("input %d: %w", desc.InputIndex, err)
		}
	}

	return nil
}

// SignInput signs the input desc describes and sets its unlocking script and
// witness.  hashCache may be nil.
func (s *Signer) SignInput(tx *wire.Transaction, prevOuts script.PrevOutputFetcher,
	hashCache *script.SighashCache, desc *SignDescriptor) error {

	if desc.InputIndex < 0 || desc.InputIndex >= len(tx.TxIn) {
		return fmt.Errorf("%w: %d", ErrInvalidInputIndex, desc.InputIndex)
	}
	if desc.Output == nil {
		return ErrMissingPrevOut
	}
	if prevOuts == nil {
		prevOuts = script.NewCannedPrevOutputFetcher(
			desc.Output.PkScript, desc.Output.Value,
		)
	}
	if hashCache == nil {
		hashCache = script.NewSighashCache(tx, prevOuts)
	}

	ctx := &signContext{
		keys:      s.keys,
		tx:        tx,
		desc:      desc,
		prevOuts:  prevOuts,
		hashCache: hashCache,
	}

	class := script.GetScriptClass(desc.Output.PkScript)
	sigScript, witness, err := ctx.sign(desc.Output.PkScript, class)
	if err != nil {
		return err
	}

	txIn := tx.TxIn[desc.InputIndex]
	txIn.SignatureScript = sigScript
	txIn.Witness = witness

	log.WithFields(log.Fields{
		"input": desc.InputIndex,
		"class": class,
	}).Debug("signed input")

	return nil
}

// signContext carries the state of a single input signing.
type signContext struct {
	keys      KeyStore
	tx        *wire.Transaction
	desc      *SignDescriptor
	prevOuts  script.PrevOutputFetcher
	hashCache *script.SighashCache
}

// ecdsaHashType returns the sighash type of ECDSA signatures, which have no
// implicit default.
func (c *signContext) ecdsaHashType() script.SigHashType {
	if c.desc.HashType == script.SigHashDefault {
		return script.SigHashAll
	}
	return c.desc.HashType
}

// ecdsaSig returns a DER signature of sigHash with the hash type appended.
func (c *signContext) ecdsaSig(key *btcec.PrivateKey, sigHash []byte) []byte {
	sig := crypto.SignECDSA(key, sigHash)
	return append(sig, byte(c.ecdsaHashType()))
}

// schnorrSig returns a BIP340 signature of sigHash, with the hash type
// appended unless it is the implicit default.
func (c *signContext) schnorrSig(key *btcec.PrivateKey, sigHash []byte) ([]byte, error) {
	sig, err := crypto.SignSchnorr(key, sigHash)
	if err != nil {
		return nil, err
	}
	if c.desc.HashType != script.SigHashDefault {
		sig = append(sig, byte(c.desc.HashType))
	}
	return sig, nil
}

// sign dispatches on the class of pkScript and returns the unlocking script
// and witness spending it.
func (c *signContext) sign(pkScript []byte,
	class script.ScriptClass) ([]byte, wire.TxWitness, error) {

	switch class {
	case script.PubKeyTy, script.PubKeyHashTy, script.MultiSigTy:
		sigHash, err := script.CalcSignatureHash(
			pkScript, c.ecdsaHashType(), c.tx, c.desc.InputIndex,
		)
		if err != nil {
			return nil, nil, err
		}
		items, err := c.templateItems(pkScript, class, sigHash)
		if err != nil {
			return nil, nil, err
		}
		sigScript, err := pushAll(items)
		return sigScript, nil, err

	case script.ScriptHashTy:
		return c.signScriptHash(pkScript)

	case script.WitnessV0PubKeyHashTy, script.WitnessV0ScriptHashTy:
		witness, err := c.signWitnessV0(pkScript, class)
		return nil, witness, err

	case script.WitnessV1TaprootTy:
		witness, err := c.signTaproot(pkScript)
		return nil, witness, err
	}

	return nil, nil, fmt.Errorf("%w: %v output", ErrUnsupportedScript, class)
}

// signScriptHash unwraps one P2SH level.  Nested segwit redeem scripts are
// signed through the witness v0 path; everything else is signed with the
// redeem script as the legacy scriptCode.
func (c *signContext) signScriptHash(pkScript []byte) ([]byte, wire.TxWitness, error) {
	redeem := c.desc.RedeemScript
	if len(redeem) == 0 {
		return nil, nil, ErrMissingRedeemScript
	}
	if !bytes.Equal(crypto.Hash160(redeem), script.ExtractScriptHash(pkScript)) {
		return nil, nil, fmt.Errorf("%w: redeem script does not match "+
			"the output", ErrMissingRedeemScript)
	}

	switch class := script.GetScriptClass(redeem); class {
	case script.WitnessV0PubKeyHashTy, script.WitnessV0ScriptHashTy:
		witness, err := c.signWitnessV0(redeem, class)
		if err != nil {
			return nil, nil, err
		}
		sigScript, err := pushAll([][]byte{redeem})
		return sigScript, witness, err

	case script.PubKeyTy, script.PubKeyHashTy, script.MultiSigTy:
		sigHash, err := script.CalcSignatureHash(
			redeem, c.ecdsaHashType(), c.tx, c.desc.InputIndex,
		)
		if err != nil {
			return nil, nil, err
		}
		items, err := c.templateItems(redeem, class, sigHash)
		if err != nil {
			return nil, nil, err
		}
		sigScript, err := pushAll(append(items, redeem))
		return sigScript, nil, err

	default:
		return nil, nil, fmt.Errorf("%w: %v redeem script",
			ErrUnsupportedScript, class)
	}
}

// signWitnessV0 signs a P2WPKH or P2WSH program.
func (c *signContext) signWitnessV0(program []byte,
	class script.ScriptClass) (wire.TxWitness, error) {

	idx, amount := c.desc.InputIndex, c.desc.Output.Value

	if class == script.WitnessV0PubKeyHashTy {
		key, pubKey, ok := c.keys.PrivKeyForHash(script.ExtractPubKeyHash(program))
		if !ok {
			return nil, fmt.Errorf("%w: key hash %x", ErrMissingKey,
				script.ExtractPubKeyHash(program))
		}
		if len(pubKey) != btcec.PubKeyBytesLenCompressed {
			return nil, fmt.Errorf("%w: witness key hash commits to "+
				"an uncompressed key", ErrUnsupportedScript)
		}

		sigHash, err := script.CalcWitnessSigHash(
			program, c.hashCache, c.ecdsaHashType(), c.tx, idx, amount,
		)
		if err != nil {
			return nil, err
		}
		return wire.TxWitness{c.ecdsaSig(key, sigHash), pubKey}, nil
	}

	witnessScript := c.desc.WitnessScript
	if len(witnessScript) == 0 {
		return nil, ErrMissingWitnessScript
	}
	if !bytes.Equal(crypto.Sha256(witnessScript), script.ExtractScriptHash(program)) {
		return nil, fmt.Errorf("%w: witness script does not match the "+
			"program", ErrMissingWitnessScript)
	}

	wsClass := script.GetScriptClass(witnessScript)
	switch wsClass {
	case script.PubKeyTy, script.PubKeyHashTy, script.MultiSigTy:
	default:
		return nil, fmt.Errorf("%w: %v witness script",
			ErrUnsupportedScript, wsClass)
	}

	sigHash, err := script.CalcWitnessSigHash(
		witnessScript, c.hashCache, c.ecdsaHashType(), c.tx, idx, amount,
	)
	if err != nil {
		return nil, err
	}
	items, err := c.templateItems(witnessScript, wsClass, sigHash)
	if err != nil {
		return nil, err
	}

	return append(wire.TxWitness(items), witnessScript), nil
}

// templateItems returns the stack items satisfying a pay-to-pubkey,
// pay-to-pubkey-hash or multisig template for the given sighash.
func (c *signContext) templateItems(tmpl []byte, class script.ScriptClass,
	sigHash []byte) ([][]byte, error) {

	switch class {
	case script.PubKeyTy:
		pubKey := script.ExtractPubKey(tmpl)
		key, ok := c.keys.PrivKeyForPubKey(pubKey)
		if !ok {
			return nil, fmt.Errorf("%w: pubkey %x", ErrMissingKey, pubKey)
		}
		return [][]byte{c.ecdsaSig(key, sigHash)}, nil

	case script.PubKeyHashTy:
		hash := script.ExtractPubKeyHash(tmpl)
		key, pubKey, ok := c.keys.PrivKeyForHash(hash)
		if !ok {
			return nil, fmt.Errorf("%w: key hash %x", ErrMissingKey, hash)
		}
		return [][]byte{c.ecdsaSig(key, sigHash), pubKey}, nil

	case script.MultiSigTy:
		required, pubKeys, err := script.ExtractMultiSigPubKeys(tmpl)
		if err != nil {
			return nil, err
		}

		// OP_CHECKMULTISIG pops one extra element, which must be
		// empty.
		items := [][]byte{nil}
		for _, pubKey := range pubKeys {
			if len(items)-1 == required {
				break
			}
			key, ok := c.keys.PrivKeyForPubKey(pubKey)
			if !ok {
				continue
			}
			items = append(items, c.ecdsaSig(key, sigHash))
		}
		if signed := len(items) - 1; signed < required {
			return nil, fmt.Errorf("%w: have %d of %d multisig keys",
				ErrMissingKey, signed, required)
		}
		return items, nil
	}

	return nil, fmt.Errorf("%w: %v template", ErrUnsupportedScript, class)
}

// signTaproot signs a taproot output through the key path, or through the
// script path of desc.TapLeaf.
func (c *signContext) signTaproot(pkScript []byte) (wire.TxWitness, error) {
	internalKey := c.desc.TaprootInternalKey
	if internalKey == nil {
		return nil, ErrMissingTaprootInfo
	}

	var root []byte
	if c.desc.TapTree != nil {
		rootHash := c.desc.TapTree.RootNode.TapHash()
		root = rootHash[:]
	}

	outputKey, err := script.ComputeTaprootOutputKey(internalKey, root)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(crypto.XOnly(outputKey), script.ExtractPubKey(pkScript)) {
		return nil, fmt.Errorf("%w: internal key and tree do not commit "+
			"to the output key", ErrMissingTaprootInfo)
	}

	idx := c.desc.InputIndex
	if c.desc.TapLeaf == nil {
		key, ok := c.keys.PrivKeyForPubKey(crypto.XOnly(internalKey))
		if !ok {
			return nil, fmt.Errorf("%w: internal key", ErrMissingKey)
		}
		tweaked, err := script.TweakTaprootPrivKey(key, root)
		if err != nil {
			return nil, err
		}

		sigHash, err := script.CalcTaprootSignatureHash(
			c.hashCache, c.desc.HashType, c.tx, idx, c.prevOuts,
		)
		if err != nil {
			return nil, err
		}
		sig, err := c.schnorrSig(tweaked, sigHash)
		if err != nil {
			return nil, err
		}
		return wire.TxWitness{sig}, nil
	}

	if c.desc.TapTree == nil {
		return nil, fmt.Errorf("%w: script path spend without a tree",
			ErrMissingTaprootInfo)
	}

	leaf := *c.desc.TapLeaf
	ctrlBlock, err := script.ComputeControlBlock(c.desc.TapTree, leaf, internalKey)
	if err != nil {
		return nil, err
	}

	sigHash, err := script.CalcTapscriptSignaturehash(
		c.hashCache, c.desc.HashType, c.tx, idx, c.prevOuts, leaf,
	)
	if err != nil {
		return nil, err
	}

	pushes, err := script.PushedData(leaf.Script)
	if err != nil {
		return nil, err
	}

	// Each x-only key the leaf pushes gets a signature, or an empty
	// element when the key is not held.  The leaf consumes them in push
	// order, so the first key's signature ends up on top of the stack.
	var (
		sigs   [][]byte
		signed int
	)
	for _, data := range pushes {
		if len(data) != 32 {
			continue
		}

		var sig []byte
		if key, ok := c.keys.PrivKeyForPubKey(data); ok {
			sig, err = c.schnorrSig(key, sigHash)
			if err != nil {
				return nil, err
			}
			signed++
		}
		sigs = append(sigs, sig)
	}
	if signed == 0 {
		return nil, fmt.Errorf("%w: no leaf key held", ErrMissingKey)
	}

	witness := make(wire.TxWitness, 0, len(sigs)+2)
	for i := len(sigs) - 1; i >= 0; i-- {
		witness = append(witness, sigs[i])
	}
	return append(witness, leaf.Script, ctrlBlock), nil
}

// pushAll returns a script pushing every item in order.
func pushAll(items [][]byte) ([]byte, error) {
	builder := script.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}
	return builder.Script()
}
