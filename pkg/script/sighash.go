package script

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// SigHashType represents hash type bits at the end of a signature.
type SigHashType uint32

// Hash type bits from the end of a signature.
const (
	// SigHashDefault is only valid for taproot signatures.  It commits to
	// the same data as SigHashAll but is not serialized as a trailing byte,
	// so default signatures are exactly 64 bytes.
	SigHashDefault      SigHashType = 0x0
	SigHashOld          SigHashType = 0x0
	SigHashAll          SigHashType = 0x1
	SigHashNone         SigHashType = 0x2
	SigHashSingle       SigHashType = 0x3
	SigHashAnyOneCanPay SigHashType = 0x80

	// sigHashMask defines the number of bits of the hash type which is used
	// to identify which outputs are signed.
	sigHashMask = 0x1f

	// taprootSigHashMask selects the output mode bits of a taproot hash
	// type.
	taprootSigHashMask = 0x03
)

// String returns the hash type in the SIGHASH_X form used by Bitcoin Core.
func (t SigHashType) String() string {
	var base string
	switch t & ^SigHashAnyOneCanPay {
	case SigHashDefault:
		if t == SigHashDefault {
			return "DEFAULT"
		}
		base = "ALL"
	case SigHashAll:
		base = "ALL"
	case SigHashNone:
		base = "NONE"
	case SigHashSingle:
		base = "SINGLE"
	default:
		return fmt.Sprintf("0x%02x", uint32(t))
	}
	if t&SigHashAnyOneCanPay != 0 {
		return base + "|ANYONECANPAY"
	}
	return base
}

// ParseSigHashType parses the names produced by String.
func ParseSigHashType(name string) (SigHashType, error) {
	switch name {
	case "DEFAULT":
		return SigHashDefault, nil
	case "ALL":
		return SigHashAll, nil
	case "NONE":
		return SigHashNone, nil
	case "SINGLE":
		return SigHashSingle, nil
	case "ALL|ANYONECANPAY":
		return SigHashAll | SigHashAnyOneCanPay, nil
	case "NONE|ANYONECANPAY":
		return SigHashNone | SigHashAnyOneCanPay, nil
	case "SINGLE|ANYONECANPAY":
		return SigHashSingle | SigHashAnyOneCanPay, nil
	}
	return 0, fmt.Errorf("unknown sighash type %q", name)
}

// isValidTaprootSigHash returns true if the passed sighash is a valid taproot
// sighash.
func isValidTaprootSigHash(hashType SigHashType) bool {
	switch hashType {
	case SigHashDefault, SigHashAll, SigHashNone, SigHashSingle:
		fallthrough
	case 0x81, 0x82, 0x83:
		return true

	default:
		return false
	}
}

// PrevOutputFetcher is an interface used to supply the sighash cache with the
// previous output information needed to calculate the pre-computed sighash
// midstate for taproot transactions.
type PrevOutputFetcher interface {
	// FetchPrevOutput attempts to fetch the previous output referenced by
	// the passed outpoint. A nil value will be returned if the passed
	// outpoint doesn't exist.
	FetchPrevOutput(wire.OutPoint) *wire.TxOut
}

// CannedPrevOutputFetcher is an implementation of PrevOutputFetcher that only
// is able to return information for a single previous output.
type CannedPrevOutputFetcher struct {
	pkScript []byte
	amt      uint64
}

// NewCannedPrevOutputFetcher returns an instance of a CannedPrevOutputFetcher
// that can only return the TxOut defined by the passed script and amount.
func NewCannedPrevOutputFetcher(script []byte, amt uint64) *CannedPrevOutputFetcher {
	return &CannedPrevOutputFetcher{
		pkScript: script,
		amt:      amt,
	}
}

// FetchPrevOutput attempts to fetch the previous output referenced by the
// passed outpoint.
func (c *CannedPrevOutputFetcher) FetchPrevOutput(wire.OutPoint) *wire.TxOut {
	return wire.NewTxOut(c.amt, c.pkScript)
}

// MultiPrevOutFetcher is a custom implementation of the PrevOutputFetcher
// backed by a key-value map of prevouts to outputs.
type MultiPrevOutFetcher struct {
	prevOuts map[wire.OutPoint]*wire.TxOut
}

// NewMultiPrevOutFetcher returns an instance of a PrevOutputFetcher that's
// backed by an optional map which is used as an input source. The
// AddPrevOut method can be used to add new elements to the map.
func NewMultiPrevOutFetcher(prevOuts map[wire.OutPoint]*wire.TxOut) *MultiPrevOutFetcher {
	if prevOuts == nil {
		prevOuts = make(map[wire.OutPoint]*wire.TxOut)
	}

	return &MultiPrevOutFetcher{
		prevOuts: prevOuts,
	}
}

// FetchPrevOutput attempts to fetch the previous output referenced by the
// passed outpoint.
func (m *MultiPrevOutFetcher) FetchPrevOutput(op wire.OutPoint) *wire.TxOut {
	return m.prevOuts[op]
}

// AddPrevOut adds a new prev out, tx out pair to the backing map.
func (m *MultiPrevOutFetcher) AddPrevOut(op wire.OutPoint, txOut *wire.TxOut) {
	m.prevOuts[op] = txOut
}

// Merge merges two instances of a MultiPrevOutFetcher into a single source.
func (m *MultiPrevOutFetcher) Merge(other *MultiPrevOutFetcher) {
	for k, v := range other.prevOuts {
		m.prevOuts[k] = v
	}
}

// segwitV0Hashes are the BIP0143 midstate hashes, each a double SHA256.
type segwitV0Hashes struct {
	hashPrevOuts chainhash.Hash
	hashSequence chainhash.Hash
	hashOutputs  chainhash.Hash
}

// taprootHashes are the BIP0341 midstate hashes, each a single SHA256.
type taprootHashes struct {
	hashPrevOuts     chainhash.Hash
	hashSequence     chainhash.Hash
	hashOutputs      chainhash.Hash
	hashInputAmounts chainhash.Hash
	hashInputScripts chainhash.Hash
}

// SighashCache houses the partial set of sighashes introduced within BIP0143
// and BIP0341.  The sub-hashes depend only on the transaction and its
// previous outputs, so one cache serves every input of a transaction.  Each
// family is computed on first use and is safe for concurrent readers.
type SighashCache struct {
	tx             *wire.Transaction
	prevOutFetcher PrevOutputFetcher

	v0Once sync.Once
	v0     segwitV0Hashes

	v1Once sync.Once
	v1     taprootHashes
	v1Err  error
}

// NewSighashCache returns a cache for the sighash midstates of tx.  The
// fetcher is only consulted for taproot inputs and may be nil when none are
// signed or verified.
func NewSighashCache(tx *wire.Transaction,
	prevOutFetcher PrevOutputFetcher) *SighashCache {

	return &SighashCache{
		tx:             tx,
		prevOutFetcher: prevOutFetcher,
	}
}

// segwitV0 returns the BIP0143 midstate, computing it on first use.
func (c *SighashCache) segwitV0() *segwitV0Hashes {
	c.v0Once.Do(func() {
		c.v0 = segwitV0Hashes{
			hashPrevOuts: chainhash.DoubleHashH(
				calcHashPrevOuts(c.tx),
			),
			hashSequence: chainhash.DoubleHashH(
				calcHashSequence(c.tx),
			),
			hashOutputs: chainhash.DoubleHashH(
				calcHashOutputs(c.tx),
			),
		}
	})
	return &c.v0
}

// taproot returns the BIP0341 midstate, computing it on first use.  Every
// previous output must be known to the fetcher.
func (c *SighashCache) taproot() (*taprootHashes, error) {
	c.v1Once.Do(func() {
		if c.prevOutFetcher == nil {
			c.v1Err = scriptError(ErrInternal,
				"taproot sighash requires a previous output fetcher")
			return
		}

		amounts, scripts, err := calcHashInputAmountsAndScripts(
			c.tx, c.prevOutFetcher,
		)
		if err != nil {
			c.v1Err = err
			return
		}

		c.v1 = taprootHashes{
			hashPrevOuts:     chainhash.HashH(calcHashPrevOuts(c.tx)),
			hashSequence:     chainhash.HashH(calcHashSequence(c.tx)),
			hashOutputs:      chainhash.HashH(calcHashOutputs(c.tx)),
			hashInputAmounts: amounts,
			hashInputScripts: scripts,
		}
	})
	return &c.v1, c.v1Err
}

// calcHashPrevOuts returns the serialization of all the previous outputs
// (txid:index) referenced within the passed transaction.  The caller hashes it
// once or twice depending on the sighash version.
func calcHashPrevOuts(tx *wire.Transaction) []byte {
	var b bytes.Buffer
	for _, in := range tx.TxIn {
		// First write out the 32-byte transaction ID one of whose
		// outputs are being referenced by this input.
		b.Write(in.PreviousOutPoint.Hash[:])

		// Next, we'll encode the index of the referenced output as a
		// little endian integer.
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], in.PreviousOutPoint.Index)
		b.Write(buf[:])
	}

	return b.Bytes()
}

// calcHashSequence returns the serialization of each of the sequence numbers
// within the inputs of the passed transaction.
func calcHashSequence(tx *wire.Transaction) []byte {
	var b bytes.Buffer
	for _, in := range tx.TxIn {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(in.Sequence))
		b.Write(buf[:])
	}

	return b.Bytes()
}

// calcHashOutputs returns the wire serialization of all outputs created by
// the transaction.
func calcHashOutputs(tx *wire.Transaction) []byte {
	var b bytes.Buffer
	for _, out := range tx.TxOut {
		wire.WriteTxOut(&b, out)
	}

	return b.Bytes()
}

// calcHashInputAmountsAndScripts computes the BIP0341 hash of all the
// amounts and the hash of all the scriptPubKeys of the outputs the inputs
// spend.
func calcHashInputAmountsAndScripts(tx *wire.Transaction,
	fetcher PrevOutputFetcher) (chainhash.Hash, chainhash.Hash, error) {

	var amounts, scripts bytes.Buffer
	for idx, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			str := fmt.Sprintf("previous output %v of input %d is "+
				"unknown", txIn.PreviousOutPoint, idx)
			return chainhash.Hash{}, chainhash.Hash{},
				scriptError(ErrInvalidIndex, str)
		}

		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], prevOut.Value)
		amounts.Write(buf[:])

		wire.WriteVarBytes(&scripts, prevOut.PkScript)
	}

	return chainhash.HashH(amounts.Bytes()), chainhash.HashH(scripts.Bytes()),
		nil
}

// shallowCopyTx creates a shallow copy of the transaction for use when
// calculating the signature hash.  It is used over the Copy method on the
// transaction itself since that is a deep copy and therefore does more work and
// allocates much more space than needed.
func shallowCopyTx(tx *wire.Transaction) wire.Transaction {
	// As an additional memory optimization, use contiguous backing arrays
	// for the copied inputs and outputs and point the final slice of
	// pointers into the contiguous arrays.  This avoids a lot of small
	// allocations.
	txCopy := wire.Transaction{
		Version:  tx.Version,
		TxIn:     make([]*wire.TxIn, len(tx.TxIn)),
		TxOut:    make([]*wire.TxOut, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}
	txIns := make([]wire.TxIn, len(tx.TxIn))
	for i, oldTxIn := range tx.TxIn {
		txIns[i] = *oldTxIn
		txIns[i].Witness = nil
		txCopy.TxIn[i] = &txIns[i]
	}
	txOuts := make([]wire.TxOut, len(tx.TxOut))
	for i, oldTxOut := range tx.TxOut {
		txOuts[i] = *oldTxOut
		txCopy.TxOut[i] = &txOuts[i]
	}
	return txCopy
}

// CalcSignatureHash will, given a script and hash type for the current script
// engine instance, calculate the legacy signature hash to be used for signing
// and verification.
func CalcSignatureHash(script []byte, hashType SigHashType, tx *wire.Transaction,
	idx int) ([]byte, error) {

	if err := checkScriptParses(Legacy, script); err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		str := fmt.Sprintf("transaction input index %d is not less "+
			"than %d", idx, len(tx.TxIn))
		return nil, scriptError(ErrInvalidIndex, str)
	}

	return calcSignatureHash(script, hashType, tx, idx), nil
}

// calcSignatureHash computes the signature hash for the specified input of the
// target transaction observing the desired signature hash type.  The script
// must already have been trimmed at the last executed OP_CODESEPARATOR and
// have any signatures removed.
func calcSignatureHash(sigScript []byte, hashType SigHashType,
	tx *wire.Transaction, idx int) []byte {

	// The SigHashSingle signature type signs only the corresponding input
	// and output (the output with the same index number as the input).
	//
	// Since transactions can have more inputs than outputs, this means it
	// is improper to use SigHashSingle on input indices that don't have a
	// corresponding output.
	//
	// A bug in the original Satoshi client implementation means specifying
	// an index that is out of range results in a signature hash of 1 (as a
	// uint256 little endian).  The original intent appeared to be to
	// indicate failure, but unfortunately, it was never checked and thus is
	// treated as the actual signature hash.  This buggy behavior is now
	// part of the consensus and a hard fork would be required to fix it.
	//
	// Due to this, care must be taken by software that creates transactions
	// which make use of SigHashSingle because it can lead to an extremely
	// dangerous situation where the invalid inputs will end up signing a
	// hash of 1.  This in turn presents an opportunity for attackers to
	// cleverly construct transactions which can steal those coins provided
	// they can reuse signatures.
	if hashType&sigHashMask == SigHashSingle && idx >= len(tx.TxOut) {
		var hash chainhash.Hash
		hash[0] = 0x01
		return hash[:]
	}

	// Remove all instances of OP_CODESEPARATOR from the script.
	sigScript = removeOpcodeRaw(sigScript, OP_CODESEPARATOR)

	// Make a shallow copy of the transaction, zeroing out the script for
	// all inputs that are not currently being processed.
	txCopy := shallowCopyTx(tx)
	for i := range txCopy.TxIn {
		if i == idx {
			txCopy.TxIn[idx].SignatureScript = sigScript
		} else {
			txCopy.TxIn[i].SignatureScript = nil
		}
	}

	switch hashType & sigHashMask {
	case SigHashNone:
		txCopy.TxOut = txCopy.TxOut[0:0] // Empty slice.
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	case SigHashSingle:
		// Resize output array to up to and including requested index.
		txCopy.TxOut = txCopy.TxOut[:idx+1]

		// All but current output get zeroed out.
		for i := 0; i < idx; i++ {
			txCopy.TxOut[i].Value = math.MaxUint64
			txCopy.TxOut[i].PkScript = nil
		}

		// Sequence on all other inputs is 0, too.
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	default:
		// Consensus treats undefined hashtypes like normal SigHashAll
		// for purposes of hash generation.
	}
	if hashType&SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
	}

	// The final hash is the double sha256 of both the serialized modified
	// transaction and the hash type (encoded as a 4-byte little-endian
	// value) appended.
	wbuf := bytes.NewBuffer(make([]byte, 0, txCopy.SerializeSizeStripped()+4))
	txCopy.SerializeNoWitness(wbuf)
	binary.Write(wbuf, binary.LittleEndian, uint32(hashType))
	return crypto.DoubleSha256(wbuf.Bytes())
}

// CalcWitnessSigHash computes the sighash digest for the specified input of
// the target transaction observing the desired sig hash type, following
// BIP0143.  script is the scriptCode: the witness script for P2WSH or the
// P2WPKH program itself, which is expanded to its implicit P2PKH form.
func CalcWitnessSigHash(script []byte, sigHashes *SighashCache,
	hType SigHashType, tx *wire.Transaction, idx int,
	amt uint64) ([]byte, error) {

	if err := checkScriptParses(WitnessV0, script); err != nil {
		return nil, err
	}

	return calcWitnessSignatureHashRaw(script, sigHashes, hType, tx, idx, amt)
}

// calcWitnessSignatureHashRaw computes the sighash digest of a transaction's
// segwit input using the new, optimized digest calculation algorithm defined
// in BIP0143: https://github.com/bitcoin/bips/blob/master/bip-0143.mediawiki.
// This function makes use of pre-calculated sighash fragments stored within
// the passed SighashCache to eliminate duplicate hashing computations when
// calculating the final digest, reducing the complexity from O(N^2) to O(N).
// Additionally, signatures now cover the input value of the referenced unspent
// output. This allows offline, or hardware wallets to compute the exact amount
// being spent, in addition to the final transaction fee. In the case the
// wallet if fed an invalid input amount, the real sighash will differ causing
// the produced signature to be invalid.
func calcWitnessSignatureHashRaw(subScript []byte, sigHashes *SighashCache,
	hashType SigHashType, tx *wire.Transaction, idx int,
	amt uint64) ([]byte, error) {

	// As a sanity check, ensure the passed input index for the transaction
	// is valid.
	if idx < 0 || idx > len(tx.TxIn)-1 {
		str := fmt.Sprintf("idx %d but %d txins", idx, len(tx.TxIn))
		return nil, scriptError(ErrInvalidIndex, str)
	}
	if sigHashes == nil {
		sigHashes = NewSighashCache(tx, nil)
	}
	midstate := sigHashes.segwitV0()

	// We'll utilize this buffer throughout to incrementally calculate
	// the signature hash for this transaction.
	var sigHash bytes.Buffer

	// First write out, then encode the transaction's version number.
	var bVersion [4]byte
	binary.LittleEndian.PutUint32(bVersion[:], uint32(tx.Version))
	sigHash.Write(bVersion[:])

	// Next write out the possibly pre-calculated hashes for the sequence
	// numbers of all inputs, and the hashes of the previous outs for all
	// outputs.
	var zeroHash chainhash.Hash

	// If anyone can pay isn't active, then we can use the cached
	// hashPrevOuts, otherwise we just write zeroes for the prev outs.
	if hashType&SigHashAnyOneCanPay == 0 {
		sigHash.Write(midstate.hashPrevOuts[:])
	} else {
		sigHash.Write(zeroHash[:])
	}

	// If the sighash isn't anyone can pay, single, or none, the use the
	// cached hash sequences, otherwise write all zeroes for the
	// hashSequence.
	if hashType&SigHashAnyOneCanPay == 0 &&
		hashType&sigHashMask != SigHashSingle &&
		hashType&sigHashMask != SigHashNone {

		sigHash.Write(midstate.hashSequence[:])
	} else {
		sigHash.Write(zeroHash[:])
	}

	txIn := tx.TxIn[idx]

	// Next, write the outpoint being spent.
	wire.WriteOutPoint(&sigHash, &txIn.PreviousOutPoint)

	if isWitnessPubKeyHashScript(subScript) {
		// The script code for a p2wkh is a length prefix varint for
		// the next 25 bytes, followed by a re-creation of the original
		// p2pkh pk script.
		sigHash.Write([]byte{0x19})
		sigHash.Write([]byte{OP_DUP})
		sigHash.Write([]byte{OP_HASH160})
		sigHash.Write([]byte{OP_DATA_20})
		sigHash.Write(extractWitnessPubKeyHash(subScript))
		sigHash.Write([]byte{OP_EQUALVERIFY})
		sigHash.Write([]byte{OP_CHECKSIG})
	} else {
		// For p2wsh outputs, and future outputs, the script code is
		// the original script, with all code separators removed,
		// serialized with a var int length prefix.
		wire.WriteVarBytes(&sigHash, subScript)
	}

	// Next, add the input amount, and sequence number of the input being
	// signed.
	var bAmount [8]byte
	binary.LittleEndian.PutUint64(bAmount[:], amt)
	sigHash.Write(bAmount[:])
	var bSequence [4]byte
	binary.LittleEndian.PutUint32(bSequence[:], uint32(txIn.Sequence))
	sigHash.Write(bSequence[:])

	// If the current signature mode isn't single, or none, then we can
	// re-use the pre-generated hashoutputs sighash fragment. Otherwise,
	// we'll serialize and add only the target output index to the signature
	// pre-image.
	if hashType&sigHashMask != SigHashSingle &&
		hashType&sigHashMask != SigHashNone {

		sigHash.Write(midstate.hashOutputs[:])
	} else if hashType&sigHashMask == SigHashSingle && idx < len(tx.TxOut) {
		var b bytes.Buffer
		wire.WriteTxOut(&b, tx.TxOut[idx])
		sigHash.Write(crypto.DoubleSha256(b.Bytes()))
	} else {
		sigHash.Write(zeroHash[:])
	}

	// Finally, write out the transaction's locktime, and the sig hash
	// type.
	var bLockTime [4]byte
	binary.LittleEndian.PutUint32(bLockTime[:], uint32(tx.LockTime))
	sigHash.Write(bLockTime[:])
	var bHashType [4]byte
	binary.LittleEndian.PutUint32(bHashType[:], uint32(hashType))
	sigHash.Write(bHashType[:])

	return crypto.DoubleSha256(sigHash.Bytes()), nil
}

// sigHashExtFlag represents the sig hash extension flag as defined in BIP
// 341. Extensions to the base sighash algorithm will be appended to the base
// sighash digest.
type sigHashExtFlag uint8

const (
	// baseSigHashExtFlag is the base extension flag. This adds no
	// extensions to the sighash digest message. This is used for top-level
	// taproot keyspend spends.
	baseSigHashExtFlag sigHashExtFlag = 0

	// tapscriptSighashExtFlag is the extension flag defined by tapscript
	// base leaf version spend define din BIP 342. This augments the base
	// sighash by including the tapscript leaf hash, the key version, and
	// the code separator position.
	tapscriptSighashExtFlag sigHashExtFlag = 1
)

// taprootSigHashOptions houses a set of functional options that may optionally
// modify how the taproot/script-path sighash digest algorithm is implemented.
type taprootSigHashOptions struct {
	// extFlag denotes the current message digest extension being used. For
	// top-level script spends use a value of zero, while each tapscript
	// version can define its own values as well.
	extFlag sigHashExtFlag

	// annexHash is the sha256 hash of the annex with a compact size length
	// prefix: sha256(sizeOf(annex) || annex).
	annexHash []byte

	// tapLeafHash is the hash of the tapscript leaf as defined in BIP 341.
	// This should be h_tapleaf(version || compactSizeOf(script) || script).
	tapLeafHash []byte

	// keyVersion is the key version as defined in BIP 341. This is always
	// 0x00 for all currently defined leaf versions.
	keyVersion byte

	// codeSepPos is the op code position of the last code separator. This
	// is used for the BIP 342 sighash message extension.
	codeSepPos uint32
}

// writeDigestExtensions writes out the sighash message extension defined by the
// current active sigHashExtFlags.
func (t *taprootSigHashOptions) writeDigestExtensions(w *bytes.Buffer) {
	switch t.extFlag {
	// The base extension, used for tapscript keypath spends doesn't modify
	// the digest at all.
	case baseSigHashExtFlag:
		return

	// The tapscript base leaf version extension adds the leaf hash, key
	// version, and code separator position to the final digest.
	case tapscriptSighashExtFlag:
		w.Write(t.tapLeafHash)
		w.WriteByte(t.keyVersion)
		binary.Write(w, binary.LittleEndian, t.codeSepPos)
	}
}

// defaultTaprootSighashOptions returns the set of default sighash options for
// taproot execution.
func defaultTaprootSighashOptions() *taprootSigHashOptions {
	return &taprootSigHashOptions{}
}

// TaprootSigHashOption defines a set of functional param options that can be
// used to modify the base sighash message with optional extensions.
type TaprootSigHashOption func(*taprootSigHashOptions)

// WithAnnex is a functional option that allows the caller to specify the
// existence of an annex in the final witness stack for the taproot/tapscript
// spends.
func WithAnnex(annex []byte) TaprootSigHashOption {
	return func(o *taprootSigHashOptions) {
		// It's just a bytes.Buffer which never returns an error on
		// write.
		var b bytes.Buffer
		_ = wire.WriteVarBytes(&b, annex)

		o.annexHash = crypto.Sha256(b.Bytes())
	}
}

// WithBaseTapscriptVersion is a functional option that specifies that the
// sighash digest should include the extra information included as part of the
// base tapscript version.
func WithBaseTapscriptVersion(codeSepPos uint32,
	tapLeafHash []byte) TaprootSigHashOption {

	return func(o *taprootSigHashOptions) {
		o.extFlag = tapscriptSighashExtFlag
		o.tapLeafHash = tapLeafHash
		o.keyVersion = 0
		o.codeSepPos = codeSepPos
	}
}

// calcTaprootSignatureHashRaw computes the sighash as specified in BIP 143.
// If an invalid sighash type is passed in, an error is returned.
func calcTaprootSignatureHashRaw(sigHashes *SighashCache, hType SigHashType,
	tx *wire.Transaction, idx int,
	prevOutFetcher PrevOutputFetcher,
	sigHashOpts ...TaprootSigHashOption) ([]byte, error) {

	opts := defaultTaprootSighashOptions()
	for _, sigHashOpt := range sigHashOpts {
		sigHashOpt(opts)
	}

	// If a valid sighash type isn't passed in, then we'll exit early.
	if !isValidTaprootSigHash(hType) {
		str := fmt.Sprintf("invalid taproot sighash type: %v", hType)
		return nil, scriptError(ErrInvalidSigHashType, str)
	}

	// As a sanity check, ensure the passed input index for the transaction
	// is valid.
	if idx < 0 || idx > len(tx.TxIn)-1 {
		str := fmt.Sprintf("idx %d but %d txins", idx, len(tx.TxIn))
		return nil, scriptError(ErrInvalidIndex, str)
	}

	if sigHashes == nil {
		sigHashes = NewSighashCache(tx, prevOutFetcher)
	}
	midstate, err := sigHashes.taproot()
	if err != nil {
		return nil, err
	}

	// We'll utilize this buffer throughout to incrementally calculate
	// the signature hash for this transaction.
	var sigMsg bytes.Buffer

	// The final sighash always has a value of 0x00 prepended to it, which
	// is called the sighash epoch.
	sigMsg.WriteByte(0x00)

	// First, we write the hash type encoded as a single byte.
	if err := sigMsg.WriteByte(byte(hType)); err != nil {
		return nil, err
	}

	// Next we'll write out the transaction specific data which binds the
	// outer context of the sighash.
	err = binary.Write(&sigMsg, binary.LittleEndian, tx.Version)
	if err != nil {
		return nil, err
	}
	err = binary.Write(&sigMsg, binary.LittleEndian, uint32(tx.LockTime))
	if err != nil {
		return nil, err
	}

	// If sighash isn't anyone can pay, then we'll include all the
	// pre-computed midstate digests in the sighash.
	if hType&SigHashAnyOneCanPay != SigHashAnyOneCanPay {
		sigMsg.Write(midstate.hashPrevOuts[:])
		sigMsg.Write(midstate.hashInputAmounts[:])
		sigMsg.Write(midstate.hashInputScripts[:])
		sigMsg.Write(midstate.hashSequence[:])
	}

	// If this is sighash all, or its taproot alias (sighash default),
	// then we'll also include the pre-computed digest of all the outputs
	// of the transaction.
	if hType&taprootSigHashMask != SigHashSingle &&
		hType&taprootSigHashMask != SigHashNone {

		sigMsg.Write(midstate.hashOutputs[:])
	}

	// Next, we'll write out the relevant information for this specific
	// input.
	//
	// The spend type is computed as the (ext_flag*2) + annex_present. We
	// use this to bind the extension flag (that BIP 342 uses), as well as
	// the annex if its present.
	input := tx.TxIn[idx]
	witnessHasAnnex := opts.annexHash != nil
	spendType := byte(opts.extFlag) * 2
	if witnessHasAnnex {
		spendType += 1
	}

	if err := sigMsg.WriteByte(spendType); err != nil {
		return nil, err
	}

	// If anyone can pay is active, then we'll write out just the specific
	// information about this input, given we skipped writing all the
	// information of all the inputs above.
	if hType&SigHashAnyOneCanPay == SigHashAnyOneCanPay {
		// We'll start out with writing this input specific information by
		// first writing the entire previous output.
		err = wire.WriteOutPoint(&sigMsg, &input.PreviousOutPoint)
		if err != nil {
			return nil, err
		}

		// Next, we'll write out the previous output (amt+script) being
		// spent itself.
		prevOut := prevOutFetcher.FetchPrevOutput(input.PreviousOutPoint)
		if prevOut == nil {
			str := fmt.Sprintf("previous output %v is unknown",
				input.PreviousOutPoint)
			return nil, scriptError(ErrInvalidIndex, str)
		}
		if err := wire.WriteTxOut(&sigMsg, prevOut); err != nil {
			return nil, err
		}

		// Finally, we'll write out the input sequence itself.
		err = binary.Write(&sigMsg, binary.LittleEndian, uint32(input.Sequence))
		if err != nil {
			return nil, err
		}
	} else {
		err := binary.Write(&sigMsg, binary.LittleEndian, uint32(idx))
		if err != nil {
			return nil, err
		}
	}

	// Now that we have the input specific information written, we'll
	// include the anex, if we have it.
	if witnessHasAnnex {
		sigMsg.Write(opts.annexHash)
	}

	// Finally, if this is sighash single, then we'll write out the
	// information for this given output.
	if hType&taprootSigHashMask == SigHashSingle {
		// If this output doesn't exist, then we'll return with an error
		// here as this is an invalid sighash type for this input.
		if idx >= len(tx.TxOut) {
			str := fmt.Sprintf("invalid sighash type for input %v", idx)
			return nil, scriptError(ErrInvalidSigHashType, str)
		}

		// Now that we know this is a valid sighash input combination,
		// we'll write out the information specific to this input.
		// We'll write the wire serialization of the output and compute
		// the sha256 in a single step.
		shaWriter := new(bytes.Buffer)
		txOut := tx.TxOut[idx]
		if err := wire.WriteTxOut(shaWriter, txOut); err != nil {
			return nil, err
		}

		// With the output written, we'll now write out the serialized
		// hash of this output.
		sigMsg.Write(crypto.Sha256(shaWriter.Bytes()))
	}

	// Now that we've written out all the base information, we'll write any
	// message extensions (if they exist).
	opts.writeDigestExtensions(&sigMsg)

	// The final sighash is computed as: hash_TagSigHash(0x00 || sigMsg).
	// We wrote the 0x00 above so we don't need to append here and incur
	// extra allocations.
	sigHash := crypto.TaggedHash(crypto.TagTapSighash, sigMsg.Bytes())
	return sigHash[:], nil
}

// CalcTaprootSignatureHash computes the sighash digest of a transaction's
// taproot-spending input using the new sighash digest algorithm described in
// BIP 341. As the new digest algoriths may require the digest to commit to the
// entire prev output, a PrevOutputFetcher argument is required to obtain the
// needed information. The SighashCache pre-computed sighash midstate MUST be
// specified.
func CalcTaprootSignatureHash(sigHashes *SighashCache, hType SigHashType,
	tx *wire.Transaction, inputIndex int,
	prevOutFetcher PrevOutputFetcher,
	opts ...TaprootSigHashOption) ([]byte, error) {

	return calcTaprootSignatureHashRaw(
		sigHashes, hType, tx, inputIndex, prevOutFetcher, opts...,
	)
}

// CalcTapscriptSignaturehash computes the sighash digest of a transaction's
// taproot-spending input using the new sighash digest algorithm described in
// BIP 341 extended by BIP 342 for a tapscript spend of the given leaf.
func CalcTapscriptSignaturehash(sigHashes *SighashCache, hType SigHashType,
	tx *wire.Transaction, inputIndex int, prevOutFetcher PrevOutputFetcher,
	tapLeaf TapLeaf, opts ...TaprootSigHashOption) ([]byte, error) {

	tapLeafHash := tapLeaf.TapHash()

	// The code separator position is blank unless the caller passed one.
	sigHashOpts := append([]TaprootSigHashOption{
		WithBaseTapscriptVersion(blankCodeSepValue, tapLeafHash[:]),
	}, opts...)

	return calcTaprootSignatureHashRaw(
		sigHashes, hType, tx, inputIndex, prevOutFetcher,
		sigHashOpts...,
	)
}
