package wire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// TxVersion is the current latest supported transaction version.
	TxVersion = 2

	// MaxPrevOutIndex is the maximum index the index field of a previous
	// outpoint can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// TxFlagMarker is the first byte of the FLAG field in a bitcoin tx
	// message. It allows decoders to distinguish a regular serialized
	// transaction from one that would require a different parsing logic.
	TxFlagMarker = 0x00

	// WitnessFlag is a flag specific to witness encoding. If the TxFlagMarker
	// is encountered followed by the WitnessFlag, then it indicates a
	// transaction has witness data.
	WitnessFlag = 0x01

	// MaxScriptSize is the largest script a transaction input or output
	// may declare while being decoded.
	MaxScriptSize = 1000000

	// MaxWitnessItemSize is the maximum allowed size for an item within an
	// input's witness data.
	MaxWitnessItemSize = 4000000

	// maxWitnessItemsPerInput is the maximum number of witness items to be
	// read for the witness data for a single input.
	maxWitnessItemsPerInput = 4000000

	// minTxInPayload is the minimum payload size for a transaction input.
	// PreviousOutPoint.Hash + PreviousOutPoint.Index 4 bytes + Varint for
	// SignatureScript length 1 byte + Sequence 4 bytes.
	minTxInPayload = 9 + chainhash.HashSize

	// minTxOutPayload is the minimum payload size for a transaction output.
	// Value 8 bytes + Varint for PkScript length 1 byte.
	minTxOutPayload = 9

	// maxTxInPerMessage is the maximum number of transaction inputs that
	// a transaction which fits into a message could possibly have.
	maxTxInPerMessage = (MaxMessagePayload / minTxInPayload) + 1

	// maxTxOutPerMessage is the maximum number of transaction outputs that
	// a transaction which fits into a message could possibly have.
	maxTxOutPerMessage = (MaxMessagePayload / minTxOutPayload) + 1
)

// OutPoint defines a bitcoin data type that is used to track previous
// transaction outputs.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new bitcoin transaction outpoint point with the
// provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// String returns the OutPoint in the human-readable form "hash:index". The
// hash is displayed byte-reversed as is customary.
func (o OutPoint) String() string {
	return o.Hash.String() + ":" + strconv.FormatUint(uint64(o.Index), 10)
}

// TxWitness defines the witness for a TxIn. A witness is to be interpreted
// as a slice of byte slices, or a stack with one or many elements.
type TxWitness [][]byte

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input's witness.
func (t TxWitness) SerializeSize() int {
	n := VarIntSerializeSize(uint64(len(t)))
	for _, item := range t {
		n += VarBytesSerializeSize(item)
	}
	return n
}

// Bytes returns the length-prefixed encoding of the witness stack.
func (t TxWitness) Bytes() []byte {
	b := make([]byte, 0, t.SerializeSize())
	b = AppendVarInt(b, uint64(len(t)))
	for _, item := range t {
		b = AppendVarBytes(b, item)
	}
	return b
}

// TxIn defines a bitcoin transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          TxWitness
	Sequence         Sequence
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input, excluding its witness.
func (t *TxIn) SerializeSize() int {
	// Outpoint Hash 32 bytes + Outpoint Index 4 bytes + Sequence 4 bytes +
	// serialized varint size for the length of SignatureScript +
	// SignatureScript bytes.
	return 40 + VarBytesSerializeSize(t.SignatureScript)
}

// NewTxIn returns a new bitcoin transaction input with the provided
// previous outpoint and signature script with a default sequence of
// MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte, witness TxWitness) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Witness:          witness,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a bitcoin transaction output.
type TxOut struct {
	Value    uint64
	PkScript []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction output.
func (t *TxOut) SerializeSize() int {
	// Value 8 bytes + serialized varint size for the length of PkScript +
	// PkScript bytes.
	return 8 + VarBytesSerializeSize(t.PkScript)
}

// NewTxOut returns a new bitcoin transaction output with the provided
// transaction value and public key script.
func NewTxOut(value uint64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// Transaction implements the bitcoin transaction. It is used to deliver
// transaction information to and from the script engine and signers.
type Transaction struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime LockTime
}

// NewTransaction returns a new bitcoin transaction with the given version
// and no inputs or outputs.
func NewTransaction(version int32) *Transaction {
	return &Transaction{
		Version: version,
		TxIn:    make([]*TxIn, 0, 1),
		TxOut:   make([]*TxOut, 0, 1),
	}
}

// NewTransactionFromHex decodes a hex encoded transaction.
func NewTransactionFromHex(s string) (*Transaction, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, messageError("NewTransactionFromHex",
			ErrMalformedEncoding, err.Error())
	}

	tx := &Transaction{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// AddTxIn adds a transaction input to the transaction.
func (msg *Transaction) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the transaction.
func (msg *Transaction) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// TxHash generates the hash for the transaction without witness data.
func (msg *Transaction) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(msg.serialize(false))
}

// WitnessHash generates the hash of the transaction serialized according to
// the new witness serialization defined in BIP0141 and BIP0144. The final
// output is used within the Segregated Witness commitment of all the
// witnesses within a block. If a transaction has no witness data, then the
// witness hash, is the same as its txid.
func (msg *Transaction) WitnessHash() chainhash.Hash {
	if msg.HasWitness() {
		return chainhash.DoubleHashH(msg.serialize(true))
	}
	return msg.TxHash()
}

// HasWitness returns false if none of the inputs within the transaction
// contain witness data, true false otherwise.
func (msg *Transaction) HasWitness() bool {
	for _, txIn := range msg.TxIn {
		if len(txIn.Witness) != 0 {
			return true
		}
	}
	return false
}

// IsCoinBase determines whether or not the transaction is a coinbase. A
// coinbase has a single input whose previous outpoint has a zero hash and
// the maximum index.
func (msg *Transaction) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}

	prevOut := &msg.TxIn[0].PreviousOutPoint
	return prevOut.Index == MaxPrevOutIndex && prevOut.Hash == chainhash.Hash{}
}

// Copy creates a deep copy of a transaction so that the original does not
// get modified when the copy is manipulated.
func (msg *Transaction) Copy() *Transaction {
	newTx := Transaction{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	for _, oldTxIn := range msg.TxIn {
		newTxIn := TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  cloneBytes(oldTxIn.SignatureScript),
			Sequence:         oldTxIn.Sequence,
		}

		if len(oldTxIn.Witness) != 0 {
			newTxIn.Witness = make(TxWitness, len(oldTxIn.Witness))
			for i, item := range oldTxIn.Witness {
				newTxIn.Witness[i] = cloneBytes(item)
			}
		}

		newTx.TxIn = append(newTx.TxIn, &newTxIn)
	}

	for _, oldTxOut := range msg.TxOut {
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    oldTxOut.Value,
			PkScript: cloneBytes(oldTxOut.PkScript),
		})
	}

	return &newTx
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Deserialize decodes a transaction from r into the receiver. Both the
// legacy and the BIP0144 witness encodings are accepted.
func (msg *Transaction) Deserialize(r io.Reader) error {
	const fn = "Transaction.Deserialize"

	version, err := readUint32(r, fn)
	if err != nil {
		return err
	}
	msg.Version = int32(version)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	// A count of zero (meaning no TxIn's to the uninitiated) means that the
	// value is a TxFlagMarker, and hence indicates the presence of a flag.
	var flag [1]byte
	if count == TxFlagMarker {
		if err := readFull(r, fn, flag[:]); err != nil {
			return err
		}

		// At the moment, the flag MUST be WitnessFlag (0x01). In the future
		// other flag types may be supported.
		if flag[0] != WitnessFlag {
			str := fmt.Sprintf("witness tx but flag byte is %x", flag)
			return messageError(fn, ErrMalformedEncoding, str)
		}

		// With the Segregated Witness specific fields decoded, we can
		// now read in the actual txin count.
		count, err = ReadVarInt(r)
		if err != nil {
			return err
		}
	}

	// Prevent more input transactions than could possibly fit into a
	// message. It would be possible to cause memory exhaustion and panics
	// without a sane upper bound on this count.
	if count > uint64(maxTxInPerMessage) {
		str := fmt.Sprintf("too many input transactions to fit into "+
			"max message size [count %d, max %d]", count,
			maxTxInPerMessage)
		return messageError(fn, ErrOverLimit, str)
	}

	txIns := make([]TxIn, count)
	msg.TxIn = make([]*TxIn, count)
	for i := uint64(0); i < count; i++ {
		ti := &txIns[i]
		msg.TxIn[i] = ti
		if err := readTxIn(r, ti); err != nil {
			return err
		}
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}

	if count > uint64(maxTxOutPerMessage) {
		str := fmt.Sprintf("too many output transactions to fit into "+
			"max message size [count %d, max %d]", count,
			maxTxOutPerMessage)
		return messageError(fn, ErrOverLimit, str)
	}

	txOuts := make([]TxOut, count)
	msg.TxOut = make([]*TxOut, count)
	for i := uint64(0); i < count; i++ {
		to := &txOuts[i]
		msg.TxOut[i] = to
		if err := readTxOut(r, to); err != nil {
			return err
		}
	}

	// If the transaction's flag byte isn't 0x00 at this point, then one
	// or more of its inputs has accompanying witness data.
	if flag[0] != 0 {
		for _, txin := range msg.TxIn {
			witCount, err := ReadVarInt(r)
			if err != nil {
				return err
			}

			if witCount > maxWitnessItemsPerInput {
				str := fmt.Sprintf("too many witness items to fit "+
					"into max message size [count %d, max %d]",
					witCount, maxWitnessItemsPerInput)
				return messageError(fn, ErrOverLimit, str)
			}

			if witCount == 0 {
				continue
			}

			txin.Witness = make(TxWitness, witCount)
			for j := uint64(0); j < witCount; j++ {
				txin.Witness[j], err = ReadVarBytes(
					r, MaxWitnessItemSize, "script witness item",
				)
				if err != nil {
					return err
				}
			}
		}

		// A marker and flag followed by nothing but empty witnesses
		// does not round trip, so it is rejected.
		if !msg.HasWitness() {
			return messageError(fn, ErrMalformedEncoding,
				"superfluous witness record")
		}
	}

	lockTime, err := readUint32(r, fn)
	if err != nil {
		return err
	}
	msg.LockTime = LockTime(lockTime)

	return nil
}

// FromBytes decodes b and rejects trailing bytes after the lock time.
func (msg *Transaction) FromBytes(b []byte) error {
	r := bytes.NewReader(b)
	if err := msg.Deserialize(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after transaction", r.Len())
		return messageError("Transaction.FromBytes", ErrMalformedEncoding, str)
	}
	return nil
}

// Serialize encodes the transaction to w. The witness encoding is used
// whenever any input carries witness data.
func (msg *Transaction) Serialize(w io.Writer) error {
	_, err := w.Write(msg.serialize(msg.HasWitness()))
	return err
}

// SerializeNoWitness encodes the transaction to w in the legacy format
// regardless of any witness data.
func (msg *Transaction) SerializeNoWitness(w io.Writer) error {
	_, err := w.Write(msg.serialize(false))
	return err
}

// Bytes returns the canonical serialization of the transaction.
func (msg *Transaction) Bytes() []byte {
	return msg.serialize(msg.HasWitness())
}

// Hex returns the canonical serialization as a lowercase hex string.
func (msg *Transaction) Hex() string {
	return hex.EncodeToString(msg.Bytes())
}

func (msg *Transaction) serialize(witness bool) []byte {
	size := msg.SerializeSizeStripped()
	if witness {
		size = msg.SerializeSize()
	}

	b := make([]byte, 0, size)
	b = littleEndian.AppendUint32(b, uint32(msg.Version))

	if witness {
		b = append(b, TxFlagMarker, WitnessFlag)
	}

	b = AppendVarInt(b, uint64(len(msg.TxIn)))
	for _, ti := range msg.TxIn {
		b = appendTxIn(b, ti)
	}

	b = AppendVarInt(b, uint64(len(msg.TxOut)))
	for _, to := range msg.TxOut {
		b = appendTxOut(b, to)
	}

	if witness {
		for _, ti := range msg.TxIn {
			b = append(b, ti.Witness.Bytes()...)
		}
	}

	return littleEndian.AppendUint32(b, uint32(msg.LockTime))
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction.
func (msg *Transaction) SerializeSize() int {
	n := msg.SerializeSizeStripped()

	if msg.HasWitness() {
		// The marker, and flag fields take up two additional bytes.
		n += 2

		// Additionally, factor in the serialized size of each of the
		// witnesses for each txin.
		for _, txIn := range msg.TxIn {
			n += txIn.Witness.SerializeSize()
		}
	}

	return n
}

// SerializeSizeStripped returns the number of bytes it would take to
// serialize the transaction, excluding any included witness data.
func (msg *Transaction) SerializeSizeStripped() int {
	// Version 4 bytes + LockTime 4 bytes + Serialized varint size for the
	// number of transaction inputs and outputs.
	n := 8 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut)))

	for _, txIn := range msg.TxIn {
		n += txIn.SerializeSize()
	}

	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize()
	}

	return n
}

// Weight returns the BIP0141 weight of the transaction.
func (msg *Transaction) Weight() int {
	return msg.SerializeSizeStripped()*3 + msg.SerializeSize()
}

// VirtualSize returns the weight divided by four, rounded up.
func (msg *Transaction) VirtualSize() int {
	return (msg.Weight() + 3) / 4
}

// readOutPoint reads the next sequence of bytes from r as an OutPoint.
func readOutPoint(r io.Reader, op *OutPoint) error {
	const fn = "readOutPoint"

	if err := readFull(r, fn, op.Hash[:]); err != nil {
		return err
	}

	var err error
	op.Index, err = readUint32(r, fn)
	return err
}

// appendOutPoint appends the wire encoding of op to b.
func appendOutPoint(b []byte, op *OutPoint) []byte {
	b = append(b, op.Hash[:]...)
	return littleEndian.AppendUint32(b, op.Index)
}

// WriteOutPoint encodes op to w.
func WriteOutPoint(w io.Writer, op *OutPoint) error {
	_, err := w.Write(appendOutPoint(nil, op))
	return err
}

// readTxIn reads the next sequence of bytes from r as a transaction input
// (TxIn).
func readTxIn(r io.Reader, ti *TxIn) error {
	err := readOutPoint(r, &ti.PreviousOutPoint)
	if err != nil {
		return err
	}

	ti.SignatureScript, err = ReadVarBytes(
		r, MaxScriptSize, "transaction input signature script",
	)
	if err != nil {
		return err
	}

	seq, err := readUint32(r, "readTxIn")
	if err != nil {
		return err
	}
	ti.Sequence = Sequence(seq)

	return nil
}

func appendTxIn(b []byte, ti *TxIn) []byte {
	b = appendOutPoint(b, &ti.PreviousOutPoint)
	b = AppendVarBytes(b, ti.SignatureScript)
	return littleEndian.AppendUint32(b, uint32(ti.Sequence))
}

// readTxOut reads the next sequence of bytes from r as a transaction output
// (TxOut).
func readTxOut(r io.Reader, to *TxOut) error {
	var err error
	to.Value, err = readUint64(r, "readTxOut")
	if err != nil {
		return err
	}

	to.PkScript, err = ReadVarBytes(
		r, MaxScriptSize, "transaction output public key script",
	)
	return err
}

func appendTxOut(b []byte, to *TxOut) []byte {
	b = littleEndian.AppendUint64(b, to.Value)
	return AppendVarBytes(b, to.PkScript)
}

// WriteTxOut encodes to into the bitcoin protocol encoding for a
// transaction output (TxOut) to w.
func WriteTxOut(w io.Writer, to *TxOut) error {
	_, err := w.Write(appendTxOut(nil, to))
	return err
}
