package script

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

const (
	// TaprootAnnexTag is the tag for an annex. This value is used to
	// identify the annex during tapscript spends. If there're at least two
	// elements in the taproot witness stack, and the first byte of the
	// last element matches this tag, then we'll extract this as a distinct
	// item.
	TaprootAnnexTag = 0x50

	// TaprootLeafMask is the mask applied to a control block to extract the
	// leaf version and parity of the y-coordinate of the output key if the
	// taproot script leaf being spent.
	TaprootLeafMask = 0xfe
)

// These are the constants specified for maximums in individual scripts.
const (
	MaxOpsPerScript       = 201 // Max number of non-push operations.
	MaxPubKeysPerMultiSig = 20  // Multisig can't have more sigs than this.
	MaxScriptElementSize  = 520 // Max bytes pushable to the stack.
)

// ScriptVersion identifies the rule set a script is decoded and executed
// under.
type ScriptVersion uint8

const (
	// Legacy scripts are output scripts, signature scripts and P2SH
	// redeem scripts.
	Legacy ScriptVersion = iota

	// WitnessV0 scripts are P2WSH witness scripts and the implicit
	// P2WPKH script.
	WitnessV0

	// WitnessV1 scripts are BIP342 tapscripts.
	WitnessV1
)

// String returns the ScriptVersion as a human-readable name.
func (v ScriptVersion) String() string {
	switch v {
	case Legacy:
		return "legacy"
	case WitnessV0:
		return "witness_v0"
	case WitnessV1:
		return "witness_v1"
	}
	return fmt.Sprintf("Unknown ScriptVersion (%d)", uint8(v))
}

// IsValid returns whether the version is one of the known script versions.
func (v ScriptVersion) IsValid() bool {
	return v <= WitnessV1
}

// ParseScriptVersion returns the ScriptVersion matching one of the names
// produced by String.  "v0" and "v1" are accepted as short forms.
func ParseScriptVersion(name string) (ScriptVersion, error) {
	switch strings.ToLower(name) {
	case "legacy", "":
		return Legacy, nil
	case "witness_v0", "v0":
		return WitnessV0, nil
	case "witness_v1", "v1", "tapscript":
		return WitnessV1, nil
	}
	return 0, fmt.Errorf("unknown script version %q", name)
}

// Operation is a single decoded script element: an opcode and, for data
// pushes, the pushed bytes.
type Operation struct {
	Opcode byte
	Data   []byte
}

// Name returns the keyword of the operation under the given script version.
func (o Operation) Name(version ScriptVersion) string {
	return opcodeArray[o.Opcode].nameFor(version)
}

// IsPush returns whether the operation only places data on the stack.
// OP_RESERVED is counted as a push, matching the consensus definition of
// push-only scripts.
func (o Operation) IsPush() bool {
	return o.Opcode <= OP_16
}

// SmallInt returns the integer value of OP_0 and OP_1 through OP_16.
func (o Operation) SmallInt() (int, bool) {
	if !IsSmallInt(o.Opcode) {
		return 0, false
	}
	return AsSmallInt(o.Opcode), true
}

// SerializeSize returns the number of bytes the operation takes up once
// encoded.
func (o Operation) SerializeSize() int {
	op := &opcodeArray[o.Opcode]
	switch {
	case op.length > 0:
		return op.length
	default:
		return 1 + -op.length + len(o.Data)
	}
}

// appendTo encodes the operation onto buf, verifying the data length is the
// one the opcode declares.
func (o Operation) appendTo(buf []byte) ([]byte, error) {
	op := &opcodeArray[o.Opcode]
	switch {
	case op.length == 1:
		if len(o.Data) != 0 {
			str := fmt.Sprintf("opcode %s does not carry data, got %d "+
				"bytes", op.name, len(o.Data))
			return nil, scriptError(ErrMalformedPush, str)
		}
		return append(buf, o.Opcode), nil

	case op.length > 1:
		if len(o.Data) != op.length-1 {
			str := fmt.Sprintf("opcode %s requires %d bytes of data, "+
				"got %d", op.name, op.length-1, len(o.Data))
			return nil, scriptError(ErrMalformedPush, str)
		}
		buf = append(buf, o.Opcode)
		return append(buf, o.Data...), nil
	}

	var maxLen uint64
	switch op.length {
	case -1:
		maxLen = 0xff
	case -2:
		maxLen = 0xffff
	default:
		maxLen = 0xffffffff
	}
	if uint64(len(o.Data)) > maxLen {
		str := fmt.Sprintf("opcode %s can push at most %d bytes, got %d",
			op.name, maxLen, len(o.Data))
		return nil, scriptError(ErrMalformedPush, str)
	}

	buf = append(buf, o.Opcode)
	switch op.length {
	case -1:
		buf = append(buf, byte(len(o.Data)))
	case -2:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(o.Data)))
	default:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(o.Data)))
	}
	return append(buf, o.Data...), nil
}

// Script is a decoded script: its version and the ordered operations.
type Script struct {
	Version    ScriptVersion
	Operations []Operation
}

// ParseScript decodes raw script bytes under the given version.  Unassigned
// opcodes decode to an operation named OP_UNKNOWNx (OP_SUCCESSx in tapscript)
// rather than failing; only truncated pushes are rejected.
func ParseScript(version ScriptVersion, raw []byte) (*Script, error) {
	s := &Script{Version: version}
	tokenizer := MakeScriptTokenizer(version, raw)
	for tokenizer.Next() {
		s.Operations = append(s.Operations, Operation{
			Opcode: tokenizer.Opcode(),
			Data:   tokenizer.Data(),
		})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// Bytes encodes the script back to its raw form.
func (s *Script) Bytes() ([]byte, error) {
	size := 0
	for _, o := range s.Operations {
		size += o.SerializeSize()
	}

	buf := make([]byte, 0, size)
	for _, o := range s.Operations {
		var err error
		buf, err = o.appendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// String returns the one-line asm rendering of the script: keywords for
// opcodes and lowercase hex for pushed data.
func (s *Script) String() string {
	var buf strings.Builder
	for i, o := range s.Operations {
		if i > 0 {
			buf.WriteByte(' ')
		}
		disasmOpcode(&buf, &opcodeArray[o.Opcode], o.Data, s.Version, true)
	}
	return buf.String()
}

// IsSmallInt returns whether or not the opcode is considered a small integer,
// which is an OP_0, or OP_1 through OP_16.
func IsSmallInt(op byte) bool {
	return op == OP_0 || (op >= OP_1 && op <= OP_16)
}

// AsSmallInt returns the passed opcode, which must be true according to
// IsSmallInt(), as an integer.
func AsSmallInt(op byte) int {
	if op == OP_0 {
		return 0
	}

	return int(op - (OP_1 - 1))
}

// IsPushOnlyScript returns whether or not the passed script only pushes data
// according to the consensus definition of pushing data.
func IsPushOnlyScript(script []byte) bool {
	tokenizer := MakeScriptTokenizer(Legacy, script)
	for tokenizer.Next() {
		// All opcodes up to OP_16 are data push instructions.
		// NOTE: This does consider OP_RESERVED to be a data push instruction,
		// but execution of OP_RESERVED will fail anyway and matches the
		// behavior required by consensus.
		if tokenizer.Opcode() > OP_16 {
			return false
		}
	}
	return tokenizer.Err() == nil
}

// DisasmString formats a disassembled legacy script for one line printing.
// When the script fails to parse, the returned string will contain the
// disassembled script up to the point the failure occurred along with the
// string '[error]' appended.  In addition, the reason the script failed to
// parse is returned if the caller wants more information about the failure.
func DisasmString(script []byte) (string, error) {
	return DisasmVersionString(Legacy, script)
}

// DisasmVersionString is DisasmString for an explicit script version, so
// tapscripts render their OP_SUCCESSx opcodes by name.
func DisasmVersionString(version ScriptVersion, script []byte) (string, error) {
	var disbuf strings.Builder
	tokenizer := MakeScriptTokenizer(version, script)
	if tokenizer.Next() {
		disasmOpcode(&disbuf, tokenizer.op, tokenizer.Data(), version, true)
	}
	for tokenizer.Next() {
		disbuf.WriteByte(' ')
		disasmOpcode(&disbuf, tokenizer.op, tokenizer.Data(), version, true)
	}
	if tokenizer.Err() != nil {
		if tokenizer.ByteIndex() != 0 {
			disbuf.WriteByte(' ')
		}
		disbuf.WriteString("[error]")
	}
	return disbuf.String(), tokenizer.Err()
}

// removeOpcodeRaw will return the script after removing any opcodes that match
// `opcode`. If the opcode does not appear in script, the original script will
// be returned unmodified. Otherwise, a new script will be allocated to contain
// the filtered script. This method assumes that the script parses
// successfully.
func removeOpcodeRaw(script []byte, opcode byte) []byte {
	// Avoid work when possible.
	if len(script) == 0 {
		return script
	}

	var result []byte
	var prevOffset int32

	tokenizer := MakeScriptTokenizer(Legacy, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() == opcode {
			if result == nil {
				result = make([]byte, 0, len(script))
				result = append(result, script[:prevOffset]...)
			}
		} else if result != nil {
			result = append(result, script[prevOffset:tokenizer.ByteIndex()]...)
		}
		prevOffset = tokenizer.ByteIndex()
	}
	if result == nil {
		return script
	}
	return result
}

// isCanonicalPush returns true if the opcode is either not a push instruction
// or the data associated with the push instruction uses the smallest
// instruction to do the job.  False otherwise.
//
// For example, it is possible to push a value of 1 to the stack as "OP_1",
// "OP_DATA_1 0x01", "OP_PUSHDATA1 0x01 0x01", and others, however, the first
// only takes a single byte, while the rest take more.  Only the first is
// considered canonical.
func isCanonicalPush(opcode byte, data []byte) bool {
	dataLen := len(data)
	if opcode > OP_16 {
		return true
	}

	if opcode < OP_PUSHDATA1 && opcode > OP_0 && (dataLen == 1 && data[0] <= 16) {
		return false
	}
	if opcode == OP_PUSHDATA1 && dataLen < OP_PUSHDATA1 {
		return false
	}
	if opcode == OP_PUSHDATA2 && dataLen <= 0xff {
		return false
	}
	if opcode == OP_PUSHDATA4 && dataLen <= 0xffff {
		return false
	}
	return true
}

// removeOpcodeByData will return the script minus any opcodes that perform a
// canonical push of data that contains the passed data to remove.  This
// function assumes it is provided a version 0 script as any future version of
// script should avoid this functionality since it is unnecessary due to the
// signature scripts not being part of the witness-free transaction hash.
//
// WARNING: This will return the passed script unmodified unless a modification
// is necessary in which case the modified script is returned.  This implies
// callers may NOT rely on being able to safely mutate either the passed or
// returned script without potentially modifying the same data.
//
// NOTE: This function is only valid for version 0 scripts.  Since the function
// does not accept a script version, the results are undefined for other script
// versions.
func removeOpcodeByData(script []byte, dataToRemove []byte) []byte {
	// Avoid work when possible.
	if len(script) == 0 || len(dataToRemove) == 0 {
		return script
	}

	// Parse through the script looking for a canonical data push that contains
	// the data to remove.
	var result []byte
	var prevOffset int32
	tokenizer := MakeScriptTokenizer(Legacy, script)
	for tokenizer.Next() {
		// In practice, the script will basically never actually contain the
		// data since this function is only used during signature verification
		// to remove the signature itself which would require some incredibly
		// non-standard code to create.
		//
		// Thus, as an optimization, avoid allocating a new script unless there
		// is actually a match that needs to be removed.
		op, data := tokenizer.Opcode(), tokenizer.Data()
		if isCanonicalPush(op, data) && bytes.Contains(data, dataToRemove) {
			if result == nil {
				fullPushLen := tokenizer.ByteIndex() - prevOffset
				result = make([]byte, 0, int32(len(script))-fullPushLen)
				result = append(result, script[0:prevOffset]...)
			}
		} else if result != nil {
			result = append(result, script[prevOffset:tokenizer.ByteIndex()]...)
		}

		prevOffset = tokenizer.ByteIndex()
	}
	if result == nil {
		result = script
	}
	return result
}

// countSigOpsV0 returns the number of signature operations in the provided
// script up to the point of the first parse failure or the entire script when
// there are no parse failures.  The precise flag attempts to accurately count
// the number of operations for a multisig operation versus using the maximum
// allowed.
func countSigOpsV0(script []byte, precise bool) int {
	numSigOps := 0
	tokenizer := MakeScriptTokenizer(Legacy, script)
	prevOp := byte(OP_INVALIDOPCODE)
	for tokenizer.Next() {
		switch tokenizer.Opcode() {
		case OP_CHECKSIG, OP_CHECKSIGVERIFY:
			numSigOps++

		case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
			// Note that OP_0 is treated as the max number of sigops here in
			// precise mode despite it being a valid small integer in order
			// to highly discourage multisigs with zero pubkeys.
			if precise && prevOp >= OP_1 && prevOp <= OP_16 {
				numSigOps += AsSmallInt(prevOp)
			} else {
				numSigOps += MaxPubKeysPerMultiSig
			}

		default:
			// Not a sigop.
		}

		prevOp = tokenizer.Opcode()
	}

	return numSigOps
}

// GetSigOpCount provides a quick count of the number of signature operations
// in a script. a CHECKSIG operations counts for 1, and a CHECK_MULTISIG for 20.
// If the script fails to parse, then the count up to the point of failure is
// returned.
func GetSigOpCount(script []byte) int {
	return countSigOpsV0(script, false)
}

// finalOpcodeData returns the data associated with the final opcode in the
// script.  It will return nil if the script fails to parse.
func finalOpcodeData(script []byte) []byte {
	// Avoid unnecessary work.
	if len(script) == 0 {
		return nil
	}

	var data []byte
	tokenizer := MakeScriptTokenizer(Legacy, script)
	for tokenizer.Next() {
		data = tokenizer.Data()
	}
	if tokenizer.Err() != nil {
		return nil
	}
	return data
}

// GetPreciseSigOpCount returns the number of signature operations in
// scriptPubKey.  If the script is a pay-to-script-hash, the redeem script
// carried by scriptSig is counted instead, with multisig operations counted
// by their declared key count.
func GetPreciseSigOpCount(scriptSig, scriptPubKey []byte) int {
	// Treat non P2SH transactions as normal.  Note that signature operation
	// counting includes all operations up to the first parse failure.
	if !isScriptHashScript(scriptPubKey) {
		return countSigOpsV0(scriptPubKey, true)
	}

	// The signature script must only push data to the stack for P2SH to be
	// a valid pair, so the signature operation count is 0 when that is not
	// the case.
	if len(scriptSig) == 0 || !IsPushOnlyScript(scriptSig) {
		return 0
	}

	// The P2SH script is the last item the signature script pushes to the
	// stack.  When the script is empty, there are no signature operations.
	redeemScript := finalOpcodeData(scriptSig)
	if len(redeemScript) == 0 {
		return 0
	}

	return countSigOpsV0(redeemScript, true)
}

// GetWitnessSigOpCount returns the number of signature operations generated by
// spending the passed pkScript with the specified witness, or sigScript.
// Unlike GetPreciseSigOpCount, this function is able to accurately count the
// number of signature operations generated by spending witness programs, and
// nested p2sh witness programs.  Taproot spends count zero since tapscript
// uses its own budget.
func GetWitnessSigOpCount(sigScript, pkScript []byte, witness wire.TxWitness) int {
	// If this is a regular witness program, then we can proceed directly
	// to counting its signature operations without any further processing.
	if isWitnessProgramScript(pkScript) {
		return getWitnessSigOps(pkScript, witness)
	}

	// Next, we'll check the sigScript to see if this is a nested p2sh
	// witness program.  This is a case wherein the sigScript is actually a
	// datapush of a p2wsh witness program.
	if isScriptHashScript(pkScript) && IsPushOnlyScript(sigScript) &&
		len(sigScript) > 0 && isWitnessProgramScript(sigScript[1:]) {
		return getWitnessSigOps(sigScript[1:], witness)
	}

	return 0
}

// getWitnessSigOps returns the number of signature operations generated by
// spending the passed witness program wit the passed witness.
func getWitnessSigOps(pkScript []byte, witness wire.TxWitness) int {
	witnessVersion, witnessProgram, err := ExtractWitnessProgramInfo(pkScript)
	if err != nil {
		return 0
	}

	if witnessVersion == BaseSegwitWitnessVersion {
		switch {
		case len(witnessProgram) == payToWitnessPubKeyHashDataSize:
			return 1
		case len(witnessProgram) == payToWitnessScriptHashDataSize &&
			len(witness) > 0:

			witnessScript := witness[len(witness)-1]
			return countSigOpsV0(witnessScript, true)
		}
	}

	return 0
}

// checkScriptParses returns an error if the provided script fails to parse.
func checkScriptParses(version ScriptVersion, script []byte) error {
	tokenizer := MakeScriptTokenizer(version, script)
	for tokenizer.Next() {
		// Nothing to do.
	}
	return tokenizer.Err()
}

// IsUnspendable returns whether the passed public key script is unspendable, or
// guaranteed to fail at execution.  This allows outputs to be pruned instantly
// when entering the UTXO set.
func IsUnspendable(pkScript []byte) bool {
	// The script is unspendable if starts with OP_RETURN or is guaranteed
	// to fail at execution due to being larger than the max allowed script
	// size.
	switch {
	case len(pkScript) > 0 && pkScript[0] == OP_RETURN:
		return true
	case len(pkScript) > MaxScriptSize:
		return true
	}

	// The script is unspendable if it is guaranteed to fail at execution.
	return checkScriptParses(Legacy, pkScript) != nil
}

// ScriptHasOpSuccess returns true if any op codes in the script contain an
// OP_SUCCESS op code.  The scan stops at the first malformed push, so an
// OP_SUCCESS placed before trailing garbage still counts.
func ScriptHasOpSuccess(witnessScript []byte) bool {
	tokenizer := MakeScriptTokenizer(WitnessV1, witnessScript)
	for tokenizer.Next() {
		if IsOpSuccess(tokenizer.Opcode()) {
			return true
		}
	}

	return false
}
