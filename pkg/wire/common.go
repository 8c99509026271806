// Package wire implements the bitcoin transaction wire format: CompactSize
// integers, length prefixed byte strings and the segwit aware transaction
// encoding.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// MaxVarIntPayload is the maximum payload size for a variable length
	// integer.
	MaxVarIntPayload = 9

	// MaxMessagePayload bounds the amount of memory a single decode is
	// allowed to claim up front from declared lengths.
	MaxMessagePayload = 1024 * 1024 * 32
)

var littleEndian = binary.LittleEndian

// readFull fills b from r, reporting a short read as ErrTruncated.
func readFull(r io.Reader, fn string, b []byte) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			str := fmt.Sprintf("need %d bytes: %v", len(b), err)
			return messageError(fn, ErrTruncated, str)
		}
		return err
	}
	return nil
}

func readUint8(r io.Reader, fn string) (uint8, error) {
	var b [1]byte
	if err := readFull(r, fn, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readUint16(r io.Reader, fn string) (uint16, error) {
	var b [2]byte
	if err := readFull(r, fn, b[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader, fn string) (uint32, error) {
	var b [4]byte
	if err := readFull(r, fn, b[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader, fn string) (uint64, error) {
	var b [8]byte
	if err := readFull(r, fn, b[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint64(b[:]), nil
}

// checkCanonical rejects a varint that was encoded with a wider prefix
// than its value needs.
func checkCanonical(fn string, discriminant uint8, rv, min uint64) error {
	if rv < min {
		str := fmt.Sprintf("non-canonical varint %x - discriminant %x "+
			"must encode a value greater than %x", rv, discriminant, min)
		return messageError(fn, ErrMalformedEncoding, str)
	}
	return nil
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64.
func ReadVarInt(r io.Reader) (uint64, error) {
	const fn = "ReadVarInt"

	discriminant, err := readUint8(r, fn)
	if err != nil {
		return 0, err
	}

	var rv uint64
	switch discriminant {
	case 0xff:
		sv, err := readUint64(r, fn)
		if err != nil {
			return 0, err
		}
		rv = sv
		if err := checkCanonical(fn, discriminant, rv, 0x100000000); err != nil {
			return 0, err
		}

	case 0xfe:
		sv, err := readUint32(r, fn)
		if err != nil {
			return 0, err
		}
		rv = uint64(sv)
		if err := checkCanonical(fn, discriminant, rv, 0x10000); err != nil {
			return 0, err
		}

	case 0xfd:
		sv, err := readUint16(r, fn)
		if err != nil {
			return 0, err
		}
		rv = uint64(sv)
		if err := checkCanonical(fn, discriminant, rv, 0xfd); err != nil {
			return 0, err
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

// DecodeVarInt decodes a variable length integer from the front of b and
// returns the value along with the number of bytes consumed.
func DecodeVarInt(b []byte) (uint64, int, error) {
	const fn = "DecodeVarInt"

	if len(b) == 0 {
		return 0, 0, messageError(fn, ErrTruncated, "empty input")
	}

	var width int
	switch b[0] {
	case 0xff:
		width = 8
	case 0xfe:
		width = 4
	case 0xfd:
		width = 2
	default:
		return uint64(b[0]), 1, nil
	}

	if len(b) < 1+width {
		str := fmt.Sprintf("varint prefix %#x needs %d bytes, have %d",
			b[0], width, len(b)-1)
		return 0, 0, messageError(fn, ErrTruncated, str)
	}

	var rv, min uint64
	switch width {
	case 8:
		rv, min = littleEndian.Uint64(b[1:9]), 0x100000000
	case 4:
		rv, min = uint64(littleEndian.Uint32(b[1:5])), 0x10000
	case 2:
		rv, min = uint64(littleEndian.Uint16(b[1:3])), 0xfd
	}
	if err := checkCanonical(fn, b[0], rv, min); err != nil {
		return 0, 0, err
	}

	return rv, 1 + width, nil
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, val uint64) error {
	_, err := w.Write(AppendVarInt(nil, val))
	return err
}

// AppendVarInt appends the variable length encoding of val to dst.
func AppendVarInt(dst []byte, val uint64) []byte {
	switch {
	case val < 0xfd:
		return append(dst, uint8(val))

	case val <= math.MaxUint16:
		dst = append(dst, 0xfd)
		return littleEndian.AppendUint16(dst, uint16(val))

	case val <= math.MaxUint32:
		dst = append(dst, 0xfe)
		return littleEndian.AppendUint32(dst, uint32(val))

	default:
		dst = append(dst, 0xff)
		return littleEndian.AppendUint64(dst, val)
	}
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= math.MaxUint16:
		return 3
	case val <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}

// ReadVarBytes reads a variable length byte array. A byte array is encoded
// as a varint containing the length of the array followed by the bytes
// themselves. An error is returned if the length is greater than the passed
// maxAllowed parameter which helps protect against memory exhaustion
// attacks and forced panics through malformed messages. The fieldName
// parameter is only used for the error message so it provides more context
// in the error.
func ReadVarBytes(r io.Reader, maxAllowed uint32, fieldName string) ([]byte, error) {
	const fn = "ReadVarBytes"

	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	if count > uint64(maxAllowed) {
		str := fmt.Sprintf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllowed)
		return nil, messageError(fn, ErrOverLimit, str)
	}

	b := make([]byte, count)
	if err := readFull(r, fn, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeVarBytes decodes a length-prefixed byte string from the front of b
// and returns it along with the total number of bytes consumed.
func DecodeVarBytes(b []byte) ([]byte, int, error) {
	const fn = "DecodeVarBytes"

	count, n, err := DecodeVarInt(b)
	if err != nil {
		return nil, 0, err
	}

	if count > uint64(len(b)-n) {
		str := fmt.Sprintf("declared length %d exceeds remaining %d bytes",
			count, len(b)-n)
		return nil, 0, messageError(fn, ErrTruncated, str)
	}

	end := n + int(count)
	return b[n:end], end, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varint
// containing the number of bytes, followed by the bytes themselves.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	if err := WriteVarInt(w, uint64(len(bytes))); err != nil {
		return err
	}

	_, err := w.Write(bytes)
	return err
}

// AppendVarBytes appends the length-prefixed encoding of b to dst.
func AppendVarBytes(dst, b []byte) []byte {
	dst = AppendVarInt(dst, uint64(len(b)))
	return append(dst, b...)
}

// VarBytesSerializeSize returns the number of bytes it would take to
// serialize b as a length-prefixed byte string.
func VarBytesSerializeSize(b []byte) int {
	return VarIntSerializeSize(uint64(len(b))) + len(b)
}
