package wire

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarIntEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value uint64
		buf   []byte
	}{
		{0, []byte{0x00}},
		{0xfc, []byte{0xfc}},
		{0xfd, []byte{0xfd, 0xfd, 0x00}},
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		{0x100000000, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{0xffffffffffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%x", test.value), func(tt *testing.T) {
			encoded := AppendVarInt(nil, test.value)
			if !bytes.Equal(encoded, test.buf) {
				tt.Errorf("AppendVarInt: got %x, want %x", encoded, test.buf)
			}
			if VarIntSerializeSize(test.value) != len(test.buf) {
				tt.Errorf("VarIntSerializeSize: got %d, want %d",
					VarIntSerializeSize(test.value), len(test.buf))
			}

			// Trailing bytes must not be consumed.
			withTail := append(append([]byte{}, test.buf...), 0xaa, 0xbb)
			value, n, err := DecodeVarInt(withTail)
			if err != nil {
				tt.Fatalf("DecodeVarInt: %v", err)
			}
			if value != test.value || n != len(test.buf) {
				tt.Errorf("DecodeVarInt: got (%d, %d), want (%d, %d)",
					value, n, test.value, len(test.buf))
			}

			value, err = ReadVarInt(bytes.NewReader(test.buf))
			if err != nil {
				tt.Fatalf("ReadVarInt: %v", err)
			}
			if value != test.value {
				tt.Errorf("ReadVarInt: got %d, want %d", value, test.value)
			}
		})
	}
}

func TestVarIntErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  []byte
		code ErrorCode
	}{
		{"empty", nil, ErrTruncated},
		{"short 0xfd", []byte{0xfd, 0x01}, ErrTruncated},
		{"short 0xfe", []byte{0xfe, 0x01, 0x02, 0x03}, ErrTruncated},
		{"short 0xff", []byte{0xff, 0x01}, ErrTruncated},
		{"non-canonical 0xfd", []byte{0xfd, 0xfc, 0x00}, ErrMalformedEncoding},
		{"non-canonical 0xfe", []byte{0xfe, 0xff, 0xff, 0x00, 0x00}, ErrMalformedEncoding},
		{"non-canonical 0xff", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00}, ErrMalformedEncoding},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			_, _, err := DecodeVarInt(test.buf)
			if !IsErrorCode(err, test.code) {
				tt.Errorf("DecodeVarInt: got %v, want %v", err, test.code)
			}

			_, err = ReadVarInt(bytes.NewReader(test.buf))
			if !IsErrorCode(err, test.code) {
				tt.Errorf("ReadVarInt: got %v, want %v", err, test.code)
			}
		})
	}
}

func TestVarBytes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x5a}, 300)
	encoded := AppendVarBytes(nil, payload)
	require.Len(t, encoded, VarBytesSerializeSize(payload))
	require.Equal(t, []byte{0xfd, 0x2c, 0x01}, encoded[:3])

	decoded, n, err := DecodeVarBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, payload, decoded)

	var buf bytes.Buffer
	require.NoError(t, WriteVarBytes(&buf, payload))
	require.Equal(t, encoded, buf.Bytes())

	read, err := ReadVarBytes(bytes.NewReader(encoded), 1000, "payload")
	require.NoError(t, err)
	require.Equal(t, payload, read)

	// A declared length larger than what follows is a truncation, not an
	// out of bounds read.
	_, _, err = DecodeVarBytes([]byte{0x05, 0x01, 0x02})
	require.True(t, IsErrorCode(err, ErrTruncated), "got %v", err)

	_, err = ReadVarBytes(bytes.NewReader([]byte{0x05, 0x01, 0x02}), 10, "short")
	require.True(t, IsErrorCode(err, ErrTruncated), "got %v", err)

	_, err = ReadVarBytes(bytes.NewReader(encoded), 100, "payload")
	require.True(t, IsErrorCode(err, ErrOverLimit), "got %v", err)
}
