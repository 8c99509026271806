package script

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScriptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version ScriptVersion
		raw     []byte
		asm     string
		ops     int
	}{
		{
			name:    "empty",
			version: Legacy,
			raw:     nil,
			asm:     "",
		},
		{
			name:    "p2pkh",
			version: Legacy,
			raw: append(append([]byte{OP_DUP, OP_HASH160, OP_DATA_20},
				bytes.Repeat([]byte{0xab}, 20)...),
				OP_EQUALVERIFY, OP_CHECKSIG),
			asm: "OP_DUP OP_HASH160 abababababababababababababababababababab " +
				"OP_EQUALVERIFY OP_CHECKSIG",
			ops: 5,
		},
		{
			name:    "small_ints",
			version: Legacy,
			raw:     []byte{OP_0, OP_1NEGATE, OP_1, OP_16, OP_ADD},
			asm:     "0 -1 1 16 OP_ADD",
			ops:     5,
		},
		{
			name:    "pushdata1",
			version: Legacy,
			raw:     []byte{OP_PUSHDATA1, 0x02, 0xca, 0xfe},
			asm:     "cafe",
			ops:     1,
		},
		{
			name:    "pushdata2",
			version: Legacy,
			raw:     []byte{OP_PUSHDATA2, 0x01, 0x00, 0x07},
			asm:     "07",
			ops:     1,
		},
		{
			name:    "pushdata4",
			version: Legacy,
			raw:     []byte{OP_PUSHDATA4, 0x01, 0x00, 0x00, 0x00, 0x08},
			asm:     "08",
			ops:     1,
		},
		{
			name:    "reserved_legacy",
			version: Legacy,
			raw:     []byte{0x50, 0xbb},
			asm:     "OP_RESERVED OP_UNKNOWN187",
			ops:     2,
		},
		{
			name:    "success_tapscript",
			version: WitnessV1,
			raw:     []byte{0x50, 0xbb, OP_CHECKSIGADD},
			asm:     "OP_SUCCESS80 OP_SUCCESS187 OP_CHECKSIGADD",
			ops:     3,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			s, err := ParseScript(test.version, test.raw)
			require.NoError(tt, err)
			require.Len(tt, s.Operations, test.ops)
			require.Equal(tt, test.asm, s.String())

			raw, err := s.Bytes()
			require.NoError(tt, err)
			require.Equal(tt, len(test.raw), len(raw))
			if len(test.raw) > 0 {
				require.Equal(tt, test.raw, raw)
			}

			asm, err := DisasmVersionString(test.version, test.raw)
			require.NoError(tt, err)
			require.Equal(tt, test.asm, asm)
		})
	}
}

func TestParseScriptTruncatedPush(t *testing.T) {
	t.Parallel()

	tests := [][]byte{
		{OP_DATA_2, 0x01},
		{OP_PUSHDATA1},
		{OP_PUSHDATA1, 0x03, 0x01},
		{OP_PUSHDATA2, 0x01},
		{OP_PUSHDATA4, 0x05, 0x00, 0x00, 0x00, 0x01},
	}

	for i, raw := range tests {
		raw := raw
		t.Run(fmt.Sprintf("%x_%d", raw, i), func(tt *testing.T) {
			tt.Parallel()

			_, err := ParseScript(Legacy, raw)
			require.True(tt, IsErrorCode(err, ErrMalformedPush), "%v", err)

			asm, err := DisasmString(append([]byte{OP_1}, raw...))
			require.Error(tt, err)
			require.Equal(tt, "1 [error]", asm)
		})
	}
}

func TestScriptBytesRejectsBadOperations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   Operation
	}{
		{
			name: "data_on_plain_opcode",
			op:   Operation{Opcode: OP_DUP, Data: []byte{0x01}},
		},
		{
			name: "short_fixed_push",
			op:   Operation{Opcode: OP_DATA_3, Data: []byte{0x01}},
		},
		{
			name: "oversized_pushdata1",
			op: Operation{
				Opcode: OP_PUSHDATA1, Data: make([]byte, 256),
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			s := &Script{Operations: []Operation{test.op}}
			_, err := s.Bytes()
			require.True(tt, IsErrorCode(err, ErrMalformedPush), "%v", err)
		})
	}
}

func TestOperationHelpers(t *testing.T) {
	t.Parallel()

	op := Operation{Opcode: OP_7}
	n, ok := op.SmallInt()
	require.True(t, ok)
	require.Equal(t, 7, n)
	require.True(t, op.IsPush())
	require.Equal(t, 1, op.SerializeSize())

	op = Operation{Opcode: OP_PUSHDATA2, Data: make([]byte, 300)}
	require.Equal(t, 303, op.SerializeSize())
	_, ok = op.SmallInt()
	require.False(t, ok)

	op = Operation{Opcode: 0x50}
	require.Equal(t, "OP_RESERVED", op.Name(Legacy))
	require.Equal(t, "OP_SUCCESS80", op.Name(WitnessV1))
	require.Equal(t, "OP_CHECKSIGADD", Operation{Opcode: OP_CHECKSIGADD}.Name(WitnessV0))

	require.True(t, IsPushOnlyScript([]byte{OP_0, OP_DATA_1, 0x01, OP_16}))
	require.False(t, IsPushOnlyScript([]byte{OP_0, OP_NOP}))
	require.False(t, IsPushOnlyScript([]byte{OP_DATA_2, 0x01}))
}

func TestScriptVersionNames(t *testing.T) {
	t.Parallel()

	for _, version := range []ScriptVersion{Legacy, WitnessV0, WitnessV1} {
		parsed, err := ParseScriptVersion(version.String())
		require.NoError(t, err)
		require.Equal(t, version, parsed)
		require.True(t, version.IsValid())
	}

	parsed, err := ParseScriptVersion("tapscript")
	require.NoError(t, err)
	require.Equal(t, WitnessV1, parsed)

	_, err = ParseScriptVersion("v2")
	require.Error(t, err)
	require.False(t, ScriptVersion(3).IsValid())
}

func TestScriptNum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		num        ScriptNum
		serialized []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{-1, []byte{0x81}},
		{127, []byte{0x7f}},
		{-127, []byte{0xff}},
		{128, []byte{0x80, 0x00}},
		{-128, []byte{0x80, 0x80}},
		{255, []byte{0xff, 0x00}},
		{32768, []byte{0x00, 0x80, 0x00}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0x7f}},
		{-2147483647, []byte{0xff, 0xff, 0xff, 0xff}},
		{MaxScriptNum, []byte{0xff, 0xff, 0xff, 0xff, 0x7f}},
	}

	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d_%d", test.num, i), func(tt *testing.T) {
			tt.Parallel()

			require.Equal(tt, test.serialized, test.num.Bytes())

			num, err := MakeScriptNum(
				test.serialized, true, cltvMaxScriptNumLen,
			)
			require.NoError(tt, err)
			require.Equal(tt, test.num, num)
		})
	}

	// Non-minimal encodings are only rejected when asked to.
	_, err := MakeScriptNum([]byte{0x01, 0x00}, true, maxScriptNumLen)
	require.True(t, IsErrorCode(err, ErrMinimalData))
	num, err := MakeScriptNum([]byte{0x01, 0x00}, false, maxScriptNumLen)
	require.NoError(t, err)
	require.Equal(t, ScriptNum(1), num)

	_, err = MakeScriptNum([]byte{0x80}, true, maxScriptNumLen)
	require.True(t, IsErrorCode(err, ErrMinimalData))

	_, err = MakeScriptNum(make([]byte, 5), false, maxScriptNumLen)
	require.True(t, IsErrorCode(err, ErrNumberTooBig))

	require.Equal(t, int32(maxInt32), ScriptNum(1<<35).Int32())
	require.Equal(t, int32(minInt32), ScriptNum(-(1 << 35)).Int32())
}

func TestScriptNumArithmeticRange(t *testing.T) {
	t.Parallel()

	sum, err := ScriptNum(MaxScriptNum - 1).Add(1)
	require.NoError(t, err)
	require.Equal(t, ScriptNum(MaxScriptNum), sum)

	_, err = ScriptNum(MaxScriptNum).Add(1)
	require.True(t, IsErrorCode(err, ErrNumberOverflow))

	_, err = ScriptNum(MinScriptNum).Sub(1)
	require.True(t, IsErrorCode(err, ErrNumberOverflow))

	diff, err := ScriptNum(5).Sub(7)
	require.NoError(t, err)
	require.Equal(t, ScriptNum(-2), diff)
}

func TestScriptBuilder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		build    func(*ScriptBuilder) *ScriptBuilder
		expected []byte
	}{
		{
			name: "small_ints",
			build: func(b *ScriptBuilder) *ScriptBuilder {
				return b.AddInt64(0).AddInt64(-1).AddInt64(16).AddInt64(17)
			},
			expected: []byte{OP_0, OP_1NEGATE, OP_16, OP_DATA_1, 0x11},
		},
		{
			name: "minimal_data",
			build: func(b *ScriptBuilder) *ScriptBuilder {
				return b.AddData(nil).AddData([]byte{0x05}).
					AddData([]byte{0x81})
			},
			expected: []byte{OP_0, OP_5, OP_1NEGATE},
		},
		{
			name: "pushdata1",
			build: func(b *ScriptBuilder) *ScriptBuilder {
				return b.AddData(bytes.Repeat([]byte{0x01, 0x02}, 38))
			},
			expected: append(
				[]byte{OP_PUSHDATA1, 76},
				bytes.Repeat([]byte{0x01, 0x02}, 38)...,
			),
		},
		{
			name: "operations",
			build: func(b *ScriptBuilder) *ScriptBuilder {
				return b.AddOperation(Operation{Opcode: OP_DUP}).
					AddOperation(Operation{
						Opcode: OP_DATA_2, Data: []byte{0xbe, 0xef},
					}).
					AddOps([]byte{OP_EQUAL, OP_VERIFY})
			},
			expected: []byte{OP_DUP, OP_DATA_2, 0xbe, 0xef, OP_EQUAL, OP_VERIFY},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(tt *testing.T) {
			tt.Parallel()

			script, err := test.build(NewScriptBuilder()).Script()
			require.NoError(tt, err)
			require.Equal(tt, test.expected, script)
		})
	}

	_, err := NewScriptBuilder().AddData(make([]byte, MaxScriptElementSize+1)).Script()
	require.Error(t, err)
}

func TestSigOpCounts(t *testing.T) {
	t.Parallel()

	multisig := []byte{OP_2, OP_DATA_1, 0x01, OP_DATA_1, 0x02, OP_2, OP_CHECKMULTISIG}
	require.Equal(t, MaxPubKeysPerMultiSig, GetSigOpCount(multisig))

	redeem := []byte{OP_DATA_1 + byte(len(multisig)) - 1}
	redeem = append(redeem, multisig...)
	require.Equal(t, 2, GetPreciseSigOpCount(redeem, []byte{
		OP_HASH160, OP_DATA_20,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		OP_EQUAL,
	}))

	require.True(t, IsUnspendable([]byte{OP_RETURN, OP_DATA_1, 0x01}))
	require.False(t, IsUnspendable([]byte{OP_TRUE}))
}
