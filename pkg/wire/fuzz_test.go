package wire

import (
	"bytes"
	"encoding/hex"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/require"
)

func FuzzTransactionDecode(f *testing.F) {
	seed, _ := hex.DecodeString(bip143UnsignedTx)
	f.Add(seed)
	f.Add([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > MaxMessagePayload {
			return
		}

		var tx Transaction
		if err := tx.FromBytes(data); err != nil {
			return
		}

		// Anything accepted must re-encode to exactly the same bytes.
		require.Equal(t, data, tx.Bytes())
		require.Equal(t, len(data), tx.SerializeSize())
	})
}

// FuzzTransactionRoundTrip builds transactions field by field from the
// fuzzer input and checks that both encodings decode back to the same
// transaction.
func FuzzTransactionRoundTrip(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)

		tx, err := consumeTransaction(c)
		if err != nil {
			return
		}

		var decoded Transaction
		require.NoError(t, decoded.FromBytes(tx.Bytes()))
		require.Equal(t, tx.Bytes(), decoded.Bytes())
		require.Equal(t, tx.TxHash(), decoded.TxHash())
		require.Equal(t, tx.WitnessHash(), decoded.WitnessHash())

		var stripped bytes.Buffer
		require.NoError(t, tx.SerializeNoWitness(&stripped))
		require.Equal(t, tx.SerializeSizeStripped(), stripped.Len())

		var legacy Transaction
		require.NoError(t, legacy.FromBytes(stripped.Bytes()))
		require.False(t, legacy.HasWitness())
		require.Equal(t, tx.TxHash(), legacy.TxHash())
	})
}

func consumeTransaction(c *fuzz.ConsumeFuzzer) (*Transaction, error) {
	version, err := c.GetUint32()
	if err != nil {
		return nil, err
	}
	tx := NewTransaction(int32(version))

	numIn, err := c.GetUint32()
	if err != nil {
		return nil, err
	}

	// A legacy encoding with zero inputs is indistinguishable from the
	// witness marker, so always carry at least one.
	for i := uint32(0); i < numIn%4+1; i++ {
		var op OutPoint
		hash, err := c.GetBytes()
		if err != nil {
			return nil, err
		}
		copy(op.Hash[:], hash)
		if op.Index, err = c.GetUint32(); err != nil {
			return nil, err
		}

		sigScript, err := c.GetBytes()
		if err != nil {
			return nil, err
		}

		seq, err := c.GetUint32()
		if err != nil {
			return nil, err
		}

		numWit, err := c.GetUint32()
		if err != nil {
			return nil, err
		}

		var witness TxWitness
		for j := uint32(0); j < numWit%3; j++ {
			item, err := c.GetBytes()
			if err != nil {
				return nil, err
			}
			witness = append(witness, item)
		}

		txIn := NewTxIn(&op, sigScript, witness)
		txIn.Sequence = Sequence(seq)
		tx.AddTxIn(txIn)
	}

	numOut, err := c.GetUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numOut%4; i++ {
		value, err := c.GetUint64()
		if err != nil {
			return nil, err
		}
		pkScript, err := c.GetBytes()
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(NewTxOut(value, pkScript))
	}

	lockTime, err := c.GetUint32()
	if err != nil {
		return nil, err
	}
	tx.LockTime = LockTime(lockTime)

	return tx, nil
}
