package wire

const (
	// LockTimeThreshold is the number below which a lock time is
	// interpreted to be a block number. Since an average of one block is
	// generated per 10 minutes, this allows blocks for about 9,512 years.
	LockTimeThreshold = 5e8 // Tue Nov 5 00:53:20 1985 UTC

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum Sequence = 0xffffffff

	// SequenceLockTimeDisabled is a flag that if set on a transaction
	// input's sequence number, the sequence number will not be interpreted
	// as a relative locktime.
	SequenceLockTimeDisabled Sequence = 1 << 31

	// SequenceLockTimeIsSeconds is a flag that if set on a transaction
	// input's sequence number, the relative locktime has units of 512
	// seconds.
	SequenceLockTimeIsSeconds Sequence = 1 << 22

	// SequenceLockTimeMask is a mask that extracts the relative locktime
	// when masked against the transaction input sequence number.
	SequenceLockTimeMask Sequence = 0x0000ffff

	// SequenceLockTimeGranularity is the defined time based granularity
	// for seconds-based relative time locks. When converting from seconds
	// to a sequence number, the value is right shifted by this amount,
	// therefore the granularity of relative time locks in 512 or 2^9
	// seconds.
	SequenceLockTimeGranularity = 9
)

// LockTimeKind classifies how a transaction lock time is interpreted.
type LockTimeKind uint8

const (
	LockTimeDisabled LockTimeKind = iota
	LockTimeBlockHeight
	LockTimeTimestamp
)

// LockTime is the transaction-level lock time.
type LockTime uint32

// Kind reports whether the lock time is disabled, a block height, or a
// unix timestamp.
func (l LockTime) Kind() LockTimeKind {
	switch {
	case l == 0:
		return LockTimeDisabled
	case l < LockTimeThreshold:
		return LockTimeBlockHeight
	default:
		return LockTimeTimestamp
	}
}

// Sequence is the per-input sequence number. Besides its role in
// finality, the low bits carry a BIP68 relative lock time.
type Sequence uint32

// IsFinal returns true when the sequence is the maximum value.
func (s Sequence) IsFinal() bool {
	return s == MaxTxInSequenceNum
}

// RelativeLockTimeDisabled returns true when bit 31 is set and the
// sequence does not encode a relative lock time.
func (s Sequence) RelativeLockTimeDisabled() bool {
	return s&SequenceLockTimeDisabled != 0
}

// IsTimeBased returns true when the relative lock time is expressed in
// 512 second units rather than blocks.
func (s Sequence) IsTimeBased() bool {
	return s&SequenceLockTimeIsSeconds != 0
}

// LockTimeValue returns the 16-bit relative lock time value.
func (s Sequence) LockTimeValue() uint16 {
	return uint16(s & SequenceLockTimeMask)
}

// RelativeBlocksSequence builds a sequence requiring the given number of
// confirmations.
func RelativeBlocksSequence(blocks uint16) Sequence {
	return Sequence(blocks)
}

// RelativeSecondsSequence builds a time based sequence. The duration is
// rounded up to the next 512 second boundary.
func RelativeSecondsSequence(seconds uint32) Sequence {
	units := (seconds + (1 << SequenceLockTimeGranularity) - 1) >>
		SequenceLockTimeGranularity
	return SequenceLockTimeIsSeconds | Sequence(units)&SequenceLockTimeMask
}
