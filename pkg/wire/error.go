package wire

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of decoding failure.
type ErrorCode int

const (
	// ErrTruncated indicates the input ended before a declared length or
	// fixed-width field could be satisfied.
	ErrTruncated ErrorCode = iota

	// ErrMalformedEncoding indicates bytes that are present but violate the
	// wire format, such as a non-canonical varint or an unknown segwit flag.
	ErrMalformedEncoding

	// ErrOverLimit indicates a declared count or length larger than the
	// codec is willing to allocate for.
	ErrOverLimit

	// ErrInvalidIndex indicates an input or output index outside the
	// transaction.
	ErrInvalidIndex
)

var errorCodeStrings = map[ErrorCode]string{
	ErrTruncated:         "ErrTruncated",
	ErrMalformedEncoding: "ErrMalformedEncoding",
	ErrOverLimit:         "ErrOverLimit",
	ErrInvalidIndex:      "ErrInvalidIndex",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// MessageError describes an issue with a serialized transaction or one of
// its primitives.
type MessageError struct {
	Func        string
	Code        ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e *MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}
	return e.Description
}

// messageError creates an error for the given function, code and
// description.
func messageError(f string, c ErrorCode, desc string) *MessageError {
	return &MessageError{Func: f, Code: c, Description: desc}
}

// IsErrorCode returns whether err is a *MessageError with the provided code.
func IsErrorCode(err error, c ErrorCode) bool {
	var merr *MessageError
	return errors.As(err, &merr) && merr.Code == c
}
