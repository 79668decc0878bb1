package classfile

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FormatError.
var (
	ErrBadMagic           = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported class file version")
	ErrTruncated          = errors.New("unexpected end of class data")
	ErrBadIndex           = errors.New("invalid constant pool index")
	ErrBadTag             = errors.New("invalid tag")
	ErrTooLarge           = errors.New("class data exceeds size limit")
	ErrTrailingData       = errors.New("trailing bytes after class data")
)

// FormatError reports a malformed or truncated class binary. It is fatal for
// that binary; no partial model accompanies it.
type FormatError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("classfile: %s (offset %d)", e.Msg, e.Offset)
	}
	return fmt.Sprintf("classfile: %s (offset %d): %v", e.Msg, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError reports whether err is, or wraps, a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func newFormatError(offset int, err error, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Msg: fmt.Sprintf(format, args...), Err: err}
}
