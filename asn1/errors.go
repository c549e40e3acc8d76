package asn1

import (
	"fmt"

	"github.com/letsencrypt/pebble-pki/der"
)

// ErrorCode identifies the category of a value-model error.
type ErrorCode int

const (
	// CodeInvalidEncoding means a TLV was well framed but its content is not
	// the single DER encoding of a value of its type.
	CodeInvalidEncoding ErrorCode = iota
	// CodeInvalidValue means a value cannot be represented in DER, for
	// example an OID with one arc or a PrintableString holding '@'.
	CodeInvalidValue
)

func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidEncoding:
		return "InvalidEncoding"
	case CodeInvalidValue:
		return "InvalidValue"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

type Error struct {
	Code    ErrorCode
	Tag     der.Tag
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("asn1: %s %s: %s", e.Code, e.Tag, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidEncoding = &Error{Code: CodeInvalidEncoding}
	ErrInvalidValue    = &Error{Code: CodeInvalidValue}
)

func encodingError(tag der.Tag, format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidEncoding, Tag: tag, Message: fmt.Sprintf(format, args...)}
}

func valueError(tag der.Tag, format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidValue, Tag: tag, Message: fmt.Sprintf(format, args...)}
}
