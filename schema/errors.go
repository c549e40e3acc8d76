package schema

import (
	"fmt"

	"github.com/letsencrypt/pebble-pki/asn1"
)

// ErrorCode identifies the category of a mapping error.
type ErrorCode int

const (
	// CodeMissingField means a required field was absent.
	CodeMissingField ErrorCode = iota
	// CodeUnexpectedTag means an element matched no field of a record that
	// does not allow extensions.
	CodeUnexpectedTag
	// CodeUnknownAlgorithm means an OID discriminant is not in the table
	// consulted. The undecoded value is kept in Error.Raw.
	CodeUnknownAlgorithm
	// CodeInvalidField means a field was present but its content could not
	// be converted.
	CodeInvalidField
)

func (c ErrorCode) String() string {
	switch c {
	case CodeMissingField:
		return "MissingField"
	case CodeUnexpectedTag:
		return "UnexpectedTag"
	case CodeUnknownAlgorithm:
		return "UnknownAlgorithm"
	case CodeInvalidField:
		return "InvalidField"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

type Error struct {
	Code   ErrorCode
	Record string
	Field  string
	// Raw is the value that could not be interpreted. It is set for
	// CodeUnknownAlgorithm and can be re-encoded unchanged.
	Raw     asn1.Value
	Message string
	Cause   error
}

func (e *Error) Error() string {
	where := e.Record
	if e.Field != "" {
		where += "." + e.Field
	}
	msg := fmt.Sprintf("schema: %s %s", e.Code, where)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrMissingField     = &Error{Code: CodeMissingField}
	ErrUnexpectedTag    = &Error{Code: CodeUnexpectedTag}
	ErrUnknownAlgorithm = &Error{Code: CodeUnknownAlgorithm}
	ErrInvalidField     = &Error{Code: CodeInvalidField}
)

// Invalid reports a field whose content does not fit its codec. Codecs
// written outside this package use it so every conversion failure carries
// the same code.
func Invalid(format string, args ...interface{}) error {
	return &Error{Code: CodeInvalidField, Message: fmt.Sprintf(format, args...)}
}
