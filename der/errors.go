package der

import "fmt"

// ErrorCode identifies why a TLV could not be decoded.
type ErrorCode int

const (
	// CodeTruncatedInput means fewer bytes were available than the header
	// or the declared length requires.
	CodeTruncatedInput ErrorCode = iota
	// CodeInvalidLength means the length octets use the indefinite form,
	// the reserved form, or a non-minimal long form.
	CodeInvalidLength
	// CodeInvalidTag means the identifier octets are reserved or not
	// minimally encoded.
	CodeInvalidTag
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTruncatedInput:
		return "TruncatedInput"
	case CodeInvalidLength:
		return "InvalidLength"
	case CodeInvalidTag:
		return "InvalidTag"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is returned by every decoding function in this package.
type Error struct {
	Code ErrorCode
	// Offset is the position in the input at which decoding failed.
	Offset  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("der: %s at offset %d: %s", e.Code, e.Offset, e.Message)
}

// Is matches any *Error with the same Code, so callers can write
// errors.Is(err, der.ErrTruncatedInput).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrTruncatedInput = &Error{Code: CodeTruncatedInput}
	ErrInvalidLength  = &Error{Code: CodeInvalidLength}
	ErrInvalidTag     = &Error{Code: CodeInvalidTag}
)

func newError(code ErrorCode, offset int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Offset: offset, Message: fmt.Sprintf(format, args...)}
}
