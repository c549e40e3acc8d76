package chain

import (
	"fmt"
	"math/big"
)

// Code says which check rejected a chain.
type Code int

const (
	CodeExpired Code = iota + 1
	CodeNotYetValid
	CodeSignatureMismatch
	CodeNotACA
	CodePathLengthExceeded
	CodeRevoked
	CodeUnknownIssuer
	CodeUnsupportedCriticalExtension
)

func (c Code) String() string {
	switch c {
	case CodeExpired:
		return "Expired"
	case CodeNotYetValid:
		return "NotYetValid"
	case CodeSignatureMismatch:
		return "SignatureMismatch"
	case CodeNotACA:
		return "NotACA"
	case CodePathLengthExceeded:
		return "PathLengthExceeded"
	case CodeRevoked:
		return "Revoked"
	case CodeUnknownIssuer:
		return "UnknownIssuer"
	case CodeUnsupportedCriticalExtension:
		return "UnsupportedCriticalExtension"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error identifies the certificate that failed by its position in the
// path, counting the leaf as depth 0.
type Error struct {
	Code    Code
	Depth   int
	Subject string
	Serial  *big.Int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("chain: %s at depth %d", e.Code, e.Depth)
	if e.Subject != "" {
		msg += fmt.Sprintf(" (%s)", e.Subject)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code so callers can test against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrExpired                      = &Error{Code: CodeExpired}
	ErrNotYetValid                  = &Error{Code: CodeNotYetValid}
	ErrSignatureMismatch            = &Error{Code: CodeSignatureMismatch}
	ErrNotACA                       = &Error{Code: CodeNotACA}
	ErrPathLengthExceeded           = &Error{Code: CodePathLengthExceeded}
	ErrRevoked                      = &Error{Code: CodeRevoked}
	ErrUnknownIssuer                = &Error{Code: CodeUnknownIssuer}
	ErrUnsupportedCriticalExtension = &Error{Code: CodeUnsupportedCriticalExtension}
)
