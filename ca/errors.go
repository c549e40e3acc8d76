package ca

import "fmt"

type Code int

const (
	// CodeInvalidProofOfPossession means the request's self-signature does
	// not verify under the key it carries.
	CodeInvalidProofOfPossession Code = iota + 1
	CodePolicyViolation
)

func (c Code) String() string {
	switch c {
	case CodeInvalidProofOfPossession:
		return "InvalidProofOfPossession"
	case CodePolicyViolation:
		return "PolicyViolation"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is returned when issuance is refused. No certificate exists when
// one is returned.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := "ca: " + e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidProofOfPossession = &Error{Code: CodeInvalidProofOfPossession}
	ErrPolicyViolation          = &Error{Code: CodePolicyViolation}
)

func violation(format string, args ...interface{}) *Error {
	return &Error{Code: CodePolicyViolation, Message: fmt.Sprintf(format, args...)}
}
