package api

import (
	"fmt"
	"net/http"
)

const errNS = "urn:pebble-pki:error:"

const (
	ServerInternalType     = errNS + "serverInternal"
	MalformedType          = errNS + "malformed"
	BadNonceType           = errNS + "badNonce"
	BadCSRType             = errNS + "badCSR"
	BadPublicKeyType       = errNS + "badPublicKey"
	BadSignatureType       = errNS + "badSignatureAlgorithm"
	BadRevocationType      = errNS + "badRevocationReason"
	AlreadyRevokedType     = errNS + "alreadyRevoked"
	PolicyViolationType    = errNS + "policyViolation"
	CAAType                = errNS + "caa"
	UnauthorizedType       = errNS + "unauthorized"
	NotFoundType           = errNS + "notFound"
	InvalidChainType       = errNS + "invalidChain"
	UnsupportedContentType = errNS + "unsupportedContentType"
)

// ProblemDetails is an RFC 7807 problem document. Code carries the
// machine-readable reason for invalidChain problems.
type ProblemDetails struct {
	Type       string `json:"type,omitempty"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"status,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (pd *ProblemDetails) Error() string {
	return fmt.Sprintf("%s :: %s", pd.Type, pd.Detail)
}

func InternalErrorProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       ServerInternalType,
		Detail:     detail,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func MalformedProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       MalformedType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func MethodNotAllowed() *ProblemDetails {
	return &ProblemDetails{
		Type:       MalformedType,
		Detail:     "Method not allowed",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
}

func UnsupportedMediaTypeProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       UnsupportedContentType,
		Detail:     detail,
		HTTPStatus: http.StatusUnsupportedMediaType,
	}
}

func BadNonceProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadNonceType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func BadCSRProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadCSRType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func BadPublicKeyProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadPublicKeyType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func BadSignatureAlgorithmProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadSignatureType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func BadRevocationReasonProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadRevocationType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func AlreadyRevokedProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       AlreadyRevokedType,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func PolicyViolationProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       PolicyViolationType,
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

func CAAProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       CAAType,
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

func UnauthorizedProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       UnauthorizedType,
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

func NotFoundProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       NotFoundType,
		Detail:     detail,
		HTTPStatus: http.StatusNotFound,
	}
}

func InvalidChainProblem(code, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:       InvalidChainType,
		Detail:     detail,
		HTTPStatus: http.StatusUnprocessableEntity,
		Code:       code,
	}
}
