// Package api holds the JSON documents exchanged with the web front end.
package api

import "time"

// Directory keys
const (
	ResourceNonce  = "nonce"
	ResourceIssue  = "issue"
	ResourceCert   = "cert"
	ResourceStatus = "status"
	ResourceRevoke = "revoke"
	ResourceCRL    = "crl"
	ResourceRoots  = "roots"
	ResourceVerify = "verify"
)

const (
	StatusValid   = "valid"
	StatusRevoked = "revoked"
)

// IssueRequest carries a base64url (unpadded) DER PKCS #10 request.
type IssueRequest struct {
	CSR string `json:"csr"`
}

// Certificate describes a stored certificate.
type Certificate struct {
	Serial    string     `json:"serial"`
	Subject   string     `json:"subject"`
	Issuer    string     `json:"issuer"`
	NotBefore time.Time  `json:"notBefore"`
	NotAfter  time.Time  `json:"notAfter"`
	DNSNames  []string   `json:"dnsNames,omitempty"`
	Status    string     `json:"status"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	Reason    *int       `json:"reason,omitempty"`
}

// RevokeRequest is the JWS payload of a revocation. Serial is the
// lowercase hex the server uses in certificate URLs.
type RevokeRequest struct {
	Serial string `json:"serial"`
	Reason *int   `json:"reason,omitempty"`
}

// VerifyRequest asks the server to validate a PEM chain, leaf first,
// against its own root.
type VerifyRequest struct {
	Chain string `json:"chain"`
	// CheckRevocation consults the current CRL.
	CheckRevocation bool `json:"checkRevocation,omitempty"`
}

type PathElement struct {
	Subject string `json:"subject"`
	Serial  string `json:"serial"`
}

type Verification struct {
	Valid bool          `json:"valid"`
	Path  []PathElement `json:"path"`
}
