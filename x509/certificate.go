// Package x509 models the PKIX documents of RFC 5280 and RFC 2986:
// certificates, certification requests and CRLs, and the extensions they
// carry. Every structure is a schema record, so parsing and encoding are the
// same table read in two directions, and a parsed document re-encodes to
// the bytes it came from.
package x509

import (
	"bytes"
	"crypto"
	"crypto/sha1" //nolint:gosec // RFC 5280 key identifier method 1
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
)

// Version numbers as encoded. A v3 certificate carries 2.
const (
	Version1 = 0
	Version2 = 1
	Version3 = 2
)

type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

var validityRecord = &schema.Record[Validity]{
	Name: "Validity",
	Fields: []schema.Field[Validity]{
		schema.Bind("notBefore", schema.Time, func(v *Validity) *time.Time { return &v.NotBefore }),
		schema.Bind("notAfter", schema.Time, func(v *Validity) *time.Time { return &v.NotAfter }),
	},
}

// Contains reports whether t falls within the validity period, inclusive
// at both ends.
func (v Validity) Contains(t time.Time) bool {
	return !t.Before(v.NotBefore) && !t.After(v.NotAfter)
}

type TBSCertificate struct {
	Version         int
	SerialNumber    *big.Int
	Signature       AlgorithmIdentifier
	Issuer          Name
	Validity        Validity
	Subject         Name
	PublicKey       SubjectPublicKeyInfo
	IssuerUniqueID  asn1.BitString
	SubjectUniqueID asn1.BitString
	Extensions      []Extension
}

var tbsCertificateRecord = &schema.Record[TBSCertificate]{
	Name: "TBSCertificate",
	Fields: []schema.Field[TBSCertificate]{
		schema.BindDefault("version", schema.Int, func(t *TBSCertificate) *int { return &t.Version }, Version1, schema.Explicit(0)),
		schema.Bind("serialNumber", schema.BigInt, func(t *TBSCertificate) **big.Int { return &t.SerialNumber }),
		schema.Bind("signature", AlgorithmIdentifierCodec, func(t *TBSCertificate) *AlgorithmIdentifier { return &t.Signature }),
		schema.Bind("issuer", nameCodec, func(t *TBSCertificate) *Name { return &t.Issuer }),
		schema.Bind("validity", schema.Nested(validityRecord), func(t *TBSCertificate) *Validity { return &t.Validity }),
		schema.Bind("subject", nameCodec, func(t *TBSCertificate) *Name { return &t.Subject }),
		schema.Bind("subjectPublicKeyInfo", schema.Nested(spkiRecord), func(t *TBSCertificate) *SubjectPublicKeyInfo { return &t.PublicKey }),
		schema.Bind("issuerUniqueID", schema.Bits, func(t *TBSCertificate) *asn1.BitString { return &t.IssuerUniqueID }, schema.OptionalField(), schema.Implicit(1)),
		schema.Bind("subjectUniqueID", schema.Bits, func(t *TBSCertificate) *asn1.BitString { return &t.SubjectUniqueID }, schema.OptionalField(), schema.Implicit(2)),
		schema.Bind("extensions", extensionsCodec, func(t *TBSCertificate) *[]Extension { return &t.Extensions }, schema.OptionalField(), schema.Explicit(3)),
	},
}

// Certificate is a signed TBSCertificate. Raw is the DER the certificate
// was parsed from or produced as, and is not consulted when encoding.
type Certificate struct {
	TBS                TBSCertificate
	SignatureAlgorithm AlgorithmIdentifier
	Signature          asn1.BitString

	Raw []byte
}

var certificateRecord = &schema.Record[Certificate]{
	Name: "Certificate",
	Fields: []schema.Field[Certificate]{
		schema.Bind("tbsCertificate", schema.Nested(tbsCertificateRecord), func(c *Certificate) *TBSCertificate { return &c.TBS }),
		schema.Bind("signatureAlgorithm", AlgorithmIdentifierCodec, func(c *Certificate) *AlgorithmIdentifier { return &c.SignatureAlgorithm }),
		schema.Bind("signatureValue", schema.Bits, func(c *Certificate) *asn1.BitString { return &c.Signature }),
	},
}

// ParseCertificate parses exactly one DER certificate.
func ParseCertificate(b []byte) (*Certificate, error) {
	c := &Certificate{}
	if err := certificateRecord.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.TBS.check(); err != nil {
		return nil, err
	}
	c.Raw = bytes.Clone(b)
	return c, nil
}

func (t *TBSCertificate) check() error {
	switch {
	case t.Version < Version1 || t.Version > Version3:
		return schema.Invalid("unknown certificate version %d", t.Version)
	case t.Extensions != nil && t.Version != Version3:
		return schema.Invalid("extensions require a v3 certificate")
	case (t.IssuerUniqueID.Bytes != nil || t.SubjectUniqueID.Bytes != nil) && t.Version == Version1:
		return schema.Invalid("unique identifiers require a v2 or v3 certificate")
	}
	return nil
}

// Marshal encodes c from its fields.
func (c *Certificate) Marshal() ([]byte, error) {
	return certificateRecord.Marshal(c)
}

// TBSBytes is the DER of the to-be-signed part, the input to the signature.
func (c *Certificate) TBSBytes() ([]byte, error) {
	return tbsCertificateRecord.Marshal(&c.TBS)
}

// Signer produces signatures for the documents in this package.
type Signer interface {
	// Algorithm is the identifier placed in the signed document.
	Algorithm() AlgorithmIdentifier
	// SignTBS signs the DER of a to-be-signed structure.
	SignTBS(tbs []byte) ([]byte, error)
}

// Sign completes t. The signature field inside t is overwritten with the
// signer's algorithm so that it always matches the outer one.
func (t TBSCertificate) Sign(s Signer) (*Certificate, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.Signature = s.Algorithm()
	tbs, err := tbsCertificateRecord.Marshal(&t)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignTBS(tbs)
	if err != nil {
		return nil, err
	}
	c := &Certificate{TBS: t, SignatureAlgorithm: t.Signature, Signature: asn1.NewBitString(sig)}
	if c.Raw, err = c.Marshal(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Certificate) PublicKey() (crypto.PublicKey, error) {
	return c.TBS.PublicKey.ParsePublicKey()
}

func (c *Certificate) Subject() Name { return c.TBS.Subject }
func (c *Certificate) Issuer() Name { return c.TBS.Issuer }
func (c *Certificate) SerialNumber() *big.Int { return c.TBS.SerialNumber }

// SelfIssued reports whether subject and issuer are the same name.
func (c *Certificate) SelfIssued() bool {
	return c.TBS.Subject.Equal(c.TBS.Issuer)
}

func (c *Certificate) BasicConstraints() (BasicConstraints, bool, error) {
	return Find[BasicConstraints](c.TBS.Extensions)
}

// IsCA reports a basicConstraints extension asserting cA. A malformed
// extension counts as absent.
func (c *Certificate) IsCA() bool {
	bc, ok, err := c.BasicConstraints()
	return ok && err == nil && bc.IsCA
}

func (c *Certificate) KeyUsage() (KeyUsage, bool, error) {
	return Find[KeyUsage](c.TBS.Extensions)
}

func (c *Certificate) SubjectAltName() (SubjectAltName, bool, error) {
	return Find[SubjectAltName](c.TBS.Extensions)
}

func (c *Certificate) SubjectKeyID() []byte {
	ski, _, _ := Find[SubjectKeyID](c.TBS.Extensions)
	return ski
}

func (c *Certificate) AuthorityKeyID() []byte {
	aki, _, _ := Find[AuthorityKeyID](c.TBS.Extensions)
	return aki.KeyID
}

// Equal compares encodings.
func (c *Certificate) Equal(other *Certificate) bool {
	a, errA := c.Marshal()
	b, errB := other.Marshal()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// KeyID derives a key identifier from the subjectPublicKey bits, RFC 5280
// section 4.2.1.2 method 1.
func KeyID(spki SubjectPublicKeyInfo) []byte {
	sum := sha1.Sum(spki.PublicKey.Bytes) //nolint:gosec
	return sum[:]
}
