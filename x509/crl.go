package x509

import (
	"bytes"
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
)

type RevokedCertificate struct {
	SerialNumber   *big.Int
	RevocationDate time.Time
	Extensions     []Extension
}

var revokedCertificateRecord = &schema.Record[RevokedCertificate]{
	Name: "RevokedCertificate",
	Fields: []schema.Field[RevokedCertificate]{
		schema.Bind("userCertificate", schema.BigInt, func(r *RevokedCertificate) **big.Int { return &r.SerialNumber }),
		schema.Bind("revocationDate", schema.Time, func(r *RevokedCertificate) *time.Time { return &r.RevocationDate }),
		schema.Bind("crlEntryExtensions", extensionsCodec, func(r *RevokedCertificate) *[]Extension { return &r.Extensions }, schema.OptionalField()),
	},
}

// Reason returns the reasonCode entry extension, if present and valid.
func (r RevokedCertificate) Reason() (CRLReason, bool) {
	reason, ok, err := Find[CRLReason](r.Extensions)
	return reason, ok && err == nil
}

// TBSCertList is the to-be-signed part of a CRL. Version is omitted when
// zero; a v2 CRL carries 1.
type TBSCertList struct {
	Version             int
	Signature           AlgorithmIdentifier
	Issuer              Name
	ThisUpdate          time.Time
	NextUpdate          time.Time
	RevokedCertificates []RevokedCertificate
	Extensions          []Extension
}

var tbsCertListRecord = &schema.Record[TBSCertList]{
	Name: "TBSCertList",
	Fields: []schema.Field[TBSCertList]{
		schema.Bind("version", schema.Int, func(t *TBSCertList) *int { return &t.Version }, schema.OptionalField()),
		schema.Bind("signature", AlgorithmIdentifierCodec, func(t *TBSCertList) *AlgorithmIdentifier { return &t.Signature }),
		schema.Bind("issuer", nameCodec, func(t *TBSCertList) *Name { return &t.Issuer }),
		schema.Bind("thisUpdate", schema.Time, func(t *TBSCertList) *time.Time { return &t.ThisUpdate }),
		schema.Bind("nextUpdate", schema.Time, func(t *TBSCertList) *time.Time { return &t.NextUpdate }, schema.OptionalField()),
		schema.Bind("revokedCertificates", schema.SequenceOf(schema.Nested(revokedCertificateRecord)), func(t *TBSCertList) *[]RevokedCertificate { return &t.RevokedCertificates }, schema.OptionalField()),
		schema.Bind("crlExtensions", extensionsCodec, func(t *TBSCertList) *[]Extension { return &t.Extensions }, schema.OptionalField(), schema.Explicit(0)),
	},
}

// CertificateList is a signed CRL.
type CertificateList struct {
	TBS                TBSCertList
	SignatureAlgorithm AlgorithmIdentifier
	Signature          asn1.BitString

	Raw []byte
}

var certificateListRecord = &schema.Record[CertificateList]{
	Name: "CertificateList",
	Fields: []schema.Field[CertificateList]{
		schema.Bind("tbsCertList", schema.Nested(tbsCertListRecord), func(c *CertificateList) *TBSCertList { return &c.TBS }),
		schema.Bind("signatureAlgorithm", AlgorithmIdentifierCodec, func(c *CertificateList) *AlgorithmIdentifier { return &c.SignatureAlgorithm }),
		schema.Bind("signatureValue", schema.Bits, func(c *CertificateList) *asn1.BitString { return &c.Signature }),
	},
}

func ParseCRL(b []byte) (*CertificateList, error) {
	c := &CertificateList{}
	if err := certificateListRecord.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if c.TBS.Version != 0 && c.TBS.Version != 1 {
		return nil, schema.Invalid("unknown CRL version %d", c.TBS.Version)
	}
	c.Raw = bytes.Clone(b)
	return c, nil
}

func (c *CertificateList) Marshal() ([]byte, error) {
	return certificateListRecord.Marshal(c)
}

func (c *CertificateList) TBSBytes() ([]byte, error) {
	return tbsCertListRecord.Marshal(&c.TBS)
}

// Sign completes t. Extensions on the list or on any entry make it v2.
func (t TBSCertList) Sign(s Signer) (*CertificateList, error) {
	if t.Extensions != nil {
		t.Version = 1
	}
	for _, rc := range t.RevokedCertificates {
		if rc.Extensions != nil {
			t.Version = 1
		}
	}
	t.Signature = s.Algorithm()
	tbs, err := tbsCertListRecord.Marshal(&t)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignTBS(tbs)
	if err != nil {
		return nil, err
	}
	c := &CertificateList{TBS: t, SignatureAlgorithm: t.Signature, Signature: asn1.NewBitString(sig)}
	if c.Raw, err = c.Marshal(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup finds the entry for serial.
func (c *CertificateList) Lookup(serial *big.Int) (RevokedCertificate, bool) {
	for _, rc := range c.TBS.RevokedCertificates {
		if rc.SerialNumber.Cmp(serial) == 0 {
			return rc, true
		}
	}
	return RevokedCertificate{}, false
}

// Number returns the cRLNumber extension, or nil.
func (c *CertificateList) Number() *big.Int {
	n, _, _ := Find[CRLNumber](c.TBS.Extensions)
	return n.Number
}
