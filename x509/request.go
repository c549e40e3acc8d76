package x509

import (
	"bytes"
	"crypto"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
)

// Attribute is a PKCS #10 attribute: a type and a SET OF values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.Value
}

var attributeRecord = &schema.Record[Attribute]{
	Name: "Attribute",
	Fields: []schema.Field[Attribute]{
		schema.Bind("type", schema.OID, func(a *Attribute) *asn1.ObjectIdentifier { return &a.Type }),
		schema.Bind("values", schema.SetOf(schema.Any), func(a *Attribute) *[]asn1.Value { return &a.Values }),
	},
}

type CertificationRequestInfo struct {
	Version    int
	Subject    Name
	PublicKey  SubjectPublicKeyInfo
	Attributes []Attribute
}

var requestInfoRecord = &schema.Record[CertificationRequestInfo]{
	Name: "CertificationRequestInfo",
	Fields: []schema.Field[CertificationRequestInfo]{
		schema.Bind("version", schema.Int, func(r *CertificationRequestInfo) *int { return &r.Version }),
		schema.Bind("subject", nameCodec, func(r *CertificationRequestInfo) *Name { return &r.Subject }),
		schema.Bind("subjectPKInfo", schema.Nested(spkiRecord), func(r *CertificationRequestInfo) *SubjectPublicKeyInfo { return &r.PublicKey }),
		schema.Bind("attributes", schema.SetOf(schema.Nested(attributeRecord)), func(r *CertificationRequestInfo) *[]Attribute { return &r.Attributes }, schema.Implicit(0)),
	},
}

// CertificationRequest is a signed PKCS #10 request.
type CertificationRequest struct {
	Info               CertificationRequestInfo
	SignatureAlgorithm AlgorithmIdentifier
	Signature          asn1.BitString

	Raw []byte
}

var requestRecord = &schema.Record[CertificationRequest]{
	Name: "CertificationRequest",
	Fields: []schema.Field[CertificationRequest]{
		schema.Bind("certificationRequestInfo", schema.Nested(requestInfoRecord), func(r *CertificationRequest) *CertificationRequestInfo { return &r.Info }),
		schema.Bind("signatureAlgorithm", AlgorithmIdentifierCodec, func(r *CertificationRequest) *AlgorithmIdentifier { return &r.SignatureAlgorithm }),
		schema.Bind("signature", schema.Bits, func(r *CertificationRequest) *asn1.BitString { return &r.Signature }),
	},
}

func ParseCertificationRequest(b []byte) (*CertificationRequest, error) {
	r := &CertificationRequest{}
	if err := requestRecord.Unmarshal(b, r); err != nil {
		return nil, err
	}
	if r.Info.Version != 0 {
		return nil, schema.Invalid("unknown request version %d", r.Info.Version)
	}
	r.Raw = bytes.Clone(b)
	return r, nil
}

func (r *CertificationRequest) Marshal() ([]byte, error) {
	return requestRecord.Marshal(r)
}

func (r *CertificationRequest) TBSBytes() ([]byte, error) {
	return requestInfoRecord.Marshal(&r.Info)
}

func (r *CertificationRequest) PublicKey() (crypto.PublicKey, error) {
	return r.Info.PublicKey.ParsePublicKey()
}

// Sign completes info. A nil attribute list is encoded as an empty SET.
func (info CertificationRequestInfo) Sign(s Signer) (*CertificationRequest, error) {
	if info.Attributes == nil {
		info.Attributes = []Attribute{}
	}
	tbs, err := requestInfoRecord.Marshal(&info)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignTBS(tbs)
	if err != nil {
		return nil, err
	}
	r := &CertificationRequest{Info: info, SignatureAlgorithm: s.Algorithm(), Signature: asn1.NewBitString(sig)}
	if r.Raw, err = r.Marshal(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewExtensionRequest wraps exts in the PKCS #9 extensionRequest attribute.
func NewExtensionRequest(exts []Extension) (Attribute, error) {
	v, err := extensionsCodec.Encode(exts)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{Type: OIDExtensionRequest, Values: []asn1.Value{v}}, nil
}

// RequestedExtensions returns the extensions asked for in the
// extensionRequest attribute, or nil when there is none.
func (r *CertificationRequest) RequestedExtensions() ([]Extension, error) {
	for _, attr := range r.Info.Attributes {
		if !attr.Type.Equal(OIDExtensionRequest) {
			continue
		}
		if len(attr.Values) != 1 {
			return nil, schema.Invalid("extensionRequest has %d values", len(attr.Values))
		}
		return extensionsCodec.Decode(attr.Values[0])
	}
	return nil, nil
}
