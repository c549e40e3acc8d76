package x509

import (
	"math/big"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/der"
	"github.com/letsencrypt/pebble-pki/schema"
)

// Extension is the wire form: extnValue holds the DER of the typed value.
type Extension struct {
	ID       asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

var extensionRecord = &schema.Record[Extension]{
	Name: "Extension",
	Fields: []schema.Field[Extension]{
		schema.Bind("extnID", schema.OID, func(e *Extension) *asn1.ObjectIdentifier { return &e.ID }),
		schema.BindDefault("critical", schema.Bool, func(e *Extension) *bool { return &e.Critical }, false),
		schema.Bind("extnValue", schema.Bytes, func(e *Extension) *[]byte { return &e.Value }),
	},
}

// extensionsCodec is Extensions, SEQUENCE SIZE (1..MAX) OF Extension. An
// OID may appear only once.
var extensionsCodec = func() schema.Codec[[]Extension] {
	inner := schema.SequenceOf(schema.Nested(extensionRecord))
	return schema.Codec[[]Extension]{
		Tags:   inner.Tags,
		Encode: inner.Encode,
		Decode: func(v asn1.Value) ([]Extension, error) {
			exts, err := inner.Decode(v)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool, len(exts))
			for _, e := range exts {
				key := e.ID.String()
				if seen[key] {
					return nil, schema.Invalid("duplicate extension %s", key)
				}
				seen[key] = true
			}
			return exts, nil
		},
	}
}()

// ExtensionValue is the decoded form of an extension. The implementations
// are the types in this file; anything unregistered decodes to
// UnknownExtension.
type ExtensionValue interface {
	ExtensionID() asn1.ObjectIdentifier
	marshalValue() ([]byte, error)
}

type extensionDecoder func([]byte) (ExtensionValue, error)

var extensionRegistry = schema.NewTable("Extension",
	schema.Entry[extensionDecoder]{OID: OIDExtensionBasicConstraints, Value: decodeAs(basicConstraintsCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionKeyUsage, Value: decodeAs(keyUsageCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionSubjectAltName, Value: decodeAs(subjectAltNameCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionAuthorityKeyID, Value: decodeAs(schema.Nested(authorityKeyIDRecord))},
	schema.Entry[extensionDecoder]{OID: OIDExtensionSubjectKeyID, Value: decodeAs(subjectKeyIDCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionCRLDistributionPoints, Value: decodeAs(crlDistributionPointsCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionExtendedKeyUsage, Value: decodeAs(extKeyUsageCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionCRLNumber, Value: decodeAs(crlNumberCodec)},
	schema.Entry[extensionDecoder]{OID: OIDExtensionReasonCode, Value: decodeAs(crlReasonCodec)},
)

func decodeAs[V ExtensionValue](c schema.Codec[V]) extensionDecoder {
	return func(b []byte) (ExtensionValue, error) {
		v, err := asn1.Unmarshal(b)
		if err != nil {
			return nil, err
		}
		if c.Tags != nil && !tagMatches(v.Tag(), c.Tags) {
			return nil, schema.Invalid("unexpected %s", v.Tag())
		}
		return c.Decode(v)
	}
}

func encodeWith[V any](c schema.Codec[V], v V) ([]byte, error) {
	enc, err := c.Encode(v)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(enc)
}

func tagMatches(t der.Tag, tags []der.Tag) bool {
	for _, c := range tags {
		if c.Class == t.Class && c.Number == t.Number {
			return true
		}
	}
	return false
}

// Registered reports whether oid has a typed interpreter.
func Registered(oid asn1.ObjectIdentifier) bool {
	_, ok := extensionRegistry.Lookup(oid)
	return ok
}

// Decode interprets e through the registry.
func (e Extension) Decode() (ExtensionValue, error) {
	decode, ok := extensionRegistry.Lookup(e.ID)
	if !ok {
		return UnknownExtension{ID: e.ID, Value: e.Value}, nil
	}
	v, err := decode(e.Value)
	if err != nil {
		return nil, &schema.Error{Code: schema.CodeInvalidField, Record: "Extension", Field: e.ID.String(), Cause: err}
	}
	return v, nil
}

// NewExtension encodes v.
func NewExtension(v ExtensionValue, critical bool) (Extension, error) {
	b, err := v.marshalValue()
	if err != nil {
		return Extension{}, err
	}
	return Extension{ID: v.ExtensionID(), Critical: critical, Value: b}, nil
}

// FindExtension returns the extension with the given OID.
func FindExtension(exts []Extension, oid asn1.ObjectIdentifier) (Extension, bool) {
	for _, e := range exts {
		if e.ID.Equal(oid) {
			return e, true
		}
	}
	return Extension{}, false
}

// Find decodes the extension of type T from exts, reporting whether it was
// present.
func Find[T ExtensionValue](exts []Extension) (T, bool, error) {
	var zero T
	e, ok := FindExtension(exts, zero.ExtensionID())
	if !ok {
		return zero, false, nil
	}
	v, err := e.Decode()
	if err != nil {
		return zero, true, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, true, schema.Invalid("extension %s decoded as %T", e.ID, v)
	}
	return t, true, nil
}

type UnknownExtension struct {
	ID    asn1.ObjectIdentifier
	Value []byte
}

func (u UnknownExtension) ExtensionID() asn1.ObjectIdentifier { return u.ID }
func (u UnknownExtension) marshalValue() ([]byte, error) { return u.Value, nil }

// BasicConstraints with a nil MaxPathLen places no limit on the path.
type BasicConstraints struct {
	IsCA       bool
	MaxPathLen *int
}

var basicConstraintsCodec = schema.Nested(&schema.Record[BasicConstraints]{
	Name: "BasicConstraints",
	Fields: []schema.Field[BasicConstraints]{
		schema.BindDefault("cA", schema.Bool, func(b *BasicConstraints) *bool { return &b.IsCA }, false),
		schema.Bind("pathLenConstraint", schema.Ptr(schema.Int), func(b *BasicConstraints) **int { return &b.MaxPathLen }, schema.OptionalField()),
	},
})

func (BasicConstraints) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionBasicConstraints }
func (b BasicConstraints) marshalValue() ([]byte, error) {
	if b.MaxPathLen != nil && *b.MaxPathLen < 0 {
		return nil, schema.Invalid("negative pathLenConstraint")
	}
	return encodeWith(basicConstraintsCodec, b)
}

// PathLen returns the constraint and whether one is set.
func (b BasicConstraints) PathLen() (int, bool) {
	if b.MaxPathLen == nil {
		return 0, false
	}
	return *b.MaxPathLen, true
}

// KeyUsage is a set of the named bits of RFC 5280 section 4.2.1.3. Bit n
// of the encoding is 1<<n.
type KeyUsage int

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageContentCommitment
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

const keyUsageBits = 9

func (k KeyUsage) Has(u KeyUsage) bool { return k&u == u }

var keyUsageCodec = schema.Codec[KeyUsage]{
	Tags: []der.Tag{der.Universal(der.TagBitString, false)},
	Encode: func(k KeyUsage) (asn1.Value, error) {
		if k == 0 {
			return nil, schema.Invalid("empty key usage")
		}
		// Named bit lists drop trailing zero bits in DER.
		n := 0
		for i := 0; i < keyUsageBits; i++ {
			if k&(1<<i) != 0 {
				n = i + 1
			}
		}
		b := make([]byte, (n+7)/8)
		for i := 0; i < n; i++ {
			if k&(1<<i) != 0 {
				b[i/8] |= 0x80 >> (i % 8)
			}
		}
		return asn1.BitString{Bytes: b, BitLength: n}, nil
	},
	Decode: func(v asn1.Value) (KeyUsage, error) {
		bs, ok := v.(asn1.BitString)
		if !ok {
			return 0, schema.Invalid("key usage is %s", v.Tag())
		}
		var k KeyUsage
		for i := 0; i < keyUsageBits; i++ {
			if bs.At(i) == 1 {
				k |= 1 << i
			}
		}
		return k, nil
	},
}

func (KeyUsage) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionKeyUsage }
func (k KeyUsage) marshalValue() ([]byte, error) { return encodeWith(keyUsageCodec, k) }

type ExtKeyUsage []asn1.ObjectIdentifier

var extKeyUsageCodec = func() schema.Codec[ExtKeyUsage] {
	inner := schema.SequenceOf(schema.OID)
	return schema.Codec[ExtKeyUsage]{
		Tags:   inner.Tags,
		Encode: func(e ExtKeyUsage) (asn1.Value, error) { return inner.Encode(e) },
		Decode: func(v asn1.Value) (ExtKeyUsage, error) {
			oids, err := inner.Decode(v)
			return ExtKeyUsage(oids), err
		},
	}
}()

func (ExtKeyUsage) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionExtendedKeyUsage }
func (e ExtKeyUsage) marshalValue() ([]byte, error) {
	if len(e) == 0 {
		return nil, schema.Invalid("empty extended key usage")
	}
	return encodeWith(extKeyUsageCodec, e)
}

// Permits reports whether purpose, or anyExtendedKeyUsage, is listed.
func (e ExtKeyUsage) Permits(purpose asn1.ObjectIdentifier) bool {
	for _, oid := range e {
		if oid.Equal(purpose) || oid.Equal(OIDExtKeyUsageAny) {
			return true
		}
	}
	return false
}

type SubjectAltName struct {
	Names []GeneralName
}

var subjectAltNameCodec = schema.Codec[SubjectAltName]{
	Tags: generalNamesCodec.Tags,
	Encode: func(s SubjectAltName) (asn1.Value, error) {
		if len(s.Names) == 0 {
			return nil, schema.Invalid("empty subjectAltName")
		}
		return generalNamesCodec.Encode(s.Names)
	},
	Decode: func(v asn1.Value) (SubjectAltName, error) {
		names, err := generalNamesCodec.Decode(v)
		if err == nil && len(names) == 0 {
			err = schema.Invalid("empty subjectAltName")
		}
		return SubjectAltName{Names: names}, err
	},
}

func (SubjectAltName) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionSubjectAltName }
func (s SubjectAltName) marshalValue() ([]byte, error) { return encodeWith(subjectAltNameCodec, s) }

func (s SubjectAltName) DNSNames() []string { return s.texts(DNSName) }
func (s SubjectAltName) Emails() []string { return s.texts(RFC822Name) }
func (s SubjectAltName) URIs() []string { return s.texts(URIName) }

func (s SubjectAltName) texts(kind GeneralNameKind) []string {
	var out []string
	for _, g := range s.Names {
		if g.Kind == kind {
			out = append(out, g.Text)
		}
	}
	return out
}

func (s SubjectAltName) IPs() []string {
	var out []string
	for _, g := range s.Names {
		if g.Kind == IPAddressName {
			out = append(out, g.IP.String())
		}
	}
	return out
}

type AuthorityKeyID struct {
	KeyID        []byte
	Issuer       []GeneralName
	SerialNumber *big.Int
}

var authorityKeyIDRecord = &schema.Record[AuthorityKeyID]{
	Name: "AuthorityKeyIdentifier",
	Fields: []schema.Field[AuthorityKeyID]{
		schema.Bind("keyIdentifier", schema.Bytes, func(a *AuthorityKeyID) *[]byte { return &a.KeyID }, schema.OptionalField(), schema.Implicit(0)),
		schema.Bind("authorityCertIssuer", generalNamesCodec, func(a *AuthorityKeyID) *[]GeneralName { return &a.Issuer }, schema.OptionalField(), schema.Implicit(1)),
		schema.Bind("authorityCertSerialNumber", schema.BigInt, func(a *AuthorityKeyID) **big.Int { return &a.SerialNumber }, schema.OptionalField(), schema.Implicit(2)),
	},
}

func (AuthorityKeyID) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionAuthorityKeyID }
func (a AuthorityKeyID) marshalValue() ([]byte, error) {
	return authorityKeyIDRecord.Marshal(&a)
}

type SubjectKeyID []byte

var subjectKeyIDCodec = schema.Codec[SubjectKeyID]{
	Tags:   schema.Bytes.Tags,
	Encode: func(s SubjectKeyID) (asn1.Value, error) { return asn1.OctetString(s), nil },
	Decode: func(v asn1.Value) (SubjectKeyID, error) {
		b, err := schema.Bytes.Decode(v)
		return SubjectKeyID(b), err
	},
}

func (SubjectKeyID) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionSubjectKeyID }
func (s SubjectKeyID) marshalValue() ([]byte, error) { return encodeWith(subjectKeyIDCodec, s) }

// DistributionPointName holds one of its two alternatives.
type DistributionPointName struct {
	FullName     []GeneralName
	RelativeName RelativeDistinguishedName
}

type DistributionPoint struct {
	Name      DistributionPointName
	Reasons   asn1.BitString
	CRLIssuer []GeneralName
}

var distributionPointNameCodec = schema.Codec[DistributionPointName]{
	Encode: func(d DistributionPointName) (asn1.Value, error) {
		if len(d.FullName) > 0 {
			v, err := generalNamesCodec.Encode(d.FullName)
			if err != nil {
				return nil, err
			}
			return asn1.ContextImplicit(0, v), nil
		}
		v, err := rdnCodec.Encode(d.RelativeName)
		if err != nil {
			return nil, err
		}
		return asn1.ContextImplicit(1, v), nil
	},
	Decode: func(v asn1.Value) (DistributionPointName, error) {
		var d DistributionPointName
		t, ok := v.(asn1.Tagged)
		if !ok || t.Class != der.ClassContextSpecific {
			return d, schema.Invalid("DistributionPointName is %s", v.Tag())
		}
		switch t.Tag().Number {
		case 0:
			inner, err := t.AsImplicit(der.TagSequence)
			if err != nil {
				return d, err
			}
			d.FullName, err = generalNamesCodec.Decode(inner)
			return d, err
		case 1:
			inner, err := t.AsImplicit(der.TagSet)
			if err != nil {
				return d, err
			}
			d.RelativeName, err = rdnCodec.Decode(inner)
			return d, err
		}
		return d, schema.Invalid("unknown DistributionPointName [%d]", t.Tag().Number)
	},
}

var distributionPointRecord = &schema.Record[DistributionPoint]{
	Name: "DistributionPoint",
	Fields: []schema.Field[DistributionPoint]{
		schema.Bind("distributionPoint", distributionPointNameCodec, func(d *DistributionPoint) *DistributionPointName { return &d.Name }, schema.OptionalField(), schema.Explicit(0)),
		schema.Bind("reasons", schema.Bits, func(d *DistributionPoint) *asn1.BitString { return &d.Reasons }, schema.OptionalField(), schema.Implicit(1)),
		schema.Bind("cRLIssuer", generalNamesCodec, func(d *DistributionPoint) *[]GeneralName { return &d.CRLIssuer }, schema.OptionalField(), schema.Implicit(2)),
	},
}

type CRLDistributionPoints []DistributionPoint

var crlDistributionPointsCodec = func() schema.Codec[CRLDistributionPoints] {
	inner := schema.SequenceOf(schema.Nested(distributionPointRecord))
	return schema.Codec[CRLDistributionPoints]{
		Tags:   inner.Tags,
		Encode: func(c CRLDistributionPoints) (asn1.Value, error) { return inner.Encode(c) },
		Decode: func(v asn1.Value) (CRLDistributionPoints, error) {
			dps, err := inner.Decode(v)
			return CRLDistributionPoints(dps), err
		},
	}
}()

func (CRLDistributionPoints) ExtensionID() asn1.ObjectIdentifier {
	return OIDExtensionCRLDistributionPoints
}
func (c CRLDistributionPoints) marshalValue() ([]byte, error) {
	return encodeWith(crlDistributionPointsCodec, c)
}

// URIs lists every URI full name across the distribution points.
func (c CRLDistributionPoints) URIs() []string {
	var out []string
	for _, dp := range c {
		for _, g := range dp.Name.FullName {
			if g.Kind == URIName {
				out = append(out, g.Text)
			}
		}
	}
	return out
}

type CRLNumber struct {
	Number *big.Int
}

var crlNumberCodec = schema.Codec[CRLNumber]{
	Tags: schema.BigInt.Tags,
	Encode: func(c CRLNumber) (asn1.Value, error) {
		if c.Number == nil || c.Number.Sign() < 0 {
			return nil, schema.Invalid("CRL number must be non-negative")
		}
		return schema.BigInt.Encode(c.Number)
	},
	Decode: func(v asn1.Value) (CRLNumber, error) {
		n, err := schema.BigInt.Decode(v)
		return CRLNumber{Number: n}, err
	},
}

func (CRLNumber) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionCRLNumber }
func (c CRLNumber) marshalValue() ([]byte, error) { return encodeWith(crlNumberCodec, c) }

// CRLReason is the reasonCode CRL entry extension.
type CRLReason int

const (
	ReasonUnspecified          CRLReason = 0
	ReasonKeyCompromise        CRLReason = 1
	ReasonCACompromise         CRLReason = 2
	ReasonAffiliationChanged   CRLReason = 3
	ReasonSuperseded           CRLReason = 4
	ReasonCessationOfOperation CRLReason = 5
	ReasonCertificateHold      CRLReason = 6
	ReasonRemoveFromCRL        CRLReason = 8
	ReasonPrivilegeWithdrawn   CRLReason = 9
	ReasonAACompromise         CRLReason = 10
)

// Valid reports whether r is one of the reasons RFC 5280 defines.
func (r CRLReason) Valid() bool {
	return r >= ReasonUnspecified && r <= ReasonAACompromise && r != 7
}

var crlReasonCodec = schema.Codec[CRLReason]{
	Tags: schema.Enumerated.Tags,
	Encode: func(r CRLReason) (asn1.Value, error) {
		if !r.Valid() {
			return nil, schema.Invalid("unknown revocation reason %d", r)
		}
		return schema.Enumerated.Encode(int(r))
	},
	Decode: func(v asn1.Value) (CRLReason, error) {
		n, err := schema.Enumerated.Decode(v)
		if err != nil {
			return 0, err
		}
		if r := CRLReason(n); r.Valid() {
			return r, nil
		}
		return 0, schema.Invalid("unknown revocation reason %d", n)
	},
}

func (CRLReason) ExtensionID() asn1.ObjectIdentifier { return OIDExtensionReasonCode }
func (r CRLReason) marshalValue() ([]byte, error) { return encodeWith(crlReasonCodec, r) }
