package x509

import (
	"encoding/hex"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/der"
	"github.com/letsencrypt/pebble-pki/schema"
)

// AttributeTypeAndValue keeps the string type it was encoded with, so a
// parsed name re-encodes to the same bytes.
type AttributeTypeAndValue struct {
	Type  asn1.ObjectIdentifier
	Value asn1.Value
}

type RelativeDistinguishedName []AttributeTypeAndValue

// Name is an RDNSequence.
type Name []RelativeDistinguishedName

var atvRecord = &schema.Record[AttributeTypeAndValue]{
	Name: "AttributeTypeAndValue",
	Fields: []schema.Field[AttributeTypeAndValue]{
		schema.Bind("type", schema.OID, func(a *AttributeTypeAndValue) *asn1.ObjectIdentifier { return &a.Type }),
		schema.Bind("value", schema.Any, func(a *AttributeTypeAndValue) *asn1.Value { return &a.Value }),
	},
}

var rdnCodec = func() schema.Codec[RelativeDistinguishedName] {
	inner := schema.SetOf(schema.Nested(atvRecord))
	return schema.Codec[RelativeDistinguishedName]{
		Tags: inner.Tags,
		Encode: func(r RelativeDistinguishedName) (asn1.Value, error) {
			if len(r) == 0 {
				return nil, schema.Invalid("empty RelativeDistinguishedName")
			}
			return inner.Encode(r)
		},
		Decode: func(v asn1.Value) (RelativeDistinguishedName, error) {
			atvs, err := inner.Decode(v)
			if err != nil {
				return nil, err
			}
			if len(atvs) == 0 {
				return nil, schema.Invalid("empty RelativeDistinguishedName")
			}
			return atvs, nil
		},
	}
}()

var nameCodec = func() schema.Codec[Name] {
	inner := schema.SequenceOf(rdnCodec)
	return schema.Codec[Name]{
		Tags: inner.Tags,
		Encode: func(n Name) (asn1.Value, error) {
			return inner.Encode(n)
		},
		Decode: func(v asn1.Value) (Name, error) {
			rdns, err := inner.Decode(v)
			return Name(rdns), err
		},
	}
}()

// ATV builds an attribute with the string type conventional for oid:
// PrintableString for country and serial number, IA5String for e-mail and
// domain components, otherwise PrintableString when the value allows it
// and UTF8String when it does not.
func ATV(oid asn1.ObjectIdentifier, value string) AttributeTypeAndValue {
	var v asn1.Value
	switch {
	case oid.Equal(OIDEmailAddress), oid.Equal(OIDDomainComponent):
		v = asn1.IA5String(value)
	case isPrintable(value):
		v = asn1.PrintableString(value)
	default:
		v = asn1.UTF8String(value)
	}
	return AttributeTypeAndValue{Type: oid, Value: v}
}

func isPrintable(s string) bool {
	_, err := asn1.Marshal(asn1.PrintableString(s))
	return err == nil
}

// NewName returns a name with one single-valued RDN per attribute.
func NewName(atvs ...AttributeTypeAndValue) Name {
	n := make(Name, 0, len(atvs))
	for _, a := range atvs {
		n = append(n, RelativeDistinguishedName{a})
	}
	return n
}

// CommonNameOnly is NewName(ATV(OIDCommonName, cn)).
func CommonNameOnly(cn string) Name {
	return NewName(ATV(OIDCommonName, cn))
}

// Values returns the string form of every attribute of type oid.
func (n Name) Values(oid asn1.ObjectIdentifier) []string {
	var out []string
	for _, rdn := range n {
		for _, atv := range rdn {
			if atv.Type.Equal(oid) {
				if s, ok := attributeString(atv.Value); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// CommonName returns the last common name, which is the most specific one.
func (n Name) CommonName() string {
	cns := n.Values(OIDCommonName)
	if len(cns) == 0 {
		return ""
	}
	return cns[len(cns)-1]
}

// Equal compares names after normalization: string values are compared
// case-insensitively with runs of whitespace collapsed, and the attributes
// of a multi-valued RDN are compared as a set.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		a, b := n[i].normalized(), other[i].normalized()
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j] != b[j] {
				return false
			}
		}
	}
	return true
}

func (rdn RelativeDistinguishedName) normalized() []string {
	keys := make([]string, 0, len(rdn))
	for _, atv := range rdn {
		keys = append(keys, atv.Type.String()+"="+normalizeValue(atv.Value))
	}
	sort.Strings(keys)
	return keys
}

func normalizeValue(v asn1.Value) string {
	if s, ok := attributeString(v); ok {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	b, err := asn1.Marshal(v)
	if err != nil {
		return "!"
	}
	return "#" + hex.EncodeToString(b)
}

func attributeString(v asn1.Value) (string, bool) {
	switch s := v.(type) {
	case asn1.PrintableString:
		return string(s), true
	case asn1.UTF8String:
		return string(s), true
	case asn1.IA5String:
		return string(s), true
	case asn1.Raw:
		switch s.Node.Number {
		case der.TagBMPString:
			c := s.Node.Content
			if len(c)%2 != 0 {
				return "", false
			}
			u := make([]uint16, len(c)/2)
			for i := range u {
				u[i] = uint16(c[2*i])<<8 | uint16(c[2*i+1])
			}
			return string(utf16.Decode(u)), true
		case der.TagT61String:
			r := make([]rune, len(s.Node.Content))
			for i, c := range s.Node.Content {
				r[i] = rune(c)
			}
			return string(r), true
		}
	}
	return "", false
}

var attributeShortNames = map[string]string{
	OIDCommonName.String():         "CN",
	OIDSerialNumber.String():       "SERIALNUMBER",
	OIDCountry.String():            "C",
	OIDLocality.String():           "L",
	OIDProvince.String():           "ST",
	OIDStreetAddress.String():      "STREET",
	OIDOrganization.String():       "O",
	OIDOrganizationalUnit.String(): "OU",
	OIDPostalCode.String():         "POSTALCODE",
	OIDEmailAddress.String():       "emailAddress",
	OIDDomainComponent.String():    "DC",
}

// String renders n in RFC 4514 form, most specific RDN first.
func (n Name) String() string {
	parts := make([]string, 0, len(n))
	for i := len(n) - 1; i >= 0; i-- {
		atvs := make([]string, 0, len(n[i]))
		for _, atv := range n[i] {
			key, ok := attributeShortNames[atv.Type.String()]
			if !ok {
				key = atv.Type.String()
			}
			if s, ok := attributeString(atv.Value); ok && key != atv.Type.String() {
				atvs = append(atvs, key+"="+escapeDN(s))
				continue
			}
			b, _ := asn1.Marshal(atv.Value)
			atvs = append(atvs, key+"=#"+hex.EncodeToString(b))
		}
		parts = append(parts, strings.Join(atvs, "+"))
	}
	return strings.Join(parts, ",")
}

func escapeDN(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case strings.ContainsRune(",+\"\\<>;", r),
			i == 0 && (r == ' ' || r == '#'),
			i == len(s)-1 && r == ' ':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// MarshalName returns the DER encoding of n.
func MarshalName(n Name) ([]byte, error) {
	v, err := nameCodec.Encode(n)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(v)
}

// ParseName parses a DER RDNSequence.
func ParseName(b []byte) (Name, error) {
	v, err := asn1.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return nameCodec.Decode(v)
}
